package models

import (
	"fmt"
	"time"

	"github.com/upb/agent-governor/canonical"
)

// ProofType classifies what a governance proof attests to
type ProofType string

const (
	ProofDecision       ProofType = "decision"
	ProofApproval       ProofType = "approval"
	ProofOverride       ProofType = "override"
	ProofStageChange    ProofType = "stage_change"
	ProofResponsibility ProofType = "responsibility"
)

// GovernanceProof is one link of the hash-chained proof record. Each
// proof commits to the previous proof's hash, so tampering with any
// proof invalidates every proof after it.
type GovernanceProof struct {
	ID                 string               `json:"id"`
	Type               ProofType            `json:"proof_type"`
	EventID            string               `json:"event_id"`
	AuditRecordID      string               `json:"audit_record_id"`
	Sovereignty        SovereigntyContext   `json:"sovereignty_context"`
	Responsibility     []ResponsibilityLink `json:"responsibility_snapshot"`
	Timestamp          time.Time            `json:"timestamp"`
	SovereigntyVersion string               `json:"sovereignty_version"`
	AgentVersion       string               `json:"agent_version"`
	EngineVersion      string               `json:"governance_engine_version"`
	PreviousHash       string               `json:"previous_hash"`
	Hash               string               `json:"hash"`
}

// ComputeHash returns the canonical hash of the proof's committed
// fields. The Hash field itself is excluded from the input.
func (p *GovernanceProof) ComputeHash() (string, error) {
	material := map[string]interface{}{
		"proof_type":                string(p.Type),
		"sovereignty_context":       p.Sovereignty,
		"responsibility_snapshot":   p.Responsibility,
		"audit_record_id":           p.AuditRecordID,
		"timestamp":                 p.Timestamp.UTC().Format(time.RFC3339Nano),
		"sovereignty_version":       p.SovereigntyVersion,
		"agent_version":             p.AgentVersion,
		"governance_engine_version": p.EngineVersion,
		"previous_hash":             p.PreviousHash,
	}
	h, err := canonical.Hash(material)
	if err != nil {
		return "", fmt.Errorf("hashing proof %s: %w", p.ID, err)
	}
	return h, nil
}

// BundleMetadata describes an exported proof bundle
type BundleMetadata struct {
	EventID    string    `json:"event_id"`
	CreatedAt  time.Time `json:"bundle_created_at"`
	ProofCount int       `json:"proof_count"`
}

// ProofBundle is a portable, externally verifiable slice of the proof
// chain for a single event, together with the audit record and
// responsibility chain behind it. Verification needs only the bundle:
// every proof hash and the root hash recompute from its contents.
type ProofBundle struct {
	Metadata       BundleMetadata       `json:"metadata"`
	Proofs         []GovernanceProof    `json:"proofs"`
	AuditRecord    *AuditRecord         `json:"audit_record,omitempty"`
	Responsibility []ResponsibilityLink `json:"responsibility_chain,omitempty"`
	RootHash       string               `json:"root_hash"`
}

// ComputeRootHash derives the bundle root from the last proof's hash and
// the bundle metadata
func (b *ProofBundle) ComputeRootHash() (string, error) {
	if len(b.Proofs) == 0 {
		return "", fmt.Errorf("bundle for event %s has no proofs", b.Metadata.EventID)
	}
	metaHash, err := canonical.Hash(b.Metadata)
	if err != nil {
		return "", fmt.Errorf("hashing bundle metadata: %w", err)
	}
	last := b.Proofs[len(b.Proofs)-1]
	return canonical.HashBytes([]byte(last.Hash + ":" + metaHash)), nil
}
