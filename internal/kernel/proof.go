package kernel

import (
	"fmt"

	"github.com/upb/agent-governor/models"
)

// Version strings committed into every proof
const (
	engineVersion      = "1.0.0"
	sovereigntyVersion = "1.0.0"
)

// proofChain is the global hash-chained proof record. Every proof
// commits to its predecessor's hash; the chain head commits to the
// entire processing history.
type proofChain struct {
	proofs        []models.GovernanceProof
	byEvent       map[string][]int
	agentVersion  string
	policyVersion string
}

func newProofChain(agentVersion, policyVersion string) *proofChain {
	return &proofChain{
		byEvent:       make(map[string][]int),
		agentVersion:  agentVersion,
		policyVersion: policyVersion,
	}
}

// Append creates the next proof in the chain. The proof id is derived
// from the event id and the per-event proof index so replays are
// byte-for-byte reproducible.
func (c *proofChain) Append(proofType models.ProofType, event *models.GovernanceEvent, auditRecordID string, stage string, responsibility []models.ResponsibilityLink) (*models.GovernanceProof, error) {
	sovereign := "system"
	var agents []string
	if event.Actor != nil {
		if event.Actor.RoleType == models.ActorTypeHuman {
			sovereign = "human"
		}
		agents = []string{event.Actor.ID}
	}

	prevHash := ""
	if len(c.proofs) > 0 {
		prevHash = c.proofs[len(c.proofs)-1].Hash
	}

	proof := models.GovernanceProof{
		ID:            fmt.Sprintf("proof-%s-%d", event.ID, len(c.byEvent[event.ID])),
		Type:          proofType,
		EventID:       event.ID,
		AuditRecordID: auditRecordID,
		Sovereignty: models.SovereigntyContext{
			PrimarySovereign:  sovereign,
			ActiveAgents:      agents,
			Stage:             stage,
			GovernanceVersion: engineVersion,
			PolicyVersion:     c.policyVersion,
			Timestamp:         event.Timestamp,
		},
		Responsibility:     responsibility,
		Timestamp:          event.Timestamp,
		SovereigntyVersion: sovereigntyVersion,
		AgentVersion:       c.agentVersion,
		EngineVersion:      engineVersion,
		PreviousHash:       prevHash,
	}
	hash, err := proof.ComputeHash()
	if err != nil {
		return nil, err
	}
	proof.Hash = hash

	c.byEvent[event.ID] = append(c.byEvent[event.ID], len(c.proofs))
	c.proofs = append(c.proofs, proof)
	return &c.proofs[len(c.proofs)-1], nil
}

// Head returns the hash of the newest proof, or "" for an empty chain
func (c *proofChain) Head() string {
	if len(c.proofs) == 0 {
		return ""
	}
	return c.proofs[len(c.proofs)-1].Hash
}

// Len returns the number of proofs in the chain
func (c *proofChain) Len() int { return len(c.proofs) }

// All returns a copy of the full chain
func (c *proofChain) All() []models.GovernanceProof {
	out := make([]models.GovernanceProof, len(c.proofs))
	copy(out, c.proofs)
	return out
}

// ForEvent returns the proofs recorded for one event, in chain order
func (c *proofChain) ForEvent(eventID string) []models.GovernanceProof {
	idxs := c.byEvent[eventID]
	out := make([]models.GovernanceProof, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, c.proofs[i])
	}
	return out
}

// ExportBundle packages the proofs for one event into a portable,
// externally verifiable bundle. The bundle timestamp comes from the
// last proof so exports are deterministic.
func (c *proofChain) ExportBundle(eventID string) (*models.ProofBundle, error) {
	proofs := c.ForEvent(eventID)
	if len(proofs) == 0 {
		return nil, fmt.Errorf("no proofs recorded for event %s", eventID)
	}
	bundle := &models.ProofBundle{
		Metadata: models.BundleMetadata{
			EventID:    eventID,
			CreatedAt:  proofs[len(proofs)-1].Timestamp,
			ProofCount: len(proofs),
		},
		Proofs: proofs,
	}
	root, err := bundle.ComputeRootHash()
	if err != nil {
		return nil, err
	}
	bundle.RootHash = root
	return bundle, nil
}

// Verify recomputes the whole chain
func (c *proofChain) Verify() *models.VerificationResult {
	return models.VerifyProofChain(c.proofs)
}
