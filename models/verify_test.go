package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/upb/agent-governor/canonical"
)

func buildChain(t *testing.T, n int) []GovernanceProof {
	t.Helper()
	proofs := make([]GovernanceProof, 0, n)
	prev := ""
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		p := GovernanceProof{
			ID:            "proof-ev-" + string(rune('a'+i)),
			Type:          ProofDecision,
			EventID:       "ev-" + string(rune('a'+i)),
			AuditRecordID: "audit-ev-" + string(rune('a'+i)),
			Sovereignty: SovereigntyContext{
				PrimarySovereign:  "system",
				Stage:             "S2",
				GovernanceVersion: "1.0.0",
				PolicyVersion:     "1.0.0",
				Timestamp:         base.Add(time.Duration(i) * time.Minute),
			},
			Timestamp:          base.Add(time.Duration(i) * time.Minute),
			SovereigntyVersion: "1.0.0",
			AgentVersion:       "test",
			EngineVersion:      "1.0.0",
			PreviousHash:       prev,
		}
		hash, err := p.ComputeHash()
		assert.NoError(t, err)
		p.Hash = hash
		prev = hash
		proofs = append(proofs, p)
	}
	return proofs
}

func TestVerifyProofChainValid(t *testing.T) {
	proofs := buildChain(t, 4)
	result := VerifyProofChain(proofs)
	assert.True(t, result.Valid)
	assert.Equal(t, 4, result.Checked)
	assert.Empty(t, result.Problems)
}

func TestVerifyProofChainEmpty(t *testing.T) {
	result := VerifyProofChain(nil)
	assert.True(t, result.Valid)
	assert.Equal(t, 0, result.Checked)
}

func TestVerifyProofChainDetectsTamperedContent(t *testing.T) {
	proofs := buildChain(t, 3)
	proofs[1].AuditRecordID = "audit-forged"

	result := VerifyProofChain(proofs)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Problems)
}

func TestVerifyProofChainDetectsBrokenLink(t *testing.T) {
	proofs := buildChain(t, 3)
	proofs[2].PreviousHash = "0000"

	result := VerifyProofChain(proofs)
	assert.False(t, result.Valid)
}

func TestVerifyBundleValid(t *testing.T) {
	proofs := buildChain(t, 2)
	bundle := &ProofBundle{
		Metadata: BundleMetadata{
			EventID:    "ev-a",
			CreatedAt:  time.Date(2026, 2, 1, 13, 0, 0, 0, time.UTC),
			ProofCount: 2,
		},
		Proofs: proofs,
	}
	root, err := bundle.ComputeRootHash()
	assert.NoError(t, err)
	bundle.RootHash = root

	result := VerifyBundle(bundle)
	assert.True(t, result.Valid, "problems: %v", result.Problems)
}

func TestVerifyBundleDetectsRootMismatch(t *testing.T) {
	proofs := buildChain(t, 2)
	bundle := &ProofBundle{
		Metadata: BundleMetadata{EventID: "ev-a", ProofCount: 2},
		Proofs:   proofs,
		RootHash: canonical.HashBytes([]byte("not the root")),
	}

	result := VerifyBundle(bundle)
	assert.False(t, result.Valid)
}

func TestVerifyBundleRejectsEmpty(t *testing.T) {
	bundle := &ProofBundle{Metadata: BundleMetadata{EventID: "ev-x"}}
	result := VerifyBundle(bundle)
	assert.False(t, result.Valid)
}

func TestVerifyBundleCountMismatch(t *testing.T) {
	proofs := buildChain(t, 2)
	bundle := &ProofBundle{
		Metadata: BundleMetadata{EventID: "ev-a", ProofCount: 5},
		Proofs:   proofs,
	}
	root, err := bundle.ComputeRootHash()
	assert.NoError(t, err)
	bundle.RootHash = root

	result := VerifyBundle(bundle)
	assert.False(t, result.Valid)
}
