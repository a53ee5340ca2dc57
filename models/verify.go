package models

import "fmt"

// VerificationResult reports the outcome of chain or bundle
// verification
type VerificationResult struct {
	Valid    bool     `json:"valid"`
	Checked  int      `json:"checked"`
	Problems []string `json:"problems,omitempty"`
}

func (r *VerificationResult) problem(format string, args ...interface{}) {
	r.Valid = false
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// VerifyProofChain recomputes every hash in the chain and checks the
// previous-hash links. It is pure: it reads only the proofs it is given.
func VerifyProofChain(proofs []GovernanceProof) *VerificationResult {
	result := &VerificationResult{Valid: true}
	prevHash := ""
	for i := range proofs {
		p := &proofs[i]
		result.Checked++
		if p.PreviousHash != prevHash {
			result.problem("proof %s: previous_hash mismatch at position %d", p.ID, i)
		}
		computed, err := p.ComputeHash()
		if err != nil {
			result.problem("proof %s: %v", p.ID, err)
			prevHash = p.Hash
			continue
		}
		if computed != p.Hash {
			result.problem("proof %s: stored hash does not match content", p.ID)
		}
		prevHash = p.Hash
	}
	return result
}

// VerifyBundle checks a bundle's internal proof links and its root hash.
// Bundle proofs are verified as a standalone segment: the first proof's
// previous_hash is accepted as the segment anchor.
func VerifyBundle(bundle *ProofBundle) *VerificationResult {
	result := &VerificationResult{Valid: true}
	if len(bundle.Proofs) == 0 {
		result.problem("bundle for event %s contains no proofs", bundle.Metadata.EventID)
		return result
	}
	if bundle.Metadata.ProofCount != len(bundle.Proofs) {
		result.problem("metadata proof_count %d does not match %d proofs", bundle.Metadata.ProofCount, len(bundle.Proofs))
	}
	for i := range bundle.Proofs {
		p := &bundle.Proofs[i]
		result.Checked++
		if i > 0 && p.PreviousHash != bundle.Proofs[i-1].Hash {
			result.problem("proof %s: broken link at position %d", p.ID, i)
		}
		computed, err := p.ComputeHash()
		if err != nil {
			result.problem("proof %s: %v", p.ID, err)
			continue
		}
		if computed != p.Hash {
			result.problem("proof %s: stored hash does not match content", p.ID)
		}
	}
	root, err := bundle.ComputeRootHash()
	if err != nil {
		result.problem("root hash: %v", err)
		return result
	}
	if root != bundle.RootHash {
		result.problem("root hash mismatch")
	}
	return result
}
