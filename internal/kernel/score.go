package kernel

import "github.com/upb/agent-governor/models"

// Penalty weights per violation level. Critical violations hit the
// global track, which never recovers; major and minor violations hit
// the stage track, which resets on every stage change.
const (
	penaltyCritical = 30
	penaltyMajor    = 10
	penaltyMinor    = 2
)

// scoreLedger applies violation penalties to the two score tracks and
// retains every score it produced, oldest first
type scoreLedger struct {
	history []models.Score
}

func newScoreLedger() *scoreLedger {
	return &scoreLedger{}
}

// Apply deducts penalties for the violations from score. Both tracks
// floor at zero.
func (l *scoreLedger) Apply(score models.Score, violations []models.GovernanceViolation) models.Score {
	for _, v := range violations {
		switch v.Level {
		case models.ViolationCritical:
			score.Global -= penaltyCritical
		case models.ViolationMajor:
			score.Stage -= penaltyMajor
		case models.ViolationMinor:
			score.Stage -= penaltyMinor
		}
	}
	if score.Global < models.MinScore {
		score.Global = models.MinScore
	}
	if score.Stage < models.MinScore {
		score.Stage = models.MinScore
	}
	l.history = append(l.history, score)
	return score
}

// ResetStage returns the score with a fresh stage track. The global
// track survives every stage change, including the wrap from the final
// stage back to the first; only a governance table change may reset it.
func (l *scoreLedger) ResetStage(score models.Score) models.Score {
	score.Stage = models.MaxScore
	l.history = append(l.history, score)
	return score
}

// History returns every score the ledger produced, oldest first
func (l *scoreLedger) History() []models.Score {
	out := make([]models.Score, len(l.history))
	copy(out, l.history)
	return out
}
