package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/upb/agent-governor/models"
)

func TestScorePenalties(t *testing.T) {
	ledger := newScoreLedger()
	score := models.NewScore()

	score = ledger.Apply(score, []models.GovernanceViolation{{Level: models.ViolationCritical}})
	assert.Equal(t, 70, score.Global)
	assert.Equal(t, 100, score.Stage)

	score = ledger.Apply(score, []models.GovernanceViolation{{Level: models.ViolationMajor}})
	assert.Equal(t, 70, score.Global)
	assert.Equal(t, 90, score.Stage)

	score = ledger.Apply(score, []models.GovernanceViolation{{Level: models.ViolationMinor}})
	assert.Equal(t, 88, score.Stage)

	score = ledger.Apply(score, []models.GovernanceViolation{{Level: models.ViolationInfo}})
	assert.Equal(t, 70, score.Global)
	assert.Equal(t, 88, score.Stage)
}

func TestScoreFloorsAtZero(t *testing.T) {
	ledger := newScoreLedger()
	score := models.Score{Global: 20, Stage: 5}

	score = ledger.Apply(score, []models.GovernanceViolation{
		{Level: models.ViolationCritical},
		{Level: models.ViolationMajor},
	})
	assert.Equal(t, 0, score.Global)
	assert.Equal(t, 0, score.Stage)
}

func TestStageResetKeepsGlobal(t *testing.T) {
	ledger := newScoreLedger()
	score := models.Score{Global: 40, Stage: 12}

	score = ledger.ResetStage(score)
	assert.Equal(t, 40, score.Global)
	assert.Equal(t, 100, score.Stage)
}

func TestScoreHistoryRetainsEveryUpdate(t *testing.T) {
	ledger := newScoreLedger()
	score := models.NewScore()

	score = ledger.Apply(score, []models.GovernanceViolation{{Level: models.ViolationCritical}})
	score = ledger.Apply(score, []models.GovernanceViolation{{Level: models.ViolationMajor}})
	ledger.ResetStage(score)

	history := ledger.History()
	assert.Equal(t, []models.Score{
		{Global: 70, Stage: 100},
		{Global: 70, Stage: 90},
		{Global: 70, Stage: 100},
	}, history)

	// the returned slice is a copy
	history[0].Global = 0
	assert.Equal(t, 70, ledger.History()[0].Global)
}
