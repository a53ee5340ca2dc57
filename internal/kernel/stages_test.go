package kernel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/agent-governor/models"
)

func TestDefaultStageTable(t *testing.T) {
	table, err := newStageTable(defaultStages())
	require.NoError(t, err)

	assert.Equal(t, "S1", table.initial)
	assert.Equal(t, []string{"S1", "S2", "S3", "S4", "S5"}, table.order)

	s5, ok := table.get("S5")
	require.True(t, ok)
	assert.True(t, s5.CanTransitionTo("S1"))
	assert.True(t, table.isNewCycle("S5", "S1"))
	assert.False(t, table.isNewCycle("S1", "S2"))

	s4, _ := table.get("S4")
	assert.True(t, s4.AuditRequired)

	// every stage except the last supports the frozen overlay, and
	// predecessors mirror the successor edges
	s2, _ := table.get("S2")
	assert.True(t, s2.AllowsOverlay(models.OverlayFrozen))
	assert.Equal(t, []string{"S1"}, s2.PrevStages)
	assert.False(t, s5.AllowsOverlay(models.OverlayFrozen))
	assert.Equal(t, []string{"S4"}, s5.PrevStages)
}

func TestStageTableRejectsUnknownPredecessor(t *testing.T) {
	_, err := newStageTable([]models.GovernanceStage{
		{
			ID:             "X",
			AllowedEvents:  []models.EventType{models.EventStatusQuery},
			AllowedActions: []models.GovernanceAction{models.ActionAllow},
			PrevStages:     []string{"missing"},
		},
	})
	assert.Error(t, err)
}

func TestStageTableRejectsDuplicates(t *testing.T) {
	_, err := newStageTable([]models.GovernanceStage{
		{ID: "X"}, {ID: "X"},
	})
	assert.Error(t, err)
}

func TestStageTableRejectsEmpty(t *testing.T) {
	_, err := newStageTable(nil)
	assert.Error(t, err)
}

func TestLoadStageFile(t *testing.T) {
	doc := `stages:
  - id: P1
    name: Plan
    allowed_events: [STAGE_CHANGE, STATUS]
    allowed_actions: [ALLOW]
    can_freeze: true
    next_stages: [P2]
    allowed_transition_actors: [HUMAN]
  - id: P2
    name: Build
    allowed_events: [STAGE_CHANGE, CODE_GENERATION]
    allowed_actions: [ALLOW, FREEZE_PROJECT]
    next_stages: [P1]
    allowed_transition_actors: [HUMAN, SYSTEM]
    audit_required: true
`
	path := filepath.Join(t.TempDir(), "stages.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	stages, err := LoadStages(path)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "P1", stages[0].ID)
	assert.True(t, stages[0].CanFreeze)
	assert.True(t, stages[1].AuditRequired)
	assert.True(t, stages[1].AllowsEvent(models.EventCodeGeneration))

	table, err := newStageTable(stages)
	require.NoError(t, err)
	assert.Equal(t, "P1", table.initial)
}

func TestLoadTriggerFile(t *testing.T) {
	doc := `triggers:
  - name: risky_tool_call
    event_type: TOOL_CALL
    condition: payload.risk >= 4
    level: MAJOR
    message: high risk tool call
`
	path := filepath.Join(t.TempDir(), "triggers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	triggers, err := LoadTriggers(path)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, "risky_tool_call", triggers[0].Name)
	assert.Equal(t, models.ViolationMajor, triggers[0].Level)

	_, err = newTriggerEvaluator(triggers)
	assert.NoError(t, err)
}
