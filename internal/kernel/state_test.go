package kernel

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/agent-governor/models"
	"go.uber.org/zap"
)

func testStateManager(t *testing.T) *stateManager {
	t.Helper()
	mgr, err := newStateManager(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return mgr
}

func TestStateRoundTrip(t *testing.T) {
	mgr := testStateManager(t)

	state := models.NewProjectState("demo", "S2")
	state.Score.Global = 70
	state.ViolationCounts[models.ViolationCritical] = 1
	state.UpdatedAt = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, mgr.SaveState(state))

	loaded, err := mgr.LoadState()
	require.NoError(t, err)
	assert.Equal(t, "S2", loaded.Stage)
	assert.Equal(t, 70, loaded.Score.Global)
	assert.Equal(t, 1, loaded.ViolationCounts[models.ViolationCritical])
}

func TestLoadStateMissingReturnsNil(t *testing.T) {
	mgr := testStateManager(t)
	state, err := mgr.LoadState()
	assert.NoError(t, err)
	assert.Nil(t, state)
}

func TestSaveStateOverwritesAtomically(t *testing.T) {
	mgr := testStateManager(t)
	require.NoError(t, mgr.SaveState(models.NewProjectState("demo", "S1")))
	require.NoError(t, mgr.SaveState(models.NewProjectState("demo", "S3")))

	loaded, err := mgr.LoadState()
	require.NoError(t, err)
	assert.Equal(t, "S3", loaded.Stage)

	entries, err := os.ReadDir(mgr.dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestSaveStateAppendsHistoryLine(t *testing.T) {
	mgr := testStateManager(t)

	first := models.NewProjectState("demo", "S1")
	require.NoError(t, mgr.SaveState(first))
	second := models.NewProjectState("demo", "S2")
	second.Score.Stage = 90
	require.NoError(t, mgr.SaveState(second))

	raw, err := os.ReadFile(mgr.historyPath())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	var entry models.ProjectState
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "S1", entry.Stage)
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "S2", entry.Stage)
	assert.Equal(t, 90, entry.Score.Stage)
}

func auditRecordFixture(id string) *models.AuditRecord {
	return &models.AuditRecord{
		ID:        "audit-" + id,
		EventID:   id,
		EventType: models.EventToolCall,
		Stage:     "S2",
		Result:    models.ResultSuccess,
		Timestamp: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestAuditAppendAndLoad(t *testing.T) {
	mgr := testStateManager(t)

	require.NoError(t, mgr.AppendAudit(auditRecordFixture("ev-1")))
	require.NoError(t, mgr.AppendAudit(auditRecordFixture("ev-2")))

	fresh, err := newStateManager(mgr.dir, zap.NewNop())
	require.NoError(t, err)
	records, err := fresh.LoadAudit()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "audit-ev-1", records[0].ID)
	assert.Equal(t, "audit-ev-2", records[1].ID)
}

func TestAuditDetectsTruncation(t *testing.T) {
	mgr := testStateManager(t)
	require.NoError(t, mgr.AppendAudit(auditRecordFixture("ev-1")))
	require.NoError(t, mgr.AppendAudit(auditRecordFixture("ev-2")))

	// drop the trail behind the manager's back
	require.NoError(t, os.WriteFile(mgr.auditPath(), nil, 0o644))

	err := mgr.AppendAudit(auditRecordFixture("ev-3"))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIntegrity))
}

func TestAuditDetectsCorruptRecord(t *testing.T) {
	mgr := testStateManager(t)
	require.NoError(t, mgr.AppendAudit(auditRecordFixture("ev-1")))

	f, err := os.OpenFile(mgr.auditPath(), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	fresh, err := newStateManager(mgr.dir, zap.NewNop())
	require.NoError(t, err)
	_, err = fresh.LoadAudit()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIntegrity))
}
