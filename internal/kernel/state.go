package kernel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/upb/agent-governor/models"
)

const (
	stateFileName   = "governance_state.json"
	auditFileName   = "audit_log.jsonl"
	historyFileName = stateFileName + ".history"
)

// stateManager persists the project state document and the append-only
// audit trail under the project's governance directory
type stateManager struct {
	dir    string
	logger *zap.Logger

	// written tracks how many audit records this process has appended,
	// to detect out-of-band truncation or rewriting of the trail
	written int
}

func newStateManager(dir string, logger *zap.Logger) (*stateManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating governance dir %s: %w", dir, err)
	}
	return &stateManager{dir: dir, logger: logger}, nil
}

func (m *stateManager) statePath() string   { return filepath.Join(m.dir, stateFileName) }
func (m *stateManager) auditPath() string   { return filepath.Join(m.dir, auditFileName) }
func (m *stateManager) historyPath() string { return filepath.Join(m.dir, historyFileName) }

// LoadState reads the persisted state, or returns nil when none exists
func (m *stateManager) LoadState() (*models.ProjectState, error) {
	raw, err := os.ReadFile(m.statePath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	var state models.ProjectState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	if state.ViolationCounts == nil {
		state.ViolationCounts = make(map[models.ViolationLevel]int)
	}
	if state.Overlays == nil {
		state.Overlays = []string{}
		if state.Frozen {
			state.Overlays = append(state.Overlays, models.OverlayFrozen)
		}
	}
	state.Frozen = state.HasOverlay(models.OverlayFrozen)
	return &state, nil
}

// SaveState writes the state atomically: a temp file in the same
// directory, then rename. A crash mid-write never leaves a torn
// state document behind.
func (m *stateManager) SaveState(state *models.ProjectState) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	tmp, err := os.CreateTemp(m.dir, stateFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpName, m.statePath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing state file: %w", err)
	}
	m.appendHistory(state)
	return nil
}

// appendHistory adds one line per saved state version to the history
// file. The history is a convenience trail, so a write failure is
// logged rather than failing the transaction.
func (m *stateManager) appendHistory(state *models.ProjectState) {
	raw, err := json.Marshal(state)
	if err != nil {
		m.logger.Warn("encoding state history entry", zap.Error(err))
		return
	}
	f, err := os.OpenFile(m.historyPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		m.logger.Warn("opening state history", zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		m.logger.Warn("appending state history", zap.Error(err))
	}
}

// LoadAudit reads the full audit trail and primes the integrity
// counter with its length
func (m *stateManager) LoadAudit() ([]*models.AuditRecord, error) {
	f, err := os.Open(m.auditPath())
	if os.IsNotExist(err) {
		m.written = 0
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}
	defer f.Close()

	var records []*models.AuditRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var r models.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return nil, integrityError(fmt.Sprintf("audit trail line %d is not a valid record", line), err)
		}
		records = append(records, &r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading audit trail: %w", err)
	}
	m.written = len(records)
	return records, nil
}

// AppendAudit adds one record to the trail. Before writing it checks
// that the file still holds exactly the records appended so far; any
// truncation or rewrite surfaces as an integrity error rather than
// being silently papered over.
func (m *stateManager) AppendAudit(record *models.AuditRecord) error {
	count, err := m.countAuditLines()
	if err != nil {
		return err
	}
	if count != m.written {
		return integrityError(
			fmt.Sprintf("audit trail has %d records on disk, expected %d", count, m.written), nil)
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding audit record %s: %w", record.ID, err)
	}
	f, err := os.OpenFile(m.auditPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit trail for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("appending audit record %s: %w", record.ID, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing audit trail: %w", err)
	}
	m.written++
	return nil
}

func (m *stateManager) countAuditLines() (int, error) {
	f, err := os.Open(m.auditPath())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("opening audit trail: %w", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	n := 0
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scanning audit trail: %w", err)
	}
	return n, nil
}
