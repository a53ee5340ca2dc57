package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/upb/agent-governor/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS governance_events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	type       TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	stage      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	actor_id   TEXT NOT NULL DEFAULT '',
	actor      TEXT,
	payload    TEXT
);
CREATE INDEX IF NOT EXISTS idx_governance_events_type ON governance_events(type);
CREATE INDEX IF NOT EXISTS idx_governance_events_status ON governance_events(status);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS governance_events (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	type       TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	stage      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	actor_id   TEXT NOT NULL DEFAULT '',
	actor      TEXT,
	payload    TEXT
);
CREATE INDEX IF NOT EXISTS idx_governance_events_type ON governance_events(type);
CREATE INDEX IF NOT EXISTS idx_governance_events_status ON governance_events(status);
`

// sqlStore implements Store over database/sql. The rebind function
// adapts '?' placeholders to the backend's style.
type sqlStore struct {
	db       *sql.DB
	rebind   func(string) string
	ownsConn bool
}

func passthrough(q string) string { return q }

// rebindDollar rewrites '?' placeholders to '$1'..'$n' for Postgres
func rebindDollar(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) initSchema(ctx context.Context, ddl string) error {
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("initializing event log schema: %w", err)
	}
	return nil
}

func (s *sqlStore) Append(ctx context.Context, event *models.GovernanceEvent) error {
	var actorJSON, payloadJSON []byte
	var actorID string
	var err error
	if event.Actor != nil {
		actorID = event.Actor.ID
		if actorJSON, err = json.Marshal(event.Actor); err != nil {
			return fmt.Errorf("encoding event actor: %w", err)
		}
	}
	if event.Payload != nil {
		if payloadJSON, err = json.Marshal(event.Payload); err != nil {
			return fmt.Errorf("encoding event payload: %w", err)
		}
	}

	var exists int
	query := s.rebind(`SELECT COUNT(1) FROM governance_events WHERE id = ?`)
	if err := s.db.QueryRowContext(ctx, query, event.ID).Scan(&exists); err != nil {
		return fmt.Errorf("checking event id: %w", err)
	}
	if exists > 0 {
		return ErrDuplicateID
	}

	query = s.rebind(`
		INSERT INTO governance_events (id, type, timestamp, stage, status, actor_id, actor, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		event.Stage,
		string(event.Status),
		actorID,
		nullable(actorJSON),
		nullable(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("appending event %s: %w", event.ID, err)
	}
	return nil
}

func nullable(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}

func (s *sqlStore) Get(ctx context.Context, id string) (*models.GovernanceEvent, error) {
	query := s.rebind(`
		SELECT id, type, timestamp, stage, status, actor, payload
		FROM governance_events WHERE id = ?`)
	event, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading event %s: %w", id, err)
	}
	return event, nil
}

func (s *sqlStore) List(ctx context.Context, filter Filter) ([]*models.GovernanceEvent, error) {
	query := `
		SELECT id, type, timestamp, stage, status, actor, payload
		FROM governance_events`
	var conds []string
	var args []interface{}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Stage != "" {
		conds = append(conds, "stage = ?")
		args = append(args, filter.Stage)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ActorID != "" {
		conds = append(conds, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if filter.Ascending {
		query += " ORDER BY seq ASC"
	} else {
		query += " ORDER BY seq DESC"
	}
	if filter.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var out []*models.GovernanceEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return out, nil
}

func (s *sqlStore) UpdateStatus(ctx context.Context, id string, status models.EventStatus) error {
	query := s.rebind(`UPDATE governance_events SET status = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("updating status of event %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating status of event %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM governance_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

func (s *sqlStore) Close() error {
	if !s.ownsConn {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*models.GovernanceEvent, error) {
	var (
		event     models.GovernanceEvent
		eventType string
		ts        string
		status    string
		actor     sql.NullString
		payload   sql.NullString
	)
	if err := row.Scan(&event.ID, &eventType, &ts, &event.Stage, &status, &actor, &payload); err != nil {
		return nil, err
	}
	event.Type = models.EventType(eventType)
	event.Status = models.EventStatus(status)
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp %q: %w", ts, err)
	}
	event.Timestamp = parsed
	if actor.Valid && actor.String != "" {
		event.Actor = &models.Actor{}
		if err := json.Unmarshal([]byte(actor.String), event.Actor); err != nil {
			return nil, fmt.Errorf("decoding actor: %w", err)
		}
	}
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &event.Payload); err != nil {
			return nil, fmt.Errorf("decoding payload: %w", err)
		}
	}
	return &event, nil
}
