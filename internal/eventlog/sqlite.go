package eventlog

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// NewSQLiteStore opens (or creates) a SQLite-backed event log at path.
// SQLite is the default durable backend: a single file per project,
// no external service required.
func NewSQLiteStore(ctx context.Context, path string) (Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening event log at %s: %w", path, err)
	}
	// modernc's driver is not safe for concurrent writes over
	// multiple connections on one file
	db.SetMaxOpenConns(1)

	s := &sqlStore{db: db, rebind: passthrough, ownsConn: true}
	if err := s.initSchema(ctx, schema); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
