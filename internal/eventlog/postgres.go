package eventlog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// NewPostgresStore connects to Postgres and prepares the event log
// schema. Used when several governor instances share one database.
func NewPostgresStore(ctx context.Context, dsn string) (Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres event log: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres event log: %w", err)
	}
	s := &sqlStore{db: db, rebind: rebindDollar, ownsConn: true}
	if err := s.initSchema(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithDB wraps an existing connection, leaving its
// lifecycle to the caller. Schema setup is skipped.
func NewPostgresStoreWithDB(db *sql.DB) Store {
	return &sqlStore{db: db, rebind: rebindDollar}
}
