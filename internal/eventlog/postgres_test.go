package eventlog

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/agent-governor/models"
)

func TestPostgresStoreAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStoreWithDB(db)
	event := testEvent("ev-1", models.EventCodeGeneration)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(1) FROM governance_events WHERE id = $1`)).
		WithArgs("ev-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO governance_events`)).
		WithArgs("ev-1", "CODE_GENERATION", sqlmock.AnyArg(), "S2", "OPEN", "coder-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, store.Append(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreAppendDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStoreWithDB(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(1) FROM governance_events WHERE id = $1`)).
		WithArgs("ev-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err = store.Append(context.Background(), testEvent("ev-1", models.EventToolCall))
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStoreWithDB(db)
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC).Format(time.RFC3339Nano)

	rows := sqlmock.NewRows([]string{"id", "type", "timestamp", "stage", "status", "actor", "payload"}).
		AddRow("ev-1", "CODE_GENERATION", ts, "S2", "CLOSED",
			`{"id":"coder-1","role":"coder","role_type":"AI","source":"cli"}`,
			`{"file":"main.go"}`)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM governance_events WHERE id = $1`)).
		WithArgs("ev-1").
		WillReturnRows(rows)

	got, err := store.Get(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusClosed, got.Status)
	assert.Equal(t, models.ActorTypeAI, got.Actor.RoleType)
	assert.Equal(t, "main.go", got.PayloadString("file"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreUpdateStatusMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStoreWithDB(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE governance_events SET status = $1 WHERE id = $2`)).
		WithArgs("CLOSED", "no-such").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.UpdateStatus(context.Background(), "no-such", models.EventStatusClosed)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
