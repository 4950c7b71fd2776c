package queuestore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMockAdapter builds a PostgresAdapter directly over a sqlmock db,
// without the LISTEN/NOTIFY listener (which needs a live connection);
// Send's pg_notify side still runs through the mocked db.
func setupMockAdapter(t *testing.T) (sqlmock.Sqlmock, *PostgresAdapter) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return mock, &PostgresAdapter{db: db, subs: make(map[string]map[chan struct{}]struct{})}
}

func queueColumns() []string {
	return []string{"id", "queue", "payload", "priority", "read_count", "enqueued_at", "visible_at"}
}

func TestPostgresSendInsertsAndNotifies(t *testing.T) {
	mock, a := setupMockAdapter(t)

	mock.ExpectExec("INSERT INTO queue_messages").
		WithArgs(sqlmock.AnyArg(), "social", "wi-1", 5, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT pg_notify").WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := a.Send(context.Background(), "social", "wi-1", 5, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReadClaimsAndExtendsVisibility(t *testing.T) {
	mock, a := setupMockAdapter(t)

	enqueued := time.Now().Add(-time.Minute)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM queue_messages").
		WithArgs("social", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(queueColumns()).
			AddRow("msg-1", "social", "wi-1", 5, 0, enqueued, enqueued))
	mock.ExpectExec("read_count").
		WithArgs(sqlmock.AnyArg(), "msg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, err := a.Read(context.Background(), "social", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "msg-1", msg.ID)
	assert.Equal(t, 1, msg.ReadCount)
	assert.True(t, msg.VisibleAt.After(time.Now()), "visibility extended past now")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReadReturnsNilWhenEmpty(t *testing.T) {
	mock, a := setupMockAdapter(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM queue_messages").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	msg, err := a.Read(context.Background(), "social", 30*time.Second)
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresArchiveIsIdempotent(t *testing.T) {
	mock, a := setupMockAdapter(t)

	mock.ExpectExec("UPDATE queue_messages SET archived").
		WithArgs("msg-1", "social").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE queue_messages SET archived").
		WithArgs("msg-1", "social").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, a.Archive(context.Background(), "social", "msg-1"))
	require.NoError(t, a.Archive(context.Background(), "social", "msg-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDelete(t *testing.T) {
	mock, a := setupMockAdapter(t)

	mock.ExpectExec("DELETE FROM queue_messages").
		WithArgs("msg-1", "social").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, a.Delete(context.Background(), "social", "msg-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
