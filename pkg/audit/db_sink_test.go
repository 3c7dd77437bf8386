package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestNewDBSink(t *testing.T) {
	_, err := NewDBSink(nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database connection is required")

	db, _ := setupMockDB(t)
	sink, err := NewDBSink(db)
	require.NoError(t, err)
	assert.NoError(t, sink.Close())
}

func TestDBSink_Record(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		sink, _ := NewDBSink(db)

		actor := int64(3)
		e := &Entry{
			ID:           "id-1",
			Timestamp:    time.Now(),
			ActorID:      &actor,
			Action:       ActionSuspiciousActivity,
			Severity:     SeverityCritical,
			ResourceType: ResourceTypeUser,
			ResourceID:   "3",
			Metadata:     map[string]interface{}{MetaViolation: "SELF_MODIFICATION_ATTEMPT"},
		}

		mock.ExpectExec("INSERT INTO security_audit_log").
			WithArgs("id-1", sqlmock.AnyArg(), int64(3), "SUSPICIOUS_ACTIVITY", "CRITICAL",
				"user", "3", "", false, "", "", "", `{"violation":"SELF_MODIFICATION_ATTEMPT"}`).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, sink.Record(context.Background(), e))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		sink, _ := NewDBSink(db)

		mock.ExpectExec("INSERT INTO security_audit_log").WillReturnError(errors.New("connection reset"))

		err := sink.Record(context.Background(), &Entry{ID: "x", Action: ActionPermissionCheck})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert audit entry")
	})
}

func TestDBSink_Search(t *testing.T) {
	db, mock := setupMockDB(t)
	sink, _ := NewDBSink(db)

	now := time.Now().UTC()
	columns := []string{"id", "timestamp", "actor_id", "action", "severity", "resource_type", "resource_id",
		"permission", "success", "failure_reason", "request_id", "ip_address", "metadata"}
	rows := sqlmock.NewRows(columns).
		AddRow("a", now, int64(1), "PERMISSION_CHECK", "LOW", "route", "GET /x", "view_x", true, nil, "r1", nil, nil).
		AddRow("b", now, nil, "UNAUTHORIZED_BAN_ATTEMPT", "HIGH", "user", "9", nil, false, "insufficient privileges", nil, nil, `{"actorRank":20}`)

	actor := int64(1)
	mock.ExpectQuery("SELECT (.+) FROM security_audit_log WHERE actor_id = \\$1 AND action = \\$2 ORDER BY timestamp DESC LIMIT \\$3").
		WithArgs(int64(1), "PERMISSION_CHECK", 100).
		WillReturnRows(rows)

	entries, err := sink.Search(context.Background(), Filter{ActorID: &actor, Action: ActionPermissionCheck})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, int64(1), *entries[0].ActorID)
	assert.Equal(t, "view_x", entries[0].Permission)
	assert.Nil(t, entries[1].ActorID)
	assert.Equal(t, float64(20), entries[1].Meta(MetaActorRank))
	assert.NoError(t, mock.ExpectationsWereMet())
}
