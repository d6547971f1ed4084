package sql_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"

	gormadapter "github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/database/gorm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/batch"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	sqlrepo "github.com/anoop6543/PharmaVax-sub001/pkg/control/infrastructure/repository/sql"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
)

func setupRepository(t *testing.T) (*sqlrepo.Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	db, err := gormadapter.OpenDialector(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), config.PoolConfig{}, "SILENT")
	require.NoError(t, err)

	t.Cleanup(func() {
		mock.ExpectClose()
		_ = sqlDB.Close()
	})
	return sqlrepo.NewRepository(db), mock
}

func TestRepository_AppendAuditEntry(t *testing.T) {
	repo, mock := setupRepository(t)
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `audit_entries`")).
		WithArgs("a-1", ts, "alice", "SETPOINT_CHANGE", "OPERATION", "TIC-101 60 -> 65", true, "sig").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.AppendAuditEntry(context.Background(), audit.Entry{
		ID:          "a-1",
		Timestamp:   ts,
		User:        "alice",
		Action:      "SETPOINT_CHANGE",
		Category:    audit.Category("OPERATION"),
		Description: "TIC-101 60 -> 65",
		Success:     true,
		Signature:   "sig",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_AppendAuditEntry_Failure(t *testing.T) {
	repo, mock := setupRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `audit_entries`")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.AppendAuditEntry(context.Background(), audit.Entry{ID: "a-2", Timestamp: time.Now()})
	require.Error(t, err)
	assert.Equal(t, exception.KindTransient, exception.KindOf(err))
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_EventsWrittenInlineBeforeStart(t *testing.T) {
	repo, mock := setupRepository(t)
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `alarm_events`")).
		WithArgs("e-1", "TT-101_HH", "ACTIVATED", 1, "PROCESS", "TT-101", "high high", "", ts).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `batch_events`")).
		WithArgs("b-1", "B-0001", "R1", "Granulation", "PHASE_STARTED", "heat", 0, int64(1500), "bob", "", ts).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	repo.OnAlarmEvent(alarm.Event{
		ID:        "e-1",
		AlarmID:   "TT-101_HH",
		Type:      alarm.EventType("ACTIVATED"),
		Priority:  alarm.Priority(1),
		Category:  alarm.Category("PROCESS"),
		Source:    "TT-101",
		Message:   "high high",
		Timestamp: ts,
	})
	repo.OnBatchEvent(batch.Event{
		ID:         "b-1",
		BatchID:    "B-0001",
		RecipeID:   "R1",
		RecipeName: "Granulation",
		Type:       batch.EventType("PHASE_STARTED"),
		Phase:      "heat",
		Offset:     1500 * time.Millisecond,
		User:       "bob",
		Timestamp:  ts,
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_QueuedEventsDrainedOnStop(t *testing.T) {
	repo, mock := setupRepository(t)
	repo.Start()

	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `alarm_events`")).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
	}
	for _, id := range []string{"e-1", "e-2", "e-3"} {
		repo.OnAlarmEvent(alarm.Event{ID: id, AlarmID: "X", Timestamp: time.Now()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, repo.Stop(ctx))
	assert.Zero(t, repo.Dropped())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_AlarmEvents(t *testing.T) {
	repo, mock := setupRepository(t)
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "alarm_id", "event_type", "priority", "category", "source", "message", "user_name", "recorded_at"}).
		AddRow("e-1", "TT-101_HH", "ACTIVATED", 1, "PROCESS", "TT-101", "high high", "", ts).
		AddRow("e-2", "TT-101_HH", "ACKNOWLEDGED", 1, "PROCESS", "TT-101", "high high", "alice", ts.Add(time.Minute))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `alarm_events` WHERE alarm_id = ?")).
		WillReturnRows(rows)

	events, err := repo.AlarmEvents(context.Background(), "TT-101_HH", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, alarm.PriorityCritical, events[0].Priority)
	assert.Equal(t, alarm.EventType("ACKNOWLEDGED"), events[1].Type)
	assert.Equal(t, "alice", events[1].User)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_BatchEvents(t *testing.T) {
	repo, mock := setupRepository(t)
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "batch_id", "recipe_id", "recipe_name", "event_type", "phase", "phase_index", "offset_ms", "user_name", "message", "recorded_at"}).
		AddRow("b-1", "B-0001", "R1", "Granulation", "PHASE_COMPLETED", "heat", 0, int64(5000), "", "", ts)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `batch_events` WHERE batch_id = ?")).
		WithArgs("B-0001").
		WillReturnRows(rows)

	events, err := repo.BatchEvents(context.Background(), "B-0001")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 5*time.Second, events[0].Offset)
	assert.Equal(t, "heat", events[0].Phase)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_AuditEntriesFilters(t *testing.T) {
	repo, mock := setupRepository(t)
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "recorded_at", "user_name", "action", "category", "description", "success", "signature"}).
		AddRow("a-1", since.Add(time.Hour), "alice", "ALARM_ACK", "ALARM", "ack", true, "sig")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `audit_entries` WHERE user_name = ? AND recorded_at >= ?")).
		WillReturnRows(rows)

	entries, err := repo.AuditEntries(context.Background(), sqlrepo.AuditQuery{User: "alice", Since: since})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ALARM_ACK", entries[0].Action)
	assert.True(t, entries[0].Success)
	assert.NoError(t, mock.ExpectationsWereMet())
}
