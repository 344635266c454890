package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap/zaptest"

	"github.com/turnforge/chatcore/internal/chatrepo"
	"github.com/turnforge/chatcore/internal/circuitbreaker"
)

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.MonitorPingsOption(true),
	)
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	return &Repository{
		sqlx: sqlxDB,
		cb:   circuitbreaker.NewDatabaseWrapper(db, zaptest.NewLogger(t)),
	}, mock
}

func TestCreateThread_InsertsWithGeneratedIDAndETag(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("INSERT INTO chat_threads").WillReturnResult(sqlmock.NewResult(1, 1))

	thread, err := repo.CreateThread(context.Background(), chatrepo.Thread{UserID: "u1", Title: "hello"})
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if thread.ID == "" || thread.ETag == "" {
		t.Fatalf("expected generated id/etag, got %+v", thread)
	}
	if thread.Version != 1 {
		t.Fatalf("expected version 1, got %d", thread.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetThread_NotFoundMapsToErrNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT \\* FROM chat_threads WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetThread(context.Background(), "missing", true)
	if err != chatrepo.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateThread_EtagMismatchReportsConflictWithoutWriting(t *testing.T) {
	repo, mock := newMockRepository(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "title", "is_bookmarked", "is_deleted", "metadata", "trace_id", "created_at", "last_modified_at", "etag", "version"}).
		AddRow("t1", "u1", "hi", false, false, nil, "", now, now, "original-etag", 1)
	mock.ExpectQuery("SELECT \\* FROM chat_threads WHERE id = \\$1").WithArgs("t1").WillReturnRows(rows)

	_, conflict, err := repo.UpdateThread(context.Background(), "t1", func(t *chatrepo.Thread) { t.Title = "changed" }, chatrepo.UpdateOptions{IfMatch: "stale-etag"})
	if err != nil {
		t.Fatalf("UpdateThread: %v", err)
	}
	if !conflict {
		t.Fatalf("expected conflict=true on etag mismatch")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations (no UPDATE should have run): %v", err)
	}
}

func TestHealthCheck_PingFailureReportsUnhealthy(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	if repo.IsHealthy(context.Background()) {
		t.Fatalf("expected unhealthy when ping fails")
	}
}
