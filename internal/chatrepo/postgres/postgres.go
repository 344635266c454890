// Package postgres is the managed, user_id-partitioned Repository
// backend (spec §4.7 "managed document store partitioned by user_id").
//
// The spec names Azure Cosmos DB for this role; no Cosmos SDK is
// available anywhere in the dependency pack this module was built
// from, so this backend substitutes Postgres tables keyed by id, with
// user_id stored on every row and indexed (it is not a table partition
// key, and lookups by id do not filter on it) while keeping the spec's
// AZURE_COSMOSDB_* environment variable names as the DSN source (see
// DESIGN.md). Writes go through the teacher's circuit-broken database
// wrapper; structured reads use sqlx for ergonomic scanning.
package postgres

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/turnforge/chatcore/internal/chatrepo"
	"github.com/turnforge/chatcore/internal/circuitbreaker"
	"github.com/turnforge/chatcore/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_threads (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT,
	is_bookmarked BOOLEAN NOT NULL DEFAULT false,
	is_deleted BOOLEAN NOT NULL DEFAULT false,
	metadata JSONB,
	trace_id TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	last_modified_at TIMESTAMPTZ NOT NULL,
	etag TEXT NOT NULL,
	version INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_threads_user ON chat_threads(user_id, is_deleted);

CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT false,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	last_modified_at TIMESTAMPTZ NOT NULL,
	etag TEXT NOT NULL,
	version INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_thread ON chat_messages(thread_id, is_deleted, created_at);
`

// jsonMeta adapts map[string]interface{} to the Postgres jsonb column,
// mirroring the teacher's db.JSONB Value/Scan pair.
type jsonMeta map[string]interface{}

func (j jsonMeta) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *jsonMeta) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("postgres: cannot scan %T into jsonMeta", value)
	}
	return json.Unmarshal(bytes, j)
}

type threadRow struct {
	ID             string    `db:"id"`
	UserID         string    `db:"user_id"`
	Title          string    `db:"title"`
	IsBookmarked   bool      `db:"is_bookmarked"`
	IsDeleted      bool      `db:"is_deleted"`
	Metadata       jsonMeta  `db:"metadata"`
	TraceID        string    `db:"trace_id"`
	CreatedAt      time.Time `db:"created_at"`
	LastModifiedAt time.Time `db:"last_modified_at"`
	ETag           string    `db:"etag"`
	Version        int       `db:"version"`
}

func (r threadRow) toDomain() chatrepo.Thread {
	return chatrepo.Thread{
		ID: r.ID, UserID: r.UserID, Title: r.Title, IsBookmarked: r.IsBookmarked, IsDeleted: r.IsDeleted,
		Metadata: r.Metadata, TraceID: r.TraceID, CreatedAt: r.CreatedAt, LastModifiedAt: r.LastModifiedAt,
		ETag: r.ETag, Version: r.Version,
	}
}

type messageRow struct {
	ID             string    `db:"id"`
	ThreadID       string    `db:"thread_id"`
	UserID         string    `db:"user_id"`
	Role           string    `db:"role"`
	Content        string    `db:"content"`
	IsDeleted      bool      `db:"is_deleted"`
	Metadata       jsonMeta  `db:"metadata"`
	CreatedAt      time.Time `db:"created_at"`
	LastModifiedAt time.Time `db:"last_modified_at"`
	ETag           string    `db:"etag"`
	Version        int       `db:"version"`
}

func (r messageRow) toDomain() chatrepo.MessageEntity {
	return chatrepo.MessageEntity{
		ID: r.ID, ThreadID: r.ThreadID, UserID: r.UserID, Role: r.Role, Content: r.Content, IsDeleted: r.IsDeleted,
		Metadata: r.Metadata, CreatedAt: r.CreatedAt, LastModifiedAt: r.LastModifiedAt, ETag: r.ETag, Version: r.Version,
	}
}

// Repository is the Postgres-backed Repository.
type Repository struct {
	sqlx *sqlx.DB
	cb   *circuitbreaker.DatabaseWrapper
}

func Open(dsn string, logger *zap.Logger) (*Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return &Repository{
		sqlx: db,
		cb:   circuitbreaker.NewDatabaseWrapper(db.DB, logger),
	}, nil
}

func (r *Repository) Close() error { return r.sqlx.Close() }

func (r *Repository) CreateThread(ctx context.Context, partial chatrepo.Thread) (chatrepo.Thread, error) {
	now := time.Now().UTC()
	t := partial
	if t.ID == "" {
		t.ID = chatrepo.NewID()
	}
	t.CreatedAt = now
	t.LastModifiedAt = now
	t.ETag = chatrepo.NewETag()
	t.Version = 1

	_, err := r.cb.ExecContext(ctx, `INSERT INTO chat_threads
		(id, user_id, title, is_bookmarked, is_deleted, metadata, trace_id, created_at, last_modified_at, etag, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		t.ID, t.UserID, t.Title, t.IsBookmarked, t.IsDeleted, jsonMeta(t.Metadata), t.TraceID, t.CreatedAt, t.LastModifiedAt, t.ETag, t.Version)
	if err != nil {
		return chatrepo.Thread{}, fmt.Errorf("postgres: create thread: %w", err)
	}
	return t, nil
}

func (r *Repository) GetThread(ctx context.Context, id string, includeDeleted bool) (chatrepo.Thread, error) {
	var row threadRow
	err := r.sqlx.GetContext(ctx, &row, `SELECT * FROM chat_threads WHERE id = $1`, id)
	if err != nil {
		return chatrepo.Thread{}, chatrepo.ErrNotFound
	}
	if row.IsDeleted && !includeDeleted {
		return chatrepo.Thread{}, chatrepo.ErrNotFound
	}
	return row.toDomain(), nil
}

func (r *Repository) UpdateThread(ctx context.Context, id string, apply func(*chatrepo.Thread), opts chatrepo.UpdateOptions) (chatrepo.Thread, bool, error) {
	t, err := r.GetThread(ctx, id, true)
	if err != nil {
		return chatrepo.Thread{}, false, err
	}
	if opts.IfMatch != "" && opts.IfMatch != t.ETag {
		if !opts.RetryOnConflict {
			metrics.RepositoryConflicts.Inc()
			return t, true, nil
		}
	}
	apply(&t)
	t.LastModifiedAt = time.Now().UTC()
	t.ETag = chatrepo.NewETag()
	t.Version++

	_, err = r.cb.ExecContext(ctx, `UPDATE chat_threads SET title=$1, is_bookmarked=$2, is_deleted=$3, metadata=$4, last_modified_at=$5, etag=$6, version=$7 WHERE id=$8`,
		t.Title, t.IsBookmarked, t.IsDeleted, jsonMeta(t.Metadata), t.LastModifiedAt, t.ETag, t.Version, id)
	if err != nil {
		return chatrepo.Thread{}, false, fmt.Errorf("postgres: update thread: %w", err)
	}
	return t, false, nil
}

func (r *Repository) DeleteThread(ctx context.Context, id string, opts chatrepo.DeleteOptions) error {
	_, _, err := r.UpdateThread(ctx, id, func(t *chatrepo.Thread) { t.IsDeleted = true }, chatrepo.UpdateOptions{})
	return err
}

func (r *Repository) HardDeleteThread(ctx context.Context, id string) error {
	if _, err := r.GetThread(ctx, id, true); err != nil {
		return err
	}
	if _, err := r.cb.ExecContext(ctx, `DELETE FROM chat_messages WHERE thread_id = $1`, id); err != nil {
		return fmt.Errorf("postgres: cascade delete messages: %w", err)
	}
	if _, err := r.cb.ExecContext(ctx, `DELETE FROM chat_threads WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: hard delete thread: %w", err)
	}
	return nil
}

func (r *Repository) RestoreThread(ctx context.Context, id string) (chatrepo.Thread, error) {
	t, _, err := r.UpdateThread(ctx, id, func(t *chatrepo.Thread) { t.IsDeleted = false }, chatrepo.UpdateOptions{})
	return t, err
}

func (r *Repository) ListThreads(ctx context.Context, opts chatrepo.ListThreadsOptions) (chatrepo.PaginatedThreads, error) {
	limit := chatrepo.ClampLimit(opts.Limit, chatrepo.DefaultThreadPageSize, chatrepo.MaxThreadPageSize)

	orderCol := "last_modified_at"
	switch opts.SortBy {
	case chatrepo.SortByCreated:
		orderCol = "created_at"
	case chatrepo.SortByTitle:
		orderCol = "title"
	}
	orderDir := "DESC"
	if opts.SortOrder == chatrepo.SortAsc {
		orderDir = "ASC"
	}

	query := `SELECT * FROM chat_threads WHERE user_id = $1`
	args := []interface{}{opts.UserID}
	if !opts.IncludeDeleted {
		query += ` AND is_deleted = false`
	}
	if opts.IsBookmarked != nil {
		args = append(args, *opts.IsBookmarked)
		query += fmt.Sprintf(` AND is_bookmarked = $%d`, len(args))
	}
	if opts.ContinuationToken != "" {
		cmp := "<"
		if orderDir == "ASC" {
			cmp = ">"
		}
		args = append(args, opts.ContinuationToken)
		query += fmt.Sprintf(` AND (%s, id) %s (SELECT %s, id FROM chat_threads WHERE id = $%d)`, orderCol, cmp, orderCol, len(args))
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(` ORDER BY %s %s, id %s LIMIT $%d`, orderCol, orderDir, orderDir, len(args))

	var rows []threadRow
	if err := r.sqlx.SelectContext(ctx, &rows, query, args...); err != nil {
		return chatrepo.PaginatedThreads{}, fmt.Errorf("postgres: list threads: %w", err)
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	items := make([]chatrepo.Thread, len(rows))
	for i, row := range rows {
		items[i] = row.toDomain()
	}
	var nextToken string
	if hasMore && len(items) > 0 {
		nextToken = items[len(items)-1].ID
	}
	return chatrepo.PaginatedThreads{Items: items, ContinuationToken: nextToken, HasMore: hasMore}, nil
}

func (r *Repository) getMessage(ctx context.Context, id string) (chatrepo.MessageEntity, error) {
	var row messageRow
	if err := r.sqlx.GetContext(ctx, &row, `SELECT * FROM chat_messages WHERE id = $1`, id); err != nil {
		return chatrepo.MessageEntity{}, chatrepo.ErrNotFound
	}
	return row.toDomain(), nil
}

func (r *Repository) UpsertMessage(ctx context.Context, partial chatrepo.MessageEntity) (chatrepo.MessageEntity, error) {
	now := time.Now().UTC()
	m := partial
	if m.ID == "" {
		m.ID = chatrepo.NewID()
	}

	existing, err := r.getMessage(ctx, m.ID)
	switch err {
	case nil:
		m.CreatedAt = existing.CreatedAt
		m.Version = existing.Version + 1
	case chatrepo.ErrNotFound:
		m.CreatedAt = now
		m.Version = 1
	default:
		return chatrepo.MessageEntity{}, err
	}
	m.LastModifiedAt = now
	m.ETag = chatrepo.NewETag()

	_, err = r.cb.ExecContext(ctx, `INSERT INTO chat_messages
		(id, thread_id, user_id, role, content, is_deleted, metadata, created_at, last_modified_at, etag, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET content=excluded.content, role=excluded.role, metadata=excluded.metadata,
			last_modified_at=excluded.last_modified_at, etag=excluded.etag, version=excluded.version`,
		m.ID, m.ThreadID, m.UserID, m.Role, m.Content, m.IsDeleted, jsonMeta(m.Metadata), m.CreatedAt, m.LastModifiedAt, m.ETag, m.Version)
	if err != nil {
		return chatrepo.MessageEntity{}, fmt.Errorf("postgres: upsert message: %w", err)
	}

	if _, err := r.cb.ExecContext(ctx, `UPDATE chat_threads SET last_modified_at=$1 WHERE id=$2`, now, m.ThreadID); err != nil {
		return chatrepo.MessageEntity{}, fmt.Errorf("postgres: touch thread: %w", err)
	}
	return m, nil
}

func (r *Repository) GetMessages(ctx context.Context, threadID string, opts chatrepo.ListMessagesOptions) (chatrepo.PaginatedMessages, error) {
	limit := chatrepo.ClampLimit(opts.Limit, chatrepo.DefaultMessagePageSize, chatrepo.MaxMessagePageSize)

	query := `SELECT * FROM chat_messages WHERE thread_id = $1 AND is_deleted = false`
	args := []interface{}{threadID}
	if opts.Role != "" {
		args = append(args, opts.Role)
		query += fmt.Sprintf(` AND role = $%d`, len(args))
	}
	if opts.ContinuationToken != "" {
		args = append(args, opts.ContinuationToken)
		query += fmt.Sprintf(` AND (created_at, id) > (SELECT created_at, id FROM chat_messages WHERE id = $%d)`, len(args))
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(` ORDER BY created_at ASC, id ASC LIMIT $%d`, len(args))

	var rows []messageRow
	if err := r.sqlx.SelectContext(ctx, &rows, query, args...); err != nil {
		return chatrepo.PaginatedMessages{}, fmt.Errorf("postgres: get messages: %w", err)
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	items := make([]chatrepo.MessageEntity, len(rows))
	for i, row := range rows {
		items[i] = row.toDomain()
	}
	var nextToken string
	if hasMore && len(items) > 0 {
		nextToken = items[len(items)-1].ID
	}
	return chatrepo.PaginatedMessages{Items: items, ContinuationToken: nextToken, HasMore: hasMore}, nil
}

func (r *Repository) UpdateMessage(ctx context.Context, id string, apply func(*chatrepo.MessageEntity), opts chatrepo.UpdateOptions) (chatrepo.MessageEntity, bool, error) {
	m, err := r.getMessage(ctx, id)
	if err != nil {
		return chatrepo.MessageEntity{}, false, err
	}
	if opts.IfMatch != "" && opts.IfMatch != m.ETag && !opts.RetryOnConflict {
		metrics.RepositoryConflicts.Inc()
		return m, true, nil
	}
	apply(&m)
	m.LastModifiedAt = time.Now().UTC()
	m.ETag = chatrepo.NewETag()
	m.Version++

	_, err = r.cb.ExecContext(ctx, `UPDATE chat_messages SET content=$1, role=$2, is_deleted=$3, metadata=$4, last_modified_at=$5, etag=$6, version=$7 WHERE id=$8`,
		m.Content, m.Role, m.IsDeleted, jsonMeta(m.Metadata), m.LastModifiedAt, m.ETag, m.Version, id)
	if err != nil {
		return chatrepo.MessageEntity{}, false, fmt.Errorf("postgres: update message: %w", err)
	}
	return m, false, nil
}

func (r *Repository) DeleteMessage(ctx context.Context, id string) error {
	_, _, err := r.UpdateMessage(ctx, id, func(m *chatrepo.MessageEntity) { m.IsDeleted = true }, chatrepo.UpdateOptions{})
	return err
}

func (r *Repository) HardDeleteMessage(ctx context.Context, id string) error {
	res, err := r.cb.ExecContext(ctx, `DELETE FROM chat_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: hard delete message: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return chatrepo.ErrNotFound
	}
	return nil
}

func (r *Repository) CountMessages(ctx context.Context, threadID string) (int, error) {
	var count int
	err := r.sqlx.GetContext(ctx, &count, `SELECT COUNT(*) FROM chat_messages WHERE thread_id = $1 AND is_deleted = false`, threadID)
	return count, err
}

func (r *Repository) GetLastMessage(ctx context.Context, threadID string) (chatrepo.MessageEntity, error) {
	var row messageRow
	err := r.sqlx.GetContext(ctx, &row, `SELECT * FROM chat_messages WHERE thread_id = $1 AND is_deleted = false ORDER BY created_at DESC, id DESC LIMIT 1`, threadID)
	if err != nil {
		return chatrepo.MessageEntity{}, chatrepo.ErrNotFound
	}
	return row.toDomain(), nil
}

func (r *Repository) BulkUpsertMessages(ctx context.Context, partials []chatrepo.MessageEntity) ([]chatrepo.MessageEntity, error) {
	out := make([]chatrepo.MessageEntity, 0, len(partials))
	for _, p := range partials {
		m, err := r.UpsertMessage(ctx, p)
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *Repository) BulkDeleteMessages(ctx context.Context, threadID string) error {
	_, err := r.cb.ExecContext(ctx, `UPDATE chat_messages SET is_deleted=true, etag=$1, version=version+1, last_modified_at=$2 WHERE thread_id=$3 AND is_deleted=false`,
		chatrepo.NewETag(), time.Now().UTC(), threadID)
	if err != nil {
		return fmt.Errorf("postgres: bulk delete messages: %w", err)
	}
	return nil
}

func (r *Repository) GetThreadVersion(ctx context.Context, id string) (int, error) {
	var v int
	err := r.sqlx.GetContext(ctx, &v, `SELECT version FROM chat_threads WHERE id = $1`, id)
	if err != nil {
		return 0, chatrepo.ErrNotFound
	}
	return v, nil
}

func (r *Repository) IncrementThreadVersion(ctx context.Context, id string) (int, error) {
	_, err := r.cb.ExecContext(ctx, `UPDATE chat_threads SET version = version + 1, etag = $1 WHERE id = $2`, chatrepo.NewETag(), id)
	if err != nil {
		return 0, fmt.Errorf("postgres: increment version: %w", err)
	}
	return r.GetThreadVersion(ctx, id)
}

func (r *Repository) IsHealthy(ctx context.Context) bool {
	return r.cb.PingContext(ctx) == nil
}

var _ chatrepo.Repository = (*Repository)(nil)
