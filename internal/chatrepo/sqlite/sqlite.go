// Package sqlite is the single-file embedded Repository backend (spec
// §4.7 "single-file embedded (for demos)"), built on mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/turnforge/chatcore/internal/chatrepo"
	"github.com/turnforge/chatcore/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS threads (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT,
	is_bookmarked INTEGER NOT NULL DEFAULT 0,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	metadata TEXT,
	trace_id TEXT,
	created_at TEXT NOT NULL,
	last_modified_at TEXT NOT NULL,
	etag TEXT NOT NULL,
	version INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_threads_user ON threads(user_id, is_deleted);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	metadata TEXT,
	created_at TEXT NOT NULL,
	last_modified_at TEXT NOT NULL,
	etag TEXT NOT NULL,
	version INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, is_deleted, created_at);
`

// Repository stores threads and messages in a single SQLite file (or
// ":memory:" for tests).
type Repository struct {
	db *sql.DB
}

func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite writers serialize; avoid SQLITE_BUSY thrash
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error { return r.db.Close() }

func marshalMeta(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func unmarshalMeta(s string) map[string]interface{} {
	if s == "" {
		return nil
	}
	var m map[string]interface{}
	_ = json.Unmarshal([]byte(s), &m)
	return m
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanThread(row interface {
	Scan(dest ...interface{}) error
}) (chatrepo.Thread, error) {
	var t chatrepo.Thread
	var isBookmarked, isDeleted int
	var metadata string
	var createdAt, lastModifiedAt string
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &isBookmarked, &isDeleted, &metadata, &t.TraceID, &createdAt, &lastModifiedAt, &t.ETag, &t.Version); err != nil {
		return chatrepo.Thread{}, err
	}
	t.IsBookmarked = isBookmarked != 0
	t.IsDeleted = isDeleted != 0
	t.Metadata = unmarshalMeta(metadata)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.LastModifiedAt, _ = time.Parse(time.RFC3339Nano, lastModifiedAt)
	return t, nil
}

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

	meta, err := marshalMeta(t.Metadata)
	if err != nil {
		return chatrepo.Thread{}, err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO threads
		(id, user_id, title, is_bookmarked, is_deleted, metadata, trace_id, created_at, last_modified_at, etag, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Title, boolToInt(t.IsBookmarked), boolToInt(t.IsDeleted), meta, t.TraceID,
		t.CreatedAt.Format(time.RFC3339Nano), t.LastModifiedAt.Format(time.RFC3339Nano), t.ETag, t.Version)
	if err != nil {
		return chatrepo.Thread{}, fmt.Errorf("sqlite: create thread: %w", err)
	}
	return t, nil
}

func (r *Repository) GetThread(ctx context.Context, id string, includeDeleted bool) (chatrepo.Thread, error) {
	query := `SELECT id, user_id, title, is_bookmarked, is_deleted, metadata, trace_id, created_at, last_modified_at, etag, version
		FROM threads WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return chatrepo.Thread{}, chatrepo.ErrNotFound
	}
	if err != nil {
		return chatrepo.Thread{}, err
	}
	if t.IsDeleted && !includeDeleted {
		return chatrepo.Thread{}, chatrepo.ErrNotFound
	}
	return t, nil
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
		// retry: re-read already happened above via GetThread.
	}
	apply(&t)
	t.LastModifiedAt = time.Now().UTC()
	t.ETag = chatrepo.NewETag()
	t.Version++

	meta, err := marshalMeta(t.Metadata)
	if err != nil {
		return chatrepo.Thread{}, false, err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE threads SET title=?, is_bookmarked=?, is_deleted=?, metadata=?, last_modified_at=?, etag=?, version=? WHERE id=?`,
		t.Title, boolToInt(t.IsBookmarked), boolToInt(t.IsDeleted), meta, t.LastModifiedAt.Format(time.RFC3339Nano), t.ETag, t.Version, id)
	if err != nil {
		return chatrepo.Thread{}, false, fmt.Errorf("sqlite: update thread: %w", err)
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
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: cascade delete messages: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: hard delete thread: %w", err)
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

	query := fmt.Sprintf(`SELECT id, user_id, title, is_bookmarked, is_deleted, metadata, trace_id, created_at, last_modified_at, etag, version
		FROM threads WHERE user_id = ?`)
	args := []interface{}{opts.UserID}
	if !opts.IncludeDeleted {
		query += ` AND is_deleted = 0`
	}
	if opts.IsBookmarked != nil {
		query += ` AND is_bookmarked = ?`
		args = append(args, boolToInt(*opts.IsBookmarked))
	}
	if opts.ContinuationToken != "" {
		cmp := "<"
		if orderDir == "ASC" {
			cmp = ">"
		}
		query += fmt.Sprintf(` AND (%s, id) %s (SELECT %s, id FROM threads WHERE id = ?)`, orderCol, cmp, orderCol)
		args = append(args, opts.ContinuationToken)
	}
	query += fmt.Sprintf(` ORDER BY %s %s, id %s LIMIT ?`, orderCol, orderDir, orderDir)
	args = append(args, limit+1)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return chatrepo.PaginatedThreads{}, fmt.Errorf("sqlite: list threads: %w", err)
	}
	defer rows.Close()

	var items []chatrepo.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return chatrepo.PaginatedThreads{}, err
		}
		items = append(items, t)
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	var nextToken string
	if hasMore && len(items) > 0 {
		nextToken = items[len(items)-1].ID
	}
	return chatrepo.PaginatedThreads{Items: items, ContinuationToken: nextToken, HasMore: hasMore}, nil
}

func scanMessage(row interface {
	Scan(dest ...interface{}) error
}) (chatrepo.MessageEntity, error) {
	var m chatrepo.MessageEntity
	var isDeleted int
	var metadata, createdAt, lastModifiedAt string
	if err := row.Scan(&m.ID, &m.ThreadID, &m.UserID, &m.Role, &m.Content, &isDeleted, &metadata, &createdAt, &lastModifiedAt, &m.ETag, &m.Version); err != nil {
		return chatrepo.MessageEntity{}, err
	}
	m.IsDeleted = isDeleted != 0
	m.Metadata = unmarshalMeta(metadata)
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.LastModifiedAt, _ = time.Parse(time.RFC3339Nano, lastModifiedAt)
	return m, nil
}

func (r *Repository) getMessage(ctx context.Context, id string) (chatrepo.MessageEntity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, thread_id, user_id, role, content, is_deleted, metadata, created_at, last_modified_at, etag, version
		FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return chatrepo.MessageEntity{}, chatrepo.ErrNotFound
	}
	return m, err
}

func (r *Repository) UpsertMessage(ctx context.Context, partial chatrepo.MessageEntity) (chatrepo.MessageEntity, error) {
	now := time.Now().UTC()
	m := partial
	if m.ID == "" {
		m.ID = chatrepo.NewID()
	}

	existing, err := r.getMessage(ctx, m.ID)
	if err == nil {
		m.CreatedAt = existing.CreatedAt
		m.Version = existing.Version + 1
	} else if err == chatrepo.ErrNotFound {
		m.CreatedAt = now
		m.Version = 1
	} else {
		return chatrepo.MessageEntity{}, err
	}
	m.LastModifiedAt = now
	m.ETag = chatrepo.NewETag()

	meta, err := marshalMeta(m.Metadata)
	if err != nil {
		return chatrepo.MessageEntity{}, err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO messages
		(id, thread_id, user_id, role, content, is_deleted, metadata, created_at, last_modified_at, etag, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content=excluded.content, role=excluded.role, metadata=excluded.metadata,
			last_modified_at=excluded.last_modified_at, etag=excluded.etag, version=excluded.version`,
		m.ID, m.ThreadID, m.UserID, m.Role, m.Content, boolToInt(m.IsDeleted), meta,
		m.CreatedAt.Format(time.RFC3339Nano), m.LastModifiedAt.Format(time.RFC3339Nano), m.ETag, m.Version)
	if err != nil {
		return chatrepo.MessageEntity{}, fmt.Errorf("sqlite: upsert message: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `UPDATE threads SET last_modified_at=? WHERE id=?`, now.Format(time.RFC3339Nano), m.ThreadID); err != nil {
		return chatrepo.MessageEntity{}, fmt.Errorf("sqlite: touch thread: %w", err)
	}
	return m, nil
}

func (r *Repository) GetMessages(ctx context.Context, threadID string, opts chatrepo.ListMessagesOptions) (chatrepo.PaginatedMessages, error) {
	limit := chatrepo.ClampLimit(opts.Limit, chatrepo.DefaultMessagePageSize, chatrepo.MaxMessagePageSize)

	query := `SELECT id, thread_id, user_id, role, content, is_deleted, metadata, created_at, last_modified_at, etag, version
		FROM messages WHERE thread_id = ? AND is_deleted = 0`
	args := []interface{}{threadID}
	if opts.Role != "" {
		query += ` AND role = ?`
		args = append(args, opts.Role)
	}
	if opts.ContinuationToken != "" {
		query += ` AND (created_at, id) > (SELECT created_at, id FROM messages WHERE id = ?)`
		args = append(args, opts.ContinuationToken)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, limit+1)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return chatrepo.PaginatedMessages{}, fmt.Errorf("sqlite: get messages: %w", err)
	}
	defer rows.Close()

	var items []chatrepo.MessageEntity
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return chatrepo.PaginatedMessages{}, err
		}
		items = append(items, m)
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
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

	meta, err := marshalMeta(m.Metadata)
	if err != nil {
		return chatrepo.MessageEntity{}, false, err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE messages SET content=?, role=?, is_deleted=?, metadata=?, last_modified_at=?, etag=?, version=? WHERE id=?`,
		m.Content, m.Role, boolToInt(m.IsDeleted), meta, m.LastModifiedAt.Format(time.RFC3339Nano), m.ETag, m.Version, id)
	if err != nil {
		return chatrepo.MessageEntity{}, false, fmt.Errorf("sqlite: update message: %w", err)
	}
	return m, false, nil
}

func (r *Repository) DeleteMessage(ctx context.Context, id string) error {
	_, _, err := r.UpdateMessage(ctx, id, func(m *chatrepo.MessageEntity) { m.IsDeleted = true }, chatrepo.UpdateOptions{})
	return err
}

func (r *Repository) HardDeleteMessage(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: hard delete message: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return chatrepo.ErrNotFound
	}
	return nil
}

func (r *Repository) CountMessages(ctx context.Context, threadID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE thread_id = ? AND is_deleted = 0`, threadID).Scan(&count)
	return count, err
}

func (r *Repository) GetLastMessage(ctx context.Context, threadID string) (chatrepo.MessageEntity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, thread_id, user_id, role, content, is_deleted, metadata, created_at, last_modified_at, etag, version
		FROM messages WHERE thread_id = ? AND is_deleted = 0 ORDER BY created_at DESC, id DESC LIMIT 1`, threadID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return chatrepo.MessageEntity{}, chatrepo.ErrNotFound
	}
	return m, err
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
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET is_deleted=1, etag=?, version=version+1, last_modified_at=? WHERE thread_id=? AND is_deleted=0`,
		chatrepo.NewETag(), time.Now().UTC().Format(time.RFC3339Nano), threadID)
	if err != nil {
		return fmt.Errorf("sqlite: bulk delete messages: %w", err)
	}
	return nil
}

func (r *Repository) GetThreadVersion(ctx context.Context, id string) (int, error) {
	var v int
	err := r.db.QueryRowContext(ctx, `SELECT version FROM threads WHERE id = ?`, id).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, chatrepo.ErrNotFound
	}
	return v, err
}

func (r *Repository) IncrementThreadVersion(ctx context.Context, id string) (int, error) {
	_, err := r.db.ExecContext(ctx, `UPDATE threads SET version = version + 1, etag = ? WHERE id = ?`, chatrepo.NewETag(), id)
	if err != nil {
		return 0, fmt.Errorf("sqlite: increment version: %w", err)
	}
	return r.GetThreadVersion(ctx, id)
}

func (r *Repository) IsHealthy(ctx context.Context) bool {
	return r.db.PingContext(ctx) == nil
}

var _ chatrepo.Repository = (*Repository)(nil)
