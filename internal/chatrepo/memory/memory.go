// Package memory is an in-process Repository backend: a demo/test
// target with no durability (spec §4.7 "in-memory").
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/turnforge/chatcore/internal/chatrepo"
	"github.com/turnforge/chatcore/internal/metrics"
)

type Repository struct {
	mu       sync.Mutex
	threads  map[string]chatrepo.Thread
	messages map[string]chatrepo.MessageEntity // keyed by message id
}

func New() *Repository {
	return &Repository{
		threads:  make(map[string]chatrepo.Thread),
		messages: make(map[string]chatrepo.MessageEntity),
	}
}

func (r *Repository) CreateThread(ctx context.Context, partial chatrepo.Thread) (chatrepo.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	t := partial
	if t.ID == "" {
		t.ID = chatrepo.NewID()
	}
	t.CreatedAt = now
	t.LastModifiedAt = now
	t.ETag = chatrepo.NewETag()
	t.Version = 1
	r.threads[t.ID] = t
	return t, nil
}

func (r *Repository) GetThread(ctx context.Context, id string, includeDeleted bool) (chatrepo.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	if !ok || (t.IsDeleted && !includeDeleted) {
		return chatrepo.Thread{}, chatrepo.ErrNotFound
	}
	return t, nil
}

func (r *Repository) UpdateThread(ctx context.Context, id string, apply func(*chatrepo.Thread), opts chatrepo.UpdateOptions) (chatrepo.Thread, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.threads[id]
	if !ok {
		return chatrepo.Thread{}, false, chatrepo.ErrNotFound
	}
	if opts.IfMatch != "" && opts.IfMatch != t.ETag {
		if !opts.RetryOnConflict {
			metrics.RepositoryConflicts.Inc()
			return t, true, nil
		}
		// Single silent retry: re-read (already have latest under lock)
		// and re-apply against current state.
	}
	apply(&t)
	t.LastModifiedAt = time.Now().UTC()
	t.ETag = chatrepo.NewETag()
	t.Version++
	r.threads[id] = t
	return t, false, nil
}

func (r *Repository) DeleteThread(ctx context.Context, id string, opts chatrepo.DeleteOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	if !ok {
		return chatrepo.ErrNotFound
	}
	t.IsDeleted = true
	t.LastModifiedAt = time.Now().UTC()
	t.ETag = chatrepo.NewETag()
	t.Version++
	r.threads[id] = t
	return nil
}

func (r *Repository) HardDeleteThread(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.threads[id]; !ok {
		return chatrepo.ErrNotFound
	}
	delete(r.threads, id)
	for msgID, m := range r.messages {
		if m.ThreadID == id {
			delete(r.messages, msgID)
		}
	}
	return nil
}

func (r *Repository) RestoreThread(ctx context.Context, id string) (chatrepo.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	if !ok {
		return chatrepo.Thread{}, chatrepo.ErrNotFound
	}
	t.IsDeleted = false
	t.LastModifiedAt = time.Now().UTC()
	t.ETag = chatrepo.NewETag()
	t.Version++
	r.threads[id] = t
	return t, nil
}

func (r *Repository) ListThreads(ctx context.Context, opts chatrepo.ListThreadsOptions) (chatrepo.PaginatedThreads, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []chatrepo.Thread
	for _, t := range r.threads {
		if t.UserID != opts.UserID {
			continue
		}
		if t.IsDeleted && !opts.IncludeDeleted {
			continue
		}
		if opts.IsBookmarked != nil && t.IsBookmarked != *opts.IsBookmarked {
			continue
		}
		matched = append(matched, t)
	}

	sortThreads(matched, opts.SortBy, opts.SortOrder)

	limit := chatrepo.ClampLimit(opts.Limit, chatrepo.DefaultThreadPageSize, chatrepo.MaxThreadPageSize)

	start := 0
	if opts.ContinuationToken != "" {
		for i, t := range matched {
			if t.ID == opts.ContinuationToken {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	hasMore := end < len(matched)
	if end > len(matched) {
		end = len(matched)
	}
	page := matched[start:end]

	var nextToken string
	if hasMore && len(page) > 0 {
		nextToken = page[len(page)-1].ID
	}

	total := len(matched)
	return chatrepo.PaginatedThreads{Items: page, ContinuationToken: nextToken, HasMore: hasMore, TotalCount: &total}, nil
}

func sortThreads(threads []chatrepo.Thread, sortBy chatrepo.SortBy, order chatrepo.SortOrder) {
	less := func(i, j int) bool {
		var cmp bool
		switch sortBy {
		case chatrepo.SortByCreated:
			cmp = threads[i].CreatedAt.Before(threads[j].CreatedAt)
		case chatrepo.SortByTitle:
			cmp = threads[i].Title < threads[j].Title
		default:
			cmp = threads[i].LastModifiedAt.Before(threads[j].LastModifiedAt)
		}
		if order == chatrepo.SortAsc {
			return cmp
		}
		return !cmp
	}
	sort.SliceStable(threads, less)
}

func (r *Repository) UpsertMessage(ctx context.Context, partial chatrepo.MessageEntity) (chatrepo.MessageEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	existing, exists := r.messages[partial.ID]

	m := partial
	if m.ID == "" {
		m.ID = chatrepo.NewID()
	}
	if exists {
		m.CreatedAt = existing.CreatedAt
		m.Version = existing.Version + 1
	} else {
		m.CreatedAt = now
		m.Version = 1
	}
	m.LastModifiedAt = now
	m.ETag = chatrepo.NewETag()
	r.messages[m.ID] = m

	if t, ok := r.threads[m.ThreadID]; ok {
		t.LastModifiedAt = now
		r.threads[m.ThreadID] = t
	}
	return m, nil
}

func (r *Repository) GetMessages(ctx context.Context, threadID string, opts chatrepo.ListMessagesOptions) (chatrepo.PaginatedMessages, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []chatrepo.MessageEntity
	for _, m := range r.messages {
		if m.ThreadID != threadID || m.IsDeleted {
			continue
		}
		if opts.Role != "" && m.Role != opts.Role {
			continue
		}
		matched = append(matched, m)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	limit := chatrepo.ClampLimit(opts.Limit, chatrepo.DefaultMessagePageSize, chatrepo.MaxMessagePageSize)

	start := 0
	if opts.ContinuationToken != "" {
		for i, m := range matched {
			if m.ID == opts.ContinuationToken {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	hasMore := end < len(matched)
	if end > len(matched) {
		end = len(matched)
	}
	page := matched[start:end]

	var nextToken string
	if hasMore && len(page) > 0 {
		nextToken = page[len(page)-1].ID
	}
	total := len(matched)
	return chatrepo.PaginatedMessages{Items: page, ContinuationToken: nextToken, HasMore: hasMore, TotalCount: &total}, nil
}

func (r *Repository) UpdateMessage(ctx context.Context, id string, apply func(*chatrepo.MessageEntity), opts chatrepo.UpdateOptions) (chatrepo.MessageEntity, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return chatrepo.MessageEntity{}, false, chatrepo.ErrNotFound
	}
	if opts.IfMatch != "" && opts.IfMatch != m.ETag && !opts.RetryOnConflict {
		metrics.RepositoryConflicts.Inc()
		return m, true, nil
	}
	apply(&m)
	m.LastModifiedAt = time.Now().UTC()
	m.ETag = chatrepo.NewETag()
	m.Version++
	r.messages[id] = m
	return m, false, nil
}

func (r *Repository) DeleteMessage(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return chatrepo.ErrNotFound
	}
	m.IsDeleted = true
	m.LastModifiedAt = time.Now().UTC()
	m.ETag = chatrepo.NewETag()
	m.Version++
	r.messages[id] = m
	return nil
}

func (r *Repository) HardDeleteMessage(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[id]; !ok {
		return chatrepo.ErrNotFound
	}
	delete(r.messages, id)
	return nil
}

func (r *Repository) CountMessages(ctx context.Context, threadID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, m := range r.messages {
		if m.ThreadID == threadID && !m.IsDeleted {
			count++
		}
	}
	return count, nil
}

func (r *Repository) GetLastMessage(ctx context.Context, threadID string) (chatrepo.MessageEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last chatrepo.MessageEntity
	found := false
	for _, m := range r.messages {
		if m.ThreadID != threadID || m.IsDeleted {
			continue
		}
		if !found || m.CreatedAt.After(last.CreatedAt) || (m.CreatedAt.Equal(last.CreatedAt) && m.ID > last.ID) {
			last = m
			found = true
		}
	}
	if !found {
		return chatrepo.MessageEntity{}, chatrepo.ErrNotFound
	}
	return last, nil
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
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for id, m := range r.messages {
		if m.ThreadID == threadID && !m.IsDeleted {
			m.IsDeleted = true
			m.LastModifiedAt = now
			m.ETag = chatrepo.NewETag()
			m.Version++
			r.messages[id] = m
		}
	}
	return nil
}

func (r *Repository) GetThreadVersion(ctx context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	if !ok {
		return 0, chatrepo.ErrNotFound
	}
	return t.Version, nil
}

func (r *Repository) IncrementThreadVersion(ctx context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	if !ok {
		return 0, chatrepo.ErrNotFound
	}
	t.Version++
	t.ETag = chatrepo.NewETag()
	r.threads[id] = t
	return t.Version, nil
}

func (r *Repository) IsHealthy(ctx context.Context) bool {
	return true
}

var _ chatrepo.Repository = (*Repository)(nil)
