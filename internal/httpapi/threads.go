package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/turnforge/chatcore/internal/chatrepo"
)

func (c *Controller) requestingUser(r *http.Request) string {
	if u := r.URL.Query().Get("user_id"); u != "" {
		return u
	}
	return r.Header.Get("X-User-Id")
}

// ListThreads handles GET /chat/threads.
func (c *Controller) ListThreads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		c.sendError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	opts := chatrepo.ListThreadsOptions{
		UserID:            userID,
		IncludeDeleted:    q.Get("include_deleted") == "true",
		SortBy:            chatrepo.SortByLastModified,
		SortOrder:         chatrepo.SortDesc,
		ContinuationToken: q.Get("continuation_token"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := q.Get("is_bookmarked"); v != "" {
		b := v == "true"
		opts.IsBookmarked = &b
	}

	page, err := c.Repo.ListThreads(r.Context(), opts)
	if err != nil {
		c.sendError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}
	c.writeJSON(w, http.StatusOK, page)
}

// GetThread handles GET /chat/threads/{id}.
func (c *Controller) GetThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, ok := c.ownerOf(w, r, id, c.requestingUser(r))
	if !ok {
		return
	}
	c.writeJSON(w, http.StatusOK, t)
}

type updateThreadRequest struct {
	Title        *string                `json:"title,omitempty"`
	IsBookmarked *bool                  `json:"is_bookmarked,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// UpdateThread handles PATCH /chat/threads/{id}.
func (c *Controller) UpdateThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := c.ownerOf(w, r, id, c.requestingUser(r)); !ok {
		return
	}

	var body updateThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		c.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, conflict, err := c.Repo.UpdateThread(r.Context(), id, func(t *chatrepo.Thread) {
		if body.Title != nil {
			t.Title = *body.Title
		}
		if body.IsBookmarked != nil {
			t.IsBookmarked = *body.IsBookmarked
		}
		if body.Metadata != nil {
			t.Metadata = body.Metadata
		}
	}, chatrepo.UpdateOptions{IfMatch: r.Header.Get("If-Match")})
	if err != nil {
		c.sendError(w, http.StatusInternalServerError, "failed to update thread")
		return
	}
	if conflict {
		c.sendError(w, http.StatusConflict, "etag mismatch")
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]interface{}{"thread": updated, "etag": updated.ETag})
}

// DeleteThread handles DELETE /chat/threads/{id} (soft delete).
func (c *Controller) DeleteThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := c.ownerOf(w, r, id, c.requestingUser(r)); !ok {
		return
	}
	_, conflict, err := c.Repo.UpdateThread(r.Context(), id, func(t *chatrepo.Thread) { t.IsDeleted = true }, chatrepo.UpdateOptions{IfMatch: r.Header.Get("If-Match")})
	if err != nil {
		c.sendError(w, http.StatusInternalServerError, "failed to delete thread")
		return
	}
	if conflict {
		c.sendError(w, http.StatusConflict, "etag mismatch")
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// RestoreThread handles POST /chat/threads/{id}/restore.
func (c *Controller) RestoreThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := c.ownerOf(w, r, id, c.requestingUser(r)); !ok {
		return
	}
	updated, conflict, err := c.Repo.UpdateThread(r.Context(), id, func(t *chatrepo.Thread) { t.IsDeleted = false }, chatrepo.UpdateOptions{IfMatch: r.Header.Get("If-Match")})
	if err != nil {
		c.sendError(w, http.StatusInternalServerError, "failed to restore thread")
		return
	}
	if conflict {
		c.sendError(w, http.StatusConflict, "etag mismatch")
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]interface{}{"thread": updated, "etag": updated.ETag})
}

// PermanentDeleteThread handles DELETE /chat/threads/{id}/permanent.
func (c *Controller) PermanentDeleteThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := c.ownerOf(w, r, id, c.requestingUser(r)); !ok {
		return
	}
	if err := c.Repo.HardDeleteThread(r.Context(), id); err != nil {
		c.sendError(w, http.StatusInternalServerError, "failed to permanently delete thread")
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// BookmarkThread handles POST /chat/threads/{id}/bookmark (toggles on).
func (c *Controller) BookmarkThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := c.ownerOf(w, r, id, c.requestingUser(r)); !ok {
		return
	}
	updated, conflict, err := c.Repo.UpdateThread(r.Context(), id, func(t *chatrepo.Thread) { t.IsBookmarked = !t.IsBookmarked }, chatrepo.UpdateOptions{RetryOnConflict: true})
	if err != nil {
		c.sendError(w, http.StatusInternalServerError, "failed to bookmark thread")
		return
	}
	if conflict {
		c.sendError(w, http.StatusConflict, "etag mismatch")
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]interface{}{"thread": updated, "is_bookmarked": updated.IsBookmarked})
}

// GetMessages handles GET /chat/threads/{id}/messages.
func (c *Controller) GetMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := c.ownerOf(w, r, id, c.requestingUser(r)); !ok {
		return
	}
	q := r.URL.Query()
	opts := chatrepo.ListMessagesOptions{
		Role:              q.Get("role"),
		ContinuationToken: q.Get("continuation_token"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	page, err := c.Repo.GetMessages(r.Context(), id, opts)
	if err != nil {
		c.sendError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	c.writeJSON(w, http.StatusOK, page)
}

// GetLastMessage handles GET /chat/threads/{id}/messages/last.
func (c *Controller) GetLastMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := c.ownerOf(w, r, id, c.requestingUser(r)); !ok {
		return
	}
	m, err := c.Repo.GetLastMessage(r.Context(), id)
	if err != nil {
		if err == chatrepo.ErrNotFound {
			c.sendError(w, http.StatusNotFound, "no messages for thread")
		} else {
			c.sendError(w, http.StatusInternalServerError, "failed to get last message")
		}
		return
	}
	c.writeJSON(w, http.StatusOK, m)
}

// CountMessages handles GET /chat/threads/{id}/messages/count.
func (c *Controller) CountMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := c.ownerOf(w, r, id, c.requestingUser(r)); !ok {
		return
	}
	n, err := c.Repo.CountMessages(r.Context(), id)
	if err != nil {
		c.sendError(w, http.StatusInternalServerError, "failed to count messages")
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]int{"count": n})
}
