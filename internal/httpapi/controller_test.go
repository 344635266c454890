package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/turnforge/chatcore/internal/agents"
	"github.com/turnforge/chatcore/internal/chatrepo"
	"github.com/turnforge/chatcore/internal/chatrepo/memory"
	"github.com/turnforge/chatcore/internal/llm"
	"github.com/turnforge/chatcore/internal/orchestrator"
	"github.com/turnforge/chatcore/internal/streamfabric"
)

func newTestController(t *testing.T) (*Controller, chatrepo.Repository) {
	t.Helper()
	registry := agents.NewRegistry()
	client := llm.NewMockClient(0)
	registry.Register(agents.NamePlain, agents.NewPlainAgent(client))
	registry.Register(agents.NamePlanner, agents.NewPlannerAgent(client))
	registry.Register(agents.NameRAG, agents.NewRAGAgent(client, nil))
	registry.Register(agents.NameResearcher, agents.NewResearcherAgent(client, nil))
	registry.Register(agents.NameParallelSearch, agents.NewParallelSearchAgent(nil))
	registry.Register(agents.NameResultRanker, agents.NewResultRankerAgent(client))
	registry.Register(agents.NameWriter, agents.NewWriterAgent(client))

	repo := memory.New()
	fabric := streamfabric.New(nil, zaptest.NewLogger(t))
	orch := orchestrator.New(registry)

	c := New(registry, orch, fabric, repo, zaptest.NewLogger(t), "/api/v1", false)
	return c, repo
}

func TestStreamChat_UnknownAgentTypeReturns400(t *testing.T) {
	c, _ := newTestController(t)
	mux := c.Mux()

	body, _ := json.Marshal(streamRequest{
		ThreadID: "t1", UserID: "u1", AgentType: "NoSuchAgent",
		Messages: []chatMessageDTO{{ID: "m1", Role: "user", Content: "hi"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamChat_PlainAgentEndsWithDoneAndPersists(t *testing.T) {
	c, repo := newTestController(t)
	mux := c.Mux()

	body, _ := json.Marshal(streamRequest{
		ThreadID: "t1", UserID: "u1", AgentType: agents.NamePlain,
		Messages: []chatMessageDTO{{ID: "m1", Role: "user", Content: "hello there"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: metadata")
	assert.Contains(t, rec.Body.String(), "event: done")

	thread, err := repo.GetThread(req.Context(), "t1", false)
	require.NoError(t, err)
	assert.Equal(t, "u1", thread.UserID)

	last, err := repo.GetLastMessage(req.Context(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "assistant", last.Role)
}

func TestGetThread_OwnershipMismatchReturns403(t *testing.T) {
	c, repo := newTestController(t)
	_, err := repo.CreateThread(context.Background(), chatrepo.Thread{ID: "t1", UserID: "owner"})
	require.NoError(t, err)

	mux := c.Mux()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/threads/t1", nil)
	req.Header.Set("X-User-Id", "someone-else")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetThread_MissingThreadReturns404(t *testing.T) {
	c, _ := newTestController(t)
	mux := c.Mux()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/threads/does-not-exist", nil)
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateThread_EtagConflictReturns409(t *testing.T) {
	c, repo := newTestController(t)
	created, err := repo.CreateThread(context.Background(), chatrepo.Thread{ID: "t1", UserID: "u1"})
	require.NoError(t, err)

	mux := c.Mux()
	body, _ := json.Marshal(updateThreadRequest{Title: strPtr("new title")})
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/chat/threads/t1", bytes.NewReader(body))
	req.Header.Set("X-User-Id", "u1")
	req.Header.Set("If-Match", "stale-etag-not-"+created.ETag)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBookmarkThread_Toggles(t *testing.T) {
	c, repo := newTestController(t)
	_, err := repo.CreateThread(context.Background(), chatrepo.Thread{ID: "t1", UserID: "u1"})
	require.NoError(t, err)

	mux := c.Mux()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/threads/t1/bookmark", nil)
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["is_bookmarked"])
}

func strPtr(s string) *string { return &s }
