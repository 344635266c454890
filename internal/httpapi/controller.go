// Package httpapi binds the core's operations to HTTP endpoints (spec
// §4.8/§6) on a plain *http.ServeMux, the way the teacher's gateway
// composes net/http handlers without pulling in a routing framework.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/turnforge/chatcore/internal/agents"
	"github.com/turnforge/chatcore/internal/chatrepo"
	"github.com/turnforge/chatcore/internal/orchestrator"
	"github.com/turnforge/chatcore/internal/streamfabric"
)

// DefaultStreamTimeout is the controller-enforced ceiling for a turn
// (spec §5 "90 s (controller default for streaming)").
const DefaultStreamTimeout = 90 * time.Second

// Controller wires the HTTP surface to the registry, orchestrator,
// abort fabric, and repository.
type Controller struct {
	Registry      *agents.Registry
	Orchestrator  *orchestrator.Orchestrator
	Fabric        *streamfabric.Fabric
	Repo          chatrepo.Repository
	Logger        *zap.Logger
	BasePath      string
	StreamTimeout time.Duration
	RedisEnabled  bool
}

// New returns a Controller with defaults filled in for optional fields.
func New(registry *agents.Registry, orch *orchestrator.Orchestrator, fabric *streamfabric.Fabric, repo chatrepo.Repository, logger *zap.Logger, basePath string, redisEnabled bool) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		Registry:      registry,
		Orchestrator:  orch,
		Fabric:        fabric,
		Repo:          repo,
		Logger:        logger,
		BasePath:      basePath,
		StreamTimeout: DefaultStreamTimeout,
		RedisEnabled:  redisEnabled,
	}
}

// Mux builds the *http.ServeMux with every endpoint from spec §6
// registered under c.BasePath.
func (c *Controller) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	p := c.path

	mux.HandleFunc("POST "+p("/chat/stream"), c.StreamChat)
	mux.HandleFunc("POST "+p("/chat/stop"), c.StopChat)
	mux.HandleFunc("GET "+p("/chat/agents"), c.ListAgents)
	mux.HandleFunc("GET "+p("/chat/status"), c.Status)

	mux.HandleFunc("GET "+p("/chat/threads"), c.ListThreads)
	mux.HandleFunc("GET "+p("/chat/threads/{id}"), c.GetThread)
	mux.HandleFunc("PATCH "+p("/chat/threads/{id}"), c.UpdateThread)
	mux.HandleFunc("DELETE "+p("/chat/threads/{id}"), c.DeleteThread)
	mux.HandleFunc("POST "+p("/chat/threads/{id}/restore"), c.RestoreThread)
	mux.HandleFunc("DELETE "+p("/chat/threads/{id}/permanent"), c.PermanentDeleteThread)
	mux.HandleFunc("POST "+p("/chat/threads/{id}/bookmark"), c.BookmarkThread)
	mux.HandleFunc("GET "+p("/chat/threads/{id}/messages"), c.GetMessages)
	mux.HandleFunc("GET "+p("/chat/threads/{id}/messages/last"), c.GetLastMessage)
	mux.HandleFunc("GET "+p("/chat/threads/{id}/messages/count"), c.CountMessages)

	return mux
}

// path joins the configured base path (default "/api/v1") with suffix.
func (c *Controller) path(suffix string) string {
	base := c.BasePath
	if base == "" {
		base = "/api/v1"
	}
	return strings.TrimSuffix(base, "/") + suffix
}

func (c *Controller) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			c.Logger.Warn("httpapi: encode response failed", zap.Error(err))
		}
	}
}

func (c *Controller) sendError(w http.ResponseWriter, status int, message string) {
	c.writeJSON(w, status, map[string]string{"error": message})
}

// ownerOf validates that requestingUser owns the thread, translating
// chatrepo errors and ownership mismatch into the spec §4.8 status codes.
func (c *Controller) ownerOf(w http.ResponseWriter, r *http.Request, id, requestingUser string) (chatrepo.Thread, bool) {
	t, err := c.Repo.GetThread(r.Context(), id, false)
	if err != nil {
		if err == chatrepo.ErrNotFound {
			c.sendError(w, http.StatusNotFound, "thread not found")
		} else {
			c.sendError(w, http.StatusInternalServerError, "internal error")
		}
		return chatrepo.Thread{}, false
	}
	if requestingUser == "" || t.UserID != requestingUser {
		c.sendError(w, http.StatusForbidden, "not the owner of this thread")
		return chatrepo.Thread{}, false
	}
	return t, true
}
