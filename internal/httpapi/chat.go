package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/turnforge/chatcore/internal/agents"
	"github.com/turnforge/chatcore/internal/chatrepo"
	"github.com/turnforge/chatcore/internal/convo"
	"github.com/turnforge/chatcore/internal/events"
	"github.com/turnforge/chatcore/internal/sse"
)

type chatMessageDTO struct {
	ID       string                 `json:"id"`
	Role     string                 `json:"role"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type streamRequest struct {
	ThreadID          string           `json:"thread_id"`
	UserID            string           `json:"user_id"`
	AgentType         string           `json:"agent_type,omitempty"`
	Messages          []chatMessageDTO `json:"messages"`
	ConversationStyle string           `json:"conversation_style,omitempty"`
	MaxTokens         int              `json:"max_tokens,omitempty"`
	Temperature       float64          `json:"temperature,omitempty"`
	SystemPrompt      string           `json:"system_prompt,omitempty"`
}

// StreamChat handles POST /chat/stream (spec §4.8/§6): it registers an
// abort token, dispatches to either a single named agent or the full
// orchestrator, frames the resulting events over SSE, and persists the
// turn once the stream ends.
func (c *Controller) StreamChat(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ThreadID == "" || req.UserID == "" || len(req.Messages) == 0 {
		c.sendError(w, http.StatusBadRequest, "thread_id, user_id, and messages are required")
		return
	}

	history := make([]events.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		history = append(history, events.ChatMessage{ID: m.ID, Role: events.Role(m.Role), Content: m.Content, Metadata: m.Metadata})
	}
	history = convo.DeduplicateByID(history)
	history = convo.PrepareForLLM(history, convo.PrepareConfig{})

	var agent agents.Agent
	if req.AgentType != "" {
		var err error
		agent, err = c.Registry.Get(req.AgentType)
		if err != nil {
			c.sendError(w, http.StatusBadRequest, "unknown agent_type: "+req.AgentType)
			return
		}
	}

	encoder, err := sse.NewEncoder(w)
	if err != nil {
		c.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	timeout := c.StreamTimeout
	if timeout <= 0 {
		timeout = DefaultStreamTimeout
	}
	ctx, cancelTimeout := context.WithTimeout(r.Context(), timeout)
	defer cancelTimeout()
	ctx, token := c.Fabric.Register(ctx, req.ThreadID)
	defer c.Fabric.Unregister(req.ThreadID)
	defer token.Cancel()

	traceID := chatrepo.NewID()
	actx := events.AgentContext{
		TraceID:        traceID,
		UserID:         req.UserID,
		ThreadID:       req.ThreadID,
		MessageHistory: history,
		Metadata:       map[string]interface{}{},
	}
	cfg := agents.Config{
		MaxTokens:         req.MaxTokens,
		Temperature:       req.Temperature,
		SystemPrompt:      req.SystemPrompt,
		ConversationStyle: req.ConversationStyle,
	}

	sse.Headers(w)
	w.WriteHeader(http.StatusOK)

	var stream <-chan events.Event
	if agent != nil {
		stream = agent.Run(ctx, actx, cfg)
	} else {
		stream = c.Orchestrator.Run(ctx, actx, cfg)
	}

	var reply strings.Builder
	for evt := range stream {
		if evt.Kind == events.KindData && evt.Data != nil {
			reply.WriteString(evt.Data.Chunk)
		}
		if err := encoder.Write(evt); err != nil {
			c.Logger.Warn("httpapi: write frame failed", zap.Error(err))
			return
		}
	}

	// A stream that ended in an error event still persists whatever
	// assistant text arrived before the error.
	c.persistTurn(req, history, reply.String(), traceID)
}

// persistTurn upserts the user's last message and the accumulated
// assistant reply. Persistence failures are logged and swallowed per
// spec §7: the client has already received the reply over the stream.
func (c *Controller) persistTurn(req streamRequest, history []events.ChatMessage, assistantReply, traceID string) {
	ctx := context.Background()
	if _, err := c.Repo.GetThread(ctx, req.ThreadID, true); err == chatrepo.ErrNotFound {
		if _, err := c.Repo.CreateThread(ctx, chatrepo.Thread{ID: req.ThreadID, UserID: req.UserID, TraceID: traceID}); err != nil {
			c.Logger.Warn("httpapi: create thread failed", zap.Error(err))
			return
		}
	} else if err != nil {
		c.Logger.Warn("httpapi: get thread failed", zap.Error(err))
		return
	}

	if userMsg, ok := convo.LastUserMessage(history); ok {
		if _, err := c.Repo.UpsertMessage(ctx, chatrepo.MessageEntity{
			ID: userMsg.ID, ThreadID: req.ThreadID, UserID: req.UserID, Role: string(userMsg.Role), Content: userMsg.Content, Metadata: userMsg.Metadata,
		}); err != nil {
			c.Logger.Warn("httpapi: persist user message failed", zap.Error(err))
		}
	}
	if assistantReply != "" {
		if _, err := c.Repo.UpsertMessage(ctx, chatrepo.MessageEntity{
			ID: chatrepo.NewID(), ThreadID: req.ThreadID, UserID: req.UserID, Role: string(events.RoleAssistant), Content: assistantReply,
		}); err != nil {
			c.Logger.Warn("httpapi: persist assistant message failed", zap.Error(err))
		}
	}
}

type stopRequest struct {
	ThreadID string `json:"thread_id"`
}

// StopChat handles POST /chat/stop.
func (c *Controller) StopChat(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ThreadID == "" {
		c.sendError(w, http.StatusBadRequest, "thread_id is required")
		return
	}
	existed := c.Fabric.RequestAbort(r.Context(), req.ThreadID)
	message := "no active stream for thread"
	if existed {
		message = "abort requested"
	}
	c.writeJSON(w, http.StatusOK, map[string]interface{}{"success": existed, "message": message})
}

// ListAgents handles GET /chat/agents.
func (c *Controller) ListAgents(w http.ResponseWriter, r *http.Request) {
	c.writeJSON(w, http.StatusOK, map[string]interface{}{"agents": c.Registry.List()})
}

// Status handles GET /chat/status.
func (c *Controller) Status(w http.ResponseWriter, r *http.Request) {
	c.writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_streams":      c.Fabric.ActiveCount(),
		"redis_enabled":       c.RedisEnabled,
		"redis_healthy":       c.Fabric.IsHealthy(r.Context()),
		"persistence_enabled": c.Repo != nil && c.Repo.IsHealthy(r.Context()),
	})
}
