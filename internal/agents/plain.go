package agents

import (
	"context"

	"github.com/turnforge/chatcore/internal/convo"
	"github.com/turnforge/chatcore/internal/events"
	"github.com/turnforge/chatcore/internal/llm"
)

// PlainAgent forwards the LLM's token stream verbatim, with no
// retrieval or planning step (spec §4.4).
type PlainAgent struct {
	Client llm.Client
}

func NewPlainAgent(client llm.Client) *PlainAgent {
	return &PlainAgent{Client: client}
}

func (a *PlainAgent) Name() string { return NamePlain }

func (a *PlainAgent) Run(ctx context.Context, actx events.AgentContext, cfg Config) <-chan events.Event {
	out := make(chan events.Event, 8)
	go func() {
		defer close(out)
		out <- events.Metadata(actx.TraceID, nil, "")
		out <- events.AgentUpdated(a.Name(), events.ContentFinalAnswer, "answering")

		history := convo.PrepareForLLM(actx.MessageHistory, convo.PrepareConfig{})
		messages := toLLMMessages(history)

		stream := a.Client.Stream(ctx, messages, llm.Options{
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
			SystemPrompt: cfg.SystemPrompt,
			TimeoutMs:    llm.DefaultStreamingTimeoutMs,
		})
		for tok := range stream {
			if tok.Err != nil {
				out <- events.Error(events.CodeAgentError, tok.Err.Error())
				return
			}
			if tok.Content != "" {
				out <- events.Data(tok.Content)
			}
			if tok.Done {
				break
			}
		}
		out <- events.Done("")
	}()
	return out
}

// toLLMMessages adapts the agent-context history into the shape the
// llm façade expects.
func toLLMMessages(history []events.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
