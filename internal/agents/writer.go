package agents

import (
	"context"
	"strings"

	"github.com/turnforge/chatcore/internal/convo"
	"github.com/turnforge/chatcore/internal/events"
	"github.com/turnforge/chatcore/internal/llm"
)

const maxWriterCitations = 5

// WriterAgent streams the final answer, grounded in whatever plan and
// findings earlier stages left in AgentContext.Metadata (spec §4.4).
type WriterAgent struct {
	Client llm.Client
}

func NewWriterAgent(client llm.Client) *WriterAgent {
	return &WriterAgent{Client: client}
}

func (a *WriterAgent) Name() string { return NameWriter }

func (a *WriterAgent) Run(ctx context.Context, actx events.AgentContext, cfg Config) <-chan events.Event {
	out := make(chan events.Event, 8)
	go func() {
		defer close(out)
		out <- events.Metadata(actx.TraceID, nil, "")
		out <- events.AgentUpdated(a.Name(), events.ContentFinalAnswer, "writing")

		systemPrompt := cfg.SystemPrompt
		plan, hasPlan := actx.Metadata[MetaExecutionPlan].(ExecutionPlan)
		findings, hasFindings := actx.Metadata[MetaRankedFindings].(RankedFindings)

		var sb strings.Builder
		if hasPlan && plan.Reasoning != "" {
			sb.WriteString("Planning notes: " + plan.Reasoning + "\n")
		}
		if hasFindings && findings.Context != "" {
			sb.WriteString("Synthesized research context:\n" + findings.Context)
		}
		if sb.Len() > 0 {
			systemPrompt = strings.TrimSpace(systemPrompt + "\n\n" + sb.String())
		}

		if hasFindings && len(findings.Citations) > 0 {
			citations := findings.Citations
			if len(citations) > maxWriterCitations {
				citations = citations[:maxWriterCitations]
			}
			out <- events.Metadata(actx.TraceID, citations, "")
		}

		history := convo.PrepareForLLM(actx.MessageHistory, convo.PrepareConfig{})
		stream := a.Client.Stream(ctx, toLLMMessages(history), llm.Options{
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
			SystemPrompt: systemPrompt,
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
