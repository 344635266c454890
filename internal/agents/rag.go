package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/turnforge/chatcore/internal/convo"
	"github.com/turnforge/chatcore/internal/events"
	"github.com/turnforge/chatcore/internal/llm"
)

const defaultRAGMaxDocuments = 5

// RAGAgent grounds its answer in documents retrieved from an external
// search collaborator before streaming a final response (spec §4.4).
type RAGAgent struct {
	Client       llm.Client
	Search       SearchClient // nil means "not configured"
	MaxDocuments int

	// AgentName lets ResearcherAgent reuse this pipeline under its own
	// registered name instead of always reporting "RAGAgent".
	AgentName string
}

func NewRAGAgent(client llm.Client, search SearchClient) *RAGAgent {
	return &RAGAgent{Client: client, Search: search, MaxDocuments: defaultRAGMaxDocuments, AgentName: NameRAG}
}

func (a *RAGAgent) Name() string {
	if a.AgentName != "" {
		return a.AgentName
	}
	return NameRAG
}

func (a *RAGAgent) Run(ctx context.Context, actx events.AgentContext, cfg Config) <-chan events.Event {
	out := make(chan events.Event, 8)
	go func() {
		defer close(out)
		out <- events.Metadata(actx.TraceID, nil, "")
		out <- events.AgentUpdated(a.Name(), events.ContentThoughts, "searching")

		query, _ := convo.LastUserMessage(actx.MessageHistory)

		var docs []Document
		var citations []events.Citation
		if a.Search == nil {
			out <- events.Data("No search collaborator configured; answering from conversation history alone.")
		} else {
			max := a.MaxDocuments
			if max <= 0 {
				max = defaultRAGMaxDocuments
			}
			found, err := a.Search.Search(ctx, query.Content, SearchOptions{MaxResults: max})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				out <- events.Data(fmt.Sprintf("Search failed (%s); answering without retrieval.", err.Error()))
			} else {
				docs = found
				out <- events.Data(fmt.Sprintf("Found %d relevant document(s).", len(docs)))
				for _, d := range docs {
					citations = append(citations, events.Citation{
						Title:   d.Title,
						Source:  d.Source,
						Snippet: snippet(d.Content, 200),
						URL:     d.URL,
					})
				}
			}
		}

		if len(citations) > 0 {
			out <- events.Metadata(actx.TraceID, citations, "")
		}
		out <- events.AgentUpdated(a.Name(), events.ContentFinalAnswer, "generating")

		systemPrompt := cfg.SystemPrompt
		if len(docs) > 0 {
			systemPrompt = strings.TrimSpace(systemPrompt + "\n\n" + retrievalContext(docs))
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

func retrievalContext(docs []Document) string {
	var sb strings.Builder
	sb.WriteString("Use the following retrieved documents to ground your answer:\n")
	for _, d := range docs {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", d.Title, snippet(d.Content, 500)))
	}
	return sb.String()
}

func snippet(content string, max int) string {
	content = strings.TrimSpace(content)
	if len(content) <= max {
		return content
	}
	return content[:max]
}
