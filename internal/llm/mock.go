package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MockClient is a deterministic, content-sniffing façade used by tests,
// local development, and whenever LLM_MOCK_MODE=true. It recognizes the
// planner/ranker JSON-mode prompts used elsewhere in this module (by
// looking for the same cue words those callers put in their prompts) and
// returns JSON shaped the way those callers expect, so the orchestrator
// can be exercised end-to-end without a live provider.
type MockClient struct {
	// DelayPerToken paces streaming output; zero means no delay.
	DelayPerToken time.Duration
}

func NewMockClient(delayPerToken time.Duration) *MockClient {
	return &MockClient{DelayPerToken: delayPerToken}
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].Content
	}
	return ""
}

func (m *MockClient) Stream(ctx context.Context, messages []Message, opts Options) <-chan Token {
	out := make(chan Token, 8)
	go func() {
		defer close(out)
		ctx, cancel := withTimeout(ctx, opts)
		defer cancel()

		text := m.reply(messages, opts)
		words := strings.Fields(text)
		for i, w := range words {
			chunk := w
			if i < len(words)-1 {
				chunk += " "
			}
			select {
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					out <- Token{Err: ErrTimeout, Done: true}
				}
				return
			case out <- Token{Content: chunk}:
			}
			if m.DelayPerToken > 0 {
				select {
				case <-ctx.Done():
					if ctx.Err() == context.DeadlineExceeded {
						out <- Token{Err: ErrTimeout, Done: true}
					}
					return
				case <-time.After(m.DelayPerToken):
				}
			}
		}
		out <- Token{Done: true}
	}()
	return out
}

func (m *MockClient) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	ctx, cancel := withTimeout(ctx, opts)
	defer cancel()
	select {
	case <-ctx.Done():
		return "", ErrTimeout
	default:
	}
	return m.reply(messages, opts), nil
}

// reply produces the mock's deterministic content. When JSONMode is set
// it recognizes planner/ranker cues; otherwise it echoes a short
// synthetic answer built from the last user message.
func (m *MockClient) reply(messages []Message, opts Options) string {
	content := lastUserContent(messages)
	lc := strings.ToLower(content)

	if opts.JSONMode {
		switch {
		case strings.Contains(lc, "rank") || strings.Contains(lc, "select the best"):
			return mockRankingJSON(lc)
		default:
			return mockPlanJSON(content, lc)
		}
	}

	return fmt.Sprintf("Mock response to: %s", content)
}

func mockPlanJSON(original, lc string) string {
	complex := strings.Contains(lc, "complex") || strings.Contains(lc, "compare") || strings.Contains(lc, "multi-part") || strings.Contains(lc, "multi part")
	if !complex {
		return fmt.Sprintf(`{
  "original_query": %q,
  "query_type": "simple",
  "sub_queries": [{"id":"sq-1","query":%q,"intent":"factual","priority":1,"search_strategy":"semantic"}],
  "requires_research": false,
  "requires_rag": true,
  "parallel_execution": false,
  "reasoning": "mock: treated as a simple single-part question"
}`, original, original)
	}
	return fmt.Sprintf(`{
  "original_query": %q,
  "query_type": "complex",
  "sub_queries": [
    {"id":"sq-1","query":%q,"intent":"comparative","priority":1,"search_strategy":"hybrid"},
    {"id":"sq-2","query":"related aspect of: %s","intent":"exploratory","priority":2,"search_strategy":"semantic"}
  ],
  "requires_research": true,
  "requires_rag": true,
  "parallel_execution": true,
  "reasoning": "mock: detected comparison/multi-part cues"
}`, original, original, original)
}

func mockRankingJSON(lc string) string {
	return `{"selected":["sq-1"],"confidence":0.82,"reasoning":"mock ranking favors the first sub-query"}`
}
