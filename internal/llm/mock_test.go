package llm

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func drainStream(ch <-chan Token) ([]Token, string) {
	var toks []Token
	var sb strings.Builder
	for tok := range ch {
		toks = append(toks, tok)
		sb.WriteString(tok.Content)
	}
	return toks, sb.String()
}

func TestMockClient_StreamEndsWithDone(t *testing.T) {
	c := NewMockClient(0)
	toks, text := drainStream(c.Stream(context.Background(), []Message{{Role: "user", Content: "hello there"}}, Options{}))

	if len(toks) == 0 {
		t.Fatalf("expected at least one token")
	}
	last := toks[len(toks)-1]
	if !last.Done {
		t.Fatalf("expected last token to be Done, got %+v", last)
	}
	if !strings.Contains(text, "hello there") {
		t.Errorf("expected reply to echo the prompt, got %q", text)
	}
}

func TestMockClient_StreamRespectsTimeout(t *testing.T) {
	c := NewMockClient(50 * time.Millisecond)
	toks, _ := drainStream(c.Stream(context.Background(), []Message{{Role: "user", Content: "slow"}}, Options{TimeoutMs: 10}))

	found := false
	for _, tok := range toks {
		if tok.Err == ErrTimeout {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a timeout token, got %+v", toks)
	}
}

func TestMockClient_Complete(t *testing.T) {
	c := NewMockClient(0)
	text, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "ping"}}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "ping") {
		t.Errorf("expected reply to contain prompt, got %q", text)
	}
}

func TestMockClient_JSONModePlanSimple(t *testing.T) {
	c := NewMockClient(0)
	text, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "what is the capital of france"}}, Options{JSONMode: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var plan struct {
		QueryType         string `json:"query_type"`
		RequiresResearch  bool   `json:"requires_research"`
		ParallelExecution bool   `json:"parallel_execution"`
		SubQueries        []struct {
			ID string `json:"id"`
		} `json:"sub_queries"`
	}
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		t.Fatalf("expected valid JSON plan, got %q: %v", text, err)
	}
	if plan.QueryType != "simple" {
		t.Errorf("expected simple query_type, got %q", plan.QueryType)
	}
	if len(plan.SubQueries) != 1 {
		t.Errorf("expected exactly one sub-query, got %d", len(plan.SubQueries))
	}
}

func TestMockClient_JSONModePlanComplex(t *testing.T) {
	c := NewMockClient(0)
	text, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "compare these two complex multi-part proposals"}}, Options{JSONMode: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var plan struct {
		QueryType         string `json:"query_type"`
		RequiresResearch  bool   `json:"requires_research"`
		RequiresRAG       bool   `json:"requires_rag"`
		ParallelExecution bool   `json:"parallel_execution"`
		SubQueries        []struct {
			ID string `json:"id"`
		} `json:"sub_queries"`
	}
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		t.Fatalf("expected valid JSON plan, got %q: %v", text, err)
	}
	if plan.QueryType != "complex" {
		t.Errorf("expected complex query_type, got %q", plan.QueryType)
	}
	if !plan.ParallelExecution || !plan.RequiresResearch || !plan.RequiresRAG {
		t.Errorf("expected complex plan to require research+rag and run in parallel, got %+v", plan)
	}
	if len(plan.SubQueries) < 2 {
		t.Errorf("expected at least two sub-queries, got %d", len(plan.SubQueries))
	}
}

func TestMockClient_JSONModeRanking(t *testing.T) {
	c := NewMockClient(0)
	text, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "rank and select the best sub-query"}}, Options{JSONMode: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var ranked struct {
		Selected   []string `json:"selected"`
		Confidence float64  `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &ranked); err != nil {
		t.Fatalf("expected valid JSON ranking, got %q: %v", text, err)
	}
	if len(ranked.Selected) == 0 {
		t.Errorf("expected at least one selected id")
	}
}
