package agents

import (
	"context"
	"fmt"
	"strings"
)

// Document is the unit the search collaborator returns (spec §4.4 /
// §9 glossary "Search as an external collaborator").
type Document struct {
	ID      string
	Title   string
	Content string
	Source  string
	URL     string
	Score   float64
}

// SearchOptions bounds a single search call.
type SearchOptions struct {
	MaxResults int
}

// SearchClient is the narrow interface RAGAgent and ParallelSearchAgent
// depend on. Production wiring is out of scope for this core; only a
// deterministic mock ships here.
type SearchClient interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]Document, error)
}

// MockSearchClient returns deterministic documents derived from the
// query text, so orchestrator tests are reproducible without a live
// search backend.
type MockSearchClient struct{}

func NewMockSearchClient() *MockSearchClient { return &MockSearchClient{} }

func (m *MockSearchClient) Search(ctx context.Context, query string, opts SearchOptions) ([]Document, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	n := opts.MaxResults
	if n <= 0 {
		n = 5
	}
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, nil
	}

	docs := make([]Document, 0, n)
	for i := 1; i <= n; i++ {
		docs = append(docs, Document{
			ID:      fmt.Sprintf("doc-%s-%d", hashQuery(trimmed), i),
			Title:   fmt.Sprintf("Result %d for %q", i, trimmed),
			Content: fmt.Sprintf("Mock content discussing %q from source %d. ", trimmed, i) + strings.Repeat("Relevant background detail. ", 3),
			Source:  fmt.Sprintf("mock-corpus-%d", i),
			URL:     fmt.Sprintf("https://mock.internal/doc/%d", i),
			Score:   10.0 / float64(i),
		})
	}
	return docs, nil
}

// hashQuery derives a short, stable, filesystem-safe token from a
// query so repeated mock searches for the same text reuse the same
// document ids (relevant to ParallelSearchAgent's union-by-id logic).
func hashQuery(s string) string {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return fmt.Sprintf("%x", h%0xffff)
}
