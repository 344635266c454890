package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/turnforge/chatcore/internal/events"
	"github.com/turnforge/chatcore/internal/llm"
)

const maxSelectedResults = 3
const selectionScoreFloor = 0.3

// RankedFindings is ResultRankerAgent's output, threaded to WriterAgent
// via AgentContext.Metadata.
type RankedFindings struct {
	Context    string
	Citations  []events.Citation
	Confidence float64
	Reasoning  string
}

// ResultRankerAgent scores ParallelSearchResults and synthesizes the
// context WriterAgent needs (spec §4.4).
type ResultRankerAgent struct {
	Client llm.Client

	mu           sync.Mutex
	lastFindings RankedFindings
	hasRun       bool
}

func NewResultRankerAgent(client llm.Client) *ResultRankerAgent {
	return &ResultRankerAgent{Client: client}
}

func (a *ResultRankerAgent) Name() string { return NameResultRanker }

type rankingResponse struct {
	Selected   []string `json:"selected"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

func (a *ResultRankerAgent) Run(ctx context.Context, actx events.AgentContext, cfg Config) <-chan events.Event {
	out := make(chan events.Event, 4)
	go func() {
		defer close(out)
		out <- events.Metadata(actx.TraceID, nil, "")
		out <- events.AgentUpdated(a.Name(), events.ContentThoughts, "ranking results")

		search, _ := actx.Metadata[MetaParallelSearchResults].(ParallelSearchResults)
		scored := scoreResults(search.Results)

		var selectedIDs []string
		var confidence float64
		var reasoning string

		if a.Client != nil && len(search.Results) > 1 {
			ids, conf, why, err := a.rankWithLLM(ctx, search.Results)
			if err != nil && ctx.Err() != nil {
				return
			}
			if err == nil {
				selectedIDs, confidence, reasoning = ids, conf, why
			}
		}
		if len(selectedIDs) == 0 {
			selectedIDs, confidence = selectByHeuristic(scored)
			reasoning = "heuristic scoring: relevance, document count, and search success"
		}

		findings := buildFindings(search.Results, selectedIDs, confidence, reasoning)

		out <- events.Data(fmt.Sprintf("Selected %d result set(s) with confidence %.2f.", len(selectedIDs), findings.Confidence))
		if len(findings.Citations) > 0 {
			out <- events.Metadata(actx.TraceID, findings.Citations, "")
		}

		a.mu.Lock()
		a.lastFindings = findings
		a.hasRun = true
		a.mu.Unlock()

		out <- events.Done("")
	}()
	return out
}

// LastFindings returns the RankedFindings produced by the most recent
// Run call, for the orchestrator to thread to WriterAgent.
func (a *ResultRankerAgent) LastFindings() (RankedFindings, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastFindings, a.hasRun
}

type scoredResult struct {
	result SubQueryResult
	score  float64
}

func scoreResults(results []SubQueryResult) []scoredResult {
	scored := make([]scoredResult, len(results))
	for i, r := range results {
		docsTerm := float64(len(r.Documents)) / 5.0
		if docsTerm > 1 {
			docsTerm = 1
		}
		errTerm := 0.0
		if r.Err == nil {
			errTerm = 0.2
		}
		scored[i] = scoredResult{result: r, score: 0.5*r.Relevance + 0.3*docsTerm + errTerm}
	}
	return scored
}

func selectByHeuristic(scored []scoredResult) ([]string, float64) {
	ordered := append([]scoredResult(nil), scored...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].score > ordered[j].score })

	var selected []scoredResult
	for _, s := range ordered {
		if s.score >= selectionScoreFloor && len(selected) < maxSelectedResults {
			selected = append(selected, s)
		}
	}
	if len(selected) == 0 {
		for _, s := range ordered {
			if len(s.result.Documents) > 0 {
				selected = append(selected, s)
				break
			}
		}
	}

	ids := make([]string, 0, len(selected))
	var sum float64
	for _, s := range selected {
		ids = append(ids, s.result.SubQuery.ID)
		sum += s.score
	}
	if len(selected) == 0 {
		return ids, 0
	}
	confidence := sum/float64(len(selected)) + minFloat(0.1*float64(len(selected)), 0.2)
	if confidence > 1 {
		confidence = 1
	}
	return ids, confidence
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func (a *ResultRankerAgent) rankWithLLM(ctx context.Context, results []SubQueryResult) ([]string, float64, string, error) {
	var sb strings.Builder
	sb.WriteString("Select up to three of the following sub-query results by id, ranking by relevance to the user's goal:\n")
	for _, r := range results {
		sb.WriteString(fmt.Sprintf("- %s (%q): %d document(s), relevance %.2f\n", r.SubQuery.ID, r.SubQuery.Query, len(r.Documents), r.Relevance))
	}

	text, err := a.Client.Complete(ctx, []llm.Message{{Role: "user", Content: sb.String()}}, llm.Options{
		JSONMode:  true,
		TimeoutMs: llm.DefaultRankerTimeoutMs,
	})
	if err != nil {
		return nil, 0, "", err
	}

	var resp rankingResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, 0, "", err
	}
	return resp.Selected, resp.Confidence, resp.Reasoning, nil
}

func buildFindings(results []SubQueryResult, selectedIDs []string, confidence float64, reasoning string) RankedFindings {
	byID := make(map[string]SubQueryResult, len(results))
	for _, r := range results {
		byID[r.SubQuery.ID] = r
	}

	var sb strings.Builder
	var citations []events.Citation
	for _, id := range selectedIDs {
		r, ok := byID[id]
		if !ok {
			continue
		}
		sb.WriteString(fmt.Sprintf("[%s] %s\n", r.SubQuery.ID, r.SubQuery.Query))
		for _, d := range r.Documents {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", d.Title, snippet(d.Content, 500)))
			citations = append(citations, events.Citation{Title: d.Title, Source: d.Source, URL: d.URL, Snippet: snippet(d.Content, 200)})
		}
	}

	return RankedFindings{
		Context:    sb.String(),
		Citations:  citations,
		Confidence: confidence,
		Reasoning:  reasoning,
	}
}
