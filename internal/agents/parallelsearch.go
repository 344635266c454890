package agents

import (
	"context"
	"fmt"
	"sync"

	"github.com/turnforge/chatcore/internal/events"
)

// defaultRelevanceNormalizer matches spec §4.4's avg_score/10 formula.
// Exposed as a field rather than a hardcoded constant so a deployment
// whose search collaborator scores on a different scale can retune it.
const defaultRelevanceNormalizer = 10.0

// SubQueryResult is the per-sub-query outcome of a parallel search.
type SubQueryResult struct {
	SubQuery  SubQuery
	Documents []Document
	Err       error
	Relevance float64
}

// ParallelSearchResults is ParallelSearchAgent's output, threaded to
// ResultRankerAgent via AgentContext.Metadata.
type ParallelSearchResults struct {
	Results             []SubQueryResult
	AggregatedDocuments []Document
	BestSubQueryID      string
	TotalDocuments      int
}

// Metadata keys the orchestrator uses to thread planner/search output
// through to downstream agents without widening the Agent interface.
const (
	MetaExecutionPlan         = "execution_plan"
	MetaParallelSearchResults = "parallel_search_results"
	MetaRankedFindings        = "ranked_findings"
)

// ParallelSearchAgent fans a plan's sub-queries out to the search
// collaborator concurrently (spec §4.4, "wait-all-settled").
type ParallelSearchAgent struct {
	Search              SearchClient
	RelevanceNormalizer float64

	mu        sync.Mutex
	handoff   Handoff
	hasRun    bool
	lastResults ParallelSearchResults
}

func NewParallelSearchAgent(search SearchClient) *ParallelSearchAgent {
	return &ParallelSearchAgent{Search: search, RelevanceNormalizer: defaultRelevanceNormalizer}
}

func (a *ParallelSearchAgent) Name() string { return NameParallelSearch }

func (a *ParallelSearchAgent) Run(ctx context.Context, actx events.AgentContext, cfg Config) <-chan events.Event {
	out := make(chan events.Event, 4)
	go func() {
		defer close(out)
		out <- events.Metadata(actx.TraceID, nil, "")
		out <- events.AgentUpdated(a.Name(), events.ContentThoughts, "searching in parallel")

		plan, _ := actx.Metadata[MetaExecutionPlan].(ExecutionPlan)
		if len(plan.SubQueries) == 0 {
			out <- events.Done("")
			a.recordHandoff(ParallelSearchResults{})
			return
		}

		results := a.searchAll(ctx, plan.SubQueries)
		if ctx.Err() != nil {
			return
		}

		aggregated := aggregateResults(results)
		out <- events.Data(fmt.Sprintf("Parallel search across %d sub-quer%s returned %d document(s).",
			len(plan.SubQueries), pluralY(len(plan.SubQueries)), aggregated.TotalDocuments))

		a.recordHandoff(aggregated)
		out <- events.Done("")
	}()
	return out
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func (a *ParallelSearchAgent) searchAll(ctx context.Context, subQueries []SubQuery) []SubQueryResult {
	normalizer := a.RelevanceNormalizer
	if normalizer <= 0 {
		normalizer = defaultRelevanceNormalizer
	}

	results := make([]SubQueryResult, len(subQueries))
	var wg sync.WaitGroup
	for i, sq := range subQueries {
		wg.Add(1)
		go func(i int, sq SubQuery) {
			defer wg.Done()
			if a.Search == nil {
				results[i] = SubQueryResult{SubQuery: sq, Err: fmt.Errorf("agents: no search collaborator configured")}
				return
			}
			docs, err := a.Search.Search(ctx, sq.Query, SearchOptions{MaxResults: 5})
			if err != nil {
				results[i] = SubQueryResult{SubQuery: sq, Err: err}
				return
			}
			results[i] = SubQueryResult{SubQuery: sq, Documents: docs, Relevance: relevanceOf(docs, normalizer)}
		}(i, sq)
	}
	wg.Wait()
	return results
}

func relevanceOf(docs []Document, normalizer float64) float64 {
	if len(docs) == 0 {
		return 0
	}
	var sum float64
	for _, d := range docs {
		sum += d.Score
	}
	avg := sum / float64(len(docs))
	rel := avg / normalizer
	if rel < 0 {
		return 0
	}
	if rel > 1 {
		return 1
	}
	return rel
}

func aggregateResults(results []SubQueryResult) ParallelSearchResults {
	seen := make(map[string]bool)
	var aggregated []Document
	bestID := ""
	bestRelevance := -1.0

	for _, r := range results {
		for _, d := range r.Documents {
			if seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			aggregated = append(aggregated, d)
		}
		if len(r.Documents) > 0 && r.Relevance > bestRelevance {
			bestRelevance = r.Relevance
			bestID = r.SubQuery.ID
		}
	}

	return ParallelSearchResults{
		Results:             results,
		AggregatedDocuments: aggregated,
		BestSubQueryID:      bestID,
		TotalDocuments:      len(aggregated),
	}
}

func (a *ParallelSearchAgent) recordHandoff(results ParallelSearchResults) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hasRun = true
	a.lastResults = results
	if results.TotalDocuments > 0 {
		a.handoff = Handoff{Target: NameResultRanker, Reason: "at least one document was retrieved"}
	} else {
		a.handoff = Handoff{Target: NameWriter, Reason: "no documents were retrieved by any sub-query"}
	}
}

// LastHandoff returns the target chosen from the most recent Run call.
func (a *ParallelSearchAgent) LastHandoff() (Handoff, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handoff, a.hasRun
}

// LastResults returns the ParallelSearchResults produced by the most
// recent Run call, for the orchestrator to thread to ResultRankerAgent.
func (a *ParallelSearchAgent) LastResults() (ParallelSearchResults, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastResults, a.hasRun
}
