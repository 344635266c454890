package agents

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/turnforge/chatcore/internal/convo"
	"github.com/turnforge/chatcore/internal/events"
	"github.com/turnforge/chatcore/internal/llm"
)

// PlannerAgent decomposes the user's request into an ExecutionPlan and
// declares where the orchestrator should hand off next (spec §4.4).
type PlannerAgent struct {
	Client llm.Client

	mu       sync.Mutex
	lastPlan ExecutionPlan
	handoff  Handoff
	hasPlan  bool
}

func NewPlannerAgent(client llm.Client) *PlannerAgent {
	return &PlannerAgent{Client: client}
}

func (a *PlannerAgent) Name() string { return NamePlanner }

const plannerSystemPrompt = `You are a planning agent. Decide whether the user's request is simple or
complex, optionally decompose it into up to five independently searchable sub-queries, and decide
whether research and/or retrieval-augmented generation is required. Respond with a single JSON object
matching the ExecutionPlan schema: original_query, query_type, sub_queries, requires_research,
requires_rag, parallel_execution, reasoning.`

func (a *PlannerAgent) Run(ctx context.Context, actx events.AgentContext, cfg Config) <-chan events.Event {
	out := make(chan events.Event, 4)
	go func() {
		defer close(out)
		out <- events.Metadata(actx.TraceID, nil, "")
		out <- events.AgentUpdated(a.Name(), events.ContentThoughts, "planning")

		userMsg, _ := convo.LastUserMessage(actx.MessageHistory)

		text, err := a.Client.Complete(ctx, []llm.Message{{Role: "user", Content: userMsg.Content}}, llm.Options{
			SystemPrompt: plannerSystemPrompt,
			JSONMode:     true,
			TimeoutMs:    llm.DefaultPlannerTimeoutMs,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			out <- events.Error(events.CodeAgentError, err.Error())
			return
		}

		plan, ok := parseExecutionPlan(text, userMsg.Content)
		if !ok {
			out <- events.Data("Planner response was not valid JSON; falling back to a single-query plan.")
		}

		a.mu.Lock()
		a.lastPlan = plan
		a.hasPlan = true
		a.handoff = resolveHandoffTarget(plan)
		a.mu.Unlock()

		out <- events.Done("")
	}()
	return out
}

// LastHandoff returns the target chosen from the most recent Run call.
func (a *PlannerAgent) LastHandoff() (Handoff, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handoff, a.hasPlan
}

// LastPlan returns the ExecutionPlan produced by the most recent Run call.
func (a *PlannerAgent) LastPlan() (ExecutionPlan, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastPlan, a.hasPlan
}

func parseExecutionPlan(text, fallbackQuery string) (ExecutionPlan, bool) {
	var plan ExecutionPlan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		return singleSubQueryPlan(fallbackQuery), false
	}
	if plan.OriginalQuery == "" {
		plan.OriginalQuery = fallbackQuery
	}
	if len(plan.SubQueries) == 0 {
		plan.SubQueries = []SubQuery{{ID: "sq-1", Query: fallbackQuery, Intent: "factual", Priority: 1, SearchStrategy: "semantic"}}
	}
	return clampSubQueries(plan), true
}

func singleSubQueryPlan(query string) ExecutionPlan {
	return ExecutionPlan{
		OriginalQuery: query,
		QueryType:     "simple",
		SubQueries:    []SubQuery{{ID: "sq-1", Query: query, Intent: "factual", Priority: 1, SearchStrategy: "semantic"}},
		RequiresRAG:   true,
		Reasoning:     "fallback: planner output was malformed",
	}
}

func resolveHandoffTarget(plan ExecutionPlan) Handoff {
	switch {
	case plan.ParallelExecution && len(plan.SubQueries) > 1:
		return Handoff{Target: NameParallelSearch, Reason: "plan requests parallel execution over multiple sub-queries"}
	case plan.RequiresResearch:
		return Handoff{Target: NameResearcher, Reason: "plan requires research"}
	case plan.RequiresRAG:
		return Handoff{Target: NameRAG, Reason: "plan requires retrieval-augmented generation"}
	default:
		return Handoff{Target: NameWriter, Reason: "plan requires neither research nor retrieval"}
	}
}
