package orchestrator

import (
	"context"
	"testing"

	"github.com/turnforge/chatcore/internal/agents"
	"github.com/turnforge/chatcore/internal/events"
	"github.com/turnforge/chatcore/internal/llm"
)

func newTestRegistry(client llm.Client, search agents.SearchClient) *agents.Registry {
	reg := agents.NewRegistry()
	reg.Register(agents.NamePlanner, agents.NewPlannerAgent(client))
	reg.Register(agents.NameParallelSearch, agents.NewParallelSearchAgent(search))
	reg.Register(agents.NameResultRanker, agents.NewResultRankerAgent(client))
	reg.Register(agents.NameRAG, agents.NewRAGAgent(client, search))
	reg.Register(agents.NameResearcher, agents.NewResearcherAgent(client, search))
	reg.Register(agents.NameWriter, agents.NewWriterAgent(client))
	reg.Register(agents.NamePlain, agents.NewPlainAgent(client))
	return reg
}

func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestOrchestrator_SimpleQueryEndsAtWriter(t *testing.T) {
	reg := newTestRegistry(llm.NewMockClient(0), agents.NewMockSearchClient())
	orch := New(reg)

	actx := events.AgentContext{
		TraceID:        "trace-1",
		MessageHistory: []events.ChatMessage{{ID: "m1", Role: events.RoleUser, Content: "what is 2+2"}},
	}

	evs := drain(orch.Run(context.Background(), actx, agents.Config{}))
	assertSingleTerminal(t, evs)

	var sawWriter bool
	for _, e := range evs {
		if e.Kind == events.KindAgentUpdated && e.Agent.AgentName == agents.NameWriter {
			sawWriter = true
		}
	}
	if !sawWriter {
		t.Errorf("expected WriterAgent to run in the simple flow")
	}
}

func TestOrchestrator_ComplexQueryRunsFullChain(t *testing.T) {
	reg := newTestRegistry(llm.NewMockClient(0), agents.NewMockSearchClient())
	orch := New(reg)

	actx := events.AgentContext{
		TraceID: "trace-2",
		MessageHistory: []events.ChatMessage{
			{ID: "m1", Role: events.RoleUser, Content: "please compare these two complex multi-part proposals"},
		},
	}

	evs := drain(orch.Run(context.Background(), actx, agents.Config{}))
	assertSingleTerminal(t, evs)

	order := agentOrder(evs)
	wantSeen := []string{agents.NameParallelSearch, agents.NameResultRanker, agents.NameWriter}
	for _, name := range wantSeen {
		if !contains(order, name) {
			t.Errorf("expected %s to run, saw order %v", name, order)
		}
	}
}

func TestOrchestrator_UnknownHandoffTargetEndsInError(t *testing.T) {
	reg := agents.NewRegistry()
	reg.Register(agents.NamePlanner, agents.NewPlannerAgent(llm.NewMockClient(0)))
	// Deliberately omit every downstream agent so the handoff fails.
	orch := New(reg)

	actx := events.AgentContext{
		MessageHistory: []events.ChatMessage{{ID: "m1", Role: events.RoleUser, Content: "anything"}},
	}
	evs := drain(orch.Run(context.Background(), actx, agents.Config{}))

	last := evs[len(evs)-1]
	if last.Kind != events.KindError {
		t.Fatalf("expected terminal error when a handoff target is unregistered, got %+v", last)
	}
}

func assertSingleTerminal(t *testing.T, evs []events.Event) {
	t.Helper()
	if len(evs) == 0 {
		t.Fatalf("expected events")
	}
	if evs[0].Kind != events.KindMetadata {
		t.Fatalf("expected first event to be metadata, got %q", evs[0].Kind)
	}
	var terminals int
	for _, e := range evs {
		if e.Kind == events.KindDone || e.Kind == events.KindError {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal event, got %d in %+v", terminals, evs)
	}
	last := evs[len(evs)-1]
	if last.Kind != events.KindDone && last.Kind != events.KindError {
		t.Fatalf("expected stream to end with done or error, got %q", last.Kind)
	}
}

func agentOrder(evs []events.Event) []string {
	var order []string
	for _, e := range evs {
		if e.Kind == events.KindAgentUpdated {
			if len(order) == 0 || order[len(order)-1] != e.Agent.AgentName {
				order = append(order, e.Agent.AgentName)
			}
		}
	}
	return order
}

func contains(xs []string, target string) bool {
	for _, x := range xs {
		if x == target {
			return true
		}
	}
	return false
}
