// Package orchestrator chains agents by handoff, choosing a downstream
// flow based on the planner's output (spec §4.5).
package orchestrator

import (
	"context"
	"fmt"

	"github.com/turnforge/chatcore/internal/agents"
	"github.com/turnforge/chatcore/internal/events"
)

// DefaultMaxIterations bounds handoff cycles (spec §4.5).
const DefaultMaxIterations = 6

// Orchestrator runs the "multi-agent" entry point: planner, then a
// plan-dependent chain of agents, each re-emitting its non-metadata,
// non-done events, ending in a single terminal done.
type Orchestrator struct {
	Registry      *agents.Registry
	MaxIterations int
}

func New(registry *agents.Registry) *Orchestrator {
	return &Orchestrator{Registry: registry, MaxIterations: DefaultMaxIterations}
}

// Run drives the primary multi-agent flow described in spec §4.5.
func (o *Orchestrator) Run(ctx context.Context, actx events.AgentContext, cfg agents.Config) <-chan events.Event {
	out := make(chan events.Event, 16)
	go func() {
		defer close(out)
		out <- events.Metadata(actx.TraceID, nil, "")

		maxIter := o.MaxIterations
		if maxIter <= 0 {
			maxIter = DefaultMaxIterations
		}

		planner, err := o.Registry.Get(agents.NamePlanner)
		if err != nil {
			out <- events.Error(events.CodeAgentError, "planner agent not registered")
			return
		}

		if !o.forward(ctx, out, planner, actx, cfg) {
			return
		}
		if ctx.Err() != nil {
			return
		}

		planHandoff, hasHandoff := lastHandoff(planner)
		plan, hasPlan := lastPlan(planner)
		if hasPlan {
			actx = withMetadata(actx, agents.MetaExecutionPlan, plan)
		}

		if !hasHandoff {
			out <- events.Error(events.CodeAgentError, "planner produced no handoff decision")
			return
		}

		if !o.runChain(ctx, out, planHandoff, actx, cfg, maxIter) {
			return
		}

		out <- events.Done("")
	}()
	return out
}

// runChain follows handoff targets starting from first, bounded by
// maxIter, forwarding each inner agent's events. Returns false if the
// stream already terminated (error emitted, or cancellation observed)
// and the caller must not emit a further event.
func (o *Orchestrator) runChain(ctx context.Context, out chan<- events.Event, first agents.Handoff, actx events.AgentContext, cfg agents.Config, maxIter int) bool {
	target := first.Target
	for i := 0; i < maxIter; i++ {
		if target == "" {
			out <- events.Error(events.CodeAgentError, "empty handoff target")
			return false
		}

		agent, err := o.Registry.Get(target)
		if err != nil {
			out <- events.Error(events.CodeAgentError, fmt.Sprintf("unknown handoff target %q", target))
			return false
		}

		out <- events.Data(fmt.Sprintf("-- handing off to %s --", target))

		if !o.forward(ctx, out, agent, actx, cfg) {
			return false
		}
		if ctx.Err() != nil {
			return false
		}

		if target == agents.NameWriter {
			return true
		}

		next, hasNext := lastHandoff(agent)
		actx = threadFindings(actx, agent)
		if !hasNext {
			// Agents without handoff semantics (RAG/Researcher/ResultRanker)
			// always continue to the writer.
			target = agents.NameWriter
			continue
		}
		target = next.Target
	}

	out <- events.Data("-- maximum handoff iterations reached --")
	return true
}

// forward runs agent and re-emits every non-metadata, non-done event
// to out. Returns false if agent emitted a terminal error (already
// forwarded) so the caller stops immediately.
func (o *Orchestrator) forward(ctx context.Context, out chan<- events.Event, agent agents.Agent, actx events.AgentContext, cfg agents.Config) bool {
	for evt := range agent.Run(ctx, actx, cfg) {
		switch evt.Kind {
		case events.KindMetadata, events.KindDone:
			continue
		case events.KindError:
			out <- evt
			return false
		default:
			out <- evt
		}
	}
	return true
}

func lastHandoff(agent agents.Agent) (agents.Handoff, bool) {
	if h, ok := agent.(agents.HandoffAgent); ok {
		return h.LastHandoff()
	}
	return agents.Handoff{}, false
}

func lastPlan(agent agents.Agent) (agents.ExecutionPlan, bool) {
	if p, ok := agent.(interface {
		LastPlan() (agents.ExecutionPlan, bool)
	}); ok {
		return p.LastPlan()
	}
	return agents.ExecutionPlan{}, false
}

// threadFindings copies any output a concrete agent exposes (parallel
// search results, ranked findings) into actx.Metadata for the next
// agent in the chain, without widening the Agent interface.
func threadFindings(actx events.AgentContext, agent agents.Agent) events.AgentContext {
	if p, ok := agent.(interface {
		LastResults() (agents.ParallelSearchResults, bool)
	}); ok {
		if results, ok := p.LastResults(); ok {
			actx = withMetadata(actx, agents.MetaParallelSearchResults, results)
		}
	}
	if f, ok := agent.(interface {
		LastFindings() (agents.RankedFindings, bool)
	}); ok {
		if findings, ok := f.LastFindings(); ok {
			actx = withMetadata(actx, agents.MetaRankedFindings, findings)
		}
	}
	return actx
}

func withMetadata(actx events.AgentContext, key string, value interface{}) events.AgentContext {
	next := make(map[string]interface{}, len(actx.Metadata)+1)
	for k, v := range actx.Metadata {
		next[k] = v
	}
	next[key] = value
	actx.Metadata = next
	return actx
}
