// Package agents defines the Agent contract, the name-based registry
// (spec §4.2), and the concrete agent implementations (spec §4.4).
package agents

import (
	"context"
	"errors"
	"sync"

	"github.com/turnforge/chatcore/internal/events"
)

// ErrNotRegistered is returned by Get when no agent is registered under name.
var ErrNotRegistered = errors.New("agents: not registered")

// Config carries the per-turn options a client may supply (max_tokens,
// temperature, system_prompt, ...) through to an agent and, transitively,
// to the LLM token source.
type Config struct {
	MaxTokens        int
	Temperature      float64
	SystemPrompt     string
	ConversationStyle string
}

// Handoff is reported by value, not by callback: an agent that wants
// execution to continue elsewhere names the target and why.
type Handoff struct {
	Target string
	Reason string
}

// Agent is a named event producer. Implementations must emit exactly one
// metadata event first and end with exactly one of done/error (spec §4.4).
type Agent interface {
	Name() string
	Run(ctx context.Context, actx events.AgentContext, cfg Config) <-chan events.Event
}

// HandoffAgent is implemented by agents that may declare a handoff target
// after they finish (planner, parallel search). The orchestrator checks
// for this interface rather than widening the base Agent contract.
type HandoffAgent interface {
	Agent
	LastHandoff() (Handoff, bool)
}

// Registry is a process-wide name -> agent map (spec §4.2). Registration
// happens at startup; lookups are O(1) reads of an immutable-after-init
// map guarded by a mutex only to make re-registration (replace-in-place)
// safe for tests.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds or replaces the agent under name. Idempotent per name.
func (r *Registry) Register(name string, a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[name] = a
}

// Get looks up an agent by name.
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, ErrNotRegistered
	}
	return a, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[name]
	return ok
}

// List returns the registered agent names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	return names
}

// Well-known agent names, referenced by the orchestrator's handoff
// resolution and by the HTTP controller's agent_type routing.
const (
	NamePlain          = "PlainAgent"
	NameRAG            = "RAGAgent"
	NamePlanner        = "PlannerAgent"
	NameParallelSearch = "ParallelSearchAgent"
	NameResultRanker   = "ResultRankerAgent"
	NameWriter         = "WriterAgent"
	NameResearcher     = "ResearcherAgent"
)
