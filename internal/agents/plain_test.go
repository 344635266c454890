package agents

import (
	"context"
	"testing"
	"time"

	"github.com/turnforge/chatcore/internal/events"
	"github.com/turnforge/chatcore/internal/llm"
)

func TestPlainAgent_EmitsMetadataFirstAndDoneLast(t *testing.T) {
	agent := NewPlainAgent(llm.NewMockClient(0))
	actx := events.AgentContext{
		TraceID: "trace-1",
		MessageHistory: []events.ChatMessage{
			{ID: "m1", Role: events.RoleUser, Content: "2+2?"},
		},
	}

	evs := drainEvents(agent.Run(context.Background(), actx, Config{}))
	if len(evs) < 2 {
		t.Fatalf("expected at least metadata + done, got %+v", evs)
	}
	if evs[0].Kind != events.KindMetadata {
		t.Errorf("expected first event to be metadata, got %q", evs[0].Kind)
	}
	last := evs[len(evs)-1]
	if last.Kind != events.KindDone {
		t.Errorf("expected last event to be done, got %q", last.Kind)
	}

	var dataCount int
	for _, e := range evs {
		if e.Kind == events.KindData {
			dataCount++
		}
	}
	if dataCount == 0 {
		t.Errorf("expected at least one data event")
	}
}

func TestPlainAgent_StopsOnCancellation(t *testing.T) {
	agent := NewPlainAgent(llm.NewMockClient(50 * time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	actx := events.AgentContext{MessageHistory: []events.ChatMessage{{ID: "m1", Role: events.RoleUser, Content: "a slow question with many words in it"}}}
	ch := agent.Run(ctx, actx, Config{})

	// Receive the metadata and agent_updated events, then cancel mid-stream.
	<-ch
	<-ch
	cancel()

	for range ch {
		// drain until the goroutine observes cancellation and closes.
	}
}
