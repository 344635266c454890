package streamfabric

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap/zaptest"
)

func TestFabric_LocalOnlyRegisterAndAbort(t *testing.T) {
	f := New(nil, zaptest.NewLogger(t))

	ctx, token := f.Register(context.Background(), "thread-1")
	if f.ActiveCount() != 1 {
		t.Fatalf("expected 1 active token, got %d", f.ActiveCount())
	}

	if !f.RequestAbort(context.Background(), "thread-1") {
		t.Errorf("expected RequestAbort to report an existing token")
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected turn context to be cancelled")
	}
	_ = token
}

func TestFabric_RequestAbortOnUnknownThreadReturnsFalse(t *testing.T) {
	f := New(nil, zaptest.NewLogger(t))
	if f.RequestAbort(context.Background(), "nonexistent") {
		t.Errorf("expected false for a thread with no registered token")
	}
}

func TestFabric_RegisterReplacesAndCancelsPriorToken(t *testing.T) {
	f := New(nil, zaptest.NewLogger(t))

	firstCtx, _ := f.Register(context.Background(), "thread-1")
	secondCtx, _ := f.Register(context.Background(), "thread-1")

	select {
	case <-firstCtx.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected re-registering the same thread to cancel the previous token")
	}
	if secondCtx.Err() != nil {
		t.Errorf("expected the new token to remain uncancelled, got %v", secondCtx.Err())
	}
	if f.ActiveCount() != 1 {
		t.Errorf("expected exactly 1 active token after replacement, got %d", f.ActiveCount())
	}
}

func TestFabric_CrossInstanceAbortViaRedis(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer s.Close()

	clientA := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer clientA.Close()
	clientB := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer clientB.Close()

	instanceA := New(clientA, zaptest.NewLogger(t))
	instanceB := New(clientB, zaptest.NewLogger(t))

	turnCtx, _ := instanceA.Register(context.Background(), "thread-xi")
	// Give the subscriber goroutine time to establish the subscription.
	time.Sleep(100 * time.Millisecond)

	instanceB.RequestAbort(context.Background(), "thread-xi")

	select {
	case <-turnCtx.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected instance A's turn context to be cancelled by instance B's abort request")
	}

	instanceA.Shutdown()
	instanceB.Shutdown()
}

func TestFabric_UnregisterDoesNotCancel(t *testing.T) {
	f := New(nil, zaptest.NewLogger(t))
	ctx, _ := f.Register(context.Background(), "thread-1")
	f.Unregister("thread-1")

	if ctx.Err() != nil {
		t.Errorf("expected unregistering a completed turn to leave its context uncancelled, got %v", ctx.Err())
	}
	if f.ActiveCount() != 0 {
		t.Errorf("expected 0 active tokens after unregister, got %d", f.ActiveCount())
	}
}

func TestFabric_IsHealthy(t *testing.T) {
	f := New(nil, zaptest.NewLogger(t))
	if !f.IsHealthy(context.Background()) {
		t.Errorf("expected local-only fabric to report healthy")
	}

	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()
	withRedis := New(client, zaptest.NewLogger(t))
	if !withRedis.IsHealthy(context.Background()) {
		t.Errorf("expected fabric backed by a reachable redis to report healthy")
	}

	s.Close()
	if withRedis.IsHealthy(context.Background()) {
		t.Errorf("expected fabric to report unhealthy once redis is unreachable")
	}
}

func TestFabric_ShutdownCancelsAll(t *testing.T) {
	f := New(nil, zaptest.NewLogger(t))
	ctx1, _ := f.Register(context.Background(), "thread-1")
	ctx2, _ := f.Register(context.Background(), "thread-2")

	f.Shutdown()

	if ctx1.Err() == nil || ctx2.Err() == nil {
		t.Errorf("expected shutdown to cancel all registered tokens")
	}
}
