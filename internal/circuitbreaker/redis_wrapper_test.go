package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap/zaptest"
)

func TestRedisWrapper_PingSucceedsAgainstLiveServer(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, zaptest.NewLogger(t))
	if err := wrapper.Ping(context.Background()).Err(); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
	if wrapper.IsCircuitBreakerOpen() {
		t.Error("expected the breaker to remain closed after a successful ping")
	}
}

func TestRedisWrapper_OutageTripsTheBreaker(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}) // nothing listens here
	defer client.Close()

	wrapper := NewRedisWrapper(client, zaptest.NewLogger(t))
	ctx := context.Background()

	threshold := GetRedisConfig().FailureThreshold
	for i := uint32(0); i < threshold; i++ {
		if err := wrapper.Ping(ctx).Err(); err == nil {
			t.Error("expected ping against an unreachable server to fail")
		}
	}

	if !wrapper.IsCircuitBreakerOpen() {
		t.Fatal("expected the breaker to be open after repeated outage failures")
	}

	if err := wrapper.Ping(ctx).Err(); err != ErrOpen {
		t.Errorf("expected ErrOpen once tripped, got %v", err)
	}
}

func TestRedisWrapper_RecoversAfterServerComesBack(t *testing.T) {
	t.Setenv("CB_REDIS_TIMEOUT", "10ms")

	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	addr := s.Addr()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	wrapper := NewRedisWrapper(client, zaptest.NewLogger(t))
	ctx := context.Background()

	s.Close() // take the server down so the next probes fail
	threshold := GetRedisConfig().FailureThreshold
	for i := uint32(0); i < threshold; i++ {
		wrapper.Ping(ctx)
	}
	if !wrapper.IsCircuitBreakerOpen() {
		t.Fatal("expected the breaker to trip once the server is gone")
	}

	if err := s.Restart(); err != nil {
		t.Fatalf("failed to restart miniredis on the same address: %v", err)
	}
	time.Sleep(20 * time.Millisecond) // let the breaker's timeout elapse into half-open

	if err := wrapper.Ping(ctx).Err(); err != nil {
		t.Errorf("expected a probe against the recovered server to succeed, got %v", err)
	}
	if wrapper.IsCircuitBreakerOpen() {
		t.Error("expected the breaker to leave the open state once the server answers again")
	}
}
