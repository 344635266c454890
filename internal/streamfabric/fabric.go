// Package streamfabric registers per-turn cancellation tokens and
// propagates abort requests across process instances over Redis
// Pub/Sub (spec §4.6). When no Redis client is configured the fabric
// operates in local-only mode.
//
// Lifecycle: Register() replaces and cancels any prior token for the
// same thread_id. RequestAbort() cancels the local token and, in
// cross-instance mode, publishes a notification so sibling instances
// cancel their own local copy. Shutdown() cancels everything.
package streamfabric

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/turnforge/chatcore/internal/circuitbreaker"
	"github.com/turnforge/chatcore/internal/metrics"
)

const abortChannelPrefix = "sse:abort:"

func abortChannel(threadID string) string {
	return abortChannelPrefix + threadID
}

// Token is the per-turn cancellation handle returned by Register.
type Token struct {
	ThreadID string
	cancel   context.CancelFunc
}

// Cancel fires the token's context. Safe to call more than once.
func (t *Token) Cancel() {
	if t != nil && t.cancel != nil {
		t.cancel()
	}
}

// entry pairs a token with the subscription goroutine watching for
// cross-instance aborts of the same thread, mirroring the teacher's
// subscription bookkeeping in streaming.Manager.
type entry struct {
	token       *Token
	unsubscribe context.CancelFunc // stops this thread's Redis subscriber goroutine
}

// Fabric is the process-wide abort registry.
type Fabric struct {
	mu      sync.Mutex
	entries map[string]*entry
	redis   *redis.Client
	health  *circuitbreaker.RedisWrapper // nil in local-only mode
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// New constructs a Fabric. redisClient may be nil, in which case the
// fabric runs in local-only mode. Pub/Sub (Publish/Subscribe) isn't
// covered by circuitbreaker.RedisWrapper, so those calls still go
// through the raw client; the wrapper backs IsHealthy's Ping instead.
func New(redisClient *redis.Client, logger *zap.Logger) *Fabric {
	if logger == nil {
		logger = zap.NewNop()
	}
	var health *circuitbreaker.RedisWrapper
	if redisClient != nil {
		health = circuitbreaker.NewRedisWrapper(redisClient, logger)
	}
	return &Fabric{
		entries: make(map[string]*entry),
		redis:   redisClient,
		health:  health,
		logger:  logger,
	}
}

// IsHealthy reports whether the cross-instance transport is reachable.
// Local-only mode (no Redis configured) is always healthy.
func (f *Fabric) IsHealthy(ctx context.Context) bool {
	if f.health == nil {
		return true
	}
	return f.health.Ping(ctx).Err() == nil
}

// Register allocates a context for threadID, cancelling any token
// already registered under that id. When cross-instance transport is
// configured it also (re)subscribes to that thread's abort channel.
func (f *Fabric) Register(ctx context.Context, threadID string) (context.Context, *Token) {
	f.mu.Lock()
	if prev, ok := f.entries[threadID]; ok {
		prev.token.Cancel()
		if prev.unsubscribe != nil {
			prev.unsubscribe()
		}
		delete(f.entries, threadID)
	}
	f.mu.Unlock()

	turnCtx, cancel := context.WithCancel(ctx)
	token := &Token{ThreadID: threadID, cancel: cancel}

	var subCancel context.CancelFunc
	if f.redis != nil {
		subCtx, sc := context.WithCancel(context.Background())
		subCancel = sc
		f.wg.Add(1)
		go f.watchRemoteAbort(subCtx, threadID, cancel)
	}

	f.mu.Lock()
	f.entries[threadID] = &entry{token: token, unsubscribe: subCancel}
	f.mu.Unlock()

	return turnCtx, token
}

// watchRemoteAbort subscribes to threadID's channel and cancels the
// local token when another instance publishes an abort notification.
func (f *Fabric) watchRemoteAbort(ctx context.Context, threadID string, cancel context.CancelFunc) {
	defer f.wg.Done()
	sub := f.redis.Subscribe(ctx, abortChannel(threadID))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			f.logger.Debug("remote abort received", zap.String("thread_id", threadID), zap.String("payload", msg.Payload))
			cancel()
			return
		}
	}
}

// RequestAbort cancels threadID's local token, if any, and publishes a
// cross-instance notification when Redis is configured. Returns true
// iff a local token existed (spec §4.6).
func (f *Fabric) RequestAbort(ctx context.Context, threadID string) bool {
	f.mu.Lock()
	e, ok := f.entries[threadID]
	f.mu.Unlock()

	if ok {
		e.token.Cancel()
		metrics.StreamAborts.Inc()
	}

	if f.redis != nil {
		if err := f.redis.Publish(ctx, abortChannel(threadID), "abort").Err(); err != nil {
			f.logger.Warn("failed to publish abort notification", zap.String("thread_id", threadID), zap.Error(err))
		}
	}

	return ok
}

// Unregister removes threadID's token without cancelling it (the turn
// already completed); any cross-instance subscriber is stopped.
func (f *Fabric) Unregister(threadID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[threadID]; ok {
		if e.unsubscribe != nil {
			e.unsubscribe()
		}
		delete(f.entries, threadID)
	}
}

// ActiveCount reports the number of currently registered tokens.
func (f *Fabric) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Shutdown cancels every registered token and waits for subscriber
// goroutines to exit, guaranteeing cleanup on process exit.
func (f *Fabric) Shutdown() {
	f.mu.Lock()
	for threadID, e := range f.entries {
		e.token.Cancel()
		if e.unsubscribe != nil {
			e.unsubscribe()
		}
		delete(f.entries, threadID)
	}
	f.mu.Unlock()
	f.wg.Wait()
}
