package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is one of the three positions of a CircuitBreaker's state machine.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	// ErrOpen is returned by Execute while the breaker is tripped and the
	// timeout has not yet elapsed.
	ErrOpen = errors.New("circuitbreaker: open")
	// ErrHalfOpenSaturated is returned when a half-open breaker has already
	// admitted MaxRequests probes in its current generation, whether or not
	// those probes have finished.
	ErrHalfOpenSaturated = errors.New("circuitbreaker: half-open probe limit reached")
)

// Config tunes a CircuitBreaker's trip/recovery thresholds.
type Config struct {
	// MaxRequests caps the number of probes admitted while half-open; the
	// count resets only when the breaker changes state.
	MaxRequests uint32
	// Interval resets the closed-state failure counter on a rolling basis;
	// zero disables the reset (counters only clear on a state change).
	Interval time.Duration
	// Timeout is how long an open breaker waits before probing again.
	Timeout time.Duration
	// FailureThreshold is the number of consecutive closed-state failures
	// that trips the breaker to open.
	FailureThreshold uint32
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the breaker again.
	SuccessThreshold uint32
	// ShouldTrip classifies an Execute error as breaker-worthy. A nil value
	// (the default) counts every non-nil error as a failure. Callers whose
	// errors include expected outcomes that aren't infrastructure trouble
	// — a unique-constraint violation on an insert that's really a
	// conflict, not a dead database — should supply one so those outcomes
	// don't push a healthy dependency into the open state.
	ShouldTrip func(error) bool
	// OnStateChange is notified on every transition, after the new state
	// is already in effect.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns the thresholds used when nothing more specific is
// supplied: five consecutive failures trips it, two consecutive half-open
// successes closes it again.
func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// Counts is a snapshot of a CircuitBreaker's request tally for the current
// generation (the window since the last reset or state change).
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker is a closed/half-open/open gate around calls to a single
// named dependency. It does not retry or back off by itself — Execute
// either runs fn once or rejects the call outright; callers decide what to
// do with a rejection (fall back, surface an error, queue for later).
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu         sync.RWMutex
	state      State
	generation uint64
	counts     Counts
	expiresAt  time.Time
}

// NewCircuitBreaker builds a breaker in the closed state.
func NewCircuitBreaker(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		name:      name,
		config:    config,
		logger:    logger,
		state:     StateClosed,
		expiresAt: time.Now().Add(config.Interval),
	}
}

// Name reports the dependency this breaker guards, e.g. "llm-azure" or
// "postgresql".
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker currently admits requests, classifies the
// result via Config.ShouldTrip, and feeds that classification back into the
// state machine. A rejected call never invokes fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	generation, err := cb.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.record(generation, false)
			panic(r)
		}
	}()

	callErr := fn()
	cb.record(generation, !cb.countsAsFailure(callErr))
	return callErr
}

func (cb *CircuitBreaker) countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if cb.config.ShouldTrip == nil {
		return true
	}
	return cb.config.ShouldTrip(err)
}

// State reports the breaker's last-computed position. It does not itself
// perform the open->half-open promotion — that's lazily applied the next
// time Execute calls admit — so a caller polling State while no calls are
// in flight may see StateOpen linger briefly past Config.Timeout. Every
// wrapper in this package only calls State() immediately after an Execute,
// where the promotion has already been applied.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Counts returns the tally for the current generation.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.counts
}

// admit decides whether a new call may proceed, incrementing the request
// counter if so, and returns the generation it was admitted under so the
// matching record call can detect a generation rollover in between.
func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, generation := cb.at(now)

	switch {
	case state == StateOpen:
		return generation, ErrOpen
	case state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests:
		return generation, ErrHalfOpenSaturated
	}

	cb.counts.Requests++
	return generation, nil
}

func (cb *CircuitBreaker) record(admittedGeneration uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, generation := cb.at(now)
	if generation != admittedGeneration {
		// The breaker moved on (timeout elapsed, or someone else's result
		// already flipped the state) while fn() was running; this result
		// belongs to a generation that's no longer being counted.
		return
	}

	if success {
		cb.succeed(state, now)
	} else {
		cb.fail(state, now)
	}
}

// at resolves the effective state for the given instant, lazily performing
// the closed-interval reset or the open->half-open promotion.
func (cb *CircuitBreaker) at(now time.Time) (State, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.expiresAt.IsZero() && cb.expiresAt.Before(now) {
			cb.reset(now)
		}
	case StateOpen:
		if cb.expiresAt.Before(now) {
			cb.transition(StateHalfOpen, now)
		}
	}
	return cb.state, cb.generation
}

func (cb *CircuitBreaker) succeed(state State, now time.Time) {
	cb.counts.TotalSuccesses++
	switch state {
	case StateClosed:
		cb.counts.ConsecutiveFailures = 0
	case StateHalfOpen:
		cb.counts.ConsecutiveSuccesses++
		if cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transition(StateClosed, now)
		}
	}
}

func (cb *CircuitBreaker) fail(state State, now time.Time) {
	switch state {
	case StateClosed:
		cb.counts.TotalFailures++
		cb.counts.ConsecutiveFailures++
		if cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.transition(StateOpen, now)
		}
	case StateHalfOpen:
		cb.counts.TotalFailures++
		cb.transition(StateOpen, now)
	}
}

func (cb *CircuitBreaker) transition(to State, now time.Time) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.reset(now)

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
	cb.logger.Info("circuitbreaker: state transition",
		zap.String("breaker", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

// reset starts a fresh generation, clearing counters and arming whichever
// expiry applies to the (possibly just-changed) current state.
func (cb *CircuitBreaker) reset(now time.Time) {
	cb.generation++
	cb.counts = Counts{}

	switch cb.state {
	case StateClosed:
		if cb.config.Interval == 0 {
			cb.expiresAt = time.Time{}
		} else {
			cb.expiresAt = now.Add(cb.config.Interval)
		}
	case StateOpen:
		cb.expiresAt = now.Add(cb.config.Timeout)
	default: // StateHalfOpen has no expiry of its own
		cb.expiresAt = time.Time{}
	}
}
