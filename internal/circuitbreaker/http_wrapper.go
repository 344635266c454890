package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper guards outbound calls to a single HTTP dependency — in this
// tree, a model provider's completions endpoint — behind a CircuitBreaker.
// Streaming token generation runs for tens of seconds per request, so the
// failure signal that matters is "the provider stopped responding in time
// or is erroring server-side," not ordinary 4xx rejections of a malformed
// prompt.
type HTTPWrapper struct {
	client  *http.Client
	cb      *CircuitBreaker
	name    string
	service string
}

// NewHTTPWrapper builds an HTTPWrapper around client (a 5s-timeout client
// is substituted if nil), trips on 5xx/429 responses and on request
// timeouts, and registers the breaker under name/service for metrics.
func NewHTTPWrapper(client *http.Client, name, service string, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := GetLLMConfig().ToConfig()
	cfg.ShouldTrip = isProviderFailure
	cb := NewCircuitBreaker(name, cfg, logger)
	GlobalMetricsCollector.RegisterCircuitBreaker(name, service, cb)
	return &HTTPWrapper{client: client, cb: cb, name: name, service: service}
}

// Do issues req through the circuit breaker. The HTTP response is always
// returned to the caller when one was received, even if the breaker
// classified it as a failure (a 503 body still carries a retry-after
// header a caller may want); the breaker's own rejection (ErrOpen,
// ErrHalfOpenSaturated) comes back as err with a nil response instead.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var classified error

	rejection := hw.cb.Execute(req.Context(), func() error {
		var err error
		resp, err = hw.client.Do(req)
		if err != nil {
			classified = err
			return err
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			classified = &providerStatusError{code: resp.StatusCode}
			return classified
		}
		return nil
	})

	success := rejection == nil && (classified == nil || !isProviderFailure(classified))
	GlobalMetricsCollector.RecordRequest(hw.name, hw.service, hw.cb.State(), success)

	if rejection != nil && classified == nil {
		// The breaker itself refused the call; no request was attempted.
		return nil, rejection
	}
	// Either it succeeded, or fn ran and classified the response/transport
	// error as a provider failure — either way resp (if any) goes back to
	// the caller with no synthetic error layered on top of it.
	if _, ok := classified.(*providerStatusError); ok {
		return resp, nil
	}
	return resp, classified
}

// isProviderFailure decides whether an error from a model provider request
// should count against the breaker. A stream abort (the user hit stop)
// comes back as context.Canceled and says nothing about the provider's
// health, so it's excluded; everything else a request can fail with —
// connection refused, a client-side timeout waiting on a slow provider, the
// controller's own deadline elapsing, a 5xx/429 response — is evidence the
// dependency itself is in trouble.
func isProviderFailure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// providerStatusError marks a 5xx or 429 response for breaker accounting;
// it never reaches the caller as an error (see Do), only as a trip signal.
type providerStatusError struct{ code int }

func (e *providerStatusError) Error() string { return http.StatusText(e.code) }
