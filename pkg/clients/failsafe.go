package clients

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"nexus/pkg/logging"
)

// Policy bundles a retry policy and a circuit breaker for one downstream
// platform API. The breaker keeps a flapping platform from tying up task
// workers; the retry policy absorbs transient failures.
type Policy struct {
	name     string
	executor failsafe.Executor[*http.Response]
}

// PolicyConfig configures retry and breaker behaviour for a platform client.
type PolicyConfig struct {
	Name string

	// Retry
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Circuit breaker
	FailureThreshold uint
	ThresholdWindow  uint
	SuccessThreshold uint
	BreakerDelay     time.Duration

	Logger logging.Logger
}

// DefaultPolicyConfig returns sensible defaults for a platform API.
func DefaultPolicyConfig(name string) PolicyConfig {
	return PolicyConfig{
		Name:             name,
		MaxRetries:       2,
		BaseDelay:        200 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		FailureThreshold: 5,
		ThresholdWindow:  10,
		SuccessThreshold: 1,
		BreakerDelay:     15 * time.Second,
	}
}

// NewPolicy builds a failsafe executor from the config.
//
//nolint:bodyclose // false positive: [*http.Response] is a generic type parameter, not an actual response
func NewPolicy(cfg PolicyConfig) *Policy {
	retry := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			return ShouldRetry(resp, err)
		}).
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		Build()

	breakerBuilder := circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(cfg.FailureThreshold, cfg.ThresholdWindow).
		WithSuccessThreshold(cfg.SuccessThreshold).
		WithDelay(cfg.BreakerDelay).
		HandleIf(func(resp *http.Response, err error) bool {
			return err != nil || (resp != nil && resp.StatusCode >= 500)
		})

	if cfg.Logger != nil {
		name := cfg.Name
		logger := cfg.Logger
		breakerBuilder = breakerBuilder.OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			logger.WithFields(logging.Fields{
				"client": name,
				"from":   e.OldState.String(),
				"to":     e.NewState.String(),
			}).Warn("Circuit breaker state changed")
		})
	}

	return &Policy{
		name:     cfg.Name,
		executor: failsafe.With(retry, breakerBuilder.Build()),
	}
}

// Do executes a request through the retry and breaker policies. newRequest is
// called once per attempt so retries never reuse a consumed body.
func (p *Policy) Do(ctx context.Context, client *http.Client, newRequest func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	return p.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := newRequest(ctx)
		if err != nil {
			return nil, err
		}
		return client.Do(req)
	})
}

// ShouldRetry reports whether a platform call is worth retrying: transport
// errors, 5xx responses and rate limiting, but never context cancellation.
func ShouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}
