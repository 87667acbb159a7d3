package marketplace

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/ccos-run/ccos/pkg/logger"
	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// RetryConfig mirrors the teacher's resilience.RetryConfig
// (gomind/resilience/retry.go) generalized to classify retryability via
// rtfserrors.Retryable instead of a pack-specific error predicate.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryConfig uses spec.md §4.4/§6.3's "3 attempts, 100ms × 2ⁿ
// backoff", with jitter enabled: each wait is shifted by up to ±10%, so
// the delays are not exact powers of two.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Retry runs fn up to config.MaxAttempts times, stopping early if fn's
// error is non-retryable per spec.md §4.4's failure semantics (schema
// mismatch / attestation / unknown capability / permission denied never
// retry; timeouts and transient provider errors do).
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !rtfserrors.Retryable(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			break
		}
		if attempt > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}
		if config.JitterEnabled {
			jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
			delay += jitter
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return rtfserrors.Wrap("marketplace.Retry", rtfserrors.KindTransientProviderError, lastErr).
		WithDetail("attempts", itoa(config.MaxAttempts))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// CircuitState mirrors gomind/resilience.CircuitState.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig is a trimmed version of the teacher's
// CircuitBreakerConfig (gomind/resilience/circuit_breaker.go), keeping
// the threshold/timeout/half-open-probe knobs the marketplace actually
// needs and dropping the sliding-window/metrics-collector machinery that
// has no SPEC_FULL.md consumer here.
type CircuitBreakerConfig struct {
	Name                string
	FailureThreshold    int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int
}

func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:                name,
		FailureThreshold:    5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker protects a capability provider from repeated dispatch
// attempts once it's failing consistently (spec.md §4.4 step 5 implies
// providers should not be hammered after exhausting retries). Adapted
// from gomind/resilience.CircuitBreaker's Closed/Open/HalfOpen state
// machine, generalized from the teacher's per-agent-call protection to
// per-capability-id protection.
type CircuitBreaker struct {
	config *CircuitBreakerConfig
	log    logger.Logger

	mu              sync.Mutex
	state           CircuitState
	consecutiveFail int
	openedAt        time.Time
	halfOpenInFlight int
}

func NewCircuitBreaker(config *CircuitBreakerConfig, log logger.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig("marketplace")
	}
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &CircuitBreaker{config: config, log: log.WithComponent("ccos/marketplace/circuitbreaker")}
}

// CanExecute reports whether a new dispatch attempt is currently allowed.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.config.RecoveryTimeout {
			cb.transition(StateHalfOpen)
			cb.halfOpenInFlight = 0
			return cb.halfOpenInFlight < cb.config.HalfOpenMaxRequests
		}
		return false
	case StateHalfOpen:
		return cb.halfOpenInFlight < cb.config.HalfOpenMaxRequests
	default:
		return false
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFail = 0
	if cb.state == StateHalfOpen {
		cb.transition(StateClosed)
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFail++
	if cb.state == StateHalfOpen {
		cb.transition(StateOpen)
		cb.openedAt = time.Now()
		return
	}
	if cb.consecutiveFail >= cb.config.FailureThreshold {
		cb.transition(StateOpen)
		cb.openedAt = time.Now()
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if from != to {
		cb.log.Info("circuit breaker state change", logger.Fields{"name": cb.config.Name, "from": from.String(), "to": to.String()})
	}
}

func (cb *CircuitBreaker) GetState() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

func (cb *CircuitBreaker) markHalfOpenAttempt() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen {
		cb.halfOpenInFlight++
	}
}

// ErrCircuitOpen is returned by dispatch when the breaker is open.
var ErrCircuitOpen = rtfserrors.New("marketplace.CircuitBreaker", rtfserrors.KindTransientProviderError, "circuit breaker open")

// RetryWithCircuitBreaker combines Retry and CircuitBreaker the same way
// gomind/resilience.RetryWithCircuitBreaker does.
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		if !cb.CanExecute() {
			return ErrCircuitOpen
		}
		cb.markHalfOpenAttempt()
		err := fn()
		if err != nil {
			cb.RecordFailure()
			return err
		}
		cb.RecordSuccess()
		return nil
	})
}
