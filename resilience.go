package interviewrt

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrCircuitOpen is returned by CircuitBreaker.Execute while the circuit is open.
var ErrCircuitOpen = errors.New("interviewrt: circuit breaker is open")

// RetryConfig configures retry behavior for failed connection attempts.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	// Set to 0 to disable retries.
	MaxRetries int

	// BaseDelay is the initial delay between retries.
	// Default: 1 second
	BaseDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	// Default: 30 seconds
	MaxDelay time.Duration

	// Multiplier is used for exponential backoff.
	// Default: 2.0
	Multiplier float64

	// Jitter randomizes each delay by up to this fraction.
	// Value between 0.0 and 1.0. Default: 0.1
	Jitter float64

	// RetryableErrors decides whether an error should trigger a retry.
	// If nil, all errors except aborts are retried.
	RetryableErrors func(error) bool

	// OnRetry is called before each wait with the failure and the delay.
	OnRetry func(err error, delay time.Duration)
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.1,
		RetryableErrors: IsRetryable,
	}
}

// IsRetryable reports whether a connect failure may succeed on another
// attempt. Configuration, credential format and microphone errors never do,
// nor do client errors other than timeouts and rate limiting.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrAborted) || errors.Is(err, ErrInvalidConfig) {
		return false
	}
	if errors.Is(err, ErrCredentialFormat) || errors.Is(err, ErrMicrophoneAccess) {
		return false
	}
	var reqErr *CredentialRequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.Status)
	}
	var negErr *TransportNegotiationError
	if errors.As(err, &negErr) {
		return retryableStatus(negErr.Status)
	}
	return true
}

func retryableStatus(status int) bool {
	if status == 0 || status >= 500 {
		return true
	}
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

func (rc RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rc.BaseDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.MaxInterval = rc.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = 30 * time.Second
	}
	if rc.Multiplier > 0 {
		b.Multiplier = rc.Multiplier
	}
	b.RandomizationFactor = rc.Jitter
	b.MaxElapsedTime = 0

	var bo backoff.BackOff = b
	if rc.MaxRetries >= 0 {
		bo = backoff.WithMaxRetries(bo, uint64(rc.MaxRetries))
	}
	return backoff.WithContext(bo, ctx)
}

// WithRetry executes op until it succeeds, returns a non-retryable error,
// exhausts MaxRetries or ctx is done.
func WithRetry(ctx context.Context, rc RetryConfig, op func() error) error {
	return backoff.RetryNotify(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrAborted) {
			return backoff.Permanent(err)
		}
		if rc.RetryableErrors != nil && !rc.RetryableErrors(err) {
			return backoff.Permanent(err)
		}
		return err
	}, rc.backOff(ctx), rc.OnRetry)
}

// ConnectWithRetry calls m.Connect until the session is connected or the
// retry policy gives up. The final state is returned along with the typed
// cause of the last failure.
func ConnectWithRetry(ctx context.Context, m *Manager, systemPrompt string, rc RetryConfig) (SessionState, error) {
	var st SessionState
	err := WithRetry(ctx, rc, func() error {
		st = m.Connect(ctx, systemPrompt)
		if st.Phase == PhaseConnected {
			return nil
		}
		if err := m.LastError(); err != nil {
			return err
		}
		return errors.New(st.Error)
	})
	return st, err
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures that triggers the circuit breaker.
	FailureThreshold int

	// RecoveryTimeout is how long to wait before attempting to recover.
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of successes needed to close the circuit.
	SuccessThreshold int
}

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState int

const (
	CircuitClosed CircuitBreakerState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker implements the circuit breaker pattern to prevent cascading
// failures. It is safe for concurrent use.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time

	mu              sync.Mutex
	state           CircuitBreakerState
	failures        int
	successes       int
	lastFailureTime time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{config: config, state: CircuitClosed, now: time.Now}
}

// Execute runs op through the circuit breaker.
func (cb *CircuitBreaker) Execute(op func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	if err := op(); err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.config.RecoveryTimeout {
			cb.state = CircuitHalfOpen
			cb.successes = 0
			return true
		}
	}
	return false
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.successes = 0
	cb.lastFailureTime = cb.now()
	if cb.state == CircuitHalfOpen || cb.failures >= cb.config.FailureThreshold {
		cb.state = CircuitOpen
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.successes++
	cb.failures = 0
	if cb.state == CircuitHalfOpen && cb.successes >= cb.config.SuccessThreshold {
		cb.state = CircuitClosed
	}
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
