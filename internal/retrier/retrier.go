// Package retrier provides a start-unless-already-underway wrapper around
// asynchronous API calls, with a capped exponential backoff policy for
// transient failures.
package retrier

import (
	"context"
	"sync"
	"time"

	"github.com/feedbackloop/engage-sdk/pkg/logging"
)

// Policy bounds retry behavior for a single logical request.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable classifies errors worth retrying. Nil retries nothing.
	Retryable func(error) bool
}

// DefaultPolicy mirrors the SDK's default network retry knobs.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Minute,
		Retryable:   retryable,
	}
}

// Retrier runs at most one request per identifier at a time. Completions
// are invoked on the request's goroutine after the identifier slot is
// freed, so a completion may immediately start a follow-up request with
// the same identifier.
type Retrier struct {
	policy Policy
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	underway map[string]struct{}
}

// New creates a retrier with the given policy.
func New(policy Policy, logger *logging.Logger) *Retrier {
	if logger == nil {
		logger = logging.Default()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Retrier{
		policy:   policy,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		underway: make(map[string]struct{}),
	}
}

// Underway reports whether a request with the identifier is in flight.
func (r *Retrier) Underway(identifier string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.underway[identifier]
	return ok
}

// Cancel stops all future retries. In-flight calls observe a canceled
// context and complete with its error.
func (r *Retrier) Cancel() {
	r.cancel()
}

func (r *Retrier) claim(identifier string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.underway[identifier]; ok {
		return false
	}
	r.underway[identifier] = struct{}{}
	return true
}

func (r *Retrier) release(identifier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.underway, identifier)
}

func (r *Retrier) nextDelay(attempt int) time.Duration {
	delay := r.policy.BaseDelay * time.Duration(1<<attempt)
	if delay > r.policy.MaxDelay || delay <= 0 {
		delay = r.policy.MaxDelay
	}
	return delay
}

// StartUnlessUnderway starts the call unless a request with the same
// identifier is already in flight, in which case it is a no-op. Transient
// failures (per the policy's Retryable classifier) are retried with
// backoff up to MaxAttempts; the final result, success or failure, is
// passed to completion exactly once.
func StartUnlessUnderway[T any](r *Retrier, identifier string, call func(context.Context) (T, error), completion func(T, error)) {
	if !r.claim(identifier) {
		r.logger.Debug("request already underway", "identifier", identifier)
		return
	}

	go func() {
		var result T
		var err error
		for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
			result, err = call(r.ctx)
			if err == nil {
				break
			}
			if r.policy.Retryable == nil || !r.policy.Retryable(err) || attempt == r.policy.MaxAttempts-1 {
				break
			}
			delay := r.nextDelay(attempt)
			r.logger.Warn("request failed, will retry",
				"identifier", identifier,
				"attempt", attempt+1,
				"delay", delay,
				"error", err,
			)
			timer := time.NewTimer(delay)
			select {
			case <-r.ctx.Done():
				timer.Stop()
				r.release(identifier)
				completion(result, r.ctx.Err())
				return
			case <-timer.C:
			}
		}
		r.release(identifier)
		completion(result, err)
	}()
}
