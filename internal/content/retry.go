package content

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryRule is one row of the retry policy table.
type RetryRule struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryPolicy maps error kinds to retry behavior. Kinds absent from the
// table are discarded immediately.
type RetryPolicy struct {
	rules map[ErrorKind]RetryRule
}

// NewRetryPolicy builds the default policy table: transient failures get
// three jittered-backoff attempts, rate limited responses back off longer,
// and configuration, data-shape, and not-found errors are never retried.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		rules: map[ErrorKind]RetryRule{
			KindTransient: {
				MaxAttempts: 3,
				BaseDelay:   250 * time.Millisecond,
				MaxDelay:    5 * time.Second,
			},
			KindRateLimited: {
				MaxAttempts: 3,
				BaseDelay:   5 * time.Second,
				MaxDelay:    2 * time.Minute,
			},
		},
	}
}

// ShouldRetry decides whether a failed attempt should be re-enqueued.
// attempt is zero-based: the first execution is attempt 0.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	rule, ok := p.rules[Classify(err)]
	if !ok {
		return false
	}
	return attempt+1 < rule.MaxAttempts
}

// Backoff returns the jittered wait before the next attempt.
func (p *RetryPolicy) Backoff(err error, attempt int) time.Duration {
	rule, ok := p.rules[Classify(err)]
	if !ok {
		return 0
	}
	delay := float64(rule.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(rule.MaxDelay) {
		delay = float64(rule.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
