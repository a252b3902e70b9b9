package orkestra

import "sync/atomic"

// Retry budget costs, in tokens.
const (
	DefaultRetryBudgetCapacity = 500
	RetryCost                  = 5
	RetryTimeoutCost           = 10
	PermitRegenerationAmount   = 1
)

// TokenBucket is a lock-free retry budget shared by all calls of a client.
// Retries withdraw tokens; successes put them back.
type TokenBucket struct {
	capacity int64
	tokens   int64
}

// NewTokenBucket creates a full bucket. A negative capacity is treated as zero.
func NewTokenBucket(capacity int) *TokenBucket {
	if capacity < 0 {
		capacity = 0
	}
	return &TokenBucket{capacity: int64(capacity), tokens: int64(capacity)}
}

// Withdraw takes n tokens if available. It never leaves the bucket negative.
func (tb *TokenBucket) Withdraw(n int64) bool {
	for {
		current := atomic.LoadInt64(&tb.tokens)
		if current < n {
			return false
		}
		if atomic.CompareAndSwapInt64(&tb.tokens, current, current-n) {
			return true
		}
	}
}

// Deposit returns n tokens, never exceeding capacity.
func (tb *TokenBucket) Deposit(n int64) {
	for {
		current := atomic.LoadInt64(&tb.tokens)
		next := current + n
		if next > tb.capacity {
			next = tb.capacity
		}
		if next == current || atomic.CompareAndSwapInt64(&tb.tokens, current, next) {
			return
		}
	}
}

// Available returns the current number of tokens.
func (tb *TokenBucket) Available() int64 {
	return atomic.LoadInt64(&tb.tokens)
}

// Capacity returns the maximum number of tokens.
func (tb *TokenBucket) Capacity() int64 {
	return tb.capacity
}
