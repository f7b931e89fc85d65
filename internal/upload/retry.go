package upload

import "github.com/hugo-lorenzo-mato/crashrelay/internal/core"

// RetryPolicy decides whether a report that failed to upload goes straight
// back into the queue. A report that is not requeued stays packaged and is
// picked up again by the next seed or submit.
type RetryPolicy interface {
	ShouldRequeue(r core.Report, attempt int, err error) bool
}

// RetryPolicyFunc adapts a function to RetryPolicy.
type RetryPolicyFunc func(r core.Report, attempt int, err error) bool

// ShouldRequeue implements RetryPolicy.
func (f RetryPolicyFunc) ShouldRequeue(r core.Report, attempt int, err error) bool {
	return f(r, attempt, err)
}

// AlwaysRequeue requeues every failed report.
var AlwaysRequeue RetryPolicy = RetryPolicyFunc(func(core.Report, int, error) bool { return true })

// MaxAttempts requeues retryable failures until n attempts were made.
// Non-positive n means no limit.
func MaxAttempts(n int) RetryPolicy {
	return RetryPolicyFunc(func(_ core.Report, attempt int, err error) bool {
		if core.IsConsent(err) {
			return false
		}
		if !core.IsRetryable(err) {
			return false
		}
		return n <= 0 || attempt < n
	})
}
