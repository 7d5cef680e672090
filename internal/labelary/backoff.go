package labelary

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// newBackoff yields the wait before each retry: min(ceiling, 2^(n-1) s) plus
// a jitter of up to 0.5*n s, where n is the attempt that just failed. It
// stops after attempts-1 values so no sleep follows the final attempt.
func newBackoff(attempts int, ceiling time.Duration, jitter func() float64) retry.Backoff { //nolint:ireturn
	failed := 0
	next := retry.BackoffFunc(func() (time.Duration, bool) {
		failed++
		return backoffDelay(failed, ceiling, jitter()), false
	})

	retries := uint64(0)
	if attempts > 1 {
		retries = uint64(attempts - 1) // #nosec G115 -- attempts checked above
	}
	return retry.WithMaxRetries(retries, next)
}

func backoffDelay(attempt int, ceiling time.Duration, frac float64) time.Duration {
	base := ceiling
	if shift := attempt - 1; shift < 32 {
		if d := time.Duration(int64(1)<<shift) * time.Second; d < ceiling {
			base = d
		}
	}
	jitter := time.Duration(frac * 0.5 * float64(attempt) * float64(time.Second))
	return base + jitter
}
