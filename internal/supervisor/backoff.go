package supervisor

import (
	"math/rand"
	"time"
)

// restartBackoff returns a randomized exponential delay for the given retry
// count, capped at maximum. Retry counts past the cap's exponent saturate
// instead of overflowing.
func restartBackoff(retries int64, slotTime, maximum time.Duration) time.Duration {
	if retries <= 0 || slotTime <= 0 {
		return 0
	}
	if retries > 16 {
		return maximum
	}
	// [0, 2^retries) slots
	n := rand.Int63n(int64(1) << retries)
	backoff := time.Duration(n) * slotTime
	if backoff > maximum {
		return maximum
	}
	return backoff
}
