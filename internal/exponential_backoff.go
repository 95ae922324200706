package internal

import (
	"context"
	"math/rand"
	"time"
)

const Int64Max = 1<<63 - 1

// GetBackoffTime returns a random backoff in [0, 2^retries) slots, capped at maximum
func GetBackoffTime(retries int64, slotTime time.Duration, maximum time.Duration) (backoff time.Duration) {

	defer func() {
		if r := recover(); r != nil {
			backoff = maximum
		}
	}()

	if slotTime <= 0 || retries <= 0 {
		return time.Duration(0)
	}
	// -1 is omitted here, because the random function is [min, max)
	if retries >= 63 {
		return maximum
	}
	umax := uint64(1) << retries
	if umax > Int64Max {
		return maximum
	}
	n := rand.Int63n(int64(umax)) //nolint:gosec

	//Prevents overflow
	if n > 0 && uint64(slotTime.Nanoseconds()) > Int64Max/uint64(n) {
		return maximum
	}

	backoff = time.Duration(n) * slotTime
	if backoff > maximum {
		backoff = maximum
	}
	return backoff
}

// SleepBackedOff waits for the backoff of the given retry, returning early with the
// context error if ctx is done first
func SleepBackedOff(ctx context.Context, retries int64, slotTime time.Duration, maximum time.Duration) error {
	timer := time.NewTimer(GetBackoffTime(retries, slotTime, maximum))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
