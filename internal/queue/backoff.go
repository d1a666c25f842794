package queue

import (
	"time"

	"github.com/wprank/backend/internal/storage/models"
)

const backoffBase = 10 * time.Minute

// Backoff returns the delay before the next attempt once attempts failures
// have been recorded: 2^attempts * 10 minutes, never more than limit.
func Backoff(attempts int, limit time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// 2^20 * 10 minutes is far past any sane cap and keeps the shift in range.
	if attempts >= 20 {
		return limit
	}

	delay := backoffBase * time.Duration(1<<uint(attempts))
	if limit > 0 && delay > limit {
		return limit
	}
	return delay
}

// Transition is the state a processing item moves to after a failed attempt.
type Transition struct {
	Status        models.QueueStatus
	AttemptCount  int
	NextAttemptAt *time.Time
}

// NextAfterFailure applies one failed attempt to an item that has already
// failed priorAttempts times. Once maxRetries retries have been scheduled the
// next failure is terminal, so with maxRetries=3 the waits are 20, 40 and 80
// minutes and the fourth failure ends the item.
func NextAfterFailure(priorAttempts, maxRetries int, limit time.Duration, now time.Time) Transition {
	attempts := priorAttempts + 1
	if priorAttempts >= maxRetries {
		return Transition{Status: models.QueueStatusFailed, AttemptCount: attempts}
	}

	next := now.Add(Backoff(attempts, limit))
	return Transition{
		Status:        models.QueueStatusPending,
		AttemptCount:  attempts,
		NextAttemptAt: &next,
	}
}
