package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wprank/backend/internal/storage/models"
	"github.com/wprank/backend/pkg/config"
)

func TestBackoff(t *testing.T) {
	limit := 240 * time.Minute
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 10 * time.Minute},
		{1, 20 * time.Minute},
		{2, 40 * time.Minute},
		{3, 80 * time.Minute},
		{4, 160 * time.Minute},
		{5, 240 * time.Minute},
		{40, 240 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempts, limit), "attempts=%d", tt.attempts)
	}
}

func TestNextAfterFailure(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	first := NextAfterFailure(0, 5, 240*time.Minute, now)
	assert.Equal(t, models.QueueStatusPending, first.Status)
	assert.Equal(t, 1, first.AttemptCount)
	require.NotNil(t, first.NextAttemptAt)
	assert.Equal(t, now.Add(20*time.Minute), *first.NextAttemptAt)

	third := NextAfterFailure(2, 5, 240*time.Minute, now)
	require.NotNil(t, third.NextAttemptAt)
	assert.Equal(t, now.Add(80*time.Minute), *third.NextAttemptAt)

	last := NextAfterFailure(3, 3, 240*time.Minute, now)
	assert.Equal(t, models.QueueStatusFailed, last.Status)
	assert.Equal(t, 4, last.AttemptCount)
	assert.Nil(t, last.NextAttemptAt)
}

func TestNextAfterFailureWithDefaultRetries(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := config.Default().Queue

	var got []time.Duration
	prior := 0
	for {
		tr := NextAfterFailure(prior, cfg.MaxRetries, cfg.BackoffCap(), now)
		if tr.Status == models.QueueStatusFailed {
			assert.Nil(t, tr.NextAttemptAt)
			assert.Equal(t, cfg.MaxRetries+1, tr.AttemptCount)
			break
		}
		require.NotNil(t, tr.NextAttemptAt)
		got = append(got, tr.NextAttemptAt.Sub(now))
		prior = tr.AttemptCount
	}

	assert.Equal(t, []time.Duration{20 * time.Minute, 40 * time.Minute, 80 * time.Minute}, got)
}
