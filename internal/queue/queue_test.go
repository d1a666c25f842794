package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wprank/backend/internal/domainname"
	"github.com/wprank/backend/internal/storage/models"
	"github.com/wprank/backend/internal/storage/sqlite"
	"github.com/wprank/backend/pkg/config"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(t *testing.T, maxRetries int) (*Queue, *clock) {
	t.Helper()

	store, err := sqlite.NewClient("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default().Queue
	cfg.MaxRetries = maxRetries

	clk := &clock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	return New(store, cfg).WithClock(clk.now), clk
}

func TestSubmitNormalizesDomain(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := context.Background()

	item, err := q.Submit(ctx, "http://WWW.Example.org/", 0, "api")
	require.NoError(t, err)
	assert.Equal(t, "example.org", item.Domain)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)

	_, err = q.Submit(ctx, "https://example.org/about", 0, "api")
	assert.ErrorIs(t, err, ErrAlreadyQueued)
}

func TestSubmitRejectsInvalidDomain(t *testing.T) {
	q, _ := newTestQueue(t, 3)

	_, err := q.Submit(context.Background(), "localhost", 0, "api")
	assert.ErrorIs(t, err, ErrInvalidDomain)
	assert.ErrorIs(t, err, domainname.ErrNoDot)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
}

func TestFailCyclesThroughBackoffUntilFailed(t *testing.T) {
	q, clk := newTestQueue(t, 3)
	ctx := context.Background()

	submitted, err := q.Submit(ctx, "example.org", 0, "api")
	require.NoError(t, err)

	wantDelays := []time.Duration{20 * time.Minute, 40 * time.Minute, 80 * time.Minute}
	for i, delay := range wantDelays {
		item, err := q.Claim(ctx)
		require.NoError(t, err)
		assert.Equal(t, submitted.ID, item.ID)

		tr, err := q.Fail(ctx, item, "fetch_failed")
		require.NoError(t, err)
		assert.Equal(t, models.QueueStatusPending, tr.Status)
		assert.Equal(t, i+1, tr.AttemptCount)
		require.NotNil(t, tr.NextAttemptAt)
		assert.Equal(t, clk.t.Add(delay), *tr.NextAttemptAt)

		_, err = q.Claim(ctx)
		assert.ErrorIs(t, err, ErrQueueEmpty, "not eligible before next_attempt_at")

		clk.advance(delay)
	}

	item, err := q.Claim(ctx)
	require.NoError(t, err)
	tr, err := q.Fail(ctx, item, "fetch_failed")
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFailed, tr.Status)

	got, err := q.Get(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFailed, got.Status)
	assert.Equal(t, 4, got.AttemptCount)
	assert.Nil(t, got.NextAttemptAt)
	assert.Equal(t, "fetch_failed", got.LastError)

	clk.advance(24 * time.Hour)
	_, err = q.Claim(ctx)
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestCompleteAndRecoverStale(t *testing.T) {
	q, clk := newTestQueue(t, 3)
	ctx := context.Background()

	_, err := q.Submit(ctx, "a.com", 0, "api")
	require.NoError(t, err)
	_, err = q.Submit(ctx, "b.com", 0, "api")
	require.NoError(t, err)

	a, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, a, models.ResultNotWordPress))
	assert.Equal(t, models.QueueStatusCompleted, a.Status)

	b, err := q.Claim(ctx)
	require.NoError(t, err)

	clk.advance(q.cfg.StaleAfter + time.Minute)
	n, err := q.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.ErrorIs(t, q.Complete(ctx, b, models.ResultAnalyzed), ErrClaimLost)

	again, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, again.ID)
}
