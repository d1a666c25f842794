package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wprank/backend/pkg/config"
)

type page struct {
	Total int      `json:"total"`
	Sites []string `json:"sites"`
}

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestLeaderboardRoundTripAndInvalidation(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	var got page
	hit, err := c.GetLeaderboard(ctx, 10, 0, &got)
	require.NoError(t, err)
	assert.False(t, hit)

	want := page{Total: 2, Sites: []string{"a.com", "b.com"}}
	require.NoError(t, c.SetLeaderboard(ctx, 10, 0, want, time.Minute))

	hit, err = c.GetLeaderboard(ctx, 10, 0, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, want, got)

	hit, err = c.GetLeaderboard(ctx, 10, 10, &got)
	require.NoError(t, err)
	assert.False(t, hit, "pages are keyed by offset")

	require.NoError(t, c.RanksChanged(ctx))
	hit, err = c.GetLeaderboard(ctx, 10, 0, &got)
	require.NoError(t, err)
	assert.False(t, hit, "new generation misses")

	require.NoError(t, c.SetLeaderboard(ctx, 10, 0, want, time.Minute))
	mr.FastForward(2 * time.Minute)
	hit, err = c.GetLeaderboard(ctx, 10, 0, &got)
	require.NoError(t, err)
	assert.False(t, hit, "ttl expiry")
}

func TestNewClientPings(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewClient(config.RedisConfig{Host: mr.Host(), Port: mustPort(t, mr)})
	require.NoError(t, err)
	defer c.Close()

	mr.Close()
	_, err = NewClient(config.RedisConfig{Host: "127.0.0.1", Port: 1})
	assert.Error(t, err)
}

func mustPort(t *testing.T, mr *miniredis.Miniredis) int {
	t.Helper()
	var port int
	_, err := fmt.Sscanf(mr.Port(), "%d", &port)
	require.NoError(t, err)
	return port
}
