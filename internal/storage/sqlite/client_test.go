package sqlite

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient opens a private in-memory database with the schema applied.
func newTestClient(t *testing.T) *Client {
	t.Helper()

	c, err := NewClient("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())

	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestInitSchemaIsRepeatable(t *testing.T) {
	c := newTestClient(t)
	assert.NoError(t, c.InitSchema())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))

	// "é" is two bytes; cutting at 2 would split it.
	assert.Equal(t, "a", truncate("aéb", 2))

	long := strings.Repeat("x", 1500)
	assert.Len(t, truncate(long, maxErrorLength), maxErrorLength)
}

func TestMillisRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 0, 123_000_000, time.UTC)
	assert.True(t, now.Equal(fromMillis(toMillis(now))))

	assert.Nil(t, timePtr(nullMillis(nil)))
	got := timePtr(nullMillis(&now))
	require.NotNil(t, got)
	assert.True(t, now.Equal(*got))
}
