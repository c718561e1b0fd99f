package contentdrop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmptySentinel(t *testing.T) {
	c := Empty()
	require.True(t, c.IsEmpty())
	require.Empty(t, c.Body)
	require.False(t, c.Expired(time.Now()))
}

func TestContentExpired(t *testing.T) {
	now := time.Now()

	c := &Content{Key: "abc", Expiry: now.Add(-time.Minute).UnixMilli()}
	require.True(t, c.Expired(now))

	c = &Content{Key: "abc", Expiry: now.Add(time.Minute).UnixMilli()}
	require.False(t, c.Expired(now))
}

func TestContentWeight(t *testing.T) {
	c := &Content{Key: "abc", Body: make([]byte, 42)}
	require.Equal(t, int64(42), c.Weight())
	require.False(t, c.IsEmpty())
}
