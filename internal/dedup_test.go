package internal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDedupSeenOrRecord(t *testing.T) {
	cache := NewDedupCache(10)
	require.False(t, cache.SeenOrRecord("a"), "first sighting records")
	require.True(t, cache.SeenOrRecord("a"), "second sighting is a duplicate")
	require.True(t, cache.Seen("a"))
	require.False(t, cache.Seen("b"))
}

func TestDedupEvictsOldestAtCapacity(t *testing.T) {
	cache := NewDedupCache(1000)
	for i := 0; i < 1000; i++ {
		require.False(t, cache.SeenOrRecord(fmt.Sprintf("id-%d", i)))
	}
	require.Equal(t, 1000, cache.Len())

	// the 1001st insert evicts the oldest entry
	require.False(t, cache.SeenOrRecord("id-1000"))
	require.Equal(t, 1000, cache.Len())
	require.False(t, cache.Seen("id-0"), "oldest id evicted")
	require.True(t, cache.Seen("id-1"))
	require.True(t, cache.Seen("id-1000"))
}

func TestDedupDefaultCapacity(t *testing.T) {
	cache := NewDedupCache(0)
	for i := 0; i < 1001; i++ {
		cache.Record(fmt.Sprintf("id-%d", i))
	}
	require.Equal(t, 1000, cache.Len())
}
