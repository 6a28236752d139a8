package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDOMCache_SetGet(t *testing.T) {
	c := New(Config{MaxEntries: 10, TTL: time.Minute}, nil)
	c.Set("https://example.com", "<html>...</html>")

	text, ok := c.Get("https://example.com")
	require.True(t, ok)
	assert.Equal(t, "<html>...</html>", text)
}

func TestDOMCache_GetMissing(t *testing.T) {
	c := New(Config{MaxEntries: 10, TTL: time.Minute}, nil)
	_, ok := c.Get("https://nowhere.example")
	assert.False(t, ok)
}

func TestDOMCache_ExpiresByTTL(t *testing.T) {
	c := New(Config{MaxEntries: 10, TTL: 10 * time.Millisecond}, nil)
	c.Set("https://example.com", "stale")

	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("https://example.com")
	assert.False(t, ok, "entry older than TTL should be treated as missing")
}

func TestDOMCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(Config{MaxEntries: 2, TTL: time.Minute}, nil)
	c.Set("a", "1")
	c.Set("b", "2")
	// touch "a" so "b" becomes the least-recently-used entry
	_, _ = c.Get("a")
	c.Set("c", "3")

	_, hasA := c.Get("a")
	_, hasB := c.Get("b")
	_, hasC := c.Get("c")

	assert.True(t, hasA)
	assert.False(t, hasB, "least-recently-used entry should have been evicted")
	assert.True(t, hasC)
}

func TestDOMCache_RejectsOversizedEntry(t *testing.T) {
	c := New(Config{MaxEntries: 10, TTL: time.Minute, MaxEntryBytes: 4}, nil)
	ok := c.Set("big", "way too large")
	assert.False(t, ok)

	_, found := c.Get("big")
	assert.False(t, found)
}

func TestDOMCache_RemoveAndClear(t *testing.T) {
	c := New(Config{MaxEntries: 10, TTL: time.Minute}, nil)
	c.Set("a", "1")
	c.Set("b", "2")

	c.Remove("a")
	_, hasA := c.Get("a")
	assert.False(t, hasA)

	c.Clear()
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestDOMCache_CleanupExpired(t *testing.T) {
	c := New(Config{MaxEntries: 10, TTL: 10 * time.Millisecond}, nil)
	c.Set("a", "1")
	time.Sleep(20 * time.Millisecond)
	c.Set("b", "2") // fresh

	removed := c.CleanupExpired()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestDOMCache_StatsTracksHitsAndMisses(t *testing.T) {
	c := New(Config{MaxEntries: 10, TTL: time.Minute}, nil)
	c.Set("a", "1")

	_, _ = c.Get("a")
	_, _ = c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}
