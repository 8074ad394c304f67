package runner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	c := NewCache(4, time.Minute)
	c.Put("acme", "SKU-1", map[string]any{"title": "Widget"})

	got, ok := c.Get("acme", "SKU-1")
	require.True(t, ok)
	assert.Equal(t, "Widget", got["title"])

	_, ok = c.Get("acme", "SKU-2")
	assert.False(t, ok)
	_, ok = c.Get("bmart", "SKU-1")
	assert.False(t, ok)
}

func TestCacheEvictsOldestBeyondCapacity(t *testing.T) {
	c := NewCache(2, time.Minute)
	c.Put("acme", "A", map[string]any{"n": 1})
	c.Put("acme", "B", map[string]any{"n": 2})
	c.Put("acme", "C", map[string]any{"n": 3})

	_, ok := c.Get("acme", "A")
	assert.False(t, ok)
	_, ok = c.Get("acme", "C")
	assert.True(t, ok)
}

func TestNilCacheIsSafe(t *testing.T) {
	var c *Cache
	_, ok := c.Get("acme", "SKU-1")
	assert.False(t, ok)
	c.Put("acme", "SKU-1", nil) // must not panic
}

func TestCollectorFlushWritesSessionFile(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(dir, false)
	c.Add("SKU-1", "acme", map[string]any{"title": "Widget"})
	c.Add("SKU-1", "bmart", map[string]any{"title": "Widget B"})

	path, err := c.Flush("job-1")
	require.NoError(t, err)
	require.NotEmpty(t, path)
	assert.Equal(t, dir, filepath.Dir(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, 2, c.Count())
}

func TestCollectorWithoutOutputDirStaysInMemory(t *testing.T) {
	c := NewCollector("", false)
	c.Add("SKU-1", "acme", map[string]any{"title": "Widget"})

	path, err := c.Flush("job-1")
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, "Widget", c.Data()["SKU-1"]["acme"]["title"])
}
