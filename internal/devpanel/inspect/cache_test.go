package inspect

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamedCacheCountsTraffic(t *testing.T) {
	c, err := NewNamedCache[string, int]("sessions", 2)
	require.NoError(t, err)

	c.Add("a", 1)
	c.Add("b", 2)
	_, ok := c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("missing")
	assert.False(t, ok)
	assert.True(t, c.Add("c", 3), "adding past capacity evicts the least recently used entry")

	stats := c.Stats()
	assert.Equal(t, CacheStats{Hits: 1, Misses: 1, Evictions: 1}, stats)
	assert.InDelta(t, 0.5, stats.HitRate(), 1e-9)
	assert.Equal(t, []string{"c", "a"}, c.KeyStrings(10))
	assert.Equal(t, []string{"c"}, c.KeyStrings(1))

	c.Purge()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Evictions, "purged entries are not evictions")
}

func TestNamedCacheRemoveIsNotAnEviction(t *testing.T) {
	c, err := NewNamedCache[string, int]("pages", 2)
	require.NoError(t, err)

	c.Add("a", 1)
	c.Add("b", 2)
	c.Remove("a")
	c.Remove("missing")
	assert.Equal(t, 1, c.Len())
	assert.Zero(t, c.Stats().Evictions)

	c.Add("c", 3)
	assert.True(t, c.Add("d", 4))
	assert.Equal(t, uint64(1), c.Stats().Evictions)
	assert.Equal(t, []string{"d", "c"}, c.KeyStrings(10))
}

func TestNamedCacheRejectsInvalidSize(t *testing.T) {
	_, err := NewNamedCache[string, int]("broken", 0)
	require.Error(t, err)
}

func TestCacheInspectorView(t *testing.T) {
	small, err := NewNamedCache[string, string]("b-small", 4)
	require.NoError(t, err)
	small.Add("k", "v")

	big, err := NewNamedCache[int, int]("a-big", 64)
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		big.Add(i, i)
	}
	empty, err := NewNamedCache[string, int]("c-empty", 4)
	require.NoError(t, err)

	ci := NewCacheInspector(small, big)
	ci.Track(empty)
	ci.Track(nil)

	view, err := ci.Inspect(context.Background())
	require.NoError(t, err)
	require.Len(t, view.Sections, 4)

	summary := view.Sections[0].Table
	require.Len(t, summary.Rows, 3)
	assert.Equal(t, []string{"a-big", "25", "64", "0", "0", "0", "0.0%"}, summary.Rows[0])

	bigKeys := view.Sections[1]
	assert.Equal(t, "a-big keys", bigKeys.Title)
	lines := strings.Split(bigKeys.Note, "\n")
	assert.Len(t, lines, maxListedKeys+1)
	assert.Equal(t, "24", lines[0])
	assert.Equal(t, fmt.Sprintf("… %d more", 25-maxListedKeys), lines[maxListedKeys])
	assert.Equal(t, "empty", view.Sections[3].Note)
}

func TestCacheInspectorWithoutCaches(t *testing.T) {
	view, err := NewCacheInspector().Inspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "no caches registered", view.Sections[0].Note)
}

func TestViewMarkdown(t *testing.T) {
	view := View{
		Title: "Framework Caches",
		Sections: []Section{
			{Title: "Summary", Fields: []Field{{Name: "Caches", Value: "2"}}},
			{Title: "Caches", Table: &Table{Columns: []string{"Cache", "Entries"}, Rows: [][]string{{"seo_pages", "1|2"}}}},
			{Title: "Keys", Note: "a\nb"},
		},
	}
	assert.Equal(t, "# Framework Caches\n"+
		"\n## Summary\n\n- **Caches**: 2\n"+
		"\n## Caches\n\n| Cache | Entries |\n| --- | --- |\n| seo\\_pages | 1\\|2 |\n"+
		"\n## Keys\n\n> a\n> b\n", view.Markdown())
}
