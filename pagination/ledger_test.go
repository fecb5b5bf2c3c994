package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-service-store/query"
)

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestLedger_RecordAndLookup(t *testing.T) {
	l := New(nil)
	q := query.Query{"team": "red", query.KeyLimit: 2, query.KeySkip: 0}

	info := l.Record("", q, Meta{Total: 5, Limit: 2, Skip: 0, HasLimit: true, HasSkip: true}, []string{"1", "2"}, at)
	assert.Equal(t, PageParams{Limit: 2, Skip: 0}, info.PageParams)
	assert.NotContains(t, info.QueryParams, query.KeyLimit)

	page, data, ok := l.Lookup(DefaultQID, query.Query{query.KeySkip: 0, query.KeyLimit: 2, "team": "red"})
	require.True(t, ok)
	assert.Equal(t, []string{"1", "2"}, page.IDs)
	assert.Equal(t, at, page.QueriedAt)
	assert.Equal(t, 5, data.Total)

	_, _, ok = l.Lookup(DefaultQID, query.Query{"team": "red", query.KeyLimit: 2, query.KeySkip: 2})
	assert.False(t, ok, "different page")

	_, _, ok = l.Lookup(DefaultQID, query.Query{"team": "blue", query.KeyLimit: 2})
	assert.False(t, ok, "different filter")

	_, _, ok = l.Lookup("other", q)
	assert.False(t, ok, "different qid")
}

func TestLedger_JSONNumbersShareSignatures(t *testing.T) {
	l := New(nil)
	l.Record("list", query.Query{"age": map[string]any{"$gt": 21}, query.KeyLimit: 10}, Meta{Total: 1}, []string{"a"}, at)

	page, _, ok := l.Lookup("list", query.Query{"age": map[string]any{"$gt": float64(21)}, query.KeyLimit: float64(10)})
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, page.IDs)
}

func TestLedger_SortShapesShareSignatures(t *testing.T) {
	l := New(nil)
	l.Record("", query.Query{query.KeySort: map[string]any{"age": -1}}, Meta{Total: 3}, []string{"3", "2", "1"}, at)

	_, _, ok := l.Lookup("", query.Query{query.KeySort: query.Desc("age")})
	assert.True(t, ok)
}

func TestLedger_DefaultsFromServer(t *testing.T) {
	l := New(nil)
	l.Record("", query.Query{}, Meta{Total: 40, Limit: 10, Skip: 0, HasLimit: true, HasSkip: true}, []string{"1"}, at)

	entry, ok := l.Entry("")
	require.True(t, ok)
	require.NotNil(t, entry.DefaultLimit)
	assert.Equal(t, 10, *entry.DefaultLimit)
	assert.Equal(t, 40, entry.MostRecent.Total)

	page, _, ok := l.Lookup("", query.Query{})
	require.True(t, ok, "lookup falls back to the server defaults")
	assert.Equal(t, PageParams{Limit: 10}, page.Params)
}

func TestLedger_LatestWriteWins(t *testing.T) {
	l := New(nil)
	q := query.Query{query.KeyLimit: 2}
	l.Record("", q, Meta{Total: 4}, []string{"1", "2"}, at)
	l.Record("", q, Meta{Total: 3}, []string{"2", "3"}, at.Add(time.Minute))

	page, data, ok := l.Lookup("", q)
	require.True(t, ok)
	assert.Equal(t, []string{"2", "3"}, page.IDs)
	assert.Equal(t, 3, data.Total)
}

func TestLedger_StateRoundTrip(t *testing.T) {
	l := New(nil)
	l.Record("a", query.Query{query.KeyLimit: 1}, Meta{Total: 1}, []string{"x"}, at)

	state := l.State()
	state["a"].MostRecent.Total = 99

	other := New(nil)
	other.SetState(l.State())
	page, _, ok := other.Lookup("a", query.Query{query.KeyLimit: 1})
	require.True(t, ok)
	assert.Equal(t, []string{"x"}, page.IDs)

	entry, _ := l.Entry("a")
	assert.Equal(t, 1, entry.MostRecent.Total, "State returns copies")

	l.Clear()
	assert.Empty(t, l.QIDs())
}
