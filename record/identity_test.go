package record

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_RealIDOrder(t *testing.T) {
	res := Resolver{IDField: "uuid"}

	tests := []struct {
		name   string
		fields map[string]any
		key    string
		field  string
	}{
		{name: "id wins", fields: map[string]any{"id": 1, "_id": 2, "uuid": "u"}, key: "1", field: "id"},
		{name: "_id next", fields: map[string]any{"_id": 2, "uuid": "u"}, key: "2", field: "_id"},
		{name: "custom last", fields: map[string]any{"uuid": "u"}, key: "u", field: "uuid"},
		{name: "nil skipped", fields: map[string]any{"id": nil, "uuid": "u"}, key: "u", field: "uuid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := res.RealID(New(tt.fields))
			require.True(t, ok)
			assert.Equal(t, tt.key, id.Key)
			assert.Equal(t, tt.field, id.Field)
			assert.False(t, id.Temp)
		})
	}
}

func TestResolver_GeneratesTempID(t *testing.T) {
	res := Resolver{}
	r := New(map[string]any{"name": "draft"})

	id, ok := res.Resolve(r)
	require.True(t, ok)
	assert.True(t, id.Temp)
	assert.Equal(t, DefaultTempIDField, id.Field)
	assert.Equal(t, id.Key, r.Value(DefaultTempIDField))

	again, ok := res.Resolve(r)
	require.True(t, ok)
	assert.Equal(t, id.Key, again.Key, "existing temp id is reused")
}

func TestResolver_CustomTempFieldAndGenerator(t *testing.T) {
	res := Resolver{TempIDField: "_tmp", NewTempID: func() string { return "fixed" }}
	r := New(nil)

	id, ok := res.Resolve(r)
	require.True(t, ok)
	assert.Equal(t, "fixed", id.Key)
	assert.Equal(t, "fixed", r.Value("_tmp"))
}

func TestResolver_DisabledTempIDs(t *testing.T) {
	res := Resolver{DisableTempIDs: true}
	_, ok := res.Resolve(New(map[string]any{"name": "x"}))
	assert.False(t, ok)

	id, ok := res.Resolve(New(map[string]any{DefaultTempIDField: "given"}))
	require.True(t, ok)
	assert.Equal(t, "given", id.Key)
}

func TestTempIDGenerators(t *testing.T) {
	objectID := regexp.MustCompile(`^[0-9a-f]{24}$`)
	hex32 := regexp.MustCompile(`^[0-9a-f]{32}$`)

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewObjectID()
		require.Regexp(t, objectID, id)
		require.False(t, seen[id], "duplicate object id %s", id)
		seen[id] = true
	}

	assert.Regexp(t, hex32, UUIDGenerator())
	assert.NotEqual(t, UUIDGenerator(), UUIDGenerator())

	gen := ULIDGenerator()
	prev := gen()
	assert.Len(t, prev, 26)
	for i := 0; i < 100; i++ {
		next := gen()
		require.Greater(t, next, prev, "ulids are monotonic")
		prev = next
	}
}
