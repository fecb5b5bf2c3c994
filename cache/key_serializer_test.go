package cache

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-service-store/record"
)

func joinWithSeparator(parts ...string) string {
	return strings.Join(parts, KeySeparator)
}

func TestDefaultKeySerializer_BasicTypes(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	tests := []struct {
		name   string
		method string
		args   []any
		want   string
	}{
		{
			name:   "no args",
			method: "find",
			args:   []any{},
			want:   "find",
		},
		{
			name:   "single int",
			method: "get",
			args:   []any{42},
			want:   joinWithSeparator("get", "42"),
		},
		{
			name:   "multiple basic types",
			method: "find",
			args:   []any{1, "hello", true, 3.14},
			want:   joinWithSeparator("find", "1", `"hello"`, "true", "3.14"),
		},
		{
			name:   "string and number differ",
			method: "get",
			args:   []any{"42"},
			want:   joinWithSeparator("get", `"42"`),
		},
		{
			name:   "integral float matches int",
			method: "get",
			args:   []any{float64(42)},
			want:   joinWithSeparator("get", "42"),
		},
		{
			name:   "json number",
			method: "get",
			args:   []any{json.Number("7")},
			want:   joinWithSeparator("get", "7"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, serializer.SerializeKey(tt.method, tt.args...))
		})
	}
}

func TestDefaultKeySerializer_NilValues(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	var nilSlice []int
	var nilMap map[string]any
	var nilPtr *int

	tests := []struct {
		name string
		arg  any
		want string
	}{
		{name: "nil", arg: nil, want: "nil"},
		{name: "nil slice", arg: nilSlice, want: "slice:nil"},
		{name: "nil map", arg: nilMap, want: "map:nil"},
		{name: "nil pointer", arg: nilPtr, want: "nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, joinWithSeparator("m", tt.want), serializer.SerializeKey("m", tt.arg))
		})
	}
}

func TestDefaultKeySerializer_Collections(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	tests := []struct {
		name string
		arg  any
		want string
	}{
		{name: "slice", arg: []any{1, "a"}, want: `slice[2]:{1,"a"}`},
		{name: "array", arg: [2]int{1, 2}, want: "array[2]:{1,2}"},
		{name: "map sorted", arg: map[string]any{"b": 2, "a": 1}, want: `map[2]:{"a"=1,"b"=2}`},
		{name: "nested", arg: map[string]any{"age": map[string]any{"$gt": 21}}, want: `map[1]:{"age"=map[1]:{"$gt"=21}}`},
		{name: "struct", arg: struct {
			Limit int
			skip  int
		}{Limit: 10, skip: 2}, want: "struct:{Limit:10}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, joinWithSeparator("m", tt.want), serializer.SerializeKey("m", tt.arg))
		})
	}
}

func TestDefaultKeySerializer_QueryFromJSONMatchesGo(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"team":"red","age":{"$gte":21}}`), &decoded))
	built := map[string]any{"age": map[string]any{"$gte": 21}, "team": "red"}

	assert.Equal(t, serializer.SerializeKey("find", built), serializer.SerializeKey("find", decoded))
}

func TestDefaultKeySerializer_TimeAndRecords(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	assert.Equal(t, joinWithSeparator("m", "time:2024-01-02T02:04:05Z"), serializer.SerializeKey("m", ts))

	r := record.New(map[string]any{"id": 1})
	assert.Equal(t, joinWithSeparator("m", `map[1]:{"id"=1}`), serializer.SerializeKey("m", r))
}

func TestDefaultKeySerializer_Pointers(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	n := 5
	assert.Equal(t, joinWithSeparator("m", "5"), serializer.SerializeKey("m", &n))
}

func TestDefaultKeySerializer_Functions(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	fn := func() {}
	key1 := serializer.SerializeKey("m", fn)
	key2 := serializer.SerializeKey("m", fn)
	assert.Equal(t, key1, key2, "function keys should be stable within a process")
	assert.True(t, strings.HasPrefix(key1, joinWithSeparator("m", "func:")), "got %v", key1)
}

func TestDefaultKeySerializer_Stability(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	args := []any{1, "hello", []int{1, 2, 3}, map[string]int{"a": 1, "b": 2, "c": 3}}

	key1 := serializer.SerializeKey("TestMethod", args...)
	for i := 0; i < 20; i++ {
		require.Equal(t, key1, serializer.SerializeKey("TestMethod", args...), "key serialization should be stable across runs")
	}
}

func TestDefaultKeySerializer_Channels(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	ch := make(chan int)
	key := serializer.SerializeKey("m", ch)
	assert.True(t, strings.HasPrefix(key, joinWithSeparator("m", "chan:")), "got %v", key)
}

func BenchmarkDefaultKeySerializer(b *testing.B) {
	serializer := NewDefaultKeySerializer()
	args := []any{1, "benchmark", []int{1, 2, 3}, map[string]any{"age": map[string]any{"$gt": 1}}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		serializer.SerializeKey("find", args...)
	}
}
