package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-service-store/record"
)

func fullName(r *record.Record) any {
	return r.Value("firstName").(string) + " " + r.Value("lastName").(string)
}

func TestInto_PreservesDestinationAccessor(t *testing.T) {
	dst := record.New(map[string]any{"id": 1, "firstName": "Ada", "lastName": "Lovelace"})
	getter := record.Computed(fullName)
	dst.Define("fullName", getter)

	var warnings []string
	src := record.New(map[string]any{"firstName": "Grace", "lastName": "Hopper", "fullName": "plain"})
	out := Into(dst, src, Options{Warn: func(key, reason string) { warnings = append(warnings, key) }})

	require.Same(t, dst, out)
	assert.Equal(t, "Grace Hopper", dst.Value("fullName"))
	a, ok := dst.Accessor("fullName")
	require.True(t, ok)
	assert.Same(t, getter, a)
	assert.Equal(t, []string{"fullName"}, warnings)
}

func TestInto_AccessorReplacesAccessor(t *testing.T) {
	dst := record.New(map[string]any{"n": 1})
	dst.Define("double", record.Computed(func(r *record.Record) any { return r.Value("n").(int) * 2 }))

	src := record.New(nil)
	triple := record.Computed(func(r *record.Record) any { return r.Value("n").(int) * 3 })
	src.Define("double", triple)

	Into(dst, src, Options{})
	assert.Equal(t, 3, dst.Value("double"))
}

func TestInto_SetterReceivesValue(t *testing.T) {
	var got any
	dst := record.New(nil)
	dst.Define("name", &record.Accessor{
		Get: func(r *record.Record) any { return got },
		Set: func(r *record.Record, v any) { got = v },
	})

	Into(dst, record.New(map[string]any{"name": "x"}), Options{})
	assert.Equal(t, "x", got)
}

func TestInto_DeepCopiesNested(t *testing.T) {
	nested := map[string]any{"city": "London"}
	src := record.New(map[string]any{"address": nested, "tags": []any{"a"}})

	dst := Into(record.New(nil), src, Options{})
	nested["city"] = "Paris"
	src.Value("tags").([]any)[0] = "b"

	assert.Equal(t, "London", dst.Value("address").(map[string]any)["city"])
	assert.Equal(t, "a", dst.Value("tags").([]any)[0])
}

func TestInto_ShallowSharesNested(t *testing.T) {
	nested := map[string]any{"city": "London"}
	src := record.New(map[string]any{"address": nested})

	dst := Into(record.New(nil), src, Options{Mode: Shallow})
	nested["city"] = "Paris"
	assert.Equal(t, "Paris", dst.Value("address").(map[string]any)["city"])
}

func TestInto_RecordReferencesAreShared(t *testing.T) {
	owner := record.New(map[string]any{"id": 7})
	dst := Into(record.New(nil), record.New(map[string]any{"owner": owner}), Options{})
	assert.Same(t, owner, dst.Value("owner"))
}

func TestInto_SkipsDeniedKeys(t *testing.T) {
	src := record.New(map[string]any{"__isClone": true, "__ob__": "x", "secret": 1, "keep": 2})
	dst := Into(record.New(nil), src, Options{Deny: []string{"secret"}})
	assert.Equal(t, []string{"keep"}, dst.Keys())
}

func TestInto_Replace(t *testing.T) {
	dst := record.New(map[string]any{"id": 1, "a": 1, "b": 2, "__id": "tmp"})
	dst.Define("computed", record.Computed(func(*record.Record) any { return "c" }))

	Into(dst, record.New(map[string]any{"id": 1, "a": 10}), Options{Replace: true, Keep: []string{"__id"}})
	assert.Equal(t, []string{"__id", "a", "computed", "id"}, dst.Keys())
	assert.Equal(t, 10, dst.Value("a"))
}

func TestInto_ObserverSeesWrites(t *testing.T) {
	type write struct {
		key      string
		old, new any
	}
	var writes []write
	obs := ObserverFunc(func(_ *record.Record, key string, old, value any) {
		writes = append(writes, write{key, old, value})
	})

	dst := record.New(map[string]any{"a": 1})
	Into(dst, record.New(map[string]any{"a": 2, "b": 3}), Options{Observer: obs})

	assert.Equal(t, []write{{"a", 1, 2}, {"b", nil, 3}}, writes)
}

func TestMap(t *testing.T) {
	dst := record.New(map[string]any{"a": 1})
	Map(dst, map[string]any{"b": 2}, Options{})
	assert.Equal(t, 2, dst.Value("b"))
	assert.Same(t, dst, Map(dst, nil, Options{}))
}
