package rest

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-service-store/query"
	"github.com/goliatone/go-service-store/record"
)

// EncodeQuery renders q in bracket notation:
//
//	{"age": {"$gt": 21}, "$sort": {"age": -1}}  ->  $sort[age]=-1&age[$gt]=21
//
// Map keys are written in lexical order; a query.Sort keeps its own order.
// Lists use indices (tags[$in][0]=a).
func EncodeQuery(q query.Query) string {
	var pairs []string
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = encodeValue(pairs, url.QueryEscape(k), q[k])
	}
	return strings.Join(pairs, "&")
}

func encodeValue(pairs []string, prefix string, v any) []string {
	switch t := v.(type) {
	case query.Sort:
		for _, f := range t {
			dir := "1"
			if f.Desc {
				dir = "-1"
			}
			pairs = append(pairs, prefix+"["+url.QueryEscape(f.Field)+"]="+dir)
		}
		return pairs
	case []query.SortField:
		return encodeValue(pairs, prefix, query.Sort(t))
	case query.Query:
		return encodeValue(pairs, prefix, map[string]any(t))
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			pairs = encodeValue(pairs, prefix+"["+url.QueryEscape(k)+"]", t[k])
		}
		return pairs
	case map[string]int:
		m := make(map[string]any, len(t))
		for k, n := range t {
			m[k] = n
		}
		return encodeValue(pairs, prefix, m)
	case []any:
		for i, item := range t {
			pairs = encodeValue(pairs, prefix+"["+strconv.Itoa(i)+"]", item)
		}
		return pairs
	case []string:
		for i, item := range t {
			pairs = encodeValue(pairs, prefix+"["+strconv.Itoa(i)+"]", item)
		}
		return pairs
	case []int:
		for i, item := range t {
			pairs = encodeValue(pairs, prefix+"["+strconv.Itoa(i)+"]", item)
		}
		return pairs
	}
	return append(pairs, prefix+"="+url.QueryEscape(scalar(v)))
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	}
	if key, ok := record.Key(v); ok {
		return key
	}
	return fmt.Sprint(v)
}

// DecodeQuery parses bracket notation back into a query. Integer, float,
// boolean and null literals are converted; everything else stays a string.
// $sort keeps the order its fields appear in.
func DecodeQuery(raw string) (query.Query, error) {
	root := map[string]any{}
	var sortFields query.Sort

	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, fmt.Errorf("rest: query key %q: %w", rawKey, err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, fmt.Errorf("rest: query value for %q: %w", key, err)
		}
		path, err := splitKey(key)
		if err != nil {
			return nil, err
		}

		if path[0] == query.KeySort && len(path) == 2 {
			desc := strings.TrimSpace(value) == "-1" || strings.EqualFold(value, "desc")
			sortFields = append(sortFields, query.SortField{Field: path[1], Desc: desc})
			continue
		}
		if err := assign(root, path, coerce(value)); err != nil {
			return nil, fmt.Errorf("rest: query key %q: %w", key, err)
		}
	}

	out := query.Query{}
	for k, v := range root {
		out[k] = listify(v)
	}
	if len(sortFields) > 0 {
		out[query.KeySort] = sortFields
	}
	return out, nil
}

// splitKey turns a[b][c] into [a b c]. An empty segment (a[]) appends.
func splitKey(key string) ([]string, error) {
	head, rest, found := strings.Cut(key, "[")
	if !found {
		return []string{key}, nil
	}
	path := []string{head}
	rest = "[" + rest
	for rest != "" {
		if rest[0] != '[' {
			return nil, fmt.Errorf("rest: malformed query key %q", key)
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, fmt.Errorf("rest: malformed query key %q", key)
		}
		path = append(path, rest[1:end])
		rest = rest[end+1:]
	}
	return path, nil
}

func assign(node map[string]any, path []string, value any) error {
	key := path[0]
	if len(path) == 1 {
		if key == "" {
			key = strconv.Itoa(len(node))
		}
		node[key] = value
		return nil
	}
	if key == "" {
		key = strconv.Itoa(len(node))
	}
	child, ok := node[key].(map[string]any)
	if !ok {
		if _, exists := node[key]; exists {
			return fmt.Errorf("conflicting value at %q", key)
		}
		child = map[string]any{}
		node[key] = child
	}
	return assign(child, path[1:], value)
}

// listify converts maps keyed 0..n-1 into lists.
func listify(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, item := range m {
		m[k] = listify(item)
	}
	if len(m) == 0 {
		return m
	}
	list := make([]any, len(m))
	for k, item := range m {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= len(m) || strconv.Itoa(i) != k {
			return m
		}
		list[i] = item
	}
	return list
}

func coerce(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if i, err := strconv.Atoi(s); err == nil && strconv.Itoa(i) == s {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && strings.ContainsAny(s, ".eE") && !strings.ContainsAny(s, "xXiInN") {
		return f
	}
	return s
}
