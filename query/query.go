package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/goliatone/go-service-store/record"
)

// Filter keys understood by Run besides field matches.
const (
	KeySort   = "$sort"
	KeyLimit  = "$limit"
	KeySkip   = "$skip"
	KeySelect = "$select"
)

// Query is a MongoDB style filter document.
type Query map[string]any

// Clone returns a deep copy of q.
func (q Query) Clone() Query {
	if q == nil {
		return nil
	}
	out := make(Query, len(q))
	for k, v := range q {
		if s, ok := v.(Sort); ok {
			out[k] = append(Sort(nil), s...)
			continue
		}
		out[k] = record.DeepCopy(v)
	}
	return out
}

// Without returns a shallow copy of q minus keys.
func (q Query) Without(keys ...string) Query {
	out := make(Query, len(q))
	for k, v := range q {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// UnmarshalJSON decodes a JSON object, keeping the key order of $sort.
func (q *Query) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Query, len(raw))
	for k, msg := range raw {
		if k == KeySort {
			var s Sort
			if err := s.UnmarshalJSON(msg); err != nil {
				return fmt.Errorf("query: decode %s: %w", KeySort, err)
			}
			out[k] = s
			continue
		}
		var v any
		if err := json.Unmarshal(msg, &v); err != nil {
			return err
		}
		out[k] = v
	}
	*q = out
	return nil
}

// SortField is one $sort key. Desc is true for -1.
type SortField struct {
	Field string
	Desc  bool
}

// Sort is an ordered $sort specification.
type Sort []SortField

// Asc and Desc build sort specifications fluently:
//
//	query.Asc("lastName").Desc("age")
func Asc(field string) Sort  { return Sort{{Field: field}} }
func Desc(field string) Sort { return Sort{{Field: field, Desc: true}} }

func (s Sort) Asc(field string) Sort  { return append(s, SortField{Field: field}) }
func (s Sort) Desc(field string) Sort { return append(s, SortField{Field: field, Desc: true}) }

// MarshalJSON encodes the sort as an ordered object.
func (s Sort) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Field)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		if f.Desc {
			buf.WriteString(":-1")
		} else {
			buf.WriteString(":1")
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object in key order.
func (s *Sort) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("sort must be an object")
	}
	var out Sort
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		field, _ := tok.(string)
		var dir any
		if err := dec.Decode(&dir); err != nil {
			return err
		}
		desc, err := direction(dir)
		if err != nil {
			return fmt.Errorf("sort %q: %w", field, err)
		}
		out = append(out, SortField{Field: field, Desc: desc})
	}
	*s = out
	return nil
}

// SortOf normalizes the accepted $sort shapes. Plain maps carry no order, so
// their keys are applied in lexical order.
func SortOf(v any) (Sort, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case Sort:
		return t, nil
	case []SortField:
		return Sort(t), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(Sort, 0, len(keys))
		for _, k := range keys {
			desc, err := direction(t[k])
			if err != nil {
				return nil, fmt.Errorf("sort %q: %w", k, err)
			}
			out = append(out, SortField{Field: k, Desc: desc})
		}
		return out, nil
	case map[string]int:
		m := make(map[string]any, len(t))
		for k, d := range t {
			m[k] = d
		}
		return SortOf(m)
	}
	return nil, fmt.Errorf("unsupported sort value %T", v)
}

func direction(v any) (bool, error) {
	if s, ok := v.(string); ok {
		switch strings.ToLower(s) {
		case "asc", "ascending":
			return false, nil
		case "desc", "descending":
			return true, nil
		}
	}
	n, ok := toInt(v)
	if !ok {
		return false, fmt.Errorf("invalid direction %v", v)
	}
	switch {
	case n > 0:
		return false, nil
	case n < 0:
		return true, nil
	}
	return false, fmt.Errorf("invalid direction %v", v)
}

// Params are the read parameters a collection query accepts.
type Params struct {
	Query Query
	// QID names the pagination ledger entry; empty means "default".
	QID string
	// Temps adds temporary records to the candidates.
	Temps bool
	// Copies lets working copies replace their canonical records.
	Copies bool
	// Paginate answers from the pagination ledger instead of scanning.
	Paginate bool
}

// Result is one page of matches.
type Result struct {
	Total int              `json:"total"`
	Limit int              `json:"limit"`
	Skip  int              `json:"skip"`
	Data  []*record.Record `json:"data"`
}
