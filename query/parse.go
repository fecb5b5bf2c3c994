package query

import (
	"fmt"
	"strings"
)

// Operator names understood by the matcher.
const (
	OpIn        = "$in"
	OpNin       = "$nin"
	OpLt        = "$lt"
	OpLte       = "$lte"
	OpGt        = "$gt"
	OpGte       = "$gte"
	OpNe        = "$ne"
	OpOr        = "$or"
	OpElemMatch = "$elemMatch"
)

var fieldOperators = map[string]bool{
	OpIn: true, OpNin: true, OpLt: true, OpLte: true,
	OpGt: true, OpGte: true, OpNe: true, OpElemMatch: true,
}

var filterKeys = map[string]bool{KeySort: true, KeyLimit: true, KeySkip: true, KeySelect: true}

// OperatorFunc evaluates a whitelisted operator. In field position value is
// the field value (nil when missing); at the top level of a filter it is the
// *record.Record being matched.
type OperatorFunc func(value, arg any) bool

// Options configure how queries are checked and run.
type Options struct {
	// Whitelist lists extra $-prefixed keys the query may carry.
	Whitelist []string
	// ParamsForServer lists top level keys that are removed before matching.
	ParamsForServer []string
	// Operators evaluates whitelisted operators client side. Whitelisted
	// operators without an entry are ignored by the matcher.
	Operators map[string]OperatorFunc
	// IDFields are always kept by $select. Defaults to id and _id.
	IDFields []string
	// TempIDField is always kept by $select. Defaults to __id.
	TempIDField string
}

func (o Options) whitelisted(op string) bool {
	for _, w := range o.Whitelist {
		if w == op {
			return true
		}
	}
	return false
}

func (o Options) evaluator(op string) (OperatorFunc, bool) {
	if !o.whitelisted(op) {
		return nil, false
	}
	fn, ok := o.Operators[op]
	return fn, ok && fn != nil
}

func (o Options) passthrough(key string) bool {
	for _, p := range o.ParamsForServer {
		if p == key {
			return true
		}
	}
	return false
}

// Parsed is a validated query split into its filter and page modifiers.
type Parsed struct {
	Filter   Query
	Sort     Sort
	Limit    int
	HasLimit bool
	Skip     int
	Select   []string

	opts Options
}

// Parse validates q and separates the match filter from $sort, $limit, $skip
// and $select. q is not modified.
func Parse(q Query, opts Options) (*Parsed, error) {
	p := &Parsed{opts: opts}
	filter := make(map[string]any, len(q))

	for k, v := range q {
		if opts.passthrough(k) {
			continue
		}
		switch k {
		case KeySort:
			s, err := SortOf(v)
			if err != nil {
				return nil, invalid("%s: %v", KeySort, err)
			}
			p.Sort = s
		case KeyLimit:
			n, ok := toInt(v)
			if !ok || n < 0 {
				return nil, invalid("%s must be a non-negative integer, got %v", KeyLimit, v)
			}
			p.Limit, p.HasLimit = n, true
		case KeySkip:
			n, ok := toInt(v)
			if !ok || n < 0 {
				return nil, invalid("%s must be a non-negative integer, got %v", KeySkip, v)
			}
			p.Skip = n
		case KeySelect:
			fields, err := selectFields(v)
			if err != nil {
				return nil, err
			}
			p.Select = fields
		default:
			filter[k] = v
		}
	}

	cleaned, err := cleanDoc(filter, "", opts)
	if err != nil {
		return nil, err
	}
	p.Filter = Query(cleaned)
	return p, nil
}

// Validate reports whether q would be accepted by Run.
func Validate(q Query, opts Options) error {
	_, err := Parse(q, opts)
	return err
}

func selectFields(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return trimFields(strings.Split(t, ",")), nil
	case []string:
		return trimFields(t), nil
	case map[string]any:
		out := make([]string, 0, len(t))
		for k, on := range t {
			if n, ok := toInt(on); ok && n == 0 {
				continue
			}
			out = append(out, k)
		}
		return out, nil
	}
	items, ok := toSlice(v)
	if !ok {
		return nil, invalid("%s must be a list of fields, got %T", KeySelect, v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, invalid("%s entries must be strings, got %T", KeySelect, item)
		}
		out = append(out, s)
	}
	return trimFields(out), nil
}

func trimFields(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// cleanDoc validates a filter document (top level, $or branch or
// $elemMatch document) and drops whitelisted operators nobody evaluates.
func cleanDoc(doc map[string]any, path string, opts Options) (map[string]any, error) {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if !strings.HasPrefix(k, "$") {
			cond, keep, err := cleanCond(v, join(path, k), opts)
			if err != nil {
				return nil, err
			}
			if keep {
				out[k] = cond
			}
			continue
		}

		switch {
		case k == OpOr:
			branches, ok := toSlice(v)
			if !ok {
				return nil, invalid("%s at %q must be a list of filters", OpOr, path)
			}
			cleaned := make([]any, 0, len(branches))
			for i, b := range branches {
				m, ok := toMap(b)
				if !ok {
					return nil, invalid("%s branch %d must be an object", OpOr, i)
				}
				c, err := cleanDoc(m, join(path, fmt.Sprintf("%s.%d", OpOr, i)), opts)
				if err != nil {
					return nil, err
				}
				cleaned = append(cleaned, c)
			}
			out[k] = cleaned
		case opts.whitelisted(k):
			if _, ok := opts.evaluator(k); ok {
				out[k] = v
			}
		case fieldOperators[k] || filterKeys[k]:
			return nil, invalid("%s at %q must be applied to a field", k, path)
		default:
			return nil, &OperatorError{Operator: k, Path: path}
		}
	}
	return out, nil
}

// cleanCond validates the condition for one field. keep is false when every
// operator of the condition was a whitelisted one without an evaluator.
func cleanCond(v any, path string, opts Options) (any, bool, error) {
	m, ok := toMap(v)
	if !ok || !isOperatorObject(m) {
		if err := checkNested(v, path, opts); err != nil {
			return nil, false, err
		}
		return v, true, nil
	}

	out := make(map[string]any, len(m))
	for op, arg := range m {
		if !strings.HasPrefix(op, "$") {
			return nil, false, invalid("field %q mixes operators and plain keys", path)
		}
		switch {
		case op == OpIn || op == OpNin:
			if _, ok := toSlice(arg); !ok {
				return nil, false, invalid("%s at %q must be a list", op, path)
			}
			out[op] = arg
		case op == OpElemMatch:
			sub, ok := toMap(arg)
			if !ok {
				return nil, false, invalid("%s at %q must be an object", op, path)
			}
			var cleaned any
			var err error
			if isOperatorObject(sub) {
				var keep bool
				cleaned, keep, err = cleanCond(sub, path, opts)
				if err == nil && !keep {
					continue
				}
			} else {
				cleaned, err = cleanDoc(sub, path, opts)
			}
			if err != nil {
				return nil, false, err
			}
			out[op] = cleaned
		case fieldOperators[op]:
			out[op] = arg
		case opts.whitelisted(op):
			if _, ok := opts.evaluator(op); ok {
				out[op] = arg
			}
		default:
			return nil, false, &OperatorError{Operator: op, Path: path}
		}
	}
	if len(out) == 0 {
		return nil, false, nil
	}
	return out, true, nil
}

// checkNested rejects $ keys hidden inside equality values.
func checkNested(v any, path string, opts Options) error {
	if m, ok := toMap(v); ok {
		for k, item := range m {
			if strings.HasPrefix(k, "$") && !opts.whitelisted(k) {
				return &OperatorError{Operator: k, Path: path}
			}
			if err := checkNested(item, join(path, k), opts); err != nil {
				return err
			}
		}
		return nil
	}
	if items, ok := v.([]any); ok {
		for i, item := range items {
			if err := checkNested(item, join(path, fmt.Sprint(i)), opts); err != nil {
				return err
			}
		}
	}
	return nil
}

func isOperatorObject(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}
