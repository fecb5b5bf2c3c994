package bunrepo

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-service-store/query"
)

// Clause is one WHERE fragment with bun placeholders. Column names are passed
// as bun.Ident arguments, never spliced into SQL; list arguments are InList.
type Clause struct {
	SQL  string
	Args []any
}

// InList is a list argument expanded with bun.In when the clause is applied.
type InList []any

func (c Clause) args() []any {
	out := make([]any, len(c.Args))
	for i, a := range c.Args {
		if list, ok := a.(InList); ok {
			out[i] = bun.In([]any(list))
			continue
		}
		out[i] = a
	}
	return out
}

// Order is one ORDER BY entry.
type Order struct {
	Column string
	Desc   bool
}

// Plan is a query compiled for a SQL repository.
type Plan struct {
	Where    []Clause
	Order    []Order
	Columns  []string
	Limit    int
	HasLimit bool
	Offset   int
}

var columnPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Compile translates q into a Plan. Supported: equality, $ne, $in, $nin, $lt,
// $lte, $gt, $gte, $or, $sort, $limit, $skip and $select. columns maps record
// fields to column names; fields missing from a non-empty map are rejected.
func Compile(q query.Query, columns map[string]string) (Plan, error) {
	parsed, err := query.Parse(q, query.Options{})
	if err != nil {
		return Plan{}, err
	}
	c := compiler{columns: columns}

	plan := Plan{Limit: parsed.Limit, HasLimit: parsed.HasLimit, Offset: parsed.Skip}
	plan.Where, err = c.doc(parsed.Filter)
	if err != nil {
		return Plan{}, err
	}
	for _, f := range parsed.Sort {
		col, err := c.column(f.Field)
		if err != nil {
			return Plan{}, err
		}
		plan.Order = append(plan.Order, Order{Column: col, Desc: f.Desc})
	}
	for _, f := range parsed.Select {
		col, err := c.column(strings.TrimSpace(f))
		if err != nil {
			return Plan{}, err
		}
		plan.Columns = append(plan.Columns, col)
	}
	return plan, nil
}

// Criteria renders the plan as repository criteria.
func (p Plan) Criteria() []repository.SelectCriteria {
	var out []repository.SelectCriteria
	for _, w := range p.Where {
		sql, args := w.SQL, w.args()
		out = append(out, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where(sql, args...)
		})
	}
	for _, o := range p.Order {
		out = append(out, func(q *bun.SelectQuery) *bun.SelectQuery {
			if o.Desc {
				return q.OrderExpr("? DESC", bun.Ident(o.Column))
			}
			return q.OrderExpr("? ASC", bun.Ident(o.Column))
		})
	}
	if len(p.Columns) > 0 {
		cols := append([]string(nil), p.Columns...)
		out = append(out, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Column(cols...)
		})
	}
	if p.HasLimit {
		limit := p.Limit
		out = append(out, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Limit(limit)
		})
	}
	if p.Offset > 0 {
		offset := p.Offset
		out = append(out, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Offset(offset)
		})
	}
	return out
}

// Filters renders only the WHERE part, for lookups by id.
func (p Plan) Filters() []repository.SelectCriteria {
	return Plan{Where: p.Where}.Criteria()
}

type compiler struct {
	columns map[string]string
}

func (c compiler) column(field string) (string, error) {
	if len(c.columns) > 0 {
		col, ok := c.columns[field]
		if !ok {
			return "", fmt.Errorf("%w: unknown field %q", query.ErrInvalidQuery, field)
		}
		field = col
	}
	if !columnPattern.MatchString(field) {
		return "", fmt.Errorf("%w: field %q is not a column name", query.ErrInvalidQuery, field)
	}
	return field, nil
}

// doc compiles one filter document into clauses that are ANDed together.
// Keys are visited in lexical order so the SQL is stable.
func (c compiler) doc(doc map[string]any) ([]Clause, error) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Clause
	for _, k := range keys {
		v := doc[k]
		if k == query.OpOr {
			clause, err := c.or(v)
			if err != nil {
				return nil, err
			}
			out = append(out, clause)
			continue
		}
		if strings.HasPrefix(k, "$") {
			return nil, &query.OperatorError{Operator: k}
		}
		col, err := c.column(k)
		if err != nil {
			return nil, err
		}
		clauses, err := c.cond(col, v)
		if err != nil {
			return nil, err
		}
		out = append(out, clauses...)
	}
	return out, nil
}

func (c compiler) or(v any) (Clause, error) {
	branches, _ := v.([]any)
	if len(branches) == 0 {
		return Clause{SQL: "1 = 0"}, nil
	}
	parts := make([]string, 0, len(branches))
	var args []any
	for _, b := range branches {
		m, _ := b.(map[string]any)
		clauses, err := c.doc(m)
		if err != nil {
			return Clause{}, err
		}
		joined := and(clauses)
		parts = append(parts, "("+joined.SQL+")")
		args = append(args, joined.Args...)
	}
	return Clause{SQL: strings.Join(parts, " OR "), Args: args}, nil
}

func and(clauses []Clause) Clause {
	if len(clauses) == 0 {
		return Clause{SQL: "1 = 1"}
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	parts := make([]string, len(clauses))
	var args []any
	for i, cl := range clauses {
		parts[i] = "(" + cl.SQL + ")"
		args = append(args, cl.Args...)
	}
	return Clause{SQL: strings.Join(parts, " AND "), Args: args}
}

var comparisons = map[string]string{
	query.OpLt:  "<",
	query.OpLte: "<=",
	query.OpGt:  ">",
	query.OpGte: ">=",
}

func (c compiler) cond(col string, v any) ([]Clause, error) {
	ops, ok := v.(map[string]any)
	if !ok {
		return []Clause{equals(col, v, false)}, nil
	}
	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)

	var out []Clause
	for _, op := range names {
		arg := ops[op]
		switch op {
		case query.OpNe:
			out = append(out, equals(col, arg, true))
		case query.OpIn, query.OpNin:
			items, ok := list(arg)
			if !ok {
				return nil, fmt.Errorf("%w: %s on %q must be a list", query.ErrInvalidQuery, op, col)
			}
			switch {
			case len(items) == 0 && op == query.OpIn:
				out = append(out, Clause{SQL: "1 = 0"})
			case len(items) == 0:
			case op == query.OpIn:
				out = append(out, Clause{SQL: "? IN (?)", Args: []any{bun.Ident(col), InList(items)}})
			default:
				out = append(out, Clause{SQL: "? NOT IN (?)", Args: []any{bun.Ident(col), InList(items)}})
			}
		default:
			sym, ok := comparisons[op]
			if !ok {
				return nil, &query.OperatorError{Operator: op, Path: col}
			}
			out = append(out, Clause{SQL: "? " + sym + " ?", Args: []any{bun.Ident(col), arg}})
		}
	}
	return out, nil
}

func equals(col string, v any, negate bool) Clause {
	if v == nil {
		if negate {
			return Clause{SQL: "? IS NOT NULL", Args: []any{bun.Ident(col)}}
		}
		return Clause{SQL: "? IS NULL", Args: []any{bun.Ident(col)}}
	}
	if negate {
		return Clause{SQL: "? != ?", Args: []any{bun.Ident(col), v}}
	}
	return Clause{SQL: "? = ?", Args: []any{bun.Ident(col), v}}
}

func list(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
