package query

import (
	"sort"

	"github.com/goliatone/go-service-store/record"
)

// Run filters, sorts, pages and projects candidates. Candidates and q are not
// modified; projected rows are new records.
func Run(candidates []*record.Record, q Query, opts Options) (Result, error) {
	p, err := Parse(q, opts)
	if err != nil {
		return Result{}, err
	}
	return p.Apply(candidates), nil
}

// Apply runs the parsed query over candidates.
func (p *Parsed) Apply(candidates []*record.Record) Result {
	matched := make([]*record.Record, 0, len(candidates))
	for _, r := range candidates {
		if p.Matches(r) {
			matched = append(matched, r)
		}
	}

	res := Result{Total: len(matched), Skip: p.Skip}
	if p.HasLimit {
		res.Limit = p.Limit
	}

	SortRecords(matched, p.Sort)
	res.Data = p.Project(p.window(matched))
	return res
}

func (p *Parsed) window(rows []*record.Record) []*record.Record {
	if p.Skip >= len(rows) {
		return []*record.Record{}
	}
	rows = rows[p.Skip:]
	if p.HasLimit && p.Limit < len(rows) {
		rows = rows[:p.Limit]
	}
	return rows
}

// SortRecords stable sorts rows in place by s. Dotted paths are supported.
func SortRecords(rows []*record.Record, s Sort) {
	if len(s) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, f := range s {
			a, aok := rows[i].Lookup(f.Field)
			b, bok := rows[j].Lookup(f.Field)
			c := sortCompare(a, aok, b, bok)
			if c == 0 {
				continue
			}
			if f.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Project applies $select. Without a selection rows are returned unchanged.
func (p *Parsed) Project(rows []*record.Record) []*record.Record {
	if len(p.Select) == 0 {
		return rows
	}
	keep := p.projectedFields()
	out := make([]*record.Record, len(rows))
	for i, r := range rows {
		projected := record.New(make(map[string]any, len(keep)))
		for _, field := range keep {
			if v, ok := r.Get(field); ok {
				projected.Set(field, record.DeepCopy(v))
			}
		}
		projected.MarkTemp(r.IsTemp())
		projected.MarkClone(r.IsClone())
		out[i] = projected
	}
	return out
}

func (p *Parsed) projectedFields() []string {
	ids := p.opts.IDFields
	if len(ids) == 0 {
		ids = []string{"id", "_id"}
	}
	temp := p.opts.TempIDField
	if temp == "" {
		temp = record.DefaultTempIDField
	}

	candidates := make([]string, 0, len(ids)+1+len(p.Select))
	candidates = append(candidates, ids...)
	candidates = append(candidates, temp)
	candidates = append(candidates, p.Select...)

	fields := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, f := range candidates {
		if !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	return fields
}
