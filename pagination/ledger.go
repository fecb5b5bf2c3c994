// Package pagination remembers which ids each paginated find returned, so a
// page can be answered again from the cache with current record data.
package pagination

import (
	"time"

	"github.com/goliatone/go-service-store/cache"
	"github.com/goliatone/go-service-store/query"
)

// DefaultQID names the entry used when a find does not pass one.
const DefaultQID = "default"

// PageParams is the $limit/$skip pair of one page. Limit 0 means no limit.
type PageParams struct {
	Limit int `msgpack:"limit" json:"limit"`
	Skip  int `msgpack:"skip" json:"skip"`
}

// Page is the id list the server returned for one page.
type Page struct {
	Params    PageParams `msgpack:"params" json:"params"`
	IDs       []string   `msgpack:"ids" json:"ids"`
	QueriedAt time.Time  `msgpack:"queried_at" json:"queriedAt"`
}

// QueryData groups the pages fetched for one filter.
type QueryData struct {
	Total       int              `msgpack:"total" json:"total"`
	QueryParams query.Query      `msgpack:"query_params" json:"queryParams"`
	Pages       map[string]*Page `msgpack:"pages" json:"pages"`
}

// MostRecent describes the latest find recorded under a qid.
type MostRecent struct {
	Query       query.Query `msgpack:"query" json:"query"`
	QueryID     string      `msgpack:"query_id" json:"queryId"`
	QueryParams query.Query `msgpack:"query_params" json:"queryParams"`
	PageID      string      `msgpack:"page_id" json:"pageId"`
	PageParams  PageParams  `msgpack:"page_params" json:"pageParams"`
	QueriedAt   time.Time   `msgpack:"queried_at" json:"queriedAt"`
	Total       int         `msgpack:"total" json:"total"`
}

// Entry is the ledger state of one qid.
type Entry struct {
	MostRecent *MostRecent `msgpack:"most_recent" json:"mostRecent"`
	// DefaultLimit and DefaultSkip are what the server reported for finds
	// that did not pass $limit or $skip.
	DefaultLimit *int                  `msgpack:"default_limit" json:"defaultLimit,omitempty"`
	DefaultSkip  *int                  `msgpack:"default_skip" json:"defaultSkip,omitempty"`
	Queries      map[string]*QueryData `msgpack:"queries" json:"queries"`
}

// Meta is the page metadata from a find response. A zero Has* flag means the
// server did not report the value.
type Meta struct {
	Total    int
	Limit    int
	Skip     int
	HasLimit bool
	HasSkip  bool
}

// Info is the signature pair a query resolves to.
type Info struct {
	QueryID     string
	QueryParams query.Query
	PageID      string
	PageParams  PageParams
}

// Ledger maps qid -> query signature -> page signature -> ids. It is not
// safe for concurrent writes; the store serializes access under its lock.
// Entries are never invalidated by writes: a page stays as recorded until a
// find with the same signatures replaces it.
type Ledger struct {
	serializer cache.KeySerializer
	entries    map[string]*Entry
}

// New builds an empty ledger. A nil serializer uses cache.NewDefaultKeySerializer.
func New(serializer cache.KeySerializer) *Ledger {
	if serializer == nil {
		serializer = cache.NewDefaultKeySerializer()
	}
	return &Ledger{serializer: serializer, entries: make(map[string]*Entry)}
}

func qidOr(qid string) string {
	if qid == "" {
		return DefaultQID
	}
	return qid
}

// Info derives the query and page signatures for q. Page params come from the
// response metadata first and the query second.
func (l *Ledger) Info(q query.Query, meta Meta) Info {
	params := q.Without(query.KeyLimit, query.KeySkip).Clone()
	page := PageParams{}
	if meta.HasLimit {
		page.Limit = meta.Limit
	} else if n, ok := intParam(q, query.KeyLimit); ok {
		page.Limit = n
	}
	if meta.HasSkip {
		page.Skip = meta.Skip
	} else if n, ok := intParam(q, query.KeySkip); ok {
		page.Skip = n
	}
	return Info{
		QueryID:     l.queryID(signatureParams(params)),
		QueryParams: params,
		PageID:      l.pageID(page),
		PageParams:  page,
	}
}

func (l *Ledger) queryID(params query.Query) string {
	return l.serializer.SerializeKey("query", map[string]any(params))
}

func (l *Ledger) pageID(p PageParams) string {
	return l.serializer.SerializeKey("page", p.Limit, p.Skip)
}

// Record stores the ids a paginated find returned.
func (l *Ledger) Record(qid string, q query.Query, meta Meta, ids []string, at time.Time) Info {
	qid = qidOr(qid)
	info := l.Info(q, meta)

	entry := l.entries[qid]
	if entry == nil {
		entry = &Entry{Queries: make(map[string]*QueryData)}
		l.entries[qid] = entry
	}
	if _, ok := q[query.KeyLimit]; !ok && meta.HasLimit {
		n := meta.Limit
		entry.DefaultLimit = &n
	}
	if _, ok := q[query.KeySkip]; !ok && meta.HasSkip {
		n := meta.Skip
		entry.DefaultSkip = &n
	}

	entry.MostRecent = &MostRecent{
		Query:       q.Clone(),
		QueryID:     info.QueryID,
		QueryParams: info.QueryParams,
		PageID:      info.PageID,
		PageParams:  info.PageParams,
		QueriedAt:   at,
		Total:       meta.Total,
	}

	data := entry.Queries[info.QueryID]
	if data == nil {
		data = &QueryData{Pages: make(map[string]*Page)}
		entry.Queries[info.QueryID] = data
	}
	data.Total = meta.Total
	data.QueryParams = info.QueryParams
	data.Pages[info.PageID] = &Page{
		Params:    info.PageParams,
		IDs:       append([]string(nil), ids...),
		QueriedAt: at,
	}
	return info
}

// Lookup returns the page recorded for q under qid. Missing $limit and $skip
// fall back to the defaults the server reported for the entry.
func (l *Ledger) Lookup(qid string, q query.Query) (*Page, *QueryData, bool) {
	entry := l.entries[qidOr(qid)]
	if entry == nil {
		return nil, nil, false
	}

	meta := Meta{}
	if _, ok := q[query.KeyLimit]; !ok && entry.DefaultLimit != nil {
		meta.Limit, meta.HasLimit = *entry.DefaultLimit, true
	}
	if _, ok := q[query.KeySkip]; !ok && entry.DefaultSkip != nil {
		meta.Skip, meta.HasSkip = *entry.DefaultSkip, true
	}
	info := l.Info(q, meta)

	data := entry.Queries[info.QueryID]
	if data == nil {
		return nil, nil, false
	}
	page := data.Pages[info.PageID]
	if page == nil {
		return nil, data, false
	}
	return page, data, true
}

// Entry returns a copy of the entry for qid.
func (l *Ledger) Entry(qid string) (Entry, bool) {
	entry := l.entries[qidOr(qid)]
	if entry == nil {
		return Entry{}, false
	}
	return *copyEntry(entry), true
}

// QIDs lists the recorded qids.
func (l *Ledger) QIDs() []string {
	out := make([]string, 0, len(l.entries))
	for qid := range l.entries {
		out = append(out, qid)
	}
	return out
}

// Clear drops every entry.
func (l *Ledger) Clear() {
	l.entries = make(map[string]*Entry)
}

// State returns a deep copy of every entry, keyed by qid.
func (l *Ledger) State() map[string]*Entry {
	out := make(map[string]*Entry, len(l.entries))
	for qid, e := range l.entries {
		out[qid] = copyEntry(e)
	}
	return out
}

// SetState replaces the ledger content.
func (l *Ledger) SetState(state map[string]*Entry) {
	l.entries = make(map[string]*Entry, len(state))
	for qid, e := range state {
		if e == nil {
			continue
		}
		c := copyEntry(e)
		if c.Queries == nil {
			c.Queries = make(map[string]*QueryData)
		}
		l.entries[qid] = c
	}
}

func copyEntry(e *Entry) *Entry {
	out := &Entry{Queries: make(map[string]*QueryData, len(e.Queries))}
	if e.MostRecent != nil {
		mr := *e.MostRecent
		mr.Query = mr.Query.Clone()
		mr.QueryParams = mr.QueryParams.Clone()
		out.MostRecent = &mr
	}
	if e.DefaultLimit != nil {
		n := *e.DefaultLimit
		out.DefaultLimit = &n
	}
	if e.DefaultSkip != nil {
		n := *e.DefaultSkip
		out.DefaultSkip = &n
	}
	for id, data := range e.Queries {
		d := &QueryData{
			Total:       data.Total,
			QueryParams: data.QueryParams.Clone(),
			Pages:       make(map[string]*Page, len(data.Pages)),
		}
		for pid, p := range data.Pages {
			d.Pages[pid] = &Page{Params: p.Params, IDs: append([]string(nil), p.IDs...), QueriedAt: p.QueriedAt}
		}
		out.Queries[id] = d
	}
	return out
}

// signatureParams normalizes $sort so equivalent sorts share a signature.
func signatureParams(q query.Query) query.Query {
	params := q.Without()
	if raw, ok := params[query.KeySort]; ok {
		if s, err := query.SortOf(raw); err == nil {
			params[query.KeySort] = sortKey(s)
		}
	}
	return params
}

// sortKey renders a sort as an ordered list of "field:dir" strings.
func sortKey(s query.Sort) []any {
	out := make([]any, len(s))
	for i, f := range s {
		dir := "1"
		if f.Desc {
			dir = "-1"
		}
		out[i] = f.Field + ":" + dir
	}
	return out
}

func intParam(q query.Query, key string) (int, bool) {
	v, ok := q[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	p, err := query.Parse(query.Query{key: v}, query.Options{})
	if err != nil {
		return 0, false
	}
	if key == query.KeyLimit {
		return p.Limit, p.HasLimit
	}
	return p.Skip, true
}
