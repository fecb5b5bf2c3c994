package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-service-store/pagination"
	"github.com/goliatone/go-service-store/query"
	"github.com/goliatone/go-service-store/record"
	"github.com/goliatone/go-service-store/store"
	"github.com/goliatone/go-service-store/transport"
)

// FindParams are the arguments of a remote find.
type FindParams struct {
	Query query.Query
	// QID names the pagination ledger entry a paginated answer is recorded
	// under; empty means "default".
	QID   string
	Extra map[string]any
}

// FindResult is a find answer mapped onto the cached records.
type FindResult struct {
	Data      []*record.Record
	Total     int
	Limit     int
	Skip      int
	Paginated bool
	// Pagination is set for paginated answers.
	Pagination pagination.Info
}

// GetParams are the arguments of a remote get.
type GetParams struct {
	Query query.Query
	Extra map[string]any
	// Force skips the SkipRequestIfExists short circuit.
	Force bool
}

// settle closes the lifecycle opened by Begin. A failure is recorded on the
// store and returned unchanged.
func (c *Collection) settle(verb store.Verb, err error) error {
	if err == nil {
		c.store.Succeed(verb)
		return nil
	}
	info := c.store.Fail(verb, err)
	c.logger.Warn("service: call failed", "verb", string(verb), "error_name", info.Name, "error", err)
	return err
}

// Find queries the remote and ingests the answer. Paginated answers are
// recorded in the pagination ledger; with AutoRemove a bare list replaces
// the cached real records. A failure leaves the store untouched.
func (c *Collection) Find(ctx context.Context, params FindParams) (FindResult, error) {
	if c.remote == nil {
		return FindResult{}, ErrNoTransport
	}
	c.store.Begin(store.VerbFind)
	page, err := c.remote.Find(ctx, transport.Params{Query: params.Query.Clone(), Extra: params.Extra})
	if err != nil {
		return FindResult{}, c.settle(store.VerbFind, err)
	}

	res := FindResult{Total: page.Total, Limit: page.Limit, Skip: page.Skip, Paginated: page.Paginated}
	if page.Paginated {
		meta := pagination.Meta{
			Total:    page.Total,
			Limit:    page.Limit,
			Skip:     page.Skip,
			HasLimit: page.HasLimit,
			HasSkip:  page.HasSkip,
		}
		data, info := c.store.IngestPage(params.QID, params.Query, meta, page.Data)
		res.Data, res.Pagination = compact(data), info
	} else {
		res.Data = compact(c.store.Upsert(page.Data...))
		res.Total = len(res.Data)
		if c.cfg.AutoRemove {
			if removed := c.store.Retain(c.keys(res.Data)...); len(removed) > 0 {
				c.logger.Debug("service: auto removed records", "count", len(removed))
			}
		}
	}
	c.store.Succeed(store.VerbFind)
	return res, nil
}

// Get fetches one record. With SkipRequestIfExists a cached record is
// returned at once and refreshed in the background; see Wait. No refresh
// starts once the collection is closed.
func (c *Collection) Get(ctx context.Context, id any, params GetParams) (*record.Record, error) {
	if c.remote == nil {
		return nil, ErrNoTransport
	}
	if c.cfg.SkipRequestIfExists && !params.Force {
		if r, ok := c.store.Get(id); ok {
			c.refresh(ctx, id, params)
			return r, nil
		}
	}
	return c.fetch(ctx, id, params)
}

func (c *Collection) fetch(ctx context.Context, id any, params GetParams) (*record.Record, error) {
	c.store.Begin(store.VerbGet)
	r, err := c.remote.Get(ctx, id, transport.Params{Query: params.Query.Clone(), Extra: params.Extra})
	if err != nil {
		return nil, c.settle(store.VerbGet, err)
	}
	out := c.ingest(r)
	c.store.Succeed(store.VerbGet)
	return out, nil
}

func (c *Collection) refresh(ctx context.Context, id any, params GetParams) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	ctx = context.WithoutCancel(ctx)
	c.refreshes.Add(1)
	go func() {
		defer c.refreshes.Done()
		if _, err := c.fetch(ctx, id, params); err != nil {
			c.logger.Debug("service: background refresh failed", "id", id, "error", err)
		}
	}()
}

// Create sends one record. See CreateMany.
func (c *Collection) Create(ctx context.Context, r *record.Record, params transport.Params) (*record.Record, error) {
	out, err := c.CreateMany(ctx, []*record.Record{r}, params)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

// CreateMany stores records without a real id as temps, sends them and
// promotes each temp with the answer at the same position. The record
// objects given by the caller are the ones that end up cached. On failure
// the temps stay in the store.
func (c *Collection) CreateMany(ctx context.Context, recs []*record.Record, params transport.Params) ([]*record.Record, error) {
	if c.remote == nil {
		return nil, ErrNoTransport
	}
	if len(recs) == 0 {
		return []*record.Record{}, nil
	}

	res := c.store.Resolver()
	temps := make([]string, len(recs))
	payload := make([]*record.Record, len(recs))
	for i, r := range recs {
		if r == nil {
			return nil, fmt.Errorf("%w: create at %d", ErrNilRecord, i)
		}
		if r.IsClone() {
			canonical, err := c.store.Commit(r)
			if err != nil {
				return nil, err
			}
			r = canonical
		}
		if _, ok := res.RealID(r); !ok {
			if added := c.store.AddOne(r); added != nil {
				temps[i], _ = res.TempID(added)
				r = added
			}
		}
		payload[i] = c.payload(r)
	}

	c.store.Begin(store.VerbCreate)
	created, err := c.remote.Create(ctx, payload, params)
	if err != nil {
		return nil, c.settle(store.VerbCreate, err)
	}

	out := make([]*record.Record, len(created))
	for i, r := range created {
		if i < len(temps) && temps[i] != "" {
			promoted, err := c.store.Promote(temps[i], r)
			switch {
			case err == nil:
				out[i] = promoted
				continue
			case errors.Is(err, store.ErrRecordNotFound):
				// an echoed created event promoted the temp first
			default:
				c.logger.Warn("service: create answer not promoted", "temp_id", temps[i], "error", err)
			}
		}
		out[i] = c.ingest(r)
	}
	c.store.Succeed(store.VerbCreate)
	return out, nil
}

// Update replaces the remote record with r.
func (c *Collection) Update(ctx context.Context, id any, r *record.Record, params transport.Params) (*record.Record, error) {
	if c.remote == nil {
		return nil, ErrNoTransport
	}
	if r == nil {
		return nil, fmt.Errorf("%w: update %v", ErrNilRecord, id)
	}
	c.store.Begin(store.VerbUpdate)
	out, err := c.remote.Update(ctx, id, c.payload(r), params)
	if err != nil {
		return nil, c.settle(store.VerbUpdate, err)
	}
	final := c.ingest(out)
	c.store.Succeed(store.VerbUpdate)
	return final, nil
}

// Patch sends data as a partial update. With DiffOnPatch only the fields
// that differ from the cached record are sent.
func (c *Collection) Patch(ctx context.Context, id any, data *record.Record, params transport.Params) (*record.Record, error) {
	return c.patch(ctx, id, data, nil, params)
}

// PatchFrom is Patch with DiffOnPatch comparing against previous instead of
// the cached record.
func (c *Collection) PatchFrom(ctx context.Context, id any, data, previous *record.Record, params transport.Params) (*record.Record, error) {
	return c.patch(ctx, id, data, previous, params)
}

func (c *Collection) patch(ctx context.Context, id any, data, previous *record.Record, params transport.Params) (*record.Record, error) {
	if c.remote == nil {
		return nil, ErrNoTransport
	}
	if data == nil {
		return nil, fmt.Errorf("%w: patch %v", ErrNilRecord, id)
	}

	body := c.payload(data)
	if c.cfg.DiffOnPatch {
		if previous == nil {
			previous, _ = c.store.Get(id)
		}
		if previous != nil {
			body = c.diff(c.payload(previous), body)
			if body.Len() == 0 {
				cur, _ := c.store.Get(id)
				return cur, nil
			}
		}
	}

	c.store.Begin(store.VerbPatch)
	out, err := c.remote.Patch(ctx, id, body, params)
	if err != nil {
		return nil, c.settle(store.VerbPatch, err)
	}
	final := c.ingest(out)
	c.store.Succeed(store.VerbPatch)
	return final, nil
}

// Remove deletes the remote record, then the cached record and its copy.
func (c *Collection) Remove(ctx context.Context, id any, params transport.Params) (*record.Record, error) {
	if c.remote == nil {
		return nil, ErrNoTransport
	}
	c.store.Begin(store.VerbRemove)
	out, err := c.remote.Remove(ctx, id, params)
	if err != nil {
		return nil, c.settle(store.VerbRemove, err)
	}
	c.store.RemoveOne(id)
	c.store.Succeed(store.VerbRemove)
	return out, nil
}

// Save creates r when it has no real id. Otherwise it patches, or updates
// when PreferUpdate is set.
func (c *Collection) Save(ctx context.Context, r *record.Record, params transport.Params) (*record.Record, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: save", ErrNilRecord)
	}
	id, ok := c.store.Resolver().RealID(r)
	if !ok {
		return c.Create(ctx, r, params)
	}
	if c.cfg.PreferUpdate {
		return c.Update(ctx, id.Raw, r, params)
	}
	return c.Patch(ctx, id.Raw, r, params)
}

// ingest upserts an answer and returns the cached instance. Answers without
// an identity are returned as received.
func (c *Collection) ingest(r *record.Record) *record.Record {
	if r == nil {
		return nil
	}
	if out := c.store.Upsert(r)[0]; out != nil {
		return out
	}
	return r
}

// payload detaches r for the wire. Cached records are read under the store
// lock.
func (c *Collection) payload(r *record.Record) *record.Record {
	var fields map[string]any
	c.store.View(r, func(cur *record.Record) {
		if cur == r {
			fields = cur.Map()
		}
	})
	if fields == nil {
		fields = r.Map()
	}
	return record.New(fields)
}

// diff keeps the top level fields of next that differ from prev. Id fields
// are never part of a diff.
func (c *Collection) diff(prev, next *record.Record) *record.Record {
	res := c.store.Resolver()
	skip := map[string]bool{res.TempField(): true}
	for _, f := range res.Fields() {
		skip[f] = true
	}
	out := record.New(nil)
	for _, k := range next.Keys() {
		if skip[k] {
			continue
		}
		v := next.Value(k)
		if old, ok := prev.Get(k); ok && query.Equal(old, v) {
			continue
		}
		out.Set(k, v)
	}
	return out
}

func (c *Collection) keys(recs []*record.Record) []string {
	res := c.store.Resolver()
	keys := make([]string, 0, len(recs))
	for _, r := range recs {
		if id, ok := res.RealID(r); ok {
			keys = append(keys, id.Key)
		}
	}
	return keys
}

func compact(recs []*record.Record) []*record.Record {
	out := make([]*record.Record, 0, len(recs))
	for _, r := range recs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
