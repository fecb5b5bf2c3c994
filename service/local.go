package service

import (
	"github.com/goliatone/go-service-store/pagination"
	"github.com/goliatone/go-service-store/query"
	"github.com/goliatone/go-service-store/record"
	"github.com/goliatone/go-service-store/store"
)

// FindInStore queries the cached records without a remote call.
func (c *Collection) FindInStore(params query.Params) (query.Result, error) {
	return c.store.Find(params)
}

// CountInStore counts the cached records matching params.Query.
func (c *Collection) CountInStore(params query.Params) (int, error) {
	return c.store.Count(params)
}

// GetFromStore returns the cached record for id or temp id.
func (c *Collection) GetFromStore(id any) (*record.Record, bool) {
	return c.store.Get(id)
}

// AddOrUpdate ingests records as if they came from the remote.
func (c *Collection) AddOrUpdate(recs ...*record.Record) []*record.Record {
	return c.store.Upsert(recs...)
}

// RemoveFromStore drops cached records and their copies without a remote
// call.
func (c *Collection) RemoveFromStore(ids ...any) []string {
	return c.store.RemoveMany(ids...)
}

// Clone returns the working copy of id.
func (c *Collection) Clone(id any) (*record.Record, error) {
	return c.store.Clone(id)
}

// Commit writes the working copy of id onto the cached record.
func (c *Collection) Commit(id any) (*record.Record, error) {
	return c.store.Commit(id)
}

// Reset discards the edits made to the working copy of id.
func (c *Collection) Reset(id any) (*record.Record, error) {
	return c.store.Reset(id)
}

// IsPending reports whether a call of verb is in flight.
func (c *Collection) IsPending(verb store.Verb) bool {
	return c.store.IsPending(verb)
}

// ErrorOn returns the error recorded by the last failed call of verb.
func (c *Collection) ErrorOn(verb store.Verb) *store.ErrorInfo {
	return c.store.ErrorOn(verb)
}

// Pagination returns the ledger entry for qid.
func (c *Collection) Pagination(qid string) (pagination.Entry, bool) {
	return c.store.PaginationEntry(qid)
}

// Subscribe delivers store changes. See store.Store.Subscribe.
func (c *Collection) Subscribe(fn func(store.Change)) (cancel func()) {
	return c.store.Subscribe(fn)
}
