// Package transport defines the contract between a collection and the remote
// service that owns its records.
//
// Implementations live in the sub packages: memory (in process), rest (HTTP),
// socket (websocket) and bunrepo (a go-repository-bun repository). Retries and
// timeouts are the implementation's concern; a collection calls each verb once.
package transport

import (
	"context"
	"errors"

	"github.com/goliatone/go-service-store/query"
	"github.com/goliatone/go-service-store/record"
)

// ErrNotFound is returned by Get, Update, Patch and Remove for unknown ids.
var ErrNotFound = errors.New("transport: record not found")

// Params are passed along with every call.
type Params struct {
	Query query.Query
	// Extra carries implementation specific options, such as headers.
	Extra map[string]any
}

// Service is the remote CRUD surface of one resource.
type Service interface {
	Find(ctx context.Context, params Params) (Page, error)
	Get(ctx context.Context, id any, params Params) (*record.Record, error)
	Create(ctx context.Context, data []*record.Record, params Params) ([]*record.Record, error)
	Update(ctx context.Context, id any, data *record.Record, params Params) (*record.Record, error)
	Patch(ctx context.Context, id any, data *record.Record, params Params) (*record.Record, error)
	Remove(ctx context.Context, id any, params Params) (*record.Record, error)
}

// EventType names a real-time notification.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventPatched EventType = "patched"
	EventRemoved EventType = "removed"
)

// EventTypes lists every event in a fixed order.
var EventTypes = []EventType{EventCreated, EventUpdated, EventPatched, EventRemoved}

// Valid reports whether t is one of the four event types.
func (t EventType) Valid() bool {
	switch t {
	case EventCreated, EventUpdated, EventPatched, EventRemoved:
		return true
	}
	return false
}

// Event is one real-time notification carrying the affected record.
type Event struct {
	Type   EventType      `json:"type"`
	Path   string         `json:"path,omitempty"`
	Record *record.Record `json:"data"`
}

// EventSource delivers events in the order the remote emitted them.
type EventSource interface {
	Subscribe(fn func(Event)) (unsubscribe func())
}
