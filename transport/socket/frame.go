// Package socket carries the transport contract over a websocket.
//
// Every message is a JSON Frame. A client sends "call" frames numbered by
// Seq; the server answers each with a "result" frame carrying the same Seq,
// and pushes "event" frames whenever a served resource emits
// created/updated/patched/removed. Several resources share one connection and
// are told apart by Path.
//
//	conn, err := socket.Dial(ctx, "ws://localhost:3030/socket")
//	todos := conn.Service("todos") // transport.Service + transport.EventSource
//
// On the server side NewServer exposes a map of transport.Service values and
// broadcasts the events of those that are also a transport.EventSource.
package socket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-service-store/query"
	"github.com/goliatone/go-service-store/transport"
)

// Frame kinds.
const (
	KindCall   = "call"
	KindResult = "result"
	KindEvent  = "event"
)

// Call methods.
const (
	MethodFind   = "find"
	MethodGet    = "get"
	MethodCreate = "create"
	MethodUpdate = "update"
	MethodPatch  = "patch"
	MethodRemove = "remove"
)

// ErrClosed is returned by calls on a closed connection.
var ErrClosed = errors.New("socket: connection closed")

// Frame is one websocket message.
type Frame struct {
	Seq    uint64              `json:"seq,omitempty"`
	Kind   string              `json:"kind"`
	Path   string              `json:"path"`
	Method string              `json:"method,omitempty"`
	ID     any                 `json:"id,omitempty"`
	Query  query.Query         `json:"query,omitempty"`
	Event  transport.EventType `json:"event,omitempty"`
	Data   json.RawMessage     `json:"data,omitempty"`
	Error  *RemoteError        `json:"error,omitempty"`
}

// RemoteError is a failure reported by the server for one call.
type RemoteError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Data    any    `json:"data,omitempty"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("socket: remote %s (%d): %s", e.Name, e.Code, e.Message)
}

// Unwrap maps NotFound failures to transport.ErrNotFound.
func (e *RemoteError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return transport.ErrNotFound
	}
	return nil
}

// ErrorFields exposes the structured fields kept in a store error descriptor.
func (e *RemoteError) ErrorFields() map[string]any {
	fields := map[string]any{"code": e.Code, "name": e.Name}
	if e.Data != nil {
		fields["data"] = e.Data
	}
	return fields
}

type fielder interface {
	ErrorFields() map[string]any
}

func remoteErrorOf(err error) *RemoteError {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote
	}
	out := &RemoteError{Name: "GeneralError", Message: err.Error(), Code: http.StatusInternalServerError}
	switch {
	case errors.Is(err, transport.ErrNotFound):
		out.Name, out.Code = "NotFound", http.StatusNotFound
	case errors.Is(err, query.ErrInvalidOperator), errors.Is(err, query.ErrInvalidQuery):
		out.Name, out.Code = "BadRequest", http.StatusBadRequest
	}
	var f fielder
	if errors.As(err, &f) {
		out.Data = f.ErrorFields()
	}
	return out
}

func cleanPath(path string) string {
	return strings.Trim(path, "/")
}
