package socket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goliatone/go-service-store/record"
	"github.com/goliatone/go-service-store/transport"
)

// Service is one resource reached through a Conn.
type Service struct {
	conn *Conn
	path string
}

var _ transport.Service = (*Service)(nil)
var _ transport.EventSource = (*Service)(nil)

// Path returns the resource path.
func (s *Service) Path() string { return s.path }

// Subscribe implements transport.EventSource. Only events for this path are
// delivered.
func (s *Service) Subscribe(fn func(transport.Event)) func() {
	return s.conn.subscribe(s.path, fn)
}

// Find implements transport.Service.
func (s *Service) Find(ctx context.Context, params transport.Params) (transport.Page, error) {
	data, err := s.conn.call(ctx, Frame{Path: s.path, Method: MethodFind, Query: params.Query})
	if err != nil {
		return transport.Page{}, err
	}
	return transport.DecodePage(data)
}

// Get implements transport.Service.
func (s *Service) Get(ctx context.Context, id any, params transport.Params) (*record.Record, error) {
	data, err := s.conn.call(ctx, Frame{Path: s.path, Method: MethodGet, ID: id, Query: params.Query})
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

// Create implements transport.Service.
func (s *Service) Create(ctx context.Context, data []*record.Record, params transport.Params) ([]*record.Record, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("socket: encode create: %w", err)
	}
	reply, err := s.conn.call(ctx, Frame{Path: s.path, Method: MethodCreate, Query: params.Query, Data: payload})
	if err != nil {
		return nil, err
	}
	var out []*record.Record
	if err := json.Unmarshal(reply, &out); err != nil {
		return nil, fmt.Errorf("socket: decode create: %w", err)
	}
	return out, nil
}

// Update implements transport.Service.
func (s *Service) Update(ctx context.Context, id any, data *record.Record, params transport.Params) (*record.Record, error) {
	return s.write(ctx, MethodUpdate, id, data, params)
}

// Patch implements transport.Service.
func (s *Service) Patch(ctx context.Context, id any, data *record.Record, params transport.Params) (*record.Record, error) {
	return s.write(ctx, MethodPatch, id, data, params)
}

// Remove implements transport.Service.
func (s *Service) Remove(ctx context.Context, id any, params transport.Params) (*record.Record, error) {
	return s.write(ctx, MethodRemove, id, nil, params)
}

func (s *Service) write(ctx context.Context, method string, id any, data *record.Record, params transport.Params) (*record.Record, error) {
	f := Frame{Path: s.path, Method: method, ID: id, Query: params.Query}
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("socket: encode %s: %w", method, err)
		}
		f.Data = payload
	}
	reply, err := s.conn.call(ctx, f)
	if err != nil {
		return nil, err
	}
	return decodeRecord(reply)
}

func decodeRecord(data json.RawMessage) (*record.Record, error) {
	r := record.New(nil)
	if len(data) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("socket: decode record: %w", err)
	}
	return r, nil
}
