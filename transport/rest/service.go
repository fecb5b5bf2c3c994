// Package rest talks to a resource over HTTP:
//
//	find    GET    /path?query
//	get     GET    /path/:id
//	create  POST   /path
//	update  PUT    /path/:id
//	patch   PATCH  /path/:id
//	remove  DELETE /path/:id
//
// Queries use bracket notation (see EncodeQuery). The Client retries 408, 429,
// 5xx and network failures with exponential backoff; NewHandler serves any
// transport.Service with the same mapping.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-service-store/record"
	"github.com/goliatone/go-service-store/transport"
)

// ExtraHeaders is the transport.Params.Extra key holding an http.Header added
// to a single call.
const ExtraHeaders = "headers"

// Service is a transport.Service for one resource path.
type Service struct {
	client *Client
	path   string
}

var _ transport.Service = (*Service)(nil)

// NewService binds client to path.
func NewService(client *Client, path string) *Service {
	return &Service{client: client, path: "/" + strings.Trim(path, "/")}
}

// New builds a client for baseURL and binds it to path.
func New(baseURL, path string, opts ...Option) (*Service, error) {
	client, err := NewClient(baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return NewService(client, path), nil
}

// Path returns the resource path.
func (s *Service) Path() string { return s.path }

func (s *Service) itemPath(id any) (string, error) {
	key, ok := record.Key(id)
	if !ok || key == "" {
		return "", fmt.Errorf("rest: invalid id %v", id)
	}
	return s.path + "/" + url.PathEscape(key), nil
}

func (s *Service) do(ctx context.Context, method, path string, params transport.Params, body any) ([]byte, error) {
	req := &Request{Method: method, Path: path, RawQuery: EncodeQuery(params.Query)}
	if h, ok := params.Extra[ExtraHeaders].(http.Header); ok {
		req.Header = h
	}
	if body != nil {
		data, err := jsonMarshal(body)
		if err != nil {
			return nil, fmt.Errorf("rest: encode %s body: %w", method, err)
		}
		req.Body = data
	}
	return s.client.Do(ctx, req)
}

// Find implements transport.Service.
func (s *Service) Find(ctx context.Context, params transport.Params) (transport.Page, error) {
	body, err := s.do(ctx, http.MethodGet, s.path, params, nil)
	if err != nil {
		return transport.Page{}, err
	}
	return transport.DecodePage(body)
}

// Get implements transport.Service.
func (s *Service) Get(ctx context.Context, id any, params transport.Params) (*record.Record, error) {
	path, err := s.itemPath(id)
	if err != nil {
		return nil, err
	}
	body, err := s.do(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, err
	}
	return decodeRecord(body)
}

// Create implements transport.Service. A single record is posted as an
// object, several as a list.
func (s *Service) Create(ctx context.Context, data []*record.Record, params transport.Params) ([]*record.Record, error) {
	var payload any = data
	if len(data) == 1 {
		payload = data[0]
	}
	body, err := s.do(ctx, http.MethodPost, s.path, params, payload)
	if err != nil {
		return nil, err
	}
	return decodeRecords(body)
}

// Update implements transport.Service.
func (s *Service) Update(ctx context.Context, id any, data *record.Record, params transport.Params) (*record.Record, error) {
	return s.write(ctx, http.MethodPut, id, data, params)
}

// Patch implements transport.Service.
func (s *Service) Patch(ctx context.Context, id any, data *record.Record, params transport.Params) (*record.Record, error) {
	return s.write(ctx, http.MethodPatch, id, data, params)
}

// Remove implements transport.Service.
func (s *Service) Remove(ctx context.Context, id any, params transport.Params) (*record.Record, error) {
	return s.write(ctx, http.MethodDelete, id, nil, params)
}

func (s *Service) write(ctx context.Context, method string, id any, data *record.Record, params transport.Params) (*record.Record, error) {
	path, err := s.itemPath(id)
	if err != nil {
		return nil, err
	}
	var payload any
	if data != nil {
		payload = data
	}
	body, err := s.do(ctx, method, path, params, payload)
	if err != nil {
		return nil, err
	}
	return decodeRecord(body)
}

func decodeRecord(body []byte) (*record.Record, error) {
	r := record.New(nil)
	if len(bytes.TrimSpace(body)) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(body, r); err != nil {
		return nil, fmt.Errorf("rest: decode record: %w", err)
	}
	return r, nil
}

func decodeRecords(body []byte) ([]*record.Record, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var out []*record.Record
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("rest: decode records: %w", err)
		}
		return out, nil
	}
	r, err := decodeRecord(body)
	if err != nil {
		return nil, err
	}
	return []*record.Record{r}, nil
}
