package transport

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/goliatone/go-service-store/record"
)

// Page is a find response. Paginated is true when the remote answered with a
// {total, limit, skip, data} envelope instead of a bare list.
type Page struct {
	Data      []*record.Record
	Total     int
	Limit     int
	Skip      int
	Paginated bool
	// HasLimit and HasSkip report which page fields the envelope carried.
	HasLimit bool
	HasSkip  bool
}

// List wraps a bare record list.
func List(data ...*record.Record) Page {
	return Page{Data: data}
}

type envelope struct {
	Total *int             `json:"total"`
	Limit *int             `json:"limit,omitempty"`
	Skip  *int             `json:"skip,omitempty"`
	Data  []*record.Record `json:"data"`
}

// MarshalJSON writes a bare list or an envelope, mirroring DecodePage.
func (p Page) MarshalJSON() ([]byte, error) {
	data := p.Data
	if data == nil {
		data = []*record.Record{}
	}
	if !p.Paginated {
		return json.Marshal(data)
	}
	env := envelope{Total: &p.Total, Data: data}
	if p.HasLimit {
		env.Limit = &p.Limit
	}
	if p.HasSkip {
		env.Skip = &p.Skip
	}
	return json.Marshal(env)
}

// UnmarshalJSON implements json.Unmarshaler with DecodePage.
func (p *Page) UnmarshalJSON(data []byte) error {
	page, err := DecodePage(data)
	if err != nil {
		return err
	}
	*p = page
	return nil
}

// DecodePage parses a find response body. Numbers decode as float64, like
// any JSON payload.
func DecodePage(body []byte) (Page, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return Page{Data: []*record.Record{}}, nil
	}
	if body[0] == '[' {
		var data []*record.Record
		if err := json.Unmarshal(body, &data); err != nil {
			return Page{}, fmt.Errorf("transport: decode list: %w", err)
		}
		return Page{Data: data}, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Page{}, fmt.Errorf("transport: decode page: %w", err)
	}
	page := Page{Data: env.Data, Paginated: env.Total != nil}
	if page.Data == nil {
		page.Data = []*record.Record{}
	}
	if env.Total != nil {
		page.Total = *env.Total
	}
	if env.Limit != nil {
		page.Limit, page.HasLimit = *env.Limit, true
	}
	if env.Skip != nil {
		page.Skip, page.HasSkip = *env.Skip, true
	}
	return page, nil
}
