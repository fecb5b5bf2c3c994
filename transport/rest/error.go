package rest

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/goliatone/go-service-store/transport"
)

// HTTPError is a non-2xx response. Name and Message come from a JSON error
// body of the form {"name", "message", "code", "data"} when the server sent one.
type HTTPError struct {
	StatusCode int
	Name       string
	Message    string
	Data       any
	Body       []byte
	Header     http.Header
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message != "" {
		return fmt.Sprintf("http error: status=%d %s: %s", e.StatusCode, e.Name, e.Message)
	}
	return fmt.Sprintf("http error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Unwrap maps 404 responses to transport.ErrNotFound.
func (e *HTTPError) Unwrap() error {
	if e != nil && e.StatusCode == http.StatusNotFound {
		return transport.ErrNotFound
	}
	return nil
}

// Retryable reports whether the error should be considered transient.
func (e *HTTPError) Retryable() bool {
	if e == nil {
		return false
	}
	return retryableStatus(e.StatusCode)
}

// ErrorFields exposes the structured fields kept in a store error descriptor.
func (e *HTTPError) ErrorFields() map[string]any {
	fields := map[string]any{"status": e.StatusCode}
	if e.Name != "" {
		fields["name"] = e.Name
	}
	if e.Data != nil {
		fields["data"] = e.Data
	}
	return fields
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout ||
		(code >= 500 && code <= 599)
}

type errorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Data    any    `json:"data,omitempty"`
}

func decodeErrorBody(e *HTTPError) {
	if len(e.Body) == 0 {
		return
	}
	var body errorBody
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return
	}
	e.Name = body.Name
	e.Message = body.Message
	e.Data = body.Data
}
