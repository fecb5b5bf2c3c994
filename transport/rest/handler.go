package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/goliatone/go-service-store/query"
	"github.com/goliatone/go-service-store/record"
	"github.com/goliatone/go-service-store/transport"
)

// HandlerOption configures NewHandler.
type HandlerOption func(*handler)

// WithLogger sets the logger used for failed calls.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

type handler struct {
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewHandler serves every service under its path.
func NewHandler(services map[string]transport.Service, opts ...HandlerOption) http.Handler {
	h := &handler{mux: http.NewServeMux(), logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	for path, svc := range services {
		h.mount("/"+strings.Trim(path, "/"), svc)
	}
	return h.mux
}

func (h *handler) mount(path string, svc transport.Service) {
	h.mux.HandleFunc("GET "+path, func(w http.ResponseWriter, r *http.Request) {
		params, ok := h.params(w, r)
		if !ok {
			return
		}
		page, err := svc.Find(r.Context(), params)
		h.reply(w, r, http.StatusOK, page, err)
	})
	h.mux.HandleFunc("GET "+path+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		params, ok := h.params(w, r)
		if !ok {
			return
		}
		rec, err := svc.Get(r.Context(), r.PathValue("id"), params)
		h.reply(w, r, http.StatusOK, rec, err)
	})
	h.mux.HandleFunc("POST "+path, func(w http.ResponseWriter, r *http.Request) {
		params, ok := h.params(w, r)
		if !ok {
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			h.fail(w, r, http.StatusBadRequest, "BadRequest", err.Error())
			return
		}
		body = bytes.TrimSpace(body)
		list := len(body) > 0 && body[0] == '['
		data, err := decodeRecords(body)
		if err != nil {
			h.fail(w, r, http.StatusBadRequest, "BadRequest", err.Error())
			return
		}
		created, err := svc.Create(r.Context(), data, params)
		if err == nil && !list && len(created) == 1 {
			h.reply(w, r, http.StatusCreated, created[0], nil)
			return
		}
		h.reply(w, r, http.StatusCreated, created, err)
	})

	write := func(call func(r *http.Request, id string, data *record.Record, params transport.Params) (*record.Record, error), withBody bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			params, ok := h.params(w, r)
			if !ok {
				return
			}
			var data *record.Record
			if withBody {
				body, err := io.ReadAll(r.Body)
				if err == nil {
					data, err = decodeRecord(body)
				}
				if err != nil {
					h.fail(w, r, http.StatusBadRequest, "BadRequest", err.Error())
					return
				}
			}
			rec, err := call(r, r.PathValue("id"), data, params)
			h.reply(w, r, http.StatusOK, rec, err)
		}
	}
	h.mux.HandleFunc("PUT "+path+"/{id}", write(func(r *http.Request, id string, data *record.Record, p transport.Params) (*record.Record, error) {
		return svc.Update(r.Context(), id, data, p)
	}, true))
	h.mux.HandleFunc("PATCH "+path+"/{id}", write(func(r *http.Request, id string, data *record.Record, p transport.Params) (*record.Record, error) {
		return svc.Patch(r.Context(), id, data, p)
	}, true))
	h.mux.HandleFunc("DELETE "+path+"/{id}", write(func(r *http.Request, id string, _ *record.Record, p transport.Params) (*record.Record, error) {
		return svc.Remove(r.Context(), id, p)
	}, false))
}

func (h *handler) params(w http.ResponseWriter, r *http.Request) (transport.Params, bool) {
	q, err := DecodeQuery(r.URL.RawQuery)
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, "BadRequest", err.Error())
		return transport.Params{}, false
	}
	return transport.Params{Query: q, Extra: map[string]any{ExtraHeaders: r.Header.Clone()}}, true
}

func (h *handler) reply(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		code, name := statusOf(err)
		h.fail(w, r, code, name, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("rest: write response", "path", r.URL.Path, "error", err)
	}
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, code int, name, message string) {
	if code >= 500 {
		h.logger.Warn("rest: call failed", "method", r.Method, "path", r.URL.Path, "error", message)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorBody{Name: name, Message: message, Code: code})
}

func statusOf(err error) (int, string) {
	var httpErr *HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.StatusCode, httpErr.Name
	case errors.Is(err, transport.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, query.ErrInvalidOperator), errors.Is(err, query.ErrInvalidQuery):
		return http.StatusBadRequest, "BadRequest"
	}
	return http.StatusInternalServerError, "GeneralError"
}
