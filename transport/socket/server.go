package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goliatone/go-service-store/record"
	"github.com/goliatone/go-service-store/transport"
)

// Server serves transport.Service values over websocket connections.
type Server struct {
	services map[string]transport.Service
	upgrader websocket.Upgrader
	opts     options
	logger   *slog.Logger

	mu     sync.Mutex
	conns  map[*peer]struct{}
	unsubs []func()
	closed bool
}

type peer struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	timeout time.Duration
}

func (p *peer) write(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("socket: encode %s frame: %w", f.Kind, err)
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.timeout > 0 {
		p.ws.SetWriteDeadline(time.Now().Add(p.timeout))
	}
	return p.ws.WriteMessage(websocket.TextMessage, data)
}

// NewServer serves services keyed by path. Services that are also a
// transport.EventSource have their events broadcast to every connection.
func NewServer(services map[string]transport.Service, opts ...Option) *Server {
	o := buildOptions(opts)
	s := &Server{
		services: make(map[string]transport.Service, len(services)),
		opts:     o,
		logger:   o.logger.With("transport", "socket"),
		conns:    make(map[*peer]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: o.settings.HandshakeTimeout,
		CheckOrigin:      o.checkOrigin,
	}
	if s.upgrader.CheckOrigin == nil {
		s.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	for path, svc := range services {
		path = cleanPath(path)
		s.services[path] = svc
		if src, ok := svc.(transport.EventSource); ok {
			s.unsubs = append(s.unsubs, src.Subscribe(func(ev transport.Event) {
				s.Broadcast(path, ev)
			}))
		}
	}
	return s
}

// Broadcast pushes ev to every connection.
func (s *Server) Broadcast(path string, ev transport.Event) {
	f := Frame{Kind: KindEvent, Path: cleanPath(path), Event: ev.Type}
	if ev.Record != nil {
		data, err := json.Marshal(ev.Record)
		if err != nil {
			s.logger.Warn("socket: encode event", "path", path, "event", ev.Type, "error", err)
			return
		}
		f.Data = data
	}

	s.mu.Lock()
	peers := make([]*peer, 0, len(s.conns))
	for p := range s.conns {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		if err := p.write(f); err != nil {
			s.logger.Warn("socket: broadcast failed", "path", path, "error", err)
			s.drop(p)
		}
	}
}

// ServeHTTP upgrades the request and serves calls until the peer leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("socket: upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	p := &peer{ws: ws, timeout: s.opts.settings.WriteTimeout}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ws.Close()
		return
	}
	s.conns[p] = struct{}{}
	s.mu.Unlock()
	defer s.drop(p)

	var calls sync.WaitGroup
	defer calls.Wait()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("socket: peer lost", "remote", r.RemoteAddr, "error", err)
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn("socket: dropping malformed frame", "remote", r.RemoteAddr, "error", err)
			continue
		}
		if f.Kind != KindCall {
			continue
		}
		calls.Add(1)
		go func() {
			defer calls.Done()
			if err := p.write(s.dispatch(ctx, f)); err != nil {
				s.logger.Warn("socket: reply failed", "path", f.Path, "method", f.Method, "error", err)
			}
		}()
	}
}

func (s *Server) dispatch(ctx context.Context, f Frame) Frame {
	reply := Frame{Seq: f.Seq, Kind: KindResult, Path: f.Path}
	out, err := s.invoke(ctx, f)
	if err != nil {
		reply.Error = remoteErrorOf(err)
		if reply.Error.Code >= http.StatusInternalServerError {
			s.logger.Warn("socket: call failed", "path", f.Path, "method", f.Method, "error", err)
		}
		return reply
	}
	data, err := json.Marshal(out)
	if err != nil {
		reply.Error = remoteErrorOf(err)
		return reply
	}
	reply.Data = data
	return reply
}

func (s *Server) invoke(ctx context.Context, f Frame) (any, error) {
	svc, ok := s.services[cleanPath(f.Path)]
	if !ok {
		return nil, &RemoteError{Name: "NotFound", Message: fmt.Sprintf("no service at %q", f.Path), Code: http.StatusNotFound}
	}
	params := transport.Params{Query: f.Query}

	switch f.Method {
	case MethodFind:
		return svc.Find(ctx, params)
	case MethodGet:
		return svc.Get(ctx, f.ID, params)
	case MethodCreate:
		var data []*record.Record
		if err := json.Unmarshal(f.Data, &data); err != nil {
			return nil, badRequest(err)
		}
		return svc.Create(ctx, data, params)
	case MethodUpdate, MethodPatch:
		data := record.New(nil)
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, data); err != nil {
				return nil, badRequest(err)
			}
		}
		if f.Method == MethodUpdate {
			return svc.Update(ctx, f.ID, data, params)
		}
		return svc.Patch(ctx, f.ID, data, params)
	case MethodRemove:
		return svc.Remove(ctx, f.ID, params)
	}
	return nil, &RemoteError{Name: "MethodNotAllowed", Message: fmt.Sprintf("unknown method %q", f.Method), Code: http.StatusMethodNotAllowed}
}

func badRequest(err error) error {
	return &RemoteError{Name: "BadRequest", Message: err.Error(), Code: http.StatusBadRequest}
}

func (s *Server) drop(p *peer) {
	s.mu.Lock()
	_, ok := s.conns[p]
	delete(s.conns, p)
	s.mu.Unlock()
	if ok {
		p.ws.Close()
	}
}

// Close stops broadcasting and closes every connection.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	peers := make([]*peer, 0, len(s.conns))
	for p := range s.conns {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	for _, p := range peers {
		p.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = p.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
		p.writeMu.Unlock()
		s.drop(p)
	}
	return nil
}
