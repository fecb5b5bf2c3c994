package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goliatone/go-service-store/record"
	"github.com/goliatone/go-service-store/transport"
)

// Settings holds the connection timeouts shared by clients and servers.
type Settings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval is how often a client pings the server. Zero disables pings.
	PingInterval time.Duration
	// ReadTimeout closes a client connection that has seen neither a frame
	// nor a pong for this long. Zero disables it.
	ReadTimeout time.Duration
}

// DefaultSettings returns the settings used when no option overrides them.
func DefaultSettings() Settings {
	return Settings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     15 * time.Second,
		ReadTimeout:      45 * time.Second,
	}
}

type options struct {
	settings    Settings
	logger      *slog.Logger
	header      http.Header
	checkOrigin func(r *http.Request) bool
}

// Option configures Dial or NewServer.
type Option func(*options)

// WithSettings replaces the timeouts.
func WithSettings(s Settings) Option {
	return func(o *options) { o.settings = s }
}

// WithLogger sets the logger for dropped frames and broken connections.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHeader adds headers to the client handshake.
func WithHeader(h http.Header) Option {
	return func(o *options) { o.header = h.Clone() }
}

// WithCheckOrigin overrides the server's origin check. The default accepts
// every origin.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(o *options) { o.checkOrigin = fn }
}

func buildOptions(opts []Option) options {
	o := options{settings: DefaultSettings(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Conn is a client connection. Calls from any goroutine are multiplexed over
// the single websocket.
type Conn struct {
	ws     *websocket.Conn
	opts   options
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]chan Frame
	subs    map[string]map[int]func(transport.Event)
	nextSub int
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a socket Server.
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	o := buildOptions(opts)
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: o.settings.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, url, o.header)
	if err != nil {
		return nil, fmt.Errorf("socket: dial %s: %w", url, err)
	}

	c := &Conn{
		ws:      ws,
		opts:    o,
		logger:  o.logger.With("transport", "socket", "url", url),
		pending: make(map[uint64]chan Frame),
		subs:    make(map[string]map[int]func(transport.Event)),
		done:    make(chan struct{}),
	}
	if o.settings.ReadTimeout > 0 {
		ws.SetReadDeadline(time.Now().Add(o.settings.ReadTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(o.settings.ReadTimeout))
		})
	}
	go c.readLoop()
	if o.settings.PingInterval > 0 {
		go c.pingLoop()
	}
	return c, nil
}

// Service returns the resource served under path.
func (c *Conn) Service(path string) *Service {
	return &Service{conn: c, path: cleanPath(path)}
}

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection closed, nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the connection. Calls still waiting fail with ErrClosed.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(c.opts.settings.WriteTimeout))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	return nil
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		c.ws.Close()
	})
}

func (c *Conn) write(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("socket: encode %s frame: %w", f.Kind, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.opts.settings.WriteTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.opts.settings.WriteTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.shutdown(err)
		return fmt.Errorf("socket: write: %w", err)
	}
	return nil
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.opts.settings.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.settings.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Warn("socket: ping failed", "error", err)
				c.shutdown(err)
				return
			}
		}
	}
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Warn("socket: connection lost", "error", err)
				}
			}
			c.shutdown(ErrClosed)
			return
		}
		if c.opts.settings.ReadTimeout > 0 {
			c.ws.SetReadDeadline(time.Now().Add(c.opts.settings.ReadTimeout))
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("socket: dropping malformed frame", "error", err)
			continue
		}
		switch f.Kind {
		case KindResult:
			c.mu.Lock()
			ch, ok := c.pending[f.Seq]
			delete(c.pending, f.Seq)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		case KindEvent:
			c.deliver(f)
		default:
			c.logger.Debug("socket: ignoring frame", "kind", f.Kind)
		}
	}
}

// deliver runs on the read loop so events reach subscribers in arrival order.
func (c *Conn) deliver(f Frame) {
	if !f.Event.Valid() {
		c.logger.Warn("socket: unknown event", "event", f.Event, "path", f.Path)
		return
	}
	r := record.New(nil)
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, r); err != nil {
			c.logger.Warn("socket: dropping event with bad payload", "event", f.Event, "error", err)
			return
		}
	}
	path := cleanPath(f.Path)

	c.mu.Lock()
	ids := make([]int, 0, len(c.subs[path]))
	for id := range c.subs[path] {
		ids = append(ids, id)
	}
	fns := make([]func(transport.Event), 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, c.subs[path][id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(transport.Event{Type: f.Event, Path: path, Record: r.Clone()})
	}
}

func (c *Conn) subscribe(path string, fn func(transport.Event)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	if c.subs[path] == nil {
		c.subs[path] = make(map[int]func(transport.Event))
	}
	c.subs[path][id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs[path], id)
		c.mu.Unlock()
	}
}

func (c *Conn) call(ctx context.Context, f Frame) (json.RawMessage, error) {
	ch := make(chan Frame, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.seq++
	f.Seq = c.seq
	f.Kind = KindCall
	c.pending[f.Seq] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, f.Seq)
		c.mu.Unlock()
	}()

	if err := c.write(f); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.Err()
	case reply := <-ch:
		if reply.Error != nil {
			return nil, reply.Error
		}
		return reply.Data, nil
	}
}
