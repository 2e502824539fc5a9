package websocket

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0xinf0/nooshdaroo/internal/errors"
)

// ListenConfig names the HTTP host/path a server-side Listener upgrades;
// requests that don't match are answered 404 without an upgrade.
type ListenConfig struct {
	Path string // upgraded only on an exact match; "" accepts any path
	Host string // upgraded only if Host header matches; "" accepts any host
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:   0,
	WriteBufferSize:  0,
	HandshakeTimeout: 4 * time.Second,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// Listener accepts WebSocket connections as they arrive, each surfaced on
// Accept as a duplex byte stream.
type Listener struct {
	cfg      ListenConfig
	net      net.Listener
	server   http.Server
	accepted chan *Conn
	closed   chan struct{}
}

// Listen starts an HTTP server on addr and upgrades matching requests to
// WebSocket connections.
func Listen(ctx context.Context, addr string, cfg ListenConfig) (*Listener, error) {
	nl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Io(err)
	}

	l := &Listener{
		cfg:      cfg,
		net:      nl,
		accepted: make(chan *Conn, 16),
		closed:   make(chan struct{}),
	}
	l.server = http.Server{
		Handler:           http.HandlerFunc(l.serveHTTP),
		ReadHeaderTimeout: 4 * time.Second,
		MaxHeaderBytes:    8192,
	}

	go func() {
		_ = l.server.Serve(l.net)
	}()
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	return l, nil
}

func (l *Listener) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if l.cfg.Host != "" && r.Host != l.cfg.Host {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if l.cfg.Path != "" && r.URL.Path != l.cfg.Path {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case l.accepted <- New(ws):
	case <-l.closed:
		_ = ws.Close()
	}
}

// Accept blocks until a client completes the WebSocket upgrade or the
// listener is closed.
func (l *Listener) Accept() (*Conn, error) {
	select {
	case c := <-l.accepted:
		return c, nil
	case <-l.closed:
		return nil, errors.InvalidState("websocket listener closed")
	}
}

func (l *Listener) Addr() net.Addr { return l.net.Addr() }

func (l *Listener) Close() error {
	select {
	case <-l.closed:
		return nil
	default:
		close(l.closed)
	}
	return l.net.Close()
}
