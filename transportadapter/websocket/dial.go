package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0xinf0/nooshdaroo/internal/errors"
)

// DialConfig names the endpoint and HTTP framing a client dials into.
type DialConfig struct {
	URL              string // e.g. "wss://host/path" or "ws://host/path"
	Host             string // Host header override; empty uses URL's authority
	Path             string
	HandshakeTimeout time.Duration
}

func (c DialConfig) dialer() *websocket.Dialer {
	timeout := c.HandshakeTimeout
	if timeout == 0 {
		timeout = 8 * time.Second
	}
	return &websocket.Dialer{
		ReadBufferSize:   4 * 1024,
		WriteBufferSize:  4 * 1024,
		HandshakeTimeout: timeout,
	}
}

// Dial establishes a WebSocket connection and returns it wrapped as a duplex
// byte stream.
func Dial(ctx context.Context, cfg DialConfig) (*Conn, error) {
	header := http.Header{}
	if cfg.Host != "" {
		header.Set("Host", cfg.Host)
	}
	ws, resp, err := cfg.dialer().DialContext(ctx, cfg.URL, header)
	if err != nil {
		reason := ""
		if resp != nil {
			reason = resp.Status
		}
		return nil, errors.LibraryError("websocket dial failed: "+reason).Base(err)
	}
	return New(ws), nil
}
