// Package websocket adapts github.com/gorilla/websocket connections into
// the plain io.ReadWriteCloser duplex that nasc.Transport and psi.Codec
// expect, so a cover protocol can ride inside a WebSocket stream wherever a
// deep-packet inspector only recognizes HTTP Upgrade traffic.
package websocket

import (
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0xinf0/nooshdaroo/internal/errors"
)

// Conn wraps a *websocket.Conn as a byte stream: every Write is one binary
// WebSocket message, and Read drains messages in order, spanning frames
// transparently via the underlying reader's io.EOF-on-message-boundary
// convention.
type Conn struct {
	ws     *websocket.Conn
	reader io.Reader
}

// New wraps an already-established WebSocket connection.
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

func (c *Conn) Read(b []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, errors.Io(err)
			}
			c.reader = r
		}
		n, err := c.reader.Read(b)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			return n, errors.Io(err)
		}
		return n, nil
	}
}

func (c *Conn) Write(b []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, errors.Io(err)
	}
	return len(b), nil
}

func (c *Conn) Close() error {
	deadline := time.Now().Add(5 * time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	if err := c.ws.Close(); err != nil {
		return errors.Io(err)
	}
	return nil
}

// SetReadDeadline and SetWriteDeadline let nasc.Transport's context-aware
// fill/write honor ctx deadlines the same way it would over a raw net.Conn.
func (c *Conn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

func (c *Conn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }
