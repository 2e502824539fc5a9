// Package quicdgram adapts github.com/quic-go/quic-go's unreliable QUIC
// DATAGRAM extension into the message-oriented transport the QUIC-compatible
// key derivation in nasc is meant to ride over: message-oriented rather
// than stream-oriented, so the cover traffic looks like a real QUIC
// connection's datagram frames. No stream multiplexing or session pooling;
// one connection, one datagram flow.
package quicdgram

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/quic-go/quic-go"

	"github.com/0xinf0/nooshdaroo/internal/errors"
)

// Conn is one QUIC connection used purely for its datagram extension: Send
// and Receive exchange whole unreliable, unordered messages, matching how a
// real QUIC application (HTTP/3, WebTransport) uses datagrams for latency
// sensitive payloads.
type Conn struct {
	conn quic.Connection
}

func newConn(c quic.Connection) *Conn {
	return &Conn{conn: c}
}

// Send transmits payload as a single QUIC DATAGRAM frame. Delivery is best
// effort: the peer may never see it if the path drops the packet, per the
// datagram extension's semantics (RFC 9221).
func (c *Conn) Send(payload []byte) error {
	if err := c.conn.SendDatagram(payload); err != nil {
		return errors.Io(err)
	}
	return nil
}

// Receive blocks for the next datagram, or returns ctx's error once it's
// done.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	b, err := c.conn.ReceiveDatagram(ctx)
	if err != nil {
		return nil, errors.Io(err)
	}
	return b, nil
}

// ChannelBinding exposes the underlying handshake's exporter-derived
// identity, letting nasc's QUIC key derivation bind a Noise session to this
// specific QUIC connection instead of deriving keys in isolation.
func (c *Conn) ChannelBinding(label string, context []byte, length int) ([]byte, error) {
	cs := c.conn.ConnectionState().TLS
	material, err := cs.ExportKeyingMaterial(label, context, length)
	if err != nil {
		return nil, errors.LibraryError("quic keying material export failed").Base(err)
	}
	return material, nil
}

func (c *Conn) Close() error {
	return c.conn.CloseWithError(0, "")
}

// DialConfig names the endpoint and ALPN a client dials into.
type DialConfig struct {
	Addr       string // "host:port"
	ServerName string
	ALPN       []string
	TLSConfig  *tls.Config // optional override; ServerName/ALPN applied on top
}

func (c DialConfig) tlsConfig() *tls.Config {
	cfg := c.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	cfg = cfg.Clone()
	if c.ServerName != "" {
		cfg.ServerName = c.ServerName
	}
	if len(c.ALPN) > 0 {
		cfg.NextProtos = c.ALPN
	}
	return cfg
}

// Dial opens a QUIC connection and enables the datagram extension.
func Dial(ctx context.Context, cfg DialConfig) (*Conn, error) {
	qconf := &quic.Config{EnableDatagrams: true}
	conn, err := quic.DialAddr(ctx, cfg.Addr, cfg.tlsConfig(), qconf)
	if err != nil {
		return nil, errors.Io(err)
	}
	return newConn(conn), nil
}

// Listener accepts datagram-enabled QUIC connections.
type Listener struct {
	ln *quic.Listener
}

// ListenConfig names the server-side TLS identity new connections
// authenticate with.
type ListenConfig struct {
	Addr      string
	TLSConfig *tls.Config
	ALPN      []string
}

// Listen starts accepting QUIC connections on addr.
func Listen(ctx context.Context, cfg ListenConfig) (*Listener, error) {
	tlsConfig := cfg.TLSConfig.Clone()
	if len(cfg.ALPN) > 0 {
		tlsConfig.NextProtos = cfg.ALPN
	}
	ln, err := quic.ListenAddr(cfg.Addr, tlsConfig, &quic.Config{EnableDatagrams: true})
	if err != nil {
		return nil, errors.Io(err)
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks for the next client connection.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, errors.Io(err)
	}
	return newConn(conn), nil
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *Listener) Close() error {
	return l.ln.Close()
}
