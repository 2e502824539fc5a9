package dnsudp

import (
	"net"
	"sync"
	"time"

	"github.com/0xinf0/nooshdaroo/internal/errors"
	"github.com/0xinf0/nooshdaroo/internal/signal"
	"github.com/0xinf0/nooshdaroo/socks"
)

// proxyIdleTimeout closes a session's upstream connection once no request
// has arrived on it for this long.
const proxyIdleTimeout = 2 * time.Minute

// proxyReadTimeout bounds how long one exchange waits for upstream bytes
// before answering with whatever has arrived so far; a DNS client is
// blocking on the response, so the exchange must stay short.
const proxyReadTimeout = 2 * time.Second

// ConnectProxy is the server-side Handler for the fallback tunnel's in-band
// control scheme: the first payload of a session is "CONNECT host:port",
// answered with "OK: Connected" or "ERROR: <reason>"; every later payload
// is raw upstream data, answered with whatever the upstream has produced by
// the read deadline. The control message rides the data channel on purpose,
// matching the synchronous request/response shape of the tunnel itself.
type ConnectProxy struct {
	dial func(target string) (net.Conn, error)

	mu       sync.Mutex
	upstream map[uint16]*proxySession
}

type proxySession struct {
	conn net.Conn
	idle *signal.ActivityTimer
}

// NewConnectProxy builds a ConnectProxy dialing upstreams over TCP.
func NewConnectProxy() *ConnectProxy {
	return &ConnectProxy{
		dial:     func(target string) (net.Conn, error) { return net.Dial("tcp", target) },
		upstream: map[uint16]*proxySession{},
	}
}

// Handle implements Handler.
func (p *ConnectProxy) Handle(sessionID uint16, payload []byte) ([]byte, error) {
	p.mu.Lock()
	sess, ok := p.upstream[sessionID]
	p.mu.Unlock()

	if !ok {
		return p.connect(sessionID, payload)
	}
	sess.idle.Update()
	return p.exchange(sess, payload)
}

func (p *ConnectProxy) connect(sessionID uint16, payload []byte) ([]byte, error) {
	target, ok := socks.DecodeConnect(payload)
	if !ok {
		return socks.Error("first message must be CONNECT"), nil
	}
	conn, err := p.dial(target)
	if err != nil {
		errors.LogWarning("dnsudp: dialing ", target, " failed: ", err)
		return socks.Error(err.Error()), nil
	}

	sess := &proxySession{conn: conn}
	sess.idle = signal.NewActivityTimer(proxyIdleTimeout, func() {
		p.drop(sessionID, sess)
	})
	p.mu.Lock()
	if old, dup := p.upstream[sessionID]; dup {
		// A stale session under the same id: the new CONNECT supersedes it.
		old.conn.Close()
	}
	p.upstream[sessionID] = sess
	p.mu.Unlock()

	errors.LogInfo("dnsudp: session ", sessionID, " connected to ", target)
	return socks.OK(), nil
}

// exchange writes payload to the session's upstream (an empty payload is a
// pure poll) and returns the bytes the upstream produces before the read
// deadline. Once the upstream has closed, this and every later exchange on
// the session fails with an Io error; the session itself stays registered
// until its idle timer drops it.
func (p *ConnectProxy) exchange(sess *proxySession, payload []byte) ([]byte, error) {
	if len(payload) > 0 {
		if _, err := sess.conn.Write(payload); err != nil {
			return nil, errors.Io(err)
		}
	}

	_ = sess.conn.SetReadDeadline(time.Now().Add(proxyReadTimeout))
	buf := make([]byte, 4096)
	n, err := sess.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return buf[:n], nil
		}
		return nil, errors.Io(err)
	}
	return buf[:n], nil
}

// drop closes and forgets sess if it is still the one registered under id.
func (p *ConnectProxy) drop(id uint16, sess *proxySession) {
	p.mu.Lock()
	if cur, ok := p.upstream[id]; ok && cur == sess {
		delete(p.upstream, id)
		sess.conn.Close()
		errors.LogDebug("dnsudp: reaped idle proxy session ", id)
	}
	p.mu.Unlock()
}

// Close tears down every open upstream connection.
func (p *ConnectProxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, sess := range p.upstream {
		sess.conn.Close()
		delete(p.upstream, id)
	}
	return nil
}
