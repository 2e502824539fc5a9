package nasc

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/0xinf0/nooshdaroo/internal/errors"
)

// Role names which side of a connection a Transport drives. It doubles as
// the role token the PSI frame codec's SEQUENCE section keys on.
type Role string

const (
	RoleClient Role = "CLIENT"
	RoleServer Role = "SERVER"
)

func (r Role) peer() Role {
	if r == RoleClient {
		return RoleServer
	}
	return RoleClient
}

// FrameWrapper is the narrow capability Transport needs from the PSI side:
// a thing that can wrap/unwrap, not a concrete cover protocol type.
// *psi/codec.Codec satisfies this structurally.
type FrameWrapper interface {
	Wrap(phase string, payload []byte) ([]byte, error)
	WrapHandshake(phase string) ([]byte, error)
	Unwrap(role, phase string, buf []byte) (payload []byte, consumed int, err error)
}

// QualityMonitor receives network-quality observations measured over the
// encrypted channel: round-trip times from answered probes, and packet
// observations flagged lost when a probe goes unanswered.
// *bandwidth.Controller satisfies this structurally.
type QualityMonitor interface {
	RecordRTT(d time.Duration)
	RecordPacket(n int, wasLoss bool)
}

// Transport message kinds, carried in the first plaintext byte of every
// post-handshake message. Probes ride inside the AEAD, so a passive
// observer sees only ordinary cover frames.
const (
	msgData byte = iota
	msgPing
	msgPong
)

// pingPayloadLen is the probe body: the sender's send time, echoed back
// verbatim by the pong so the round trip is measured without shared state.
const pingPayloadLen = 8

// aeadTagSize is ChaCha20-Poly1305's authentication tag overhead.
const aeadTagSize = 16

// MaxPlaintext is the largest payload one Write accepts: the 2-byte
// ciphertext length prefix must also cover the message type byte and the
// AEAD tag.
const MaxPlaintext = 1<<16 - 1 - 1 - aeadTagSize

// State is Transport's lifecycle: Uninitialized → HandshakingCoverOut →
// HandshakingCoverIn → HandshakingNoise → Transport → Closed. Terminal
// states are Transport and Closed.
type State int

const (
	StateUninitialized State = iota
	StateHandshakingCoverOut
	StateHandshakingCoverIn
	StateHandshakingNoise
	StateTransport
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateHandshakingCoverOut:
		return "HandshakingCoverOut"
	case StateHandshakingCoverIn:
		return "HandshakingCoverIn"
	case StateHandshakingNoise:
		return "HandshakingNoise"
	case StateTransport:
		return "Transport"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// defaultHandshakeTimeout bounds the whole handshake phase when a caller
// doesn't override it; individual reads and writes within the phase carry
// no timeout of their own.
const defaultHandshakeTimeout = 30 * time.Second

// duplex is the byte-transport adapter contract: read/write/close. Any
// net.Conn, net.Pipe half, or transportadapter implementation satisfies
// this already.
type duplex interface {
	io.Reader
	io.Writer
	io.Closer
}

// TransportConfig configures one Transport.
type TransportConfig struct {
	// Conn is the underlying duplex byte transport. A stream adapter
	// (TCP/TLS/WebSocket) or a transportadapter wrapper around a datagram
	// channel both satisfy this.
	Conn duplex
	// Session is a Noise handshake driven to completion by this Transport.
	Session *Session
	// Wrapper is the PSI frame codec bound to Role, or nil to run Noise
	// directly over Conn with no cover-protocol mimicry and no fake cover
	// handshake.
	Wrapper FrameWrapper
	// Role is which side of the connection this Transport drives.
	Role Role
	// Initiator is true for the side that sends the first handshake
	// message, both at the cover layer and inside Noise.
	Initiator bool
	// HandshakeTimeout bounds the whole handshake; zero uses
	// defaultHandshakeTimeout.
	HandshakeTimeout time.Duration
	// Monitor, when set, receives RTT and loss observations from Ping
	// probes sent over this transport.
	Monitor QualityMonitor
}

// Transport drives one tunneled connection: an optional fake cover-protocol
// handshake, the real Noise handshake wrapped in the cover's DATA frames,
// and post-handshake encrypted read/write, each optionally wrapped in the
// same cover frame.
type Transport struct {
	conn      duplex
	session   *Session
	wrapper   FrameWrapper
	role      Role
	initiator bool
	timeout   time.Duration
	monitor   QualityMonitor

	mu    sync.Mutex
	state State
	inbuf []byte

	// sendMu serializes post-handshake sends: the AEAD nonce advances on
	// every Encrypt, so encryption and transmission must be atomic together
	// or a probe racing a data write would reorder nonces on the wire.
	sendMu sync.Mutex

	// pingMu guards pingPending, true while a probe awaits its pong.
	pingMu      sync.Mutex
	pingPending bool

	// wrapperMu guards wrapper independently of mu: a Shape-Shift rotation
	// swaps the active cover codec from outside the read/write goroutines,
	// and must not block on whichever of them currently holds mu. Each
	// sendFrame/recvFrame call takes its own snapshot under RLock, so a
	// swap can never happen mid-frame, only between frames.
	wrapperMu sync.RWMutex
}

// NewTransport builds a Transport ready to Handshake.
func NewTransport(cfg TransportConfig) *Transport {
	timeout := cfg.HandshakeTimeout
	if timeout == 0 {
		timeout = defaultHandshakeTimeout
	}
	return &Transport{
		conn:      cfg.Conn,
		session:   cfg.Session,
		wrapper:   cfg.Wrapper,
		role:      cfg.Role,
		initiator: cfg.Initiator,
		timeout:   timeout,
		monitor:   cfg.Monitor,
		state:     StateUninitialized,
	}
}

// SetWrapper swaps the active cover-protocol codec, used by a Shape-Shift
// rotation to change the mimicked protocol mid-session without disturbing
// the underlying Noise transport keys.
func (t *Transport) SetWrapper(w FrameWrapper) {
	t.wrapperMu.Lock()
	t.wrapper = w
	t.wrapperMu.Unlock()
}

func (t *Transport) getWrapper() FrameWrapper {
	t.wrapperMu.RLock()
	defer t.wrapperMu.RUnlock()
	return t.wrapper
}

// State reports the current lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Handshake drives the cover handshake (if a wrapper is configured) and the
// real Noise handshake to completion, or fails with HandshakeFailed.
// Cancellation or deadline expiry at any point tears the session down.
func (t *Transport) Handshake(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateUninitialized {
		t.mu.Unlock()
		return errors.InvalidState("handshake already started")
	}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if t.getWrapper() != nil {
		if err := t.coverHandshake(ctx); err != nil {
			t.teardown()
			return errors.HandshakeFailed("cover handshake: " + err.Error())
		}
	}

	t.setState(StateHandshakingNoise)
	if err := t.noiseHandshake(ctx); err != nil {
		t.teardown()
		return errors.HandshakeFailed("noise handshake: " + err.Error())
	}

	t.setState(StateTransport)
	return nil
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Transport) teardown() {
	t.setState(StateClosed)
}

// coverHandshake exchanges the fake cover-protocol handshake messages: the
// initiator writes first, the responder reads then replies, so the
// responder's reply is only sent once the initiator's message has validated
// against the cover's expected signature.
func (t *Transport) coverHandshake(ctx context.Context) error {
	if t.initiator {
		t.setState(StateHandshakingCoverOut)
		if err := t.sendCover(ctx); err != nil {
			return err
		}
		t.setState(StateHandshakingCoverIn)
		return t.recvCover(ctx)
	}
	t.setState(StateHandshakingCoverIn)
	if err := t.recvCover(ctx); err != nil {
		return err
	}
	t.setState(StateHandshakingCoverOut)
	return t.sendCover(ctx)
}

func (t *Transport) sendCover(ctx context.Context) error {
	frame, err := t.getWrapper().WrapHandshake("HANDSHAKE")
	if err != nil {
		return err
	}
	return t.write(ctx, frame)
}

func (t *Transport) recvCover(ctx context.Context) error {
	_, err := t.readWrapped(ctx, t.getWrapper(), string(t.role.peer()), "HANDSHAKE")
	return err
}

// noiseHandshake drives Session message-by-message. Noise handshake
// messages strictly alternate starting with the initiator (step 0), which
// lets Transport know whose turn it is without the Session tracking it.
func (t *Transport) noiseHandshake(ctx context.Context) error {
	step := 0
	for !t.session.Complete() {
		ourTurn := (step%2 == 0) == t.initiator
		if ourTurn {
			msg, err := t.session.WriteMessage(nil)
			if err != nil {
				return err
			}
			if err := t.sendFrame(ctx, "DATA", msg); err != nil {
				return err
			}
		} else {
			raw, err := t.recvFrame(ctx, "DATA")
			if err != nil {
				return err
			}
			if _, err := t.session.ReadMessage(raw); err != nil {
				return err
			}
		}
		step++
	}
	return nil
}

// Write encrypts plain under the transport cipher, length-prefixes the
// ciphertext, and transmits it, optionally wrapped in the (role, DATA)
// cover frame.
func (t *Transport) Write(ctx context.Context, plain []byte) error {
	if len(plain) > MaxPlaintext {
		return errors.InvalidState("transport message exceeds maximum size")
	}
	if t.State() != StateTransport {
		return errors.InvalidState("write on a non-transport session")
	}
	return t.send(ctx, msgData, plain)
}

// send encrypts one typed message and transmits it under sendMu, keeping
// nonce order and wire order identical across concurrent senders.
func (t *Transport) send(ctx context.Context, kind byte, plain []byte) error {
	typed := make([]byte, 1+len(plain))
	typed[0] = kind
	copy(typed[1:], plain)

	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	ciphertext := t.session.Encrypt(typed)
	return t.sendFrame(ctx, "DATA", lengthPrefix(ciphertext))
}

// Ping sends a timestamped probe over the encrypted channel; the peer's
// Read loop answers with a pong echoing the timestamp, from which the
// configured Monitor learns the round-trip time. A probe still unanswered
// when the next Ping fires is counted as a lost packet.
func (t *Transport) Ping(ctx context.Context) error {
	if t.State() != StateTransport {
		return errors.InvalidState("ping on a non-transport session")
	}

	t.pingMu.Lock()
	lost := t.pingPending
	t.pingPending = true
	t.pingMu.Unlock()
	if lost && t.monitor != nil {
		t.monitor.RecordPacket(1+pingPayloadLen, true)
	}

	payload := make([]byte, pingPayloadLen)
	binary.BigEndian.PutUint64(payload, uint64(time.Now().UnixNano()))
	return t.send(ctx, msgPing, payload)
}

// Read receives the next data message, unwrapping and decrypting frames and
// transparently servicing probe traffic: pings are answered with pongs,
// pongs feed the Monitor. A decryption failure or I/O error tears the
// session down, discarding any partially consumed frame; the next Read
// fails with InvalidState.
func (t *Transport) Read(ctx context.Context) ([]byte, error) {
	for {
		if t.State() != StateTransport {
			return nil, errors.InvalidState("read on a non-transport session")
		}
		msg, err := t.recvFrame(ctx, "DATA")
		if err != nil {
			t.teardown()
			return nil, err
		}
		if len(msg) < 2 {
			t.teardown()
			return nil, errors.InvalidFrame("transport message shorter than its length prefix")
		}
		n := int(binary.BigEndian.Uint16(msg[:2]))
		if 2+n > len(msg) {
			t.teardown()
			return nil, errors.InvalidFrame("transport message shorter than its declared length")
		}
		plain, err := t.session.Decrypt(msg[2 : 2+n])
		if err != nil {
			t.teardown()
			return nil, err
		}
		if len(plain) == 0 {
			t.teardown()
			return nil, errors.InvalidFrame("transport message missing its type byte")
		}

		switch plain[0] {
		case msgData:
			return plain[1:], nil
		case msgPing:
			if err := t.send(ctx, msgPong, plain[1:]); err != nil {
				t.teardown()
				return nil, err
			}
		case msgPong:
			t.handlePong(plain[1:])
		default:
			t.teardown()
			return nil, errors.InvalidFrame("unknown transport message type")
		}
	}
}

// handlePong clears the outstanding-probe flag and reports the measured
// round trip to the Monitor.
func (t *Transport) handlePong(payload []byte) {
	t.pingMu.Lock()
	t.pingPending = false
	t.pingMu.Unlock()

	if t.monitor == nil || len(payload) != pingPayloadLen {
		return
	}
	sent := time.Unix(0, int64(binary.BigEndian.Uint64(payload)))
	t.monitor.RecordRTT(time.Since(sent))
	t.monitor.RecordPacket(1+pingPayloadLen, false)
}

// Close closes the underlying transport and marks the session Closed.
func (t *Transport) Close() error {
	t.teardown()
	return t.conn.Close()
}

// sendFrame wraps raw in the (role, phase) cover frame when a wrapper is
// configured, or transmits it length-prefixed directly when running
// wrapper-free.
func (t *Transport) sendFrame(ctx context.Context, phase string, raw []byte) error {
	w := t.getWrapper()
	if w == nil {
		return t.write(ctx, lengthPrefix(raw))
	}
	frame, err := w.Wrap(phase, raw)
	if err != nil {
		return err
	}
	return t.write(ctx, frame)
}

// recvFrame is sendFrame's inverse: it reads and unwraps one frame produced
// under the peer's role for phase.
func (t *Transport) recvFrame(ctx context.Context, phase string) ([]byte, error) {
	w := t.getWrapper()
	if w == nil {
		return t.readLengthPrefixed(ctx)
	}
	return t.readWrapped(ctx, w, string(t.role.peer()), phase)
}

func lengthPrefix(b []byte) []byte {
	out := make([]byte, 2+len(b))
	binary.BigEndian.PutUint16(out, uint16(len(b)))
	copy(out[2:], b)
	return out
}

// readWrapped feeds buffered and newly-read bytes to the PSI unwrap call
// until it stops reporting TruncatedInput, streaming more from conn as
// needed; bytes beyond the unwrapped frame stay in inbuf for the next call.
func (t *Transport) readWrapped(ctx context.Context, w FrameWrapper, role, phase string) ([]byte, error) {
	for {
		payload, consumed, err := w.Unwrap(role, phase, t.inbuf)
		if err == nil {
			t.inbuf = t.inbuf[consumed:]
			return payload, nil
		}
		need := 1
		if e, ok := err.(*errors.Error); ok && e.Kind() == errors.KindTruncatedInput {
			if e.TruncatedN > 0 {
				need = e.TruncatedN
			}
		} else {
			return nil, err
		}
		if err := t.fill(ctx, need); err != nil {
			return nil, err
		}
	}
}

// readLengthPrefixed reads a single 2-byte-length-prefixed frame, the
// framing used when no PSI wrapper is configured.
func (t *Transport) readLengthPrefixed(ctx context.Context) ([]byte, error) {
	for len(t.inbuf) < 2 {
		if err := t.fill(ctx, 2-len(t.inbuf)); err != nil {
			return nil, err
		}
	}
	n := int(binary.BigEndian.Uint16(t.inbuf[:2]))
	for len(t.inbuf) < 2+n {
		if err := t.fill(ctx, 2+n-len(t.inbuf)); err != nil {
			return nil, err
		}
	}
	frame := t.inbuf[2 : 2+n]
	t.inbuf = t.inbuf[2+n:]
	return frame, nil
}

// fill performs one read from conn into inbuf with a buffer of at least need
// bytes, respecting ctx. The read may return fewer than need bytes; callers
// loop until their frame is complete.
func (t *Transport) fill(ctx context.Context, need int) error {
	if err := ctx.Err(); err != nil {
		return errors.Io(err)
	}
	type deadliner interface {
		SetReadDeadline(time.Time) error
	}
	if d, ok := t.conn.(deadliner); ok {
		if dl, ok := ctx.Deadline(); ok {
			_ = d.SetReadDeadline(dl)
		}
	}
	chunk := make([]byte, max(need, 4096))
	n, err := t.conn.Read(chunk)
	if n > 0 {
		t.inbuf = append(t.inbuf, chunk[:n]...)
	}
	if err != nil {
		if err == io.EOF && n > 0 {
			return nil
		}
		return errors.Io(err)
	}
	return nil
}

func (t *Transport) write(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.Io(err)
	}
	type deadliner interface {
		SetWriteDeadline(time.Time) error
	}
	if d, ok := t.conn.(deadliner); ok {
		if dl, ok := ctx.Deadline(); ok {
			_ = d.SetWriteDeadline(dl)
		}
	}
	_, err := t.conn.Write(b)
	if err != nil {
		return errors.Io(err)
	}
	return nil
}
