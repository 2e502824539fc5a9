// Package nasc implements the Noise-authenticated secure channel: a Noise
// Protocol handshake layered underneath, or optionally wrapped by, a PSI
// cover protocol. NK is the primary pattern since a client that only knows
// the server's static public key, and has no identity of its own, is the
// common case for a circumvention proxy; XX and IK cover the mutually
// authenticated deployments.
package nasc

import (
	"crypto/rand"

	"github.com/flynn/noise"
	"golang.org/x/crypto/curve25519"

	"github.com/0xinf0/nooshdaroo/internal/errors"
)

// Pattern names one of the three Noise handshake patterns this package
// supports. The set is closed; unlike the PSI side there is no
// user-extensible registry here, and a wrong pattern string is a config
// error, not data to interpret.
type Pattern string

const (
	PatternNK Pattern = "NK"
	PatternXX Pattern = "XX"
	PatternIK Pattern = "IK"
)

func (p Pattern) resolve() (noise.HandshakePattern, error) {
	switch p {
	case PatternNK:
		return noise.HandshakeNK, nil
	case PatternXX:
		return noise.HandshakeXX, nil
	case PatternIK:
		return noise.HandshakeIK, nil
	default:
		return noise.HandshakePattern{}, errors.InvalidConfig("unknown noise pattern " + string(p))
	}
}

// KeyPair is a Curve25519 keypair used as a Noise static or ephemeral key.
type KeyPair = noise.DHKey

// GenerateKeyPair creates a fresh Curve25519 keypair, e.g. for a server's
// local_private_key configuration value.
func GenerateKeyPair() (KeyPair, error) {
	kp, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return KeyPair{}, errors.LibraryError("generating noise keypair: " + err.Error())
	}
	return kp, nil
}

// KeyPairFromPrivate rebuilds a KeyPair from a stored 32-byte Curve25519
// private scalar, deriving the matching public key, so a server can load
// noise.local_private_key from config instead of generating a fresh
// identity on every start.
func KeyPairFromPrivate(priv []byte) (KeyPair, error) {
	if len(priv) != 32 {
		return KeyPair{}, errors.InvalidConfig("noise private key must be 32 bytes")
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, errors.LibraryError("deriving public key: " + err.Error())
	}
	return KeyPair{Private: priv, Public: pub}, nil
}

// Config configures one Session. LocalStatic is the zero KeyPair for roles
// that don't need one (an NK initiator has no static key of its own).
// RemoteStatic is required for an NK or IK initiator, who must already know
// the responder's public key before the handshake starts.
type Config struct {
	Pattern      Pattern
	Initiator    bool
	LocalStatic  KeyPair
	RemoteStatic []byte
}

// Session drives one Noise handshake to completion message-by-message, then
// exposes the resulting pair of transport cipher states. A Session is not
// safe for concurrent handshake calls; it is meant to be driven serially by
// a single Transport goroutine.
type Session struct {
	hs       *noise.HandshakeState
	send     *noise.CipherState
	recv     *noise.CipherState
	complete bool
}

// NewSession builds a Session ready to exchange its first handshake message.
func NewSession(cfg Config) (*Session, error) {
	pattern, err := cfg.Pattern.resolve()
	if err != nil {
		return nil, err
	}
	suite := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   suite,
		Random:        rand.Reader,
		Pattern:       pattern,
		Initiator:     cfg.Initiator,
		StaticKeypair: cfg.LocalStatic,
		PeerStatic:    cfg.RemoteStatic,
	})
	if err != nil {
		return nil, errors.HandshakeFailed("initializing noise handshake: " + err.Error())
	}
	return &Session{hs: hs}, nil
}

// WriteMessage produces the next outbound handshake message, with payload
// (usually nil) carried inside it as the pattern allows.
func (s *Session) WriteMessage(payload []byte) ([]byte, error) {
	if s.complete {
		return nil, errors.InvalidState("noise handshake already complete")
	}
	// flynn/noise's WriteMessage returns (message, send, recv, err); both
	// cipher states are non-nil exactly on the call that finishes the
	// pattern, regardless of which side is initiator.
	msg, send, recv, err := s.hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, errors.HandshakeFailed(err.Error())
	}
	if send != nil && recv != nil {
		s.send, s.recv, s.complete = send, recv, true
	}
	return msg, nil
}

// ReadMessage consumes the next inbound handshake message and returns any
// payload it carried.
func (s *Session) ReadMessage(msg []byte) ([]byte, error) {
	if s.complete {
		return nil, errors.InvalidState("noise handshake already complete")
	}
	// ReadMessage returns (payload, recv, send, err) - the reverse binding
	// order from WriteMessage's (message, send, recv, err). The two sides
	// finish on opposite calls, so the pairing stays consistent.
	payload, recv, send, err := s.hs.ReadMessage(nil, msg)
	if err != nil {
		return nil, errors.HandshakeFailed(err.Error())
	}
	if send != nil && recv != nil {
		s.send, s.recv, s.complete = send, recv, true
	}
	return payload, nil
}

// Complete reports whether the handshake has produced transport keys.
func (s *Session) Complete() bool { return s.complete }

// Encrypt seals plaintext into the transport channel. Complete must be true.
func (s *Session) Encrypt(plaintext []byte) []byte {
	out, err := s.send.Encrypt(nil, nil, plaintext)
	if err != nil {
		panic(err)
	}
	return out
}

// Decrypt opens a sealed transport message. A tag mismatch always reports
// DecryptionFailed, never a bare library error, since the caller's teardown
// policy hinges on that Kind.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	pt, err := s.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return nil, errors.DecryptionFailed()
	}
	return pt, nil
}

// ChannelBinding returns the Noise handshake hash, suitable as a channel
// binding token for an outer authentication layer.
func (s *Session) ChannelBinding() []byte {
	return s.hs.ChannelBinding()
}
