package nasc

import (
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/0xinf0/nooshdaroo/internal/errors"
)

// QUICKeys is the (key, iv, hp_key) triple a datagram transport derives from
// a completed Noise handshake's chaining key and handshake hash, so that
// adapters for QUIC-shaped datagram cover protocols can use ordinary
// AEAD/header-protection primitives instead of driving the stream framing.
type QUICKeys struct {
	Key   []byte
	IV    []byte
	HPKey []byte
}

const (
	quicKeyLen   = 32 // ChaCha20-Poly1305 key size
	quicIVLen    = 12
	quicHPKeyLen = 32
)

// DeriveQUICKeys expands the Noise chaining key ck, salted by the handshake
// hash h, into a QUICKeys triple via HKDF-Expand-Label (TLS 1.3 style label
// construction, RFC 8446 §7.1) over SHA-256, so the derivation uses the same
// standard HKDF any QUIC-compatible library already implements rather than a
// bespoke KDF.
func DeriveQUICKeys(ck, h []byte) (QUICKeys, error) {
	extractor := hkdf.New(sha256.New, ck, h, nil)
	secret := make([]byte, sha256.Size)
	if _, err := io.ReadFull(extractor, secret); err != nil {
		return QUICKeys{}, errors.LibraryError("deriving quic secret: " + err.Error())
	}

	key, err := expandLabel(secret, "nasc quic key", quicKeyLen)
	if err != nil {
		return QUICKeys{}, err
	}
	iv, err := expandLabel(secret, "nasc quic iv", quicIVLen)
	if err != nil {
		return QUICKeys{}, err
	}
	hp, err := expandLabel(secret, "nasc quic hp", quicHPKeyLen)
	if err != nil {
		return QUICKeys{}, err
	}
	return QUICKeys{Key: key, IV: iv, HPKey: hp}, nil
}

// expandLabel builds an HKDF-Expand-Label info string (RFC 8446 §7.1: a
// 2-byte length, a length-prefixed label, and an empty context) and expands
// secret with it over SHA-256.
func expandLabel(secret []byte, label string, length int) ([]byte, error) {
	info := make([]byte, 0, 2+1+len(label)+1)
	info = binary.BigEndian.AppendUint16(info, uint16(length))
	info = append(info, byte(len(label)))
	info = append(info, label...)
	info = append(info, 0x00) // empty context

	out := make([]byte, length)
	reader := hkdf.Expand(sha256.New, secret, info)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, errors.LibraryError("expanding quic key material: " + err.Error())
	}
	return out, nil
}
