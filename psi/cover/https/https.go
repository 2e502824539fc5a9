// Package https synthesizes the cover-protocol handshake bytes the HTTPS
// PSF delegates to via synth("https_client_hello")/synth("https_server_hello"):
// a bit-compatible fake TLS ClientHello built with uTLS's fingerprint
// database, and a minimal but wire-valid TLS 1.2 ServerHello.
package https

import (
	"net"

	utls "github.com/refraction-networking/utls"

	"github.com/0xinf0/nooshdaroo/internal/dice"
	"github.com/0xinf0/nooshdaroo/internal/errors"
	"github.com/0xinf0/nooshdaroo/psi/codec"
)

// ClientHello synthesizes a ClientHello naming Hostname in its SNI
// extension, matching a real browser's fingerprint (uTLS's HelloChrome_Auto
// client hello spec) so a passive observer sees a plausible handshake.
type ClientHello struct {
	Hostname string
}

// Synthesize implements codec.Synthesizer.
func (c ClientHello) Synthesize() ([]byte, error) {
	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()
	defer serverEnd.Close()

	uconn := utls.UClient(clientEnd, &utls.Config{ServerName: c.Hostname}, utls.HelloChrome_Auto)
	if err := uconn.BuildHandshakeState(); err != nil {
		return nil, errors.LibraryError("building uTLS ClientHello: " + err.Error())
	}
	raw := uconn.HandshakeState.Hello.Raw
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// ServerHello synthesizes a minimal, structurally valid TLS 1.2 ServerHello
// handshake message. uTLS only fingerprints clients, so there is no library
// to reuse for the passive side; this builds the message directly from
// RFC 5246 §7.4.1.3.
type ServerHello struct{}

// Synthesize implements codec.Synthesizer.
func (ServerHello) Synthesize() ([]byte, error) {
	var body []byte
	body = append(body, 0x03, 0x03)             // server_version: TLS 1.2
	body = append(body, dice.Bytes(32)...)       // random
	body = append(body, 0x00)                   // session_id: empty
	body = append(body, 0xc0, 0x2f)              // cipher_suite: ECDHE_RSA_WITH_AES_128_GCM_SHA256
	body = append(body, 0x00)                   // compression_method: none
	body = append(body, 0x00, 0x00)              // extensions: none

	msg := make([]byte, 0, 4+len(body))
	msg = append(msg, 0x02) // HandshakeType.server_hello
	msg = append(msg, encode24(len(body))...)
	msg = append(msg, body...)
	return msg, nil
}

func encode24(n int) []byte {
	return []byte{byte(n >> 16), byte(n >> 8), byte(n)}
}

// NewRegistry returns the codec.Registry binding the https PSF's two synth
// names to handshake synthesizers configured for hostname.
func NewRegistry(hostname string) codec.Registry {
	return codec.Registry{
		"https_client_hello": ClientHello{Hostname: hostname},
		"https_server_hello": ServerHello{},
	}
}
