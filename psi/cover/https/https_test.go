package https_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xinf0/nooshdaroo/psi/cover/https"
)

func TestClientHelloCarriesSNIHostname(t *testing.T) {
	hello, err := https.ClientHello{Hostname: "front.example.org"}.Synthesize()
	require.NoError(t, err)

	// A full browser-fingerprint ClientHello: handshake type 0x01, a 3-byte
	// length matching the body, and the SNI hostname in clear ASCII.
	require.GreaterOrEqual(t, len(hello), 100)
	require.Equal(t, byte(0x01), hello[0])
	bodyLen := int(hello[1])<<16 | int(hello[2])<<8 | int(hello[3])
	require.Equal(t, len(hello)-4, bodyLen)
	require.True(t, strings.Contains(string(hello), "front.example.org"))
}

func TestClientHelloVariesPerSynthesis(t *testing.T) {
	a, err := https.ClientHello{Hostname: "www.example.com"}.Synthesize()
	require.NoError(t, err)
	b, err := https.ClientHello{Hostname: "www.example.com"}.Synthesize()
	require.NoError(t, err)
	// The 32-byte client random makes two syntheses differ.
	require.NotEqual(t, a, b)
}

func TestServerHelloIsStructurallyValid(t *testing.T) {
	hello, err := https.ServerHello{}.Synthesize()
	require.NoError(t, err)

	require.Equal(t, byte(0x02), hello[0])
	bodyLen := int(hello[1])<<16 | int(hello[2])<<8 | int(hello[3])
	require.Equal(t, len(hello)-4, bodyLen)

	body := hello[4:]
	require.Equal(t, []byte{0x03, 0x03}, body[:2]) // TLS 1.2
	require.Equal(t, byte(0x00), body[34])         // empty session id
}

func TestNewRegistryBindsBothSynthNames(t *testing.T) {
	reg := https.NewRegistry("www.example.com")
	require.Contains(t, reg, "https_client_hello")
	require.Contains(t, reg, "https_server_hello")
}
