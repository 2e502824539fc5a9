package socks_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xinf0/nooshdaroo/socks"
)

func TestHandshakeParsesDomainConnect(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte{0x05, 0x01, 0x00}) // version, 1 method, no-auth
		var reply [2]byte
		_, _ = client.Read(reply[:])

		req := []byte{0x05, 0x01, 0x00, 0x03, 11}
		req = append(req, []byte("example.com")...)
		req = append(req, 0x01, 0xbb) // port 443
		_, _ = client.Write(req)
	}()

	target, err := socks.Handshake(server)
	require.NoError(t, err)
	require.Equal(t, "example.com:443", target)
}

func TestConnectControlMessageRoundTrip(t *testing.T) {
	msg := socks.EncodeConnect("example.com:443")
	target, ok := socks.DecodeConnect(msg)
	require.True(t, ok)
	require.Equal(t, "example.com:443", target)

	_, ok = socks.DecodeConnect([]byte("not a connect message"))
	require.False(t, ok)
}
