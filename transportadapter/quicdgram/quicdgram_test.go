package quicdgram_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/0xinf0/nooshdaroo/transportadapter/quicdgram"
)

const testALPN = "nooshdaroo-test"

func selfSignedTLSConfig(t *testing.T) *tls.Config {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"nooshdaroo.test"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	return &tls.Config{Certificates: []tls.Certificate{cert}}
}

func TestDatagramRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ln, err := quicdgram.Listen(ctx, quicdgram.ListenConfig{
		Addr:      "127.0.0.1:0",
		TLSConfig: selfSignedTLSConfig(t),
		ALPN:      []string{testALPN},
	})
	require.NoError(t, err)
	defer ln.Close()

	serverCh := make(chan *quicdgram.Conn, 1)
	go func() {
		c, err := ln.Accept(ctx)
		if err == nil {
			serverCh <- c
		}
	}()

	client, err := quicdgram.Dial(ctx, quicdgram.DialConfig{
		Addr:       ln.Addr().String(),
		ServerName: "nooshdaroo.test",
		ALPN:       []string{testALPN},
		TLSConfig:  &tls.Config{InsecureSkipVerify: true},
	})
	require.NoError(t, err)
	defer client.Close()

	var server *quicdgram.Conn
	select {
	case server = <-serverCh:
	case <-time.After(4 * time.Second):
		t.Fatal("server never accepted connection")
	}
	defer server.Close()

	msg := []byte("datagram cover payload")
	require.NoError(t, client.Send(msg))

	got, err := server.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, msg, got)
}
