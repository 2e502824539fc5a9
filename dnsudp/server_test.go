package dnsudp

import (
	"testing"

	miekgdns "github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestServerReassemblesAcrossQueries(t *testing.T) {
	var got []byte
	var gotSession uint16
	srv := NewServer("tunnel.example.com", func(sessionID uint16, payload []byte) ([]byte, error) {
		gotSession = sessionID
		got = payload
		return []byte("pong"), nil
	})

	payload := []byte("hello from the client, split across two queries for this test")
	chunks := fragment(payload)
	require.Len(t, chunks, 1) // short payload fits one fragment; exercise multi below

	multi := make([]byte, maxFragmentPayload*2+5)
	for i := range multi {
		multi[i] = byte(i)
	}
	multiChunks := fragment(multi)
	require.Greater(t, len(multiChunks), 1)

	var last *miekgdns.Msg
	for i, c := range multiChunks {
		qname := encodeQName(fragmentHeader{SessionID: 42, Seq: uint16(i), Total: uint16(len(multiChunks))}, c, "tunnel.example.com")
		m := new(miekgdns.Msg)
		m.SetQuestion(qname, miekgdns.TypeTXT)
		last = fakeServe(srv, m)
	}

	require.Equal(t, multi, got)
	require.EqualValues(t, 42, gotSession)
	require.Equal(t, miekgdns.RcodeSuccess, last.Rcode)
	require.Len(t, last.Answer, 1)
	txt, ok := last.Answer[0].(*miekgdns.TXT)
	require.True(t, ok)
	require.Equal(t, []byte("pong"), joinTXT(txt.Txt))
}

func TestServerRejectsForeignHostname(t *testing.T) {
	srv := NewServer("tunnel.example.com", func(uint16, []byte) ([]byte, error) {
		t.Fatal("handler should not be invoked")
		return nil, nil
	})
	m := new(miekgdns.Msg)
	m.SetQuestion("abcd.totally-different.test.", miekgdns.TypeTXT)
	resp := fakeServe(srv, m)
	require.Equal(t, miekgdns.RcodeServerFailure, resp.Rcode)
}

// fakeServe drives Server.handle directly, bypassing the network-facing
// dns.ResponseWriter so reassembly logic can be exercised without a socket.
func fakeServe(s *Server, r *miekgdns.Msg) *miekgdns.Msg {
	reply := new(miekgdns.Msg)
	reply.SetReply(r)
	resp, err := s.handle(r)
	if err != nil {
		reply.Rcode = miekgdns.RcodeServerFailure
		return reply
	}
	if resp != nil {
		reply.Answer = append(reply.Answer, &miekgdns.TXT{
			Hdr: miekgdns.RR_Header{Name: r.Question[0].Name, Rrtype: miekgdns.TypeTXT, Class: miekgdns.ClassINET},
			Txt: chunkTXT(resp),
		})
	}
	return reply
}
