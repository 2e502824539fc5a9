package dnsudp

import (
	"testing"

	miekgdns "github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestFragmentReassemblyRoundTrip(t *testing.T) {
	payload := make([]byte, 500)
	for i := range payload {
		payload[i] = byte(i)
	}

	chunks := fragment(payload)
	require.Greater(t, len(chunks), 1)

	s := &reassembly{total: uint16(len(chunks)), chunks: map[uint16][]byte{}}
	for i, c := range chunks {
		s.chunks[uint16(i)] = c
		if i < len(chunks)-1 {
			require.False(t, s.complete())
		}
	}
	require.True(t, s.complete())
	require.Equal(t, payload, s.payload())
}

func TestEncodeDecodeQNameRoundTrip(t *testing.T) {
	h := fragmentHeader{SessionID: 0xBEEF, Seq: 3, Total: 7}
	payload := []byte("the quick brown fox jumps over the lazy dog")

	qname := encodeQName(h, payload, "tunnel.example.com")
	require.Contains(t, qname, "tunnel.example.com.")

	fqdn := "tunnel.example.com."
	fragmentPart := qname[:len(qname)-len(fqdn)]
	if len(fragmentPart) > 0 {
		fragmentPart = fragmentPart[:len(fragmentPart)-1]
	}
	labels := splitLabels(fragmentPart)

	gotHeader, gotPayload, err := decodeQName(labels)
	require.NoError(t, err)
	require.Equal(t, h, gotHeader)
	require.Equal(t, payload, gotPayload)
}

// TestMaxSizeFragmentSurvivesWirePacking round-trips a maximum-size
// fragment's question through Msg.Pack/Msg.Unpack, the same path
// Client.Exchange takes, so a fragment budget that overflows RFC 1035's
// 255-octet name limit fails here instead of only against a live resolver.
func TestMaxSizeFragmentSurvivesWirePacking(t *testing.T) {
	payload := make([]byte, maxFragmentPayload)
	for i := range payload {
		payload[i] = byte(i)
	}
	h := fragmentHeader{SessionID: 0xFFFF, Seq: 0xFFFF, Total: 0xFFFF}
	qname := encodeQName(h, payload, "tunnel.example.com")

	m := new(miekgdns.Msg)
	m.SetQuestion(qname, miekgdns.TypeTXT)
	wire, err := m.Pack()
	require.NoError(t, err)

	parsed := new(miekgdns.Msg)
	require.NoError(t, parsed.Unpack(wire))
	require.Equal(t, qname, parsed.Question[0].Name)

	fqdn := miekgdns.Fqdn("tunnel.example.com")
	fragmentPart := parsed.Question[0].Name[:len(parsed.Question[0].Name)-len(fqdn)]
	if len(fragmentPart) > 0 {
		fragmentPart = fragmentPart[:len(fragmentPart)-1]
	}
	gotHeader, gotPayload, err := decodeQName(miekgdns.SplitDomainName(fragmentPart))
	require.NoError(t, err)
	require.Equal(t, h, gotHeader)
	require.Equal(t, payload, gotPayload)
}

func TestChunkTXTJoinRoundTrip(t *testing.T) {
	resp := make([]byte, 700)
	for i := range resp {
		resp[i] = byte(i % 251)
	}
	chunks := chunkTXT(resp)
	require.Greater(t, len(chunks), 1)
	require.Equal(t, resp, joinTXT(chunks))
}

func TestEmptyPayloadStillProducesOneFragment(t *testing.T) {
	chunks := fragment(nil)
	require.Len(t, chunks, 1)
	require.Empty(t, chunks[0])
}

// splitLabels is the test-local mirror of dns.SplitDomainName used so this
// test doesn't need a live miekg/dns message to exercise decodeQName.
func splitLabels(s string) []string {
	if s == "" {
		return nil
	}
	var labels []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			labels = append(labels, s[start:i])
			start = i + 1
		}
	}
	labels = append(labels, s[start:])
	return labels
}
