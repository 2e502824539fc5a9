// Package dnsudp implements the DNS-UDP fallback tunnel: a synchronous
// send-and-receive contract carried over real DNS queries/responses so it
// keeps working behind middleboxes that only pass UDP/53. Messages are
// built with github.com/miekg/dns rather than hand-rolled wire bytes.
package dnsudp

import (
	"encoding/base32"
	"encoding/binary"

	"github.com/0xinf0/nooshdaroo/internal/errors"
)

// maxFragmentPayload is the raw byte budget per query fragment before
// base32 encoding. header(6)+70 raw bytes encode to 122 base32 characters,
// or two labels plus their length octets on the wire; with a typical cover
// hostname appended the full name stays well inside RFC 1035's 255-octet
// limit, which Msg.Pack enforces.
const maxFragmentPayload = 70

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// fragmentHeader precedes the payload in every query label: which session
// this belongs to (so concurrent flows share one socket without
// cross-talk), and this fragment's position in the sequence.
type fragmentHeader struct {
	SessionID uint16
	Seq       uint16
	Total     uint16
}

const headerLen = 6

func encodeFragment(h fragmentHeader, payload []byte) []byte {
	buf := make([]byte, headerLen+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], h.SessionID)
	binary.BigEndian.PutUint16(buf[2:4], h.Seq)
	binary.BigEndian.PutUint16(buf[4:6], h.Total)
	copy(buf[headerLen:], payload)
	return buf
}

func decodeFragment(buf []byte) (fragmentHeader, []byte, error) {
	if len(buf) < headerLen {
		return fragmentHeader{}, nil, errors.InvalidFrame("dnsudp: fragment shorter than its header")
	}
	h := fragmentHeader{
		SessionID: binary.BigEndian.Uint16(buf[0:2]),
		Seq:       binary.BigEndian.Uint16(buf[2:4]),
		Total:     binary.BigEndian.Uint16(buf[4:6]),
	}
	return h, buf[headerLen:], nil
}

// fragment splits payload into chunks of at most maxFragmentPayload bytes,
// always returning at least one chunk (even for an empty payload) so a
// zero-length send still round-trips one query.
func fragment(payload []byte) [][]byte {
	if len(payload) == 0 {
		return [][]byte{{}}
	}
	var chunks [][]byte
	for len(payload) > 0 {
		n := len(payload)
		if n > maxFragmentPayload {
			n = maxFragmentPayload
		}
		chunks = append(chunks, payload[:n])
		payload = payload[n:]
	}
	return chunks
}

// labelize splits s (already base32-encoded) into DNS labels of at most 63
// characters, the per-label limit RFC 1035 imposes.
func labelize(s string) []string {
	const maxLabel = 63
	var labels []string
	for len(s) > 0 {
		n := len(s)
		if n > maxLabel {
			n = maxLabel
		}
		labels = append(labels, s[:n])
		s = s[n:]
	}
	return labels
}

// encodeQName builds the question name for one fragment: base32(header +
// payload) split into labels, rooted at hostname.
func encodeQName(h fragmentHeader, payload []byte, hostname string) string {
	encoded := encoding.EncodeToString(encodeFragment(h, payload))
	labels := labelize(encoded)
	name := ""
	for _, l := range labels {
		name += l + "."
	}
	return name + hostname + "."
}

// decodeQName reverses encodeQName's label-joining and base32 encoding
// given the labels belonging to the fragment (i.e. with the trailing
// hostname labels already stripped).
func decodeQName(fragmentLabels []string) (fragmentHeader, []byte, error) {
	joined := ""
	for _, l := range fragmentLabels {
		joined += l
	}
	raw, err := encoding.DecodeString(joined)
	if err != nil {
		return fragmentHeader{}, nil, errors.InvalidFrame("dnsudp: malformed base32 qname: " + err.Error())
	}
	return decodeFragment(raw)
}

// chunkTXT splits resp into DNS TXT character-strings of at most 255 bytes,
// the RFC 1035 §3.3 limit, so an arbitrarily large response still fits one
// TXT record. miekg/dns's dns.TXT.Txt is already a []string for this
// reason, so the tunnel doesn't need its own response-side fragmentation
// protocol.
func chunkTXT(resp []byte) []string {
	const maxStr = 255
	if len(resp) == 0 {
		return []string{""}
	}
	var out []string
	for len(resp) > 0 {
		n := len(resp)
		if n > maxStr {
			n = maxStr
		}
		out = append(out, string(resp[:n]))
		resp = resp[n:]
	}
	return out
}

func joinTXT(strs []string) []byte {
	total := 0
	for _, s := range strs {
		total += len(s)
	}
	out := make([]byte, 0, total)
	for _, s := range strs {
		out = append(out, s...)
	}
	return out
}
