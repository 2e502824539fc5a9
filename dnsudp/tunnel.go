package dnsudp

import (
	"strings"
	"time"

	miekgdns "github.com/miekg/dns"

	"github.com/0xinf0/nooshdaroo/internal/dice"
	"github.com/0xinf0/nooshdaroo/internal/errors"
)

// Tunnel is the client side of the DNS-UDP fallback tunnel: each
// SendAndReceive call fragments payload across one query per fragment,
// naming the cover domain and carrying the final fragment's answer back as
// the call's response.
type Tunnel struct {
	client   *miekgdns.Client
	server   string // "host:53"
	hostname string // cover domain queries are rooted at
}

// NewTunnel builds a Tunnel that queries server (host:port, typically port
// 53) with questions rooted at hostname.
func NewTunnel(server, hostname string) *Tunnel {
	return &Tunnel{
		client:   &miekgdns.Client{Net: "udp", Timeout: 5 * time.Second},
		server:   server,
		hostname: strings.TrimSuffix(hostname, "."),
	}
}

// NewSessionID draws a fresh 16-bit session id distinguishing this flow
// from any other concurrently sharing the same server.
func NewSessionID() uint16 {
	return dice.Uint16()
}

// SendAndReceive fragments payload into one query per chunk and returns the
// response carried back on the final query's TXT answer.
func (t *Tunnel) SendAndReceive(sessionID uint16, payload []byte) ([]byte, error) {
	chunks := fragment(payload)
	var last *miekgdns.Msg
	for i, chunk := range chunks {
		qname := encodeQName(fragmentHeader{SessionID: sessionID, Seq: uint16(i), Total: uint16(len(chunks))}, chunk, t.hostname)
		m := new(miekgdns.Msg)
		m.SetQuestion(qname, miekgdns.TypeTXT)

		resp, _, err := t.client.Exchange(m, t.server)
		if err != nil {
			return nil, errors.Io(err)
		}
		if resp.Rcode != miekgdns.RcodeSuccess {
			return nil, errors.InvalidFrame("dnsudp: server returned rcode " + miekgdns.RcodeToString[resp.Rcode])
		}
		last = resp
	}

	if last == nil || len(last.Answer) == 0 {
		return nil, errors.InvalidFrame("dnsudp: empty response")
	}
	txt, ok := last.Answer[0].(*miekgdns.TXT)
	if !ok {
		return nil, errors.InvalidFrame("dnsudp: answer was not a TXT record")
	}
	return joinTXT(txt.Txt), nil
}
