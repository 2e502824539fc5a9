package dnsudp

import (
	"strings"
	"sync"
	"time"

	miekgdns "github.com/miekg/dns"

	"github.com/0xinf0/nooshdaroo/internal/errors"
	"github.com/0xinf0/nooshdaroo/internal/signal"
)

// sessionIdleTimeout reaps reassembly state for sessions whose client went
// away mid-request, so an abandoned flow can't pin fragments forever.
const sessionIdleTimeout = 2 * time.Minute

// Handler answers one fully-reassembled request payload with a response
// payload. sessionID identifies the flow across successive requests, so a
// handler like ConnectProxy can keep one upstream connection per session.
type Handler func(sessionID uint16, payload []byte) ([]byte, error)

// reassembly buffers one session's in-flight request fragments.
type reassembly struct {
	total  uint16
	chunks map[uint16][]byte
	idle   *signal.ActivityTimer
}

func (r *reassembly) complete() bool {
	return uint16(len(r.chunks)) == r.total
}

func (r *reassembly) payload() []byte {
	var out []byte
	for i := uint16(0); i < r.total; i++ {
		out = append(out, r.chunks[i]...)
	}
	return out
}

// Server is a miekg/dns Handler that reassembles DNS-UDP fallback tunnel
// queries per session id and answers the final fragment of each session
// with handler's response, carried in a TXT record.
type Server struct {
	hostname string
	handler  Handler

	mu       sync.Mutex
	sessions map[uint16]*reassembly
}

// NewServer builds a Server rooted at hostname, answering complete requests
// with handler.
func NewServer(hostname string, handler Handler) *Server {
	return &Server{
		hostname: strings.TrimSuffix(hostname, "."),
		handler:  handler,
		sessions: map[uint16]*reassembly{},
	}
}

// ServeDNS implements github.com/miekg/dns's dns.Handler.
func (s *Server) ServeDNS(w miekgdns.ResponseWriter, r *miekgdns.Msg) {
	m := new(miekgdns.Msg)
	m.SetReply(r)

	resp, err := s.handle(r)
	if err != nil {
		m.Rcode = miekgdns.RcodeServerFailure
		_ = w.WriteMsg(m)
		return
	}
	if resp != nil {
		m.Answer = append(m.Answer, &miekgdns.TXT{
			Hdr: miekgdns.RR_Header{Name: r.Question[0].Name, Rrtype: miekgdns.TypeTXT, Class: miekgdns.ClassINET, Ttl: 0},
			Txt: chunkTXT(resp),
		})
	}
	_ = w.WriteMsg(m)
}

func (s *Server) handle(r *miekgdns.Msg) ([]byte, error) {
	if len(r.Question) != 1 || r.Question[0].Qtype != miekgdns.TypeTXT {
		return nil, errors.InvalidFrame("dnsudp: expected a single TXT question")
	}
	fqdn := miekgdns.Fqdn(s.hostname)
	name := r.Question[0].Name
	if !strings.HasSuffix(name, "."+fqdn) && name != fqdn {
		return nil, errors.InvalidFrame("dnsudp: qname outside configured hostname")
	}
	fragmentPart := strings.TrimSuffix(strings.TrimSuffix(name, fqdn), ".")
	labels := miekgdns.SplitDomainName(fragmentPart)

	h, payload, err := decodeQName(labels)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	asm, ok := s.sessions[h.SessionID]
	if !ok {
		asm = &reassembly{total: h.Total, chunks: map[uint16][]byte{}}
		asm.idle = signal.NewActivityTimer(sessionIdleTimeout, func() {
			s.dropSession(h.SessionID, asm)
		})
		s.sessions[h.SessionID] = asm
	}
	asm.idle.Update()
	asm.chunks[h.Seq] = payload
	done := asm.complete()
	if done {
		delete(s.sessions, h.SessionID)
	}
	s.mu.Unlock()

	if !done {
		return nil, nil
	}
	// Outside the lock: firing the timer invokes dropSession, which locks.
	asm.idle.SetTimeout(0)
	return s.handler(h.SessionID, asm.payload())
}

// dropSession discards asm's fragments if the session is still the one
// registered under id; a completed session has already been removed.
func (s *Server) dropSession(id uint16, asm *reassembly) {
	s.mu.Lock()
	if cur, ok := s.sessions[id]; ok && cur == asm {
		delete(s.sessions, id)
		errors.LogDebug("dnsudp: reaped idle session ", id)
	}
	s.mu.Unlock()
}
