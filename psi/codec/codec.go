// Package codec interprets a resolved model.ProtocolSpec to build and parse
// wire frames: Wrap, Unwrap, WrapHandshake. It is the one place in the tree
// that turns the declarative PSF model into actual bytes; no cover protocol
// gets its own Go type here, the ProtocolSpec is the only polymorphism
// boundary.
package codec

import (
	"github.com/0xinf0/nooshdaroo/internal/dice"
	"github.com/0xinf0/nooshdaroo/internal/errors"
	coverdns "github.com/0xinf0/nooshdaroo/psi/cover/dns"
	"github.com/0xinf0/nooshdaroo/psi/model"
)

// Synthesizer produces the bytes for a GenSynth field, e.g. a bit-compatible
// fake TLS ClientHello or a DNS query. Registered per protocol id by name
// (model.Generator.SynthName) so the codec stays data-driven.
type Synthesizer interface {
	Synthesize() ([]byte, error)
}

// Registry maps a synth name to its Synthesizer, scoped to one protocol.
type Registry map[string]Synthesizer

// Codec evaluates one ProtocolSpec for one role (CLIENT or SERVER). It
// holds the mutable per-connection state the counter and sequence-number
// generators require; a fresh Codec per connection keeps that state from
// leaking across sessions.
type Codec struct {
	spec     *model.ProtocolSpec
	role     string
	synths   Registry
	counters map[string]uint64
}

// New returns a Codec bound to one connection's role, with counter fields
// starting at each field's configured CounterInit.
func New(spec *model.ProtocolSpec, role string, synths Registry) *Codec {
	return &Codec{spec: spec, role: role, synths: synths, counters: map[string]uint64{}}
}

// Wrap builds one output message for the (role, phase) pair, using payload
// for the format's payload field. Fields are materialized in two passes:
// first every field except length prefixes, so that variable-sized siblings
// reach their final size, then length-prefix fields, which measure an
// already-materialized sibling.
func (c *Codec) Wrap(phase string, payload []byte) ([]byte, error) {
	format, ok := c.spec.FormatFor(c.role, phase)
	if !ok {
		return nil, errors.ProtocolNotFound(c.spec.ID + "/" + c.role + "/" + phase)
	}
	return c.wrapFormat(format, payload)
}

// WrapHandshake is Wrap with an empty payload, used for cover-protocol
// handshake phases where the real Noise payload is not yet available.
func (c *Codec) WrapHandshake(phase string) ([]byte, error) {
	return c.Wrap(phase, nil)
}

func (c *Codec) wrapFormat(format *model.Format, payload []byte) ([]byte, error) {
	materialized := make(map[string][]byte, len(format.Fields))

	for _, f := range format.Fields {
		if f.Kind == model.LengthPrefix {
			continue
		}
		b, err := c.materializeField(format, f, payload)
		if err != nil {
			return nil, err
		}
		materialized[f.Name] = b
	}

	for _, f := range format.Fields {
		if f.Kind != model.LengthPrefix {
			continue
		}
		of := f.LengthOf
		target, ok := materialized[of]
		if !ok {
			return nil, errors.LibraryError("length field " + f.Name + " references unmaterialized field " + of)
		}
		materialized[f.Name] = encodeInt(uint64(len(target)), f.LengthWidth, f.LengthBigEndian)
	}

	out := make([]byte, 0, 64)
	for _, f := range format.Fields {
		out = append(out, materialized[f.Name]...)
	}
	return out, nil
}

func (c *Codec) materializeField(format *model.Format, f model.Field, payload []byte) ([]byte, error) {
	if f.Kind == model.PayloadField {
		return payload, nil
	}

	switch f.Gen.Kind {
	case model.GenConstant:
		return f.Gen.ConstantBytes, nil

	case model.GenRandom:
		return dice.Bytes(f.Gen.RandomN), nil

	case model.GenCounter:
		v := c.counters[f.Name]
		if _, seen := c.counters[f.Name]; !seen {
			v = f.Gen.CounterInit
		}
		b := encodeInt(v, f.Gen.CounterWidth, f.Gen.CounterBigEndian)
		c.counters[f.Name] = v + f.Gen.CounterStep
		return b, nil

	case model.GenTransactionID:
		return dice.Bytes(2), nil

	case model.GenSequenceNumber:
		v := c.counters[f.Name]
		b := encodeInt(v, f.Size.N, true)
		c.counters[f.Name] = v + 1
		return b, nil

	case model.GenSNI, model.GenDomainLabels:
		return coverdns.EncodeQName(f.Gen.Literal)

	case model.GenSynth:
		s, ok := c.synths[f.Gen.SynthName]
		if !ok {
			return nil, errors.LibraryError("no synthesizer registered for " + f.Gen.SynthName)
		}
		return s.Synthesize()
	}

	// GenNone: structural default. Fixed-size fields default to zero-filled
	// bytes of their declared size; variable fields with no generator have
	// nothing to contribute.
	switch f.Size.Kind {
	case model.SizeExact:
		return make([]byte, f.Size.N), nil
	default:
		return nil, nil
	}
}

// Unwrap parses one frame of format for (role, phase) out of buf, validating
// constant fields and slicing payload out by its resolved length. It returns
// the payload, the number of bytes of buf consumed, and any trailing bytes
// are left for the caller to pass back in on the next call, so streaming
// buffers work.
//
// role names whichever side produced buf, not the Codec's own role: a
// connection wraps its own outgoing messages under its role but must unwrap
// the peer's messages under the peer's role, since the two sides can use
// different formats for the same phase (an HTTPS client_hello looks nothing
// like the server_hello it provokes).
func (c *Codec) Unwrap(role, phase string, buf []byte) (payload []byte, consumed int, err error) {
	format, ok := c.spec.FormatFor(role, phase)
	if !ok {
		return nil, 0, errors.ProtocolNotFound(c.spec.ID + "/" + role + "/" + phase)
	}
	return c.unwrapFormat(format, buf)
}

// UnwrapSelf unwraps a frame produced under the Codec's own role, useful for
// loopback tests and protocols whose formats are symmetric across roles.
func (c *Codec) UnwrapSelf(phase string, buf []byte) (payload []byte, consumed int, err error) {
	return c.Unwrap(c.role, phase, buf)
}

// Role returns the role this Codec wraps outgoing messages under.
func (c *Codec) Role() string { return c.role }

func (c *Codec) unwrapFormat(format *model.Format, buf []byte) ([]byte, int, error) {
	pos := 0
	lengths := map[string]int{}
	var payload []byte
	payloadName, hasPayload := format.PayloadFieldName()

	for i, f := range format.Fields {
		last := i == len(format.Fields)-1
		resolved, hasResolved := lengths[f.Name]
		var chunk []byte

		switch {
		case f.Kind == model.LabelDomain:
			n, err := domainLabelsLen(buf[pos:])
			if err != nil {
				return nil, 0, err
			}
			chunk = buf[pos : pos+n]

		case f.Size.Kind == model.SizeExact:
			n := f.Size.N
			if pos+n > len(buf) {
				return nil, 0, errors.TruncatedInput(pos + n - len(buf))
			}
			chunk = buf[pos : pos+n]

		case f.Size.Kind == model.SizeDeterminedBy || (hasPayload && f.Name == payloadName):
			if !hasResolved {
				return nil, 0, errors.LibraryError("payload field " + f.Name + " has no length_prefix targeting it")
			}
			if pos+resolved > len(buf) {
				return nil, 0, errors.TruncatedInput(pos + resolved - len(buf))
			}
			chunk = buf[pos : pos+resolved]

		case hasResolved:
			// A variable field with a length_prefix targeting it is sliced by
			// that resolved length, so trailing frames already buffered behind
			// this one stay unconsumed.
			if pos+resolved > len(buf) {
				return nil, 0, errors.TruncatedInput(pos + resolved - len(buf))
			}
			if f.Size.Kind == model.SizeBounded && (resolved < f.Size.Min || resolved > f.Size.Max) {
				return nil, 0, errors.InvalidFrame("field " + f.Name + " out of bounds")
			}
			chunk = buf[pos : pos+resolved]

		case last:
			// The trailing until-end/bounded field (e.g. an opaque_variable
			// with no length_prefix) consumes whatever remains of this
			// frame; the caller hands back bytes beyond it as unconsumed.
			chunk = buf[pos:]
			if f.Size.Kind == model.SizeBounded && (len(chunk) < f.Size.Min || len(chunk) > f.Size.Max) {
				return nil, 0, errors.InvalidFrame("field " + f.Name + " out of bounds")
			}

		default:
			return nil, 0, errors.LibraryError("field " + f.Name + " has no resolvable length at unwrap time")
		}

		if f.Kind == model.FixedBytes && f.Gen.Kind == model.GenConstant {
			if !equalBytes(chunk, f.Gen.ConstantBytes) {
				return nil, 0, errors.InvalidFrame("constant field " + f.Name + " mismatch")
			}
		}
		if f.Kind == model.LengthPrefix {
			lengths[f.LengthOf] = int(decodeInt(chunk, f.LengthBigEndian))
		}
		if hasPayload && f.Name == payloadName {
			payload = chunk
		}

		pos += len(chunk)
	}

	if !hasPayload {
		return nil, pos, nil
	}
	return payload, pos, nil
}

// domainLabelsLen returns the byte length of a DNS wire-format label
// sequence at the start of buf, up to and including its terminating zero
// byte, or TruncatedInput if buf ends first.
func domainLabelsLen(buf []byte) (int, error) {
	pos := 0
	for {
		if pos >= len(buf) {
			return 0, errors.TruncatedInput(1)
		}
		n := int(buf[pos])
		pos++
		if n == 0 {
			return pos, nil
		}
		if pos+n > len(buf) {
			return 0, errors.TruncatedInput(pos + n - len(buf))
		}
		pos += n
	}
}

func encodeInt(v uint64, width int, bigEndian bool) []byte {
	b := make([]byte, width)
	if bigEndian {
		for i := width - 1; i >= 0; i-- {
			b[i] = byte(v)
			v >>= 8
		}
	} else {
		for i := 0; i < width; i++ {
			b[i] = byte(v)
			v >>= 8
		}
	}
	return b
}

func decodeInt(b []byte, bigEndian bool) uint64 {
	var v uint64
	if bigEndian {
		for _, c := range b {
			v = v<<8 | uint64(c)
		}
	} else {
		for i := len(b) - 1; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
	}
	return v
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

