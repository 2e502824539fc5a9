package codec_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	coverhttps "github.com/0xinf0/nooshdaroo/psi/cover/https"
	"github.com/0xinf0/nooshdaroo/psi/codec"
	"github.com/0xinf0/nooshdaroo/psi/model"
	"github.com/0xinf0/nooshdaroo/psi/parser"
)

func mustResolve(t *testing.T, id, src string) *model.ProtocolSpec {
	t.Helper()
	file, err := parser.Parse(id+".psf", src)
	require.NoError(t, err)
	spec, err := model.Resolve(id, file)
	require.NoError(t, err)
	return spec
}

const httpsSpec = `
FORMATS {
	data {
		content_type: constant(0x17);
		version: constant(0x0303);
		length: length_of(payload, prefix=u16_be);
		payload: payload;
	}
	client_hello {
		content_type: constant(0x16);
		version: constant(0x0303);
		length: length_of(client_hello_body, prefix=u16_be);
		client_hello_body: opaque_variable;
	}
}
SEMANTICS {
	client_hello_body = synth("https_client_hello");
}
SEQUENCE {
	(CLIENT, HANDSHAKE) to client_hello;
	(CLIENT, DATA) to data;
	(SERVER, DATA) to data;
}
`

// Scenario 1: HTTPS wrap of 1016 zero bytes.
func TestHTTPSWrapDataScenario(t *testing.T) {
	spec := mustResolve(t, "https", httpsSpec)
	c := codec.New(spec, "CLIENT", nil)

	payload := make([]byte, 1016)
	out, err := c.Wrap("DATA", payload)
	require.NoError(t, err)
	require.Len(t, out, 1021)
	require.Equal(t, []byte{0x17, 0x03, 0x03, 0x03, 0xf8}, out[:5])
	require.Equal(t, payload, out[5:])

	back, consumed, err := c.UnwrapSelf("DATA", out)
	require.NoError(t, err)
	require.Equal(t, len(out), consumed)
	require.Equal(t, payload, back)
}

// Scenario 2: TLS ClientHello generation.
func TestHTTPSWrapHandshakeScenario(t *testing.T) {
	spec := mustResolve(t, "https", httpsSpec)
	reg := coverhttps.NewRegistry("example.com")
	c := codec.New(spec, "CLIENT", reg)

	out, err := c.WrapHandshake("HANDSHAKE")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(out), 100)
	require.Equal(t, []byte{0x16, 0x03, 0x03}, out[:3])
	require.Contains(t, string(out), "example.com")
}

const dnsSpec = `
FORMATS {
	message {
		transaction_id: u16_be;
		flags: constant(0x0100);
		qdcount: constant(0x0001);
		ancount: constant(0x0000);
		nscount: constant(0x0000);
		arcount: constant(0x0000);
		qname: domain_labels;
		qtype: constant(0x0001);
		qclass: constant(0x0001);
		payload_len: length_of(payload, prefix=u16_be);
		payload: payload;
	}
}
SEMANTICS {
	transaction_id = transaction_id();
	qname = domain_labels("google.com");
}
SEQUENCE {
	(CLIENT, DATA) to message;
}
`

// Scenario 3: DNS query for "google.com".
func TestDNSWrapScenario(t *testing.T) {
	spec := mustResolve(t, "dns", dnsSpec)
	c := codec.New(spec, "CLIENT", nil)

	out, err := c.Wrap("DATA", []byte("hello"))
	require.NoError(t, err)
	want := []byte{0x06, 0x67, 0x6f, 0x6f, 0x67, 0x6c, 0x65, 0x03, 0x63, 0x6f, 0x6d, 0x00}
	require.Contains(t, string(out), string(want))
}

const mysqlSpec = `
FORMATS {
	packet {
		length: length_of(payload, prefix=u24_le);
		seq: u8;
		payload: payload;
	}
}
SEMANTICS {
	seq = sequence_number();
}
SEQUENCE {
	(CLIENT, DATA) to packet;
}
`

// Scenario 4: MySQL little-endian length.
func TestMySQLWrapScenario(t *testing.T) {
	spec := mustResolve(t, "mysql", mysqlSpec)
	c := codec.New(spec, "CLIENT", nil)

	payload := make([]byte, 300)
	out, err := c.Wrap("DATA", payload)
	require.NoError(t, err)
	require.Equal(t, []byte{0x2c, 0x01, 0x00, 0x00}, out[:4])
	require.Equal(t, payload, out[4:])
}

func TestMySQLSequenceNumberIncrements(t *testing.T) {
	spec := mustResolve(t, "mysql", mysqlSpec)
	c := codec.New(spec, "CLIENT", nil)

	first, err := c.Wrap("DATA", []byte("a"))
	require.NoError(t, err)
	second, err := c.Wrap("DATA", []byte("b"))
	require.NoError(t, err)
	require.Equal(t, byte(0x00), first[3])
	require.Equal(t, byte(0x01), second[3])
}

func TestUnwrapTruncatedInput(t *testing.T) {
	spec := mustResolve(t, "https", httpsSpec)
	c := codec.New(spec, "CLIENT", nil)

	out, err := c.Wrap("DATA", []byte("payload"))
	require.NoError(t, err)

	_, _, err = c.UnwrapSelf("DATA", out[:len(out)-1])
	require.Error(t, err)
}

// Round-trip law: unwrap(wrap(p)) == p for every size that fits a u16_be
// length field, across every format family in the tree. go-cmp
// gives a readable diff the moment any field's materialization order drifts
// the payload, rather than just a pass/fail boolean.
func TestWrapUnwrapRoundTripLaw(t *testing.T) {
	for _, tc := range []struct {
		name string
		spec *model.ProtocolSpec
		size int
	}{
		{"https/empty", mustResolve(t, "https", httpsSpec), 0},
		{"https/small", mustResolve(t, "https", httpsSpec), 1},
		{"https/large", mustResolve(t, "https", httpsSpec), 4096},
		{"dns/small", mustResolve(t, "dns", dnsSpec), 5},
		{"mysql/small", mustResolve(t, "mysql", mysqlSpec), 300},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := codec.New(tc.spec, "CLIENT", nil)
			payload := make([]byte, tc.size)
			for i := range payload {
				payload[i] = byte(i)
			}

			out, err := c.Wrap("DATA", payload)
			require.NoError(t, err)
			back, consumed, err := c.UnwrapSelf("DATA", out)
			require.NoError(t, err)
			require.Equal(t, len(out), consumed)
			if diff := cmp.Diff(payload, back); diff != "" {
				t.Fatalf("unwrap(wrap(payload)) mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnwrapRejectsBadConstant(t *testing.T) {
	spec := mustResolve(t, "https", httpsSpec)
	c := codec.New(spec, "CLIENT", nil)

	out, err := c.Wrap("DATA", []byte("payload"))
	require.NoError(t, err)
	out[0] = 0xFF

	_, _, err = c.UnwrapSelf("DATA", out)
	require.Error(t, err)
}
