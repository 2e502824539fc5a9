package model

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xinf0/nooshdaroo/internal/errors"
	"github.com/0xinf0/nooshdaroo/psi/parser"
)

func TestResolveHTTPSLikeSpec(t *testing.T) {
	src := `
FORMATS {
	data {
		content_type: constant(0x17);
		version: constant(0x0303);
		length: length_of(payload, prefix=u16_be);
		payload: payload;
	}
}
SEQUENCE {
	(CLIENT, DATA) to data;
	(SERVER, DATA) to data;
}
`
	file, err := parser.Parse("https.psf", src)
	require.NoError(t, err)

	spec, err := Resolve("https", file)
	require.NoError(t, err)
	require.Equal(t, "https", spec.ID)

	format, ok := spec.FormatFor("CLIENT", "DATA")
	require.True(t, ok)
	require.Equal(t, "data", format.Name)

	lengthField, ok := format.FieldByName("length")
	require.True(t, ok)
	require.Equal(t, LengthPrefix, lengthField.Kind)
	require.Equal(t, "payload", lengthField.LengthOf)
	require.True(t, lengthField.LengthBigEndian)
	require.Equal(t, 2, lengthField.LengthWidth)
}

func TestResolveRejectsDuplicatePayloadField(t *testing.T) {
	file, err := parser.Parse("t.psf", `
FORMATS {
	bad {
		a: payload;
		b: payload;
	}
}
`)
	require.NoError(t, err)
	_, err = Resolve("bad", file)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.KindLibraryError))
}

func TestResolveRejectsBackwardLengthReference(t *testing.T) {
	file, err := parser.Parse("t.psf", `
FORMATS {
	bad {
		payload: payload;
		length: length_of(payload, prefix=u16_be);
	}
}
`)
	require.NoError(t, err)
	_, err = Resolve("bad", file)
	require.Error(t, err)
}

func TestResolveRejectsForwardCheckOnMutualLengthReference(t *testing.T) {
	// Two fields naming each other as their length target can never both
	// satisfy the forward-or-prior rule, so this is caught by resolveFormat
	// before checkLengthAcyclic's topological sort ever runs.
	file, err := parser.Parse("t.psf", `
FORMATS {
	bad {
		a: length_of(b, prefix=u16_be);
		b: length_of(a, prefix=u16_be);
	}
}
`)
	require.NoError(t, err)
	_, err = Resolve("bad", file)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.KindLibraryError))
}

// TestCheckLengthAcyclicDetectsCycle exercises the topological-sort cycle
// check directly, using a Format hand-built to bypass resolveFormat's
// forward-reference validation; cyclic length dependencies must fail at
// load time via the sort, not a runtime loop guard.
func TestCheckLengthAcyclicDetectsCycle(t *testing.T) {
	format := &Format{
		Name: "bad",
		Fields: []Field{
			{Name: "a", Kind: LengthPrefix, LengthOf: "b"},
			{Name: "b", Kind: LengthPrefix, LengthOf: "a"},
		},
	}
	err := checkLengthAcyclic(format)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.KindLibraryError))
}

func TestResolveRejectsDanglingSemanticRule(t *testing.T) {
	file, err := parser.Parse("t.psf", `
FORMATS {
	data {
		payload: payload;
	}
}
SEMANTICS {
	nonexistent = constant(0x01);
}
`)
	require.NoError(t, err)
	_, err = Resolve("bad", file)
	require.Error(t, err)
}

func TestResolveRejectsUnknownSequenceFormat(t *testing.T) {
	file, err := parser.Parse("t.psf", `
FORMATS {
	data {
		payload: payload;
	}
}
SEQUENCE {
	(CLIENT, DATA) to missing;
}
`)
	require.NoError(t, err)
	_, err = Resolve("bad", file)
	require.Error(t, err)
}

func TestResolveSemanticRuleOverridesAcrossFormats(t *testing.T) {
	file, err := parser.Parse("t.psf", `
FORMATS {
	client_hello {
		body: opaque_variable;
	}
	server_hello {
		body: opaque_variable;
	}
}
SEMANTICS {
	body = synth("x");
}
SEQUENCE {
	(CLIENT, HANDSHAKE) to client_hello;
	(SERVER, HANDSHAKE) to server_hello;
}
`)
	require.NoError(t, err)
	spec, err := Resolve("t", file)
	require.NoError(t, err)

	ch, _ := spec.Formats["client_hello"].FieldByName("body")
	sh, _ := spec.Formats["server_hello"].FieldByName("body")
	require.Equal(t, GenSynth, ch.Gen.Kind)
	require.Equal(t, GenSynth, sh.Gen.Kind)
	require.Equal(t, "x", ch.Gen.SynthName)
}
