package model

import (
	"fmt"
	"strings"

	"github.com/0xinf0/nooshdaroo/internal/errors"
	"github.com/0xinf0/nooshdaroo/psi/ast"
)

// Resolve turns a parsed AST into a ProtocolSpec named id, validating the
// model's load-time invariants:
//   - every payload field appears at most once per format
//   - every length_prefix references a field that exists (forward, or the
//     literal "prior" for a back-reference)
//   - every field referenced by a semantic rule exists in some format used
//     by the sequence
//   - length-field dependencies are acyclic (topologically sorted, not
//     merely loop-detected at wrap time)
func Resolve(id string, file *ast.File) (*ProtocolSpec, error) {
	spec := &ProtocolSpec{
		ID:       id,
		Formats:  map[string]*Format{},
		Sequence: map[SeqKey]string{},
	}

	for _, fd := range file.Formats {
		format, err := resolveFormat(fd)
		if err != nil {
			return nil, err
		}
		if _, dup := spec.Formats[format.Name]; dup {
			return nil, errors.LibraryError(fmt.Sprintf("duplicate format %q", format.Name))
		}
		spec.Formats[format.Name] = format
	}

	for _, rule := range file.Semantics {
		if err := applySemanticRule(spec, rule); err != nil {
			return nil, err
		}
	}

	for _, step := range file.Sequence {
		role := strings.ToUpper(step.Role)
		phase := strings.ToUpper(step.Phase)
		if _, ok := spec.Formats[step.Format]; !ok {
			return nil, errors.LibraryError(fmt.Sprintf(
				"sequence step (%s,%s) references unknown format %q", role, phase, step.Format))
		}
		spec.Sequence[SeqKey{Role: role, Phase: phase}] = step.Format
	}

	for _, rule := range file.Semantics {
		used := false
		for _, formatName := range spec.Sequence {
			if _, ok := spec.Formats[formatName].FieldByName(rule.Target); ok {
				used = true
				break
			}
		}
		if !used {
			return nil, errors.LibraryError(fmt.Sprintf(
				"semantic rule for %q matches no field of a format used by the sequence", rule.Target))
		}
	}

	for _, format := range spec.Formats {
		if err := checkLengthAcyclic(format); err != nil {
			return nil, err
		}
	}

	if err := checkSemanticFieldsUsed(spec); err != nil {
		return nil, err
	}

	return spec, nil
}

func resolveFormat(fd ast.FormatDecl) (*Format, error) {
	format := &Format{Name: fd.Name}
	payloadSeen := false

	for _, field := range fd.Fields {
		f, err := resolveField(fd.Name, field)
		if err != nil {
			return nil, err
		}
		if f.Kind == PayloadField {
			if payloadSeen {
				return nil, errors.LibraryError(fmt.Sprintf(
					"format %q declares more than one payload field", fd.Name))
			}
			payloadSeen = true
		}
		format.Fields = append(format.Fields, f)
	}

	// length_prefix fields must reference a field that exists in the same
	// format, either after it or explicitly marked "prior".
	for i, f := range format.Fields {
		if f.Kind != LengthPrefix {
			continue
		}
		if f.LengthOf == "prior" {
			if i == 0 {
				return nil, errors.LibraryError(fmt.Sprintf(
					"format %q: field %q marks of=prior but is the first field", fd.Name, f.Name))
			}
			continue
		}
		found := false
		for j := i + 1; j < len(format.Fields); j++ {
			if format.Fields[j].Name == f.LengthOf {
				found = true
				break
			}
		}
		if !found {
			return nil, errors.LibraryError(fmt.Sprintf(
				"format %q: length field %q references %q, which does not occur after it",
				fd.Name, f.Name, f.LengthOf))
		}
	}

	return format, nil
}

var prefixWidths = map[string]struct {
	width    int
	bigEndian bool
}{
	"u8":     {1, true},
	"u16_be": {2, true},
	"u16_le": {2, false},
	"u24_le": {3, false},
	"u32_be": {4, true},
}

func resolveField(formatName string, fd ast.FieldDecl) (Field, error) {
	d := fd.Descriptor
	f := Field{Name: fd.Name}

	switch d.Name {
	case "bytes":
		n, err := intArg(formatName, fd.Name, d, 0)
		if err != nil {
			return Field{}, err
		}
		f.Kind = FixedBytes
		f.Size = SizeSpec{Kind: SizeExact, N: n}

	case "u8", "u16_be", "u16_le", "u24_le", "u32_be":
		w := prefixWidths[d.Name]
		if w.bigEndian {
			f.Kind = BigEndianInt
		} else {
			f.Kind = LittleEndianInt
		}
		f.Size = SizeSpec{Kind: SizeExact, N: w.width}

	case "length_of":
		of, err := identArg(formatName, fd.Name, d, 0)
		if err != nil {
			return Field{}, err
		}
		prefix, err := keyedIdentArg(formatName, fd.Name, d, "prefix", "u16_be")
		if err != nil {
			return Field{}, err
		}
		w, ok := prefixWidths[prefix]
		if !ok {
			return Field{}, errors.PsfParse("", d.Line, fmt.Sprintf(
				"format %q field %q: unknown length prefix width %q", formatName, fd.Name, prefix))
		}
		f.Kind = LengthPrefix
		f.Size = SizeSpec{Kind: SizeExact, N: w.width}
		f.LengthOf = of
		f.LengthBigEndian = w.bigEndian
		f.LengthWidth = w.width

	case "payload":
		f.Kind = PayloadField
		f.Size = SizeSpec{Kind: SizeDeterminedBy, Of: ""}

	case "domain_labels":
		f.Kind = LabelDomain
		f.Size = SizeSpec{Kind: SizeUntilEnd}
		if len(d.Args) > 0 {
			lit, err := stringArg(formatName, fd.Name, d, 0)
			if err != nil {
				return Field{}, err
			}
			f.Gen = Generator{Kind: GenDomainLabels, Literal: lit}
		}

	case "constant":
		b, err := hexArg(formatName, fd.Name, d, 0)
		if err != nil {
			return Field{}, err
		}
		f.Kind = FixedBytes
		f.Size = SizeSpec{Kind: SizeExact, N: len(b)}
		f.Gen = Generator{Kind: GenConstant, ConstantBytes: b}

	case "random":
		n, err := intArg(formatName, fd.Name, d, 0)
		if err != nil {
			return Field{}, err
		}
		f.Kind = FixedBytes
		f.Size = SizeSpec{Kind: SizeExact, N: n}
		f.Gen = Generator{Kind: GenRandom, RandomN: n}

	case "counter":
		init, err := intArg(formatName, fd.Name, d, 0)
		if err != nil {
			return Field{}, err
		}
		width, err := intArg(formatName, fd.Name, d, 1)
		if err != nil {
			return Field{}, err
		}
		endian, err := identArg(formatName, fd.Name, d, 2)
		if err != nil {
			return Field{}, err
		}
		step := 1
		if len(d.Args) > 3 {
			step, err = intArg(formatName, fd.Name, d, 3)
			if err != nil {
				return Field{}, err
			}
		}
		big := endian == "big_endian" || endian == "be"
		if big {
			f.Kind = BigEndianInt
		} else {
			f.Kind = LittleEndianInt
		}
		f.Size = SizeSpec{Kind: SizeExact, N: width}
		f.Gen = Generator{
			Kind:            GenCounter,
			CounterInit:     uint64(init),
			CounterStep:     uint64(step),
			CounterWidth:    width,
			CounterBigEndian: big,
		}

	case "opaque_variable":
		f.Kind = OpaqueVariable
		switch len(d.Args) {
		case 0:
			f.Size = SizeSpec{Kind: SizeUntilEnd}
		case 1:
			n, err := intArg(formatName, fd.Name, d, 0)
			if err != nil {
				return Field{}, err
			}
			f.Size = SizeSpec{Kind: SizeExact, N: n}
		default:
			min, err := intArg(formatName, fd.Name, d, 0)
			if err != nil {
				return Field{}, err
			}
			max, err := intArg(formatName, fd.Name, d, 1)
			if err != nil {
				return Field{}, err
			}
			f.Size = SizeSpec{Kind: SizeBounded, Min: min, Max: max}
		}

	default:
		return Field{}, errors.PsfParse("", d.Line, fmt.Sprintf(
			"format %q field %q: unknown descriptor %q", formatName, fd.Name, d.Name))
	}

	return f, nil
}

// applySemanticRule resolves one SEMANTICS rule and binds it to every field
// of that name across every format. A rule naming a field that appears
// nowhere is a dangling reference (LibraryError): checkSemanticFieldsUsed
// catches the reverse direction (fields that never got a usable value).
func applySemanticRule(spec *ProtocolSpec, rule ast.SemanticRule) error {
	gen, err := resolveGenerator(rule.Target, rule.Descriptor)
	if err != nil {
		return err
	}

	applied := false
	for _, format := range spec.Formats {
		if f, ok := format.FieldByName(rule.Target); ok {
			f.Gen = gen
			applied = true
		}
	}
	if !applied {
		return errors.LibraryError(fmt.Sprintf(
			"semantic rule for %q does not match any declared field", rule.Target))
	}
	return nil
}

func resolveGenerator(target string, d ast.Descriptor) (Generator, error) {
	switch d.Name {
	case "constant":
		b, err := hexArg("semantics", target, d, 0)
		if err != nil {
			return Generator{}, err
		}
		return Generator{Kind: GenConstant, ConstantBytes: b}, nil

	case "random":
		n, err := intArg("semantics", target, d, 0)
		if err != nil {
			return Generator{}, err
		}
		return Generator{Kind: GenRandom, RandomN: n}, nil

	case "sni":
		host, err := stringArg("semantics", target, d, 0)
		if err != nil {
			return Generator{}, err
		}
		return Generator{Kind: GenSNI, Literal: host}, nil

	case "transaction_id":
		return Generator{Kind: GenTransactionID}, nil

	case "sequence_number":
		return Generator{Kind: GenSequenceNumber}, nil

	case "domain_labels":
		lit, err := stringArg("semantics", target, d, 0)
		if err != nil {
			return Generator{}, err
		}
		return Generator{Kind: GenDomainLabels, Literal: lit}, nil

	case "synth":
		name, err := stringArg("semantics", target, d, 0)
		if err != nil {
			return Generator{}, err
		}
		return Generator{Kind: GenSynth, SynthName: name}, nil

	default:
		return Generator{}, errors.PsfParse("", d.Line, fmt.Sprintf(
			"semantics rule %q: unknown generator %q", target, d.Name))
	}
}

// checkSemanticFieldsUsed verifies every field referenced implicitly by the
// sequence (i.e. every field of every format actually reachable from
// SEQUENCE) has a usable value source: either a generator, or it is a
// PayloadField/LengthPrefix field (those are always resolvable structurally).
func checkSemanticFieldsUsed(spec *ProtocolSpec) error {
	for _, formatName := range spec.Sequence {
		format := spec.Formats[formatName]
		for _, f := range format.Fields {
			switch f.Kind {
			case PayloadField, LengthPrefix:
				continue
			}
			if f.Gen.Kind == GenNone && f.Kind == FixedBytes {
				// bytes(N) defaults to zero-filled unless a semantic rule
				// provides a value.
				continue
			}
			if f.Gen.Kind == GenNone {
				return errors.LibraryError(fmt.Sprintf(
					"format %q field %q (%s) has no value source", formatName, f.Name, f.Kind))
			}
		}
	}
	return nil
}

// checkLengthAcyclic topologically sorts the length-field dependency graph
// of one format (length_prefix field -> the field it measures) and fails at
// load time if it finds a cycle, rather than relying on wrap-time loop
// detection.
func checkLengthAcyclic(format *Format) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(format.Fields))
	for _, f := range format.Fields {
		color[f.Name] = white
	}

	byName := make(map[string]*Field, len(format.Fields))
	for i := range format.Fields {
		byName[format.Fields[i].Name] = &format.Fields[i]
	}

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return errors.LibraryError(fmt.Sprintf(
				"format %q has a cyclic length dependency: %s", format.Name, strings.Join(append(path, name), " -> ")))
		}
		color[name] = gray
		if f, ok := byName[name]; ok && f.Kind == LengthPrefix && f.LengthOf != "prior" {
			if err := visit(f.LengthOf, append(path, name)); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	for _, f := range format.Fields {
		if f.Kind != LengthPrefix {
			continue
		}
		if err := visit(f.Name, nil); err != nil {
			return err
		}
	}
	return nil
}

// --- argument helpers ---

func argErr(formatName, fieldName string, d ast.Descriptor, msg string) error {
	return errors.PsfParse("", d.Line, fmt.Sprintf("format %q field %q: %s (descriptor %q)", formatName, fieldName, msg, d.Name))
}

func intArg(formatName, fieldName string, d ast.Descriptor, idx int) (int, error) {
	if idx >= len(d.Args) {
		return 0, argErr(formatName, fieldName, d, "missing integer argument")
	}
	v := d.Args[idx].Value
	switch v.Kind {
	case ast.ValueInt, ast.ValueHex:
		return int(v.Int), nil
	default:
		return 0, argErr(formatName, fieldName, d, "expected an integer argument")
	}
}

func identArg(formatName, fieldName string, d ast.Descriptor, idx int) (string, error) {
	if idx >= len(d.Args) {
		return "", argErr(formatName, fieldName, d, "missing identifier argument")
	}
	v := d.Args[idx].Value
	if v.Kind != ast.ValueIdent {
		return "", argErr(formatName, fieldName, d, "expected an identifier argument")
	}
	return v.Str, nil
}

func keyedIdentArg(formatName, fieldName string, d ast.Descriptor, key, def string) (string, error) {
	for _, a := range d.Args {
		if a.Key == key {
			if a.Value.Kind != ast.ValueIdent {
				return "", argErr(formatName, fieldName, d, "expected an identifier for "+key)
			}
			return a.Value.Str, nil
		}
	}
	return def, nil
}

func stringArg(formatName, fieldName string, d ast.Descriptor, idx int) (string, error) {
	if idx >= len(d.Args) {
		return "", argErr(formatName, fieldName, d, "missing string argument")
	}
	v := d.Args[idx].Value
	if v.Kind != ast.ValueString {
		return "", argErr(formatName, fieldName, d, "expected a string argument")
	}
	return v.Str, nil
}

func hexArg(formatName, fieldName string, d ast.Descriptor, idx int) ([]byte, error) {
	if idx >= len(d.Args) {
		return nil, argErr(formatName, fieldName, d, "missing hex argument")
	}
	v := d.Args[idx].Value
	if v.Kind != ast.ValueHex {
		return nil, argErr(formatName, fieldName, d, "expected a hex literal argument")
	}
	b := make([]byte, len(v.Str)/2)
	for i := range b {
		hi := hexNibble(v.Str[i*2])
		lo := hexNibble(v.Str[i*2+1])
		b[i] = hi<<4 | lo
	}
	return b, nil
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}
