// Package model resolves a parsed PSF AST into a typed frame model: formats
// made of kinded, sized fields; semantic rules bound to value generators;
// and a sequence mapping (role, phase) to the format used there.
package model

// FieldKind is the structural type of one wire field.
type FieldKind int

const (
	FixedBytes FieldKind = iota
	BigEndianInt
	LittleEndianInt
	LengthPrefix
	PayloadField
	LabelDomain
	OpaqueVariable
)

func (k FieldKind) String() string {
	switch k {
	case FixedBytes:
		return "fixed_bytes"
	case BigEndianInt:
		return "big_endian_int"
	case LittleEndianInt:
		return "little_endian_int"
	case LengthPrefix:
		return "length_prefix"
	case PayloadField:
		return "payload"
	case LabelDomain:
		return "label_domain"
	case OpaqueVariable:
		return "opaque_variable"
	default:
		return "unknown"
	}
}

// SizeSpecKind distinguishes how a field's wire length is determined.
type SizeSpecKind int

const (
	SizeExact SizeSpecKind = iota
	SizeBounded
	SizeUntilEnd
	SizeDeterminedBy
)

// SizeSpec describes how a field's wire length is determined.
type SizeSpec struct {
	Kind SizeSpecKind
	N    int    // SizeExact
	Min  int    // SizeBounded
	Max  int    // SizeBounded
	Of   string // SizeDeterminedBy: the field whose resolved length this equals
}

// GeneratorKind identifies which value provider fills a field. GenNone
// means the codec falls back to the field's structural default (zero-filled
// bytes, or the caller-supplied payload for PayloadField).
type GeneratorKind int

const (
	GenNone GeneratorKind = iota
	GenConstant
	GenRandom
	GenCounter
	GenSNI
	GenTransactionID
	GenSequenceNumber
	GenDomainLabels
	GenSynth
)

// Generator is the resolved value provider for one field.
type Generator struct {
	Kind GeneratorKind

	ConstantBytes []byte // GenConstant

	RandomN int // GenRandom

	CounterInit     uint64 // GenCounter
	CounterStep     uint64
	CounterWidth    int
	CounterBigEndian bool

	Literal string // GenSNI / GenDomainLabels literal hostname or query name

	SynthName string // GenSynth: name of a registered codec.Synthesizer
}

// Field is one resolved field of a Format.
type Field struct {
	Name string
	Kind FieldKind
	Size SizeSpec
	Gen  Generator

	// LengthOf/LengthBigEndian/LengthWidth are populated when Kind ==
	// LengthPrefix: this field's value is the byte length of field LengthOf,
	// encoded in LengthWidth bytes with the given endianness.
	LengthOf        string
	LengthBigEndian bool
	LengthWidth     int
}

// Format is the wire layout of one kind of message: an ordered list of
// fields, evaluated in declaration order by the frame codec.
type Format struct {
	Name   string
	Fields []Field
}

// PayloadFieldName returns the name of this format's payload-kind field, and
// whether one exists.
func (f *Format) PayloadFieldName() (string, bool) {
	for _, fl := range f.Fields {
		if fl.Kind == PayloadField {
			return fl.Name, true
		}
	}
	return "", false
}

// FieldByName looks up a field by name within this format.
func (f *Format) FieldByName(name string) (*Field, bool) {
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			return &f.Fields[i], true
		}
	}
	return nil, false
}

// SeqKey identifies one (role, phase) step of a protocol's sequence.
type SeqKey struct {
	Role  string
	Phase string
}

// ProtocolSpec is the fully resolved PSF: formats, and which format each
// (role, phase) step uses.
type ProtocolSpec struct {
	ID       string
	Formats  map[string]*Format
	Sequence map[SeqKey]string
}

// FormatFor returns the format used for the given role and phase, per the
// protocol's SEQUENCE section.
func (s *ProtocolSpec) FormatFor(role, phase string) (*Format, bool) {
	name, ok := s.Sequence[SeqKey{Role: role, Phase: phase}]
	if !ok {
		return nil, false
	}
	f, ok := s.Formats[name]
	return f, ok
}
