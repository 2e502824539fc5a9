// Package ast defines the parsed representation of a PSF file, before the
// semantic model resolves field and sequence references.
package ast

// File is the parsed content of one .psf specification file.
type File struct {
	Formats   []FormatDecl
	Semantics []SemanticRule
	Sequence  []SequenceStep
}

// FormatDecl declares the wire layout of one kind of message.
type FormatDecl struct {
	Name   string
	Fields []FieldDecl
	Line   int
}

// FieldDecl is one field within a FormatDecl, given by a descriptor such as
// bytes(16), u16_be, constant(0x1703), or length_of(payload, prefix=u16_be).
type FieldDecl struct {
	Name       string
	Descriptor Descriptor
	Line       int
}

// Descriptor is the parsed form of a PSF descriptor call, e.g.
// length_of(payload, prefix=u16_be) becomes
// Descriptor{Name: "length_of", Args: [{Value:"payload"}, {Key:"prefix", Value:"u16_be"}]}.
type Descriptor struct {
	Name string
	Args []Arg
	Line int
}

// Arg is one argument to a Descriptor, optionally keyed (prefix=u16_be) or
// positional (payload).
type Arg struct {
	Key   string // empty for positional args
	Value Value
}

// ValueKind distinguishes the lexical form an Arg's value took.
type ValueKind int

const (
	ValueIdent ValueKind = iota
	ValueInt
	ValueHex
	ValueString
)

// Value is a literal or identifier argument value.
type Value struct {
	Kind ValueKind
	Str  string // identifier text, string contents, or raw hex digits
	Int  int64  // parsed integer, valid when Kind == ValueInt
}

// SemanticRule binds a field (or pseudo-field) name to a value-generating
// descriptor, e.g. `content_type = constant(0x17);`.
type SemanticRule struct {
	Target     string
	Descriptor Descriptor
	Line       int
}

// SequenceStep is one `(role, phase) to format;` line.
type SequenceStep struct {
	Role   string
	Phase  string
	Format string
	Line   int
}
