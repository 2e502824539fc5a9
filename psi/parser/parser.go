// Package parser builds a psi/ast.File from a token stream produced by
// psi/lexer. It implements the FORMATS/SEMANTICS/SEQUENCE grammar; unknown
// sections or malformed descriptors fail the load with a PsfParse error
// naming the file and line.
package parser

import (
	"fmt"
	"strconv"

	"github.com/0xinf0/nooshdaroo/internal/errors"
	"github.com/0xinf0/nooshdaroo/psi/ast"
	"github.com/0xinf0/nooshdaroo/psi/lexer"
)

// Parser consumes a token stream for one PSF file.
type Parser struct {
	path   string
	tokens []lexer.Token
	pos    int
}

// Parse lexes and parses the PSF source at path, returning its AST.
func Parse(path, src string) (*ast.File, error) {
	toks, err := lexer.New(path, src).Tokenize()
	if err != nil {
		return nil, err
	}
	p := &Parser{path: path, tokens: toks}
	return p.parseFile()
}

func (p *Parser) cur() lexer.Token {
	return p.tokens[p.pos]
}

func (p *Parser) advance() lexer.Token {
	t := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) errf(format string, args ...interface{}) error {
	return errors.PsfParse(p.path, p.cur().Line, fmt.Sprintf(format, args...))
}

func (p *Parser) expect(t lexer.Type) (lexer.Token, error) {
	if p.cur().Type != t {
		return lexer.Token{}, p.errf("expected %s, got %s", t, p.cur())
	}
	return p.advance(), nil
}

func (p *Parser) parseFile() (*ast.File, error) {
	f := &ast.File{}
	for p.cur().Type != lexer.EOF {
		name, err := p.expect(lexer.Ident)
		if err != nil {
			return nil, err
		}
		switch name.Text {
		case "FORMATS":
			formats, err := p.parseFormats()
			if err != nil {
				return nil, err
			}
			f.Formats = append(f.Formats, formats...)
		case "SEMANTICS":
			rules, err := p.parseSemantics()
			if err != nil {
				return nil, err
			}
			f.Semantics = append(f.Semantics, rules...)
		case "SEQUENCE":
			steps, err := p.parseSequence()
			if err != nil {
				return nil, err
			}
			f.Sequence = append(f.Sequence, steps...)
		default:
			return nil, p.errf("unknown top-level section %q", name.Text)
		}
	}
	return f, nil
}

func (p *Parser) parseFormats() ([]ast.FormatDecl, error) {
	if _, err := p.expect(lexer.LBrace); err != nil {
		return nil, err
	}
	var formats []ast.FormatDecl
	for p.cur().Type != lexer.RBrace {
		if p.cur().Type == lexer.EOF {
			return nil, p.errf("unterminated FORMATS section")
		}
		decl, err := p.parseFormatDecl()
		if err != nil {
			return nil, err
		}
		formats = append(formats, decl)
	}
	p.advance() // }
	return formats, nil
}

func (p *Parser) parseFormatDecl() (ast.FormatDecl, error) {
	name, err := p.expect(lexer.Ident)
	if err != nil {
		return ast.FormatDecl{}, err
	}
	decl := ast.FormatDecl{Name: name.Text, Line: name.Line}
	if _, err := p.expect(lexer.LBrace); err != nil {
		return ast.FormatDecl{}, err
	}
	for p.cur().Type != lexer.RBrace {
		if p.cur().Type == lexer.EOF {
			return ast.FormatDecl{}, p.errf("unterminated format %q", name.Text)
		}
		field, err := p.parseFieldDecl()
		if err != nil {
			return ast.FormatDecl{}, err
		}
		decl.Fields = append(decl.Fields, field)
	}
	p.advance() // }
	return decl, nil
}

func (p *Parser) parseFieldDecl() (ast.FieldDecl, error) {
	name, err := p.expect(lexer.Ident)
	if err != nil {
		return ast.FieldDecl{}, err
	}
	if _, err := p.expect(lexer.Colon); err != nil {
		return ast.FieldDecl{}, err
	}
	desc, err := p.parseDescriptor()
	if err != nil {
		return ast.FieldDecl{}, err
	}
	if _, err := p.expect(lexer.Semi); err != nil {
		return ast.FieldDecl{}, err
	}
	return ast.FieldDecl{Name: name.Text, Descriptor: desc, Line: name.Line}, nil
}

// parseDescriptor parses `ident` or `ident(arg, key=arg, ...)`.
func (p *Parser) parseDescriptor() (ast.Descriptor, error) {
	name, err := p.expect(lexer.Ident)
	if err != nil {
		return ast.Descriptor{}, err
	}
	d := ast.Descriptor{Name: name.Text, Line: name.Line}
	if p.cur().Type != lexer.LParen {
		return d, nil
	}
	p.advance() // (
	for p.cur().Type != lexer.RParen {
		if p.cur().Type == lexer.EOF {
			return ast.Descriptor{}, p.errf("unterminated argument list for %q", name.Text)
		}
		arg, err := p.parseArg()
		if err != nil {
			return ast.Descriptor{}, err
		}
		d.Args = append(d.Args, arg)
		if p.cur().Type == lexer.Comma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(lexer.RParen); err != nil {
		return ast.Descriptor{}, err
	}
	return d, nil
}

func (p *Parser) parseArg() (ast.Arg, error) {
	// Keyed args look like `prefix=u16_be`; positional args are a bare value.
	if p.cur().Type == lexer.Ident && p.peekIsEquals() {
		key := p.advance()
		p.advance() // =
		val, err := p.parseValue()
		if err != nil {
			return ast.Arg{}, err
		}
		return ast.Arg{Key: key.Text, Value: val}, nil
	}
	val, err := p.parseValue()
	if err != nil {
		return ast.Arg{}, err
	}
	return ast.Arg{Value: val}, nil
}

func (p *Parser) peekIsEquals() bool {
	return p.pos+1 < len(p.tokens) && p.tokens[p.pos+1].Type == lexer.Equals
}

func (p *Parser) parseValue() (ast.Value, error) {
	tok := p.cur()
	switch tok.Type {
	case lexer.Ident:
		p.advance()
		return ast.Value{Kind: ast.ValueIdent, Str: tok.Text}, nil
	case lexer.Int:
		p.advance()
		n, err := strconv.ParseInt(tok.Text, 10, 64)
		if err != nil {
			return ast.Value{}, p.errf("invalid integer literal %q", tok.Text)
		}
		return ast.Value{Kind: ast.ValueInt, Int: n, Str: tok.Text}, nil
	case lexer.Hex:
		p.advance()
		n, err := strconv.ParseInt(tok.Text, 16, 64)
		if err != nil {
			// Larger than 64 bits: valid as a byte string, not as an int.
			return ast.Value{Kind: ast.ValueHex, Str: tok.Text}, nil
		}
		return ast.Value{Kind: ast.ValueHex, Str: tok.Text, Int: n}, nil
	case lexer.String:
		p.advance()
		return ast.Value{Kind: ast.ValueString, Str: tok.Text}, nil
	default:
		return ast.Value{}, p.errf("expected a value, got %s", tok)
	}
}

func (p *Parser) parseSemantics() ([]ast.SemanticRule, error) {
	if _, err := p.expect(lexer.LBrace); err != nil {
		return nil, err
	}
	var rules []ast.SemanticRule
	for p.cur().Type != lexer.RBrace {
		if p.cur().Type == lexer.EOF {
			return nil, p.errf("unterminated SEMANTICS section")
		}
		target, err := p.expect(lexer.Ident)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.Equals); err != nil {
			return nil, err
		}
		desc, err := p.parseDescriptor()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.Semi); err != nil {
			return nil, err
		}
		rules = append(rules, ast.SemanticRule{Target: target.Text, Descriptor: desc, Line: target.Line})
	}
	p.advance() // }
	return rules, nil
}

func (p *Parser) parseSequence() ([]ast.SequenceStep, error) {
	if _, err := p.expect(lexer.LBrace); err != nil {
		return nil, err
	}
	var steps []ast.SequenceStep
	for p.cur().Type != lexer.RBrace {
		if p.cur().Type == lexer.EOF {
			return nil, p.errf("unterminated SEQUENCE section")
		}
		line := p.cur().Line
		if _, err := p.expect(lexer.LParen); err != nil {
			return nil, err
		}
		role, err := p.expect(lexer.Ident)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.Comma); err != nil {
			return nil, err
		}
		phase, err := p.expect(lexer.Ident)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.RParen); err != nil {
			return nil, err
		}
		if err := p.expectArrow(); err != nil {
			return nil, err
		}
		format, err := p.expect(lexer.Ident)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.Semi); err != nil {
			return nil, err
		}
		steps = append(steps, ast.SequenceStep{Role: role.Text, Phase: phase.Text, Format: format.Text, Line: line})
	}
	p.advance() // }
	return steps, nil
}

// expectArrow consumes the `to` keyword that separates a sequence step's
// (role, phase) pair from its format name. Other PSF dialects write this as
// `->`, but this grammar keeps '-' out of the lexer entirely (it is
// reserved to flag the rejected dashed-identifier dialect), so the accepted
// surface syntax spells the arrow as the word "to".
func (p *Parser) expectArrow() error {
	tok, err := p.expect(lexer.Ident)
	if err != nil {
		return err
	}
	if tok.Text != "to" {
		return p.errf("expected \"to\" (sequence step arrow), got %q", tok.Text)
	}
	return nil
}
