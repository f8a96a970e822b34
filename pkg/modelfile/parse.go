package modelfile

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/715d/rpcoracle/pkg/typemodel"
)

// Primitives are the scalar names a type expression may use.
var Primitives = []string{
	"boolean", "byte", "char", "short", "int", "long", "float", "double",
}

// ParseType parses a type expression against a sealed or unsealed universe
// with no type parameters in scope.
func ParseType(u *typemodel.Universe, expr string) (typemodel.Type, error) {
	return parseType(u, expr, nil)
}

func parseType(u *typemodel.Universe, expr string, scope []*typemodel.TypeParameter) (typemodel.Type, error) {
	p := &exprParser{src: expr, u: u, scope: scope}
	t, err := p.parseType()
	if err != nil {
		return nil, fmt.Errorf("parse type %q: %w", expr, err)
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("parse type %q: unexpected %q at offset %d", expr, p.src[p.pos:], p.pos)
	}
	return t, nil
}

// exprParser is a recursive-descent parser for
//
//	Type := Name ('<' Arg (',' Arg)* '>')? ('[' ']')*
//	Arg  := '?' (('extends' | 'super') Type)? | Type
type exprParser struct {
	src   string
	pos   int
	u     *typemodel.Universe
	scope []*typemodel.TypeParameter
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *exprParser) expect(c byte) error {
	if p.peek() != c {
		return fmt.Errorf("expected %q at offset %d", c, p.pos)
	}
	p.pos++
	return nil
}

func isNameChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '$' || r == '_' || r == '/'
}

func (p *exprParser) name() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && isNameChar(rune(p.src[p.pos])) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *exprParser) parseType() (typemodel.Type, error) {
	name := p.name()
	if name == "" {
		return nil, fmt.Errorf("expected a type name at offset %d", p.pos)
	}

	var args []typemodel.Type
	if p.peek() == '<' {
		p.pos++
		for {
			arg, err := p.parseArg()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek() == ',' {
				p.pos++
				continue
			}
			if err := p.expect('>'); err != nil {
				return nil, err
			}
			break
		}
	}

	t, err := p.resolve(name, args)
	if err != nil {
		return nil, err
	}
	for p.peek() == '[' {
		p.pos++
		if err := p.expect(']'); err != nil {
			return nil, err
		}
		t = p.u.ArrayOf(t)
	}
	return t, nil
}

func (p *exprParser) parseArg() (typemodel.Type, error) {
	if p.peek() != '?' {
		return p.parseType()
	}
	p.pos++
	save := p.pos
	switch p.name() {
	case "extends":
		b, err := p.parseType()
		if err != nil {
			return nil, err
		}
		return p.u.Wildcard(typemodel.Extends, b), nil
	case "super":
		b, err := p.parseType()
		if err != nil {
			return nil, err
		}
		return p.u.Wildcard(typemodel.Super, b), nil
	}
	p.pos = save
	return p.u.Wildcard(typemodel.Unbound, nil), nil
}

// resolve looks a name up as a type parameter in scope, then a primitive,
// then a declared class.
func (p *exprParser) resolve(name string, args []typemodel.Type) (typemodel.Type, error) {
	for i := len(p.scope) - 1; i >= 0; i-- {
		if tp := p.scope[i]; tp.Name() == name {
			if len(args) > 0 {
				return nil, fmt.Errorf("type parameter %s cannot take type arguments", name)
			}
			return tp, nil
		}
	}
	for _, prim := range Primitives {
		if prim == name {
			if len(args) > 0 {
				return nil, fmt.Errorf("primitive %s cannot take type arguments", name)
			}
			return p.u.Primitive(name), nil
		}
	}

	c, ok := p.u.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown type %s", name)
	}
	switch {
	case len(args) == 0 && c.IsGeneric():
		return p.u.RawOf(c), nil
	case len(args) == 0:
		return c, nil
	case len(args) != len(c.TypeParams):
		return nil, fmt.Errorf("%s expects %d type arguments, got %d", name, len(c.TypeParams), len(args))
	}
	return p.u.Parameterize(c, args...), nil
}

func packageOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return ""
}
