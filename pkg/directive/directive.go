// Package directive finds rpc directives on Go type declarations.
//
// Two directives are recognised:
//
//	//rpc:service       the interface is an RPC service
//	//rpc:serializable  the type directly implements the serialization marker
//
// Like compiler directives, they must start with "//rpc:" with no space
// and sit in the declaration's doc comment or on the line before it.
package directive

import (
	"errors"
	"go/ast"
	"go/token"
	"slices"
	"strings"
)

// Kind is a directive kind.
type Kind int

const (
	None Kind = iota
	Service
	Serializable
)

func (k Kind) String() string {
	switch k {
	case Service:
		return "rpc:service"
	case Serializable:
		return "rpc:serializable"
	default:
		return "none"
	}
}

const prefix = "rpc:"

var directives = map[string]Kind{
	"rpc:service":      Service,
	"rpc:serializable": Serializable,
}

// Parse returns the directive a single comment carries, or None.
func Parse(comment string) Kind {
	text, ok := strings.CutPrefix(comment, "//")
	if !ok || !strings.HasPrefix(text, prefix) {
		return None
	}
	name, _, _ := strings.Cut(text, " ")
	return directives[strings.TrimSpace(name)]
}

// Set records the directives attached to type declarations, keyed by the
// position of the type's name.
type Set struct {
	kinds map[token.Pos][]Kind
}

func NewSet() *Set {
	return &Set{kinds: make(map[token.Pos][]Kind)}
}

// Load scans files for directives and attaches them to type declarations.
func (s *Set) Load(fset *token.FileSet, files []*ast.File) error {
	if fset == nil {
		return errors.New("fset cannot be nil")
	}
	for _, file := range files {
		if file == nil {
			continue
		}
		byLine := make(map[int][]Kind)
		for _, group := range file.Comments {
			for _, c := range group.List {
				if k := Parse(c.Text); k != None {
					line := fset.Position(c.Pos()).Line
					byLine[line] = append(byLine[line], k)
				}
			}
		}
		if len(byLine) == 0 {
			continue
		}

		// Second pass: attach to the type spec on the next line, or to a
		// spec whose doc comment holds the directive.
		ast.Inspect(file, func(n ast.Node) bool {
			decl, ok := n.(*ast.GenDecl)
			if !ok || decl.Tok != token.TYPE {
				return true
			}
			for _, spec := range decl.Specs {
				ts := spec.(*ast.TypeSpec)
				for _, k := range byLine[fset.Position(ts.Pos()).Line-1] {
					s.add(ts.Name.Pos(), k)
				}
				doc := ts.Doc
				if decl.Lparen == token.NoPos {
					doc = decl.Doc
				}
				if doc == nil {
					continue
				}
				for _, c := range doc.List {
					if k := Parse(c.Text); k != None {
						s.add(ts.Name.Pos(), k)
					}
				}
			}
			return true
		})
	}
	return nil
}

func (s *Set) add(pos token.Pos, k Kind) {
	if !slices.Contains(s.kinds[pos], k) {
		s.kinds[pos] = append(s.kinds[pos], k)
	}
}

// Has reports whether the type named at pos carries directive k.
func (s *Set) Has(pos token.Pos, k Kind) bool {
	return slices.Contains(s.kinds[pos], k)
}

// Len returns the number of annotated declarations.
func (s *Set) Len() int { return len(s.kinds) }
