// Package typemodel is a closed-world reflected type graph.
//
// A Universe owns a set of declarations (*Class) and interns every derived
// type (arrays, parameterized and raw types, wildcards, primitives), so two
// structurally identical derived types are always the same pointer. Pointer
// identity is therefore type identity throughout the analysis.
package typemodel

import (
	"strings"
)

// Type is a node of the type graph. The set of implementations is closed:
// *Primitive, *Array, *Class, *Parameterized, *Raw, *Wildcard and
// *TypeParameter.
type Type interface {
	// Name returns the parameterized qualified source name, for example
	// "java.util.List<? extends com.example.Shape>[]".
	Name() string

	key() string
	isType()
}

// Kind discriminates the declaration shapes a Class can take.
type Kind int

const (
	KindClass Kind = iota
	KindInterface
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindInterface:
		return "interface"
	case KindEnum:
		return "enum"
	default:
		return "class"
	}
}

// Visibility is the access level of a declaration.
type Visibility int

const (
	Public Visibility = iota
	PackagePrivate
	Private
)

func (v Visibility) String() string {
	switch v {
	case PackagePrivate:
		return "package"
	case Private:
		return "private"
	default:
		return "public"
	}
}

// Primitive is a scalar type that is always instantiable.
type Primitive struct {
	name string
}

func (p *Primitive) Name() string { return p.name }
func (p *Primitive) key() string  { return "%" + p.name }
func (*Primitive) isType()        {}

// Array is an array of Component.
type Array struct {
	Component Type

	k string
}

func (a *Array) Name() string { return a.Component.Name() + "[]" }
func (a *Array) key() string  { return a.k }
func (*Array) isType()        {}

// Leaf returns the innermost non-array component type.
func (a *Array) Leaf() Type {
	var t Type = a
	for {
		arr, ok := t.(*Array)
		if !ok {
			return t
		}
		t = arr.Component
	}
}

// Rank returns the number of array dimensions.
func (a *Array) Rank() int {
	rank := 0
	var t Type = a
	for {
		arr, ok := t.(*Array)
		if !ok {
			return rank
		}
		rank++
		t = arr.Component
	}
}

// Class is a declared class, interface or enum. A Class with type
// parameters is a generic declaration; its uses appear as *Parameterized
// or *Raw types.
type Class struct {
	// QualifiedName is the unique name of the declaration.
	QualifiedName string

	// Package is the package the declaration lives in.
	Package string

	Kind       Kind
	Visibility Visibility

	// Abstract marks abstract classes. Interfaces are always abstract.
	Abstract bool

	// Static marks nested types that do not capture an enclosing instance.
	Static bool

	// Local marks types declared inside a method or function body.
	Local bool

	// NoDefaultConstructor marks classes that declare constructors but no
	// zero-argument one.
	NoDefaultConstructor bool

	// Standard marks declarations of the platform's standard library.
	Standard bool

	// Enclosing is the declaring class of a member type.
	Enclosing *Class

	// Super is the superclass: a *Class, *Parameterized or *Raw type. Seal
	// defaults it to the universe root for classes and enums.
	Super Type

	// Interfaces are the directly implemented (or, for interfaces,
	// extended) interfaces.
	Interfaces []Type

	TypeParams []*TypeParameter
	Fields     []*Field
	Methods    []*Method
}

func (c *Class) Name() string { return c.QualifiedName }
func (c *Class) key() string  { return c.QualifiedName }
func (*Class) isType()        {}

func (c *Class) IsInterface() bool { return c.Kind == KindInterface }
func (c *Class) IsEnum() bool      { return c.Kind == KindEnum }
func (c *Class) IsGeneric() bool   { return len(c.TypeParams) > 0 }
func (c *Class) IsMember() bool    { return c.Enclosing != nil }

// IsAbstract reports whether the declaration cannot be instantiated
// directly.
func (c *Class) IsAbstract() bool { return c.Abstract || c.Kind == KindInterface }

// IsDefaultInstantiable reports whether the class has a zero-argument
// constructor or declares no constructors at all.
func (c *Class) IsDefaultInstantiable() bool { return !c.NoDefaultConstructor }

// SimpleName returns the last segment of the qualified name.
func (c *Class) SimpleName() string {
	name := c.QualifiedName
	if i := strings.LastIndexAny(name, ".$/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Field returns the declared field with the given name.
func (c *Class) Field(name string) *Field {
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Method returns the first declared method with the given name.
func (c *Class) Method(name string) *Method {
	for _, m := range c.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Parameterized is a generic declaration applied to type arguments.
type Parameterized struct {
	Base *Class
	Args []Type

	k string
}

func (p *Parameterized) Name() string {
	var b strings.Builder
	b.Grow(64)
	b.WriteString(p.Base.QualifiedName)
	b.WriteByte('<')
	for i, arg := range p.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(arg.Name())
	}
	b.WriteByte('>')
	return b.String()
}
func (p *Parameterized) key() string { return p.k }
func (*Parameterized) isType()       {}

// Raw is a generic declaration used without type arguments.
type Raw struct {
	Base *Class

	k string
}

func (r *Raw) Name() string { return r.Base.QualifiedName }
func (r *Raw) key() string  { return r.k }
func (*Raw) isType()        {}

// BoundKind is the bound form of a wildcard.
type BoundKind int

const (
	Unbound BoundKind = iota
	Extends
	Super
)

// Wildcard is a "?" type argument.
type Wildcard struct {
	Kind  BoundKind
	Bound Type

	upper Type
	k     string
}

func (w *Wildcard) Name() string {
	switch w.Kind {
	case Extends:
		return "? extends " + w.Bound.Name()
	case Super:
		return "? super " + w.Bound.Name()
	default:
		return "?"
	}
}
func (w *Wildcard) key() string { return w.k }
func (*Wildcard) isType()       {}

// UpperBound returns the extends-bound, or the universe root for unbound
// and super-bounded wildcards.
func (w *Wildcard) UpperBound() Type { return w.upper }

// TypeParameter is a declared (or synthetic) type variable.
type TypeParameter struct {
	// Ordinal is the position within the declaring class's parameters, or
	// -1 for synthetic variables.
	Ordinal int

	// Bounds are the upper bounds; Seal defaults them to the universe root.
	Bounds []Type

	// Declaring is the generic class declaring the parameter, nil for
	// synthetic variables.
	Declaring *Class

	name string
	k    string
}

func (p *TypeParameter) Name() string { return p.name }
func (p *TypeParameter) key() string  { return p.k }
func (*TypeParameter) isType()        {}

// FirstBound returns the bound used for erasure.
func (p *TypeParameter) FirstBound() Type {
	if len(p.Bounds) == 0 {
		return nil
	}
	return p.Bounds[0]
}

// Field is a declared field.
type Field struct {
	Name      string
	Type      Type
	Static    bool
	Transient bool
	Final     bool

	// Annotations holds qualified or simple annotation names.
	Annotations []string

	// Declaring is set by Universe.Seal.
	Declaring *Class
}

// HasAnnotation reports whether the field carries an annotation whose
// simple name is name.
func (f *Field) HasAnnotation(name string) bool {
	for _, a := range f.Annotations {
		if a == name || strings.HasSuffix(a, "."+name) {
			return true
		}
	}
	return false
}

func (f *Field) String() string {
	if f.Declaring == nil {
		return f.Name
	}
	return f.Declaring.QualifiedName + "." + f.Name
}

// Method is a declared method.
type Method struct {
	Name    string
	Params  []Type
	Results []Type
	Throws  []Type
	Static  bool

	// Declaring is set by Universe.Seal.
	Declaring *Class
}

func (m *Method) String() string {
	if m.Declaring == nil {
		return m.Name
	}
	return m.Declaring.QualifiedName + "." + m.Name
}

// LeafType returns the leaf of an array, or t itself.
func LeafType(t Type) Type {
	if arr, ok := t.(*Array); ok {
		return arr.Leaf()
	}
	return t
}

// BaseClass returns the declaration behind a class, parameterized or raw
// type, or nil for any other shape.
func BaseClass(t Type) *Class {
	switch t := t.(type) {
	case *Class:
		return t
	case *Parameterized:
		return t.Base
	case *Raw:
		return t.Base
	}
	return nil
}

// Compare orders types by name; it is the ordering used for every
// deterministic listing.
func Compare(a, b Type) int {
	if c := strings.Compare(a.Name(), b.Name()); c != 0 {
		return c
	}
	return strings.Compare(a.key(), b.key())
}
