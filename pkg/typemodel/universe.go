package typemodel

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// DefaultObjectName is the name of the universe root used when none is
// given.
const DefaultObjectName = "java.lang.Object"

// ErrSealed is returned when declarations are added to a sealed universe.
var ErrSealed = errors.New("universe is sealed")

// Universe is a closed world of declarations. Declarations are added with
// AddClass and frozen by Seal; afterwards the universe is read-only except
// for the interning tables, which are safe for concurrent use.
type Universe struct {
	object  *Class
	classes map[string]*Class
	sealed  bool

	// supers holds the transitive erased supertypes of every class,
	// including the class itself and the root.
	supers   map[*Class]map[*Class]struct{}
	subtypes map[*Class][]*Class

	primitives *xsync.Map[string, *Primitive]
	derived    *xsync.Map[string, Type]
	fields     *xsync.Map[*Parameterized, []*Field]
	nextID     atomic.Int64
}

// NewUniverse creates a universe whose root class is named objectName.
func NewUniverse(objectName string) *Universe {
	if objectName == "" {
		objectName = DefaultObjectName
	}
	pkg := ""
	if i := strings.LastIndexByte(objectName, '.'); i >= 0 {
		pkg = objectName[:i]
	}
	object := &Class{
		QualifiedName: objectName,
		Package:       pkg,
		Kind:          KindClass,
		Standard:      true,
	}
	return &Universe{
		object:     object,
		classes:    map[string]*Class{objectName: object},
		primitives: xsync.NewMap[string, *Primitive](),
		derived:    xsync.NewMap[string, Type](),
		fields:     xsync.NewMap[*Parameterized, []*Field](),
	}
}

// Object returns the universe root.
func (u *Universe) Object() *Class { return u.object }

// Sealed reports whether Seal has completed.
func (u *Universe) Sealed() bool { return u.sealed }

// AddClass registers a declaration.
func (u *Universe) AddClass(c *Class) error {
	if u.sealed {
		return ErrSealed
	}
	if c == nil || c.QualifiedName == "" {
		return fmt.Errorf("class has no name")
	}
	if _, exists := u.classes[c.QualifiedName]; exists {
		return fmt.Errorf("duplicate class %q", c.QualifiedName)
	}
	u.classes[c.QualifiedName] = c
	return nil
}

// Lookup returns the declaration with the given qualified name.
func (u *Universe) Lookup(name string) (*Class, bool) {
	c, ok := u.classes[name]
	return c, ok
}

// Classes returns every declaration sorted by name.
func (u *Universe) Classes() []*Class {
	return slices.SortedFunc(maps.Values(u.classes), func(a, b *Class) int {
		return strings.Compare(a.QualifiedName, b.QualifiedName)
	})
}

// NewTypeParameter creates a type variable with a unique identity. Declared
// parameters get their Declaring class and Ordinal filled in by Seal when
// they are listed in a Class's TypeParams; synthetic ones keep Ordinal -1.
func (u *Universe) NewTypeParameter(name string, bounds ...Type) *TypeParameter {
	id := u.nextID.Add(1)
	return &TypeParameter{
		Ordinal: -1,
		Bounds:  bounds,
		name:    name,
		k:       name + "#" + strconv.FormatInt(id, 10),
	}
}

// Seal validates the declarations, fills in defaults and computes the
// closed-world subtype index. A universe must be sealed before analysis.
func (u *Universe) Seal() error {
	if u.sealed {
		return nil
	}

	var errs []error
	for _, c := range u.Classes() {
		if c != u.object && c.Super == nil && c.Kind != KindInterface {
			c.Super = u.object
		}
		if c.Kind == KindInterface && c.Super != nil {
			errs = append(errs, fmt.Errorf("%s: interface cannot have a superclass", c.QualifiedName))
		}
		if c.Super != nil && BaseClass(c.Super) == nil {
			errs = append(errs, fmt.Errorf("%s: superclass %s is not a class", c.QualifiedName, c.Super.Name()))
		}
		if base := BaseClass(c.Super); base != nil && base.IsInterface() {
			errs = append(errs, fmt.Errorf("%s: superclass %s is an interface", c.QualifiedName, base.QualifiedName))
		}
		for _, intf := range c.Interfaces {
			base := BaseClass(intf)
			if base == nil || !base.IsInterface() {
				errs = append(errs, fmt.Errorf("%s: %s is not an interface", c.QualifiedName, intf.Name()))
			}
		}
		for i, tp := range c.TypeParams {
			tp.Declaring = c
			tp.Ordinal = i
			if len(tp.Bounds) == 0 {
				tp.Bounds = []Type{u.object}
			}
		}
		for _, f := range c.Fields {
			f.Declaring = c
			if f.Type == nil {
				errs = append(errs, fmt.Errorf("%s.%s: field has no type", c.QualifiedName, f.Name))
			}
		}
		for _, m := range c.Methods {
			m.Declaring = c
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	u.supers = make(map[*Class]map[*Class]struct{}, len(u.classes))
	for _, c := range u.Classes() {
		if err := u.collectSupers(c, map[*Class]bool{}); err != nil {
			return err
		}
	}

	u.subtypes = make(map[*Class][]*Class, len(u.classes))
	for _, c := range u.Classes() {
		for sup := range u.supers[c] {
			if sup != c {
				u.subtypes[sup] = append(u.subtypes[sup], c)
			}
		}
	}
	for sup, subs := range u.subtypes {
		slices.SortFunc(subs, func(a, b *Class) int {
			return strings.Compare(a.QualifiedName, b.QualifiedName)
		})
		u.subtypes[sup] = subs
	}

	u.sealed = true
	return nil
}

func (u *Universe) collectSupers(c *Class, onPath map[*Class]bool) error {
	if _, done := u.supers[c]; done {
		return nil
	}
	if onPath[c] {
		return fmt.Errorf("%s: cyclic inheritance", c.QualifiedName)
	}
	onPath[c] = true
	defer delete(onPath, c)

	set := map[*Class]struct{}{c: {}, u.object: {}}
	for _, direct := range u.directSupers(c) {
		if err := u.collectSupers(direct, onPath); err != nil {
			return err
		}
		for s := range u.supers[direct] {
			set[s] = struct{}{}
		}
	}
	u.supers[c] = set
	return nil
}

func (u *Universe) directSupers(c *Class) []*Class {
	var out []*Class
	if base := BaseClass(c.Super); base != nil {
		out = append(out, base)
	}
	for _, intf := range c.Interfaces {
		if base := BaseClass(intf); base != nil {
			out = append(out, base)
		}
	}
	return out
}

// Subtypes returns every transitive subtype of c, sorted by name. The root
// reports every other declaration.
func (u *Universe) Subtypes(c *Class) []*Class {
	return u.subtypes[c]
}

// IsSubclass reports whether sub is sup or inherits from it.
func (u *Universe) IsSubclass(sub, sup *Class) bool {
	if sup == u.object {
		return true
	}
	_, ok := u.supers[sub][sup]
	return ok
}

// Primitive returns the interned primitive with the given name.
func (u *Universe) Primitive(name string) *Primitive {
	p, _ := u.primitives.LoadOrCompute(name, func() (*Primitive, bool) {
		return &Primitive{name: name}, false
	})
	return p
}

// ArrayOf returns the interned array of component.
func (u *Universe) ArrayOf(component Type) *Array {
	k := component.key() + "[]"
	return u.intern(k, func() Type {
		return &Array{Component: component, k: k}
	}).(*Array)
}

// ArrayOfRank wraps leaf in rank array dimensions; rank 0 returns leaf.
func (u *Universe) ArrayOfRank(leaf Type, rank int) Type {
	t := leaf
	for range rank {
		t = u.ArrayOf(t)
	}
	return t
}

// Parameterize returns the interned application of base to args. It panics
// when the argument count does not match the declaration.
func (u *Universe) Parameterize(base *Class, args ...Type) *Parameterized {
	if len(args) != len(base.TypeParams) {
		panic(fmt.Sprintf("typemodel: %s expects %d type arguments, got %d",
			base.QualifiedName, len(base.TypeParams), len(args)))
	}
	var b strings.Builder
	b.WriteString(base.key())
	b.WriteByte('<')
	for i, arg := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(arg.key())
	}
	b.WriteByte('>')
	k := b.String()
	return u.intern(k, func() Type {
		return &Parameterized{Base: base, Args: slices.Clone(args), k: k}
	}).(*Parameterized)
}

// RawOf returns the interned raw use of a generic declaration.
func (u *Universe) RawOf(base *Class) *Raw {
	k := "raw(" + base.key() + ")"
	return u.intern(k, func() Type {
		return &Raw{Base: base, k: k}
	}).(*Raw)
}

// Wildcard returns the interned wildcard. bound is ignored for Unbound.
func (u *Universe) Wildcard(kind BoundKind, bound Type) *Wildcard {
	var k string
	switch kind {
	case Extends:
		k = "?+" + bound.key()
	case Super:
		k = "?-" + bound.key()
	default:
		k, bound = "?", nil
	}
	return u.intern(k, func() Type {
		w := &Wildcard{Kind: kind, Bound: bound, upper: u.object, k: k}
		if kind == Extends {
			w.upper = bound
		}
		return w
	}).(*Wildcard)
}

func (u *Universe) intern(k string, mk func() Type) Type {
	t, _ := u.derived.LoadOrCompute(k, func() (Type, bool) {
		return mk(), false
	})
	return t
}
