package typemodel

import "slices"

// Erasure returns the erased form of t: declarations stand for their own
// erasure, so parameterized and raw types erase to their base *Class, type
// parameters and wildcards to the erasure of their (first) upper bound, and
// arrays to arrays of erased components.
func (u *Universe) Erasure(t Type) Type {
	switch t := t.(type) {
	case *Parameterized:
		return t.Base
	case *Raw:
		return t.Base
	case *Array:
		c := u.Erasure(t.Component)
		if c == t.Component {
			return t
		}
		return u.ArrayOf(c)
	case *TypeParameter:
		if b := t.FirstBound(); b != nil {
			return u.erasedBound(b, map[*TypeParameter]bool{t: true})
		}
		return u.object
	case *Wildcard:
		return u.Erasure(t.UpperBound())
	}
	return t
}

// erasedBound erases a type-parameter bound, cutting parameter chains that
// loop back on themselves.
func (u *Universe) erasedBound(b Type, seen map[*TypeParameter]bool) Type {
	tp, ok := b.(*TypeParameter)
	if !ok {
		return u.Erasure(b)
	}
	if seen[tp] || tp.FirstBound() == nil {
		return u.object
	}
	seen[tp] = true
	return u.erasedBound(tp.FirstBound(), seen)
}

// Substitute rebuilds t, replacing every type parameter p for which fn
// returns non-nil. Bounds of type parameters are not rewritten.
func (u *Universe) Substitute(t Type, fn func(*TypeParameter) Type) Type {
	switch t := t.(type) {
	case *TypeParameter:
		if r := fn(t); r != nil {
			return r
		}
		return t
	case *Array:
		c := u.Substitute(t.Component, fn)
		if c == t.Component {
			return t
		}
		return u.ArrayOf(c)
	case *Parameterized:
		var args []Type
		for i, arg := range t.Args {
			s := u.Substitute(arg, fn)
			if s != arg && args == nil {
				args = slices.Clone(t.Args)
			}
			if args != nil {
				args[i] = s
			}
		}
		if args == nil {
			return t
		}
		return u.Parameterize(t.Base, args...)
	case *Wildcard:
		if t.Kind == Unbound {
			return t
		}
		b := u.Substitute(t.Bound, fn)
		if b == t.Bound {
			return t
		}
		return u.Wildcard(t.Kind, b)
	}
	return t
}

// bindings maps the parameters of p's base declaration to p's arguments.
func bindings(p *Parameterized) func(*TypeParameter) Type {
	return func(tp *TypeParameter) Type {
		if tp.Declaring == p.Base && tp.Ordinal >= 0 && tp.Ordinal < len(p.Args) {
			return p.Args[tp.Ordinal]
		}
		return nil
	}
}

// rawOrClass returns the raw form of a generic declaration and the
// declaration itself otherwise.
func (u *Universe) rawOrClass(c *Class) Type {
	if c == nil {
		return nil
	}
	if c.IsGeneric() {
		return u.RawOf(c)
	}
	return c
}

// SuperclassOf returns the superclass of a class, parameterized or raw type
// with type arguments substituted; raw types see an erased superclass.
func (u *Universe) SuperclassOf(t Type) Type {
	switch t := t.(type) {
	case *Class:
		return t.Super
	case *Parameterized:
		if t.Base.Super == nil {
			return nil
		}
		return u.Substitute(t.Base.Super, bindings(t))
	case *Raw:
		return u.rawOrClass(BaseClass(t.Base.Super))
	}
	return nil
}

// InterfacesOf returns the directly implemented interfaces of a class,
// parameterized or raw type, substituted like SuperclassOf.
func (u *Universe) InterfacesOf(t Type) []Type {
	switch t := t.(type) {
	case *Class:
		return t.Interfaces
	case *Parameterized:
		out := make([]Type, 0, len(t.Base.Interfaces))
		for _, intf := range t.Base.Interfaces {
			out = append(out, u.Substitute(intf, bindings(t)))
		}
		return out
	case *Raw:
		out := make([]Type, 0, len(t.Base.Interfaces))
		for _, intf := range t.Base.Interfaces {
			out = append(out, u.rawOrClass(BaseClass(intf)))
		}
		return out
	}
	return nil
}

// FieldsOf returns the fields declared by the base of t. For parameterized
// types the field types have the type arguments substituted in.
func (u *Universe) FieldsOf(t Type) []*Field {
	switch t := t.(type) {
	case *Class:
		return t.Fields
	case *Raw:
		return t.Base.Fields
	case *Parameterized:
		fields, _ := u.fields.LoadOrCompute(t, func() ([]*Field, bool) {
			out := make([]*Field, 0, len(t.Base.Fields))
			for _, f := range t.Base.Fields {
				sf := *f
				sf.Type = u.Substitute(f.Type, bindings(t))
				out = append(out, &sf)
			}
			return out, false
		})
		return fields
	}
	return nil
}

// SelfParameterization applies a generic declaration to its own type
// parameters.
func (u *Universe) SelfParameterization(g *Class) *Parameterized {
	args := make([]Type, len(g.TypeParams))
	for i, tp := range g.TypeParams {
		args[i] = tp
	}
	return u.Parameterize(g, args...)
}

// AsParameterizedByWildcards applies a generic declaration to wildcards
// bounded by each parameter's first bound.
func (u *Universe) AsParameterizedByWildcards(g *Class) *Parameterized {
	args := make([]Type, len(g.TypeParams))
	for i, tp := range g.TypeParams {
		b := tp.FirstBound()
		if b == nil || b == Type(u.object) {
			args[i] = u.Wildcard(Unbound, nil)
			continue
		}
		args[i] = u.Wildcard(Extends, b)
	}
	return u.Parameterize(g, args...)
}

// AsParameterizationOf finds the supertype of t whose base is target and
// returns it when it is parameterized. A generic declaration t is viewed
// through its self parameterization. It returns nil when target is not a
// generic supertype of t or when t reaches it only through a raw type.
func (u *Universe) AsParameterizationOf(t Type, target *Class) *Parameterized {
	if target == nil || !target.IsGeneric() {
		return nil
	}
	var start Type
	switch t := t.(type) {
	case *Class:
		if t.IsGeneric() {
			start = u.SelfParameterization(t)
		} else {
			start = t
		}
	case *Parameterized, *Raw:
		start = t
	default:
		return nil
	}
	return u.findParameterization(start, target, map[Type]bool{})
}

func (u *Universe) findParameterization(cur Type, target *Class, seen map[Type]bool) *Parameterized {
	if cur == nil || seen[cur] {
		return nil
	}
	seen[cur] = true
	if BaseClass(cur) == target {
		p, _ := cur.(*Parameterized)
		return p
	}
	if base := BaseClass(cur); base == nil || !u.IsSubclass(base, target) {
		return nil
	}
	if p := u.findParameterization(u.SuperclassOf(cur), target, seen); p != nil {
		return p
	}
	for _, intf := range u.InterfacesOf(cur) {
		if p := u.findParameterization(intf, target, seen); p != nil {
			return p
		}
	}
	return nil
}

// IsAssignable reports whether a value of type from can be stored where to
// is expected, judged on erasures.
func (u *Universe) IsAssignable(from, to Type) bool {
	from, to = u.Erasure(from), u.Erasure(to)
	if from == to {
		return true
	}
	switch to := to.(type) {
	case *Class:
		if to == u.object {
			_, prim := from.(*Primitive)
			return !prim
		}
		f, ok := from.(*Class)
		return ok && u.IsSubclass(f, to)
	case *Array:
		f, ok := from.(*Array)
		if !ok {
			return false
		}
		_, toPrim := to.Component.(*Primitive)
		_, fromPrim := f.Component.(*Primitive)
		if toPrim || fromPrim {
			return f.Component == to.Component
		}
		return u.IsAssignable(f.Component, to.Component)
	}
	return false
}

// TypeParametersIn records every type parameter occurring in t (inside
// arrays, wildcard bounds and type arguments) into into.
func TypeParametersIn(t Type, into map[*TypeParameter]struct{}) {
	switch t := t.(type) {
	case *TypeParameter:
		into[t] = struct{}{}
	case *Array:
		TypeParametersIn(t.Component, into)
	case *Wildcard:
		if t.Bound != nil {
			TypeParametersIn(t.Bound, into)
		}
	case *Parameterized:
		for _, arg := range t.Args {
			TypeParametersIn(arg, into)
		}
	}
}

// References reports whether tp occurs anywhere in t.
func References(t Type, tp *TypeParameter) bool {
	set := map[*TypeParameter]struct{}{}
	TypeParametersIn(t, set)
	_, ok := set[tp]
	return ok
}
