package sto

import (
	"strconv"

	"github.com/715d/rpcoracle/pkg/typemodel"
)

// Constrainer narrows subtype candidates by what a supertype's type
// arguments already say. Given ArrayList<?> as a candidate for
// List<String>, it produces ArrayList<String>; given a candidate that can
// never be a List<String>, it rejects it.
type Constrainer struct {
	u     *typemodel.Universe
	fresh int
}

// NewConstrainer creates a constrainer over a sealed universe.
func NewConstrainer(u *typemodel.Universe) *Constrainer {
	return &Constrainer{u: u}
}

// ConstrainTypeBy returns sub constrained to be assignable to sup, or nil
// when no such specialization exists. Unparameterized supertypes leave sub
// unchanged.
func (c *Constrainer) ConstrainTypeBy(sub, sup typemodel.Type) typemodel.Type {
	supParam, ok := sup.(*typemodel.Parameterized)
	if !ok {
		return sub
	}

	constraints := make(map[*typemodel.TypeParameter]typemodel.Type)
	replaced := c.replaceWildcards(sub, constraints)

	subAsSup := c.u.AsParameterizationOf(replaced, supParam.Base)
	if subAsSup == nil {
		// Only reachable through a raw supertype; nothing to learn.
		return sub
	}
	if !c.TypesMatch(subAsSup, supParam, constraints) {
		return nil
	}
	return c.u.Substitute(replaced, func(tp *typemodel.TypeParameter) typemodel.Type {
		return constraints[tp]
	})
}

// replaceWildcards swaps every wildcard type argument for a fresh type
// variable constrained by the wildcard's upper bound.
func (c *Constrainer) replaceWildcards(t typemodel.Type, constraints map[*typemodel.TypeParameter]typemodel.Type) typemodel.Type {
	switch t := t.(type) {
	case *typemodel.Wildcard:
		c.fresh++
		tp := c.u.NewTypeParameter("TP$"+strconv.Itoa(c.fresh), c.u.Object())
		constraints[tp] = t.UpperBound()
		return tp
	case *typemodel.Array:
		comp := c.replaceWildcards(t.Component, constraints)
		if comp == t.Component {
			return t
		}
		return c.u.ArrayOf(comp)
	case *typemodel.Parameterized:
		args := make([]typemodel.Type, len(t.Args))
		changed := false
		for i, arg := range t.Args {
			args[i] = c.replaceWildcards(arg, constraints)
			changed = changed || args[i] != arg
		}
		if !changed {
			return t
		}
		return c.u.Parameterize(t.Base, args...)
	}
	return t
}

// TypesMatch reports whether some type could be assignable to both t1 and
// t2. Constrained variables found in t1 are tightened when t2 is more
// specific than their current constraint.
func (c *Constrainer) TypesMatch(t1, t2 typemodel.Type, constraints map[*typemodel.TypeParameter]typemodel.Type) bool {
	u := c.u
	object := typemodel.Type(u.Object())

	if g, ok := t1.(*typemodel.Class); ok && g.IsGeneric() {
		t1 = u.AsParameterizedByWildcards(g)
	}
	if g, ok := t2.(*typemodel.Class); ok && g.IsGeneric() {
		t2 = u.AsParameterizedByWildcards(g)
	}
	if w, ok := t1.(*typemodel.Wildcard); ok {
		return c.TypesMatch(w.UpperBound(), t2, constraints)
	}
	if w, ok := t2.(*typemodel.Wildcard); ok {
		return c.TypesMatch(t1, w.UpperBound(), constraints)
	}
	if r, ok := t1.(*typemodel.Raw); ok {
		return c.TypesMatch(u.AsParameterizedByWildcards(r.Base), t2, constraints)
	}
	if r, ok := t2.(*typemodel.Raw); ok {
		return c.TypesMatch(t1, u.AsParameterizedByWildcards(r.Base), constraints)
	}

	if t1 == t2 {
		return true
	}

	if tp, ok := t1.(*typemodel.TypeParameter); ok {
		if bound, constrained := constraints[tp]; constrained {
			if !c.TypesMatch(bound, t2, constraints) {
				return false
			}
			if u.IsAssignable(t2, bound) && !typemodel.References(t2, tp) {
				constraints[tp] = t2
			}
		}
	}

	if t1 == object || t2 == object {
		return true
	}
	if _, ok := t1.(*typemodel.TypeParameter); ok {
		return true
	}
	if _, ok := t2.(*typemodel.TypeParameter); ok {
		return true
	}

	a1, ok1 := t1.(*typemodel.Array)
	a2, ok2 := t2.(*typemodel.Array)
	if ok1 && ok2 {
		return c.TypesMatch(a1.Component, a2.Component, constraints)
	}

	b1, b2 := classLike(t1), classLike(t2)
	if b1 == nil || b2 == nil {
		return false
	}
	p1, isParam1 := t1.(*typemodel.Parameterized)
	p2, isParam2 := t2.(*typemodel.Parameterized)
	if b1 == b2 && isParam1 && isParam2 {
		for i := range p1.Args {
			if !c.TypesMatch(p1.Args[i], p2.Args[i], constraints) {
				return false
			}
		}
		return true
	}
	return c.baseTypesOverlap(b1, b2)
}

// baseTypesOverlap reports whether some declaration is a subtype of both.
func (c *Constrainer) baseTypesOverlap(a, b *typemodel.Class) bool {
	if a == b {
		return true
	}
	fromA := map[*typemodel.Class]bool{a: true}
	for _, s := range c.u.Subtypes(a) {
		fromA[s] = true
	}
	if fromA[b] {
		return true
	}
	for _, s := range c.u.Subtypes(b) {
		if fromA[s] {
			return true
		}
	}
	return false
}

func classLike(t typemodel.Type) *typemodel.Class {
	switch t := t.(type) {
	case *typemodel.Class:
		return t
	case *typemodel.Parameterized:
		return t.Base
	}
	return nil
}
