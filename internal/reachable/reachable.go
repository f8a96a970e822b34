// Package reachable computes which types are structurally reachable from a
// type, a method or an interface.
//
// Unlike the serializability analysis it makes no judgement about
// instantiability and ignores exposure: every field, supertype, subtype,
// array component and type argument counts. Results are used to
// cross-check a serializable type oracle and to show what a service
// signature touches.
//
// The traversal is a plain worklist run to a fixed point, in the style of
// rapid type analysis: each newly discovered type is queued once and its
// edges are visited when it is popped.
package reachable

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/rpcoracle/pkg/typemodel"
)

// Oracle answers reachability queries over one sealed universe. Results
// are cached for the lifetime of the oracle. It is safe for concurrent
// use.
type Oracle struct {
	u *typemodel.Universe

	byType   *xsync.Map[typemodel.Type, []typemodel.Type]
	byMethod *xsync.Map[*typemodel.Method, []typemodel.Type]
}

// New creates an oracle over u.
func New(u *typemodel.Universe) *Oracle {
	return &Oracle{
		u:        u,
		byType:   xsync.NewMap[typemodel.Type, []typemodel.Type](),
		byMethod: xsync.NewMap[*typemodel.Method, []typemodel.Type](),
	}
}

// TypesReachableFromType returns t and every type reachable from it,
// sorted by name.
func (o *Oracle) TypesReachableFromType(t typemodel.Type) []typemodel.Type {
	if t == nil {
		return nil
	}
	if cached, ok := o.byType.Load(t); ok {
		return slices.Clone(cached)
	}
	// Computed outside the map so that concurrent queries never block on
	// each other's traversals; the first stored result wins.
	result, _ := o.byType.LoadOrStore(t, o.closure([]typemodel.Type{t}))
	return slices.Clone(result)
}

// TypesReachableFromMethod returns every type reachable from the result,
// parameter and thrown types of m.
func (o *Oracle) TypesReachableFromMethod(m *typemodel.Method) []typemodel.Type {
	if m == nil {
		return nil
	}
	if cached, ok := o.byMethod.Load(m); ok {
		return slices.Clone(cached)
	}
	roots := slices.Concat(m.Results, m.Params, m.Throws)
	result, _ := o.byMethod.LoadOrStore(m, o.closure(roots))
	return slices.Clone(result)
}

// TypesReachableFromInterface returns the union of the types reachable
// from every method of c.
func (o *Oracle) TypesReachableFromInterface(c *typemodel.Class) []typemodel.Type {
	if c == nil {
		return nil
	}
	set := make(map[typemodel.Type]struct{})
	for _, m := range c.Methods {
		for _, t := range o.TypesReachableFromMethod(m) {
			set[t] = struct{}{}
		}
	}
	return slices.SortedFunc(maps.Keys(set), typemodel.Compare)
}

// walk is the working state of one closure computation.
type walk struct {
	o        *Oracle
	seen     map[typemodel.Type]struct{}
	worklist []typemodel.Type
}

func (o *Oracle) closure(roots []typemodel.Type) []typemodel.Type {
	w := &walk{o: o, seen: make(map[typemodel.Type]struct{})}
	for _, r := range roots {
		w.addReachable(r)
	}

	// Process the worklist until no more types are discovered.
	for len(w.worklist) > 0 {
		t := w.worklist[len(w.worklist)-1]
		w.worklist = w.worklist[:len(w.worklist)-1]
		w.visit(t)
	}

	slog.Debug("reachable types computed", "roots", len(roots), "types", len(w.seen))
	return slices.SortedFunc(maps.Keys(w.seen), typemodel.Compare)
}

// addReachable records t and queues it the first time it is seen.
func (w *walk) addReachable(t typemodel.Type) {
	if t == nil {
		return
	}
	n := len(w.seen)
	w.seen[t] = struct{}{}
	if len(w.seen) > n {
		w.worklist = append(w.worklist, t)
	}
}

func (w *walk) visit(t typemodel.Type) {
	u := w.o.u
	switch t := t.(type) {
	case *typemodel.Array:
		w.addReachable(t.Component)

	case *typemodel.Parameterized:
		w.addReachable(u.RawOf(t.Base))
		for _, arg := range t.Args {
			w.addReachable(arg)
		}
		w.visitMembers(t)

	case *typemodel.Raw:
		w.addReachable(t.Base)

	case *typemodel.Class:
		w.visitMembers(t)
		// Subtypes are followed unconditionally, the root's included, so a
		// type that reaches the root reaches every declaration.
		for _, sub := range u.Subtypes(t) {
			w.addReachable(sub)
		}

	case *typemodel.Wildcard:
		w.addReachable(t.Bound)

	case *typemodel.TypeParameter:
		for _, b := range t.Bounds {
			w.addReachable(b)
		}
	}
}

// visitMembers adds the superclass, interfaces and field types of a class
// or parameterized type, with type arguments substituted.
func (w *walk) visitMembers(t typemodel.Type) {
	u := w.o.u
	w.addReachable(u.SuperclassOf(t))
	for _, intf := range u.InterfacesOf(t) {
		w.addReachable(intf)
	}
	for _, f := range u.FieldsOf(t) {
		w.addReachable(f.Type)
	}
}
