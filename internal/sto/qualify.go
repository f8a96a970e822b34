package sto

import (
	"fmt"
	"strings"

	"github.com/715d/rpcoracle/internal/filter"
	"github.com/715d/rpcoracle/internal/problems"
	"github.com/715d/rpcoracle/pkg/typemodel"
)

// transientAnnotation marks fields excluded from serialization in addition
// to the transient modifier.
const transientAnnotation = "GwtTransient"

// qualifier answers the per-declaration questions of the analysis: is a
// type declared serializable, can it be instantiated, and which of its
// fields take part.
type qualifier struct {
	u       *typemodel.Universe
	filter  filter.Filter
	markers []*typemodel.Class

	coreSerializerPackage string
	serializeFinalFields  bool
	readerName            string
	writerName            string

	serializers map[*typemodel.Class]*typemodel.Class
}

func newQualifier(u *typemodel.Universe, opts Options, markers []*typemodel.Class) *qualifier {
	return &qualifier{
		u:                     u,
		filter:                opts.Filter,
		markers:               markers,
		coreSerializerPackage: opts.CoreSerializerPackage,
		serializeFinalFields:  opts.SerializeFinalFields,
		readerName:            opts.StreamReader,
		writerName:            opts.StreamWriter,
		serializers:           make(map[*typemodel.Class]*typemodel.Class),
	}
}

// isAutoSerializable reports whether c is an enum or assignable to a marker.
func (q *qualifier) isAutoSerializable(c *typemodel.Class) bool {
	if c.IsEnum() {
		return true
	}
	for _, m := range q.markers {
		if q.u.IsSubclass(c, m) {
			return true
		}
	}
	return false
}

// directlyImplementsMarker looks for a marker among c and the interfaces it
// implements, ignoring anything inherited through the superclass.
func (q *qualifier) directlyImplementsMarker(c *typemodel.Class) bool {
	seen := map[*typemodel.Class]bool{c: true}
	var walk func(*typemodel.Class) bool
	walk = func(x *typemodel.Class) bool {
		for _, m := range q.markers {
			if x == m {
				return true
			}
		}
		for _, intf := range x.Interfaces {
			base := typemodel.BaseClass(intf)
			if base == nil || seen[base] {
				continue
			}
			seen[base] = true
			if walk(base) {
				return true
			}
		}
		return false
	}
	return walk(c)
}

// customSerializer returns the custom field serializer for c: first
// "<qualified name>_CustomFieldSerializer", then the same simple name in the
// core serializer package.
func (q *qualifier) customSerializer(c *typemodel.Class) *typemodel.Class {
	if s, ok := q.serializers[c]; ok {
		return s
	}
	s, ok := q.u.Lookup(c.QualifiedName + "_CustomFieldSerializer")
	if !ok && q.coreSerializerPackage != "" {
		s, ok = q.u.Lookup(q.coreSerializerPackage + "." + c.SimpleName() + "_CustomFieldSerializer")
	}
	if !ok {
		s = nil
	}
	q.serializers[c] = s
	return s
}

func (q *qualifier) isManuallySerializable(c *typemodel.Class) bool {
	return q.customSerializer(c) != nil
}

func (q *qualifier) isDeclaredSerializable(c *typemodel.Class) bool {
	return q.isAutoSerializable(c) || q.isManuallySerializable(c)
}

// canBeInstantiated reports whether instances of c can be created on
// deserialization. Abstract types fail silently; their subtypes are checked
// separately.
func (q *qualifier) canBeInstantiated(c *typemodel.Class, report *problems.Report) bool {
	if c.IsEnum() {
		return true
	}
	if c.IsAbstract() {
		return false
	}
	if !c.IsDefaultInstantiable() && !q.isManuallySerializable(c) {
		report.Add(c, c.Name()+" is not default instantiable (it must have a zero-argument constructor or no constructors at all) and has no custom serializer.",
			problems.Default)
		return false
	}
	return true
}

// isAllowedByFilter consults the type filter with the erased leaf class of t.
func (q *qualifier) isAllowedByFilter(t typemodel.Type, report *problems.Report) bool {
	c := typemodel.BaseClass(q.u.Erasure(typemodel.LeafType(t)))
	if c == nil {
		return true
	}
	if !q.filter.IsAllowed(c) {
		report.Add(t, t.Name()+" is excluded by type filter "+q.filter.Name(), problems.Auxiliary)
		return false
	}
	return true
}

// shouldConsiderFieldsForSerialization reports whether the fields of c
// should be examined, ignoring c's subtypes.
func (q *qualifier) shouldConsiderFieldsForSerialization(c *typemodel.Class, report *problems.Report) bool {
	if !q.isAllowedByFilter(c, report) {
		return false
	}
	if !q.isDeclaredSerializable(c) {
		report.Add(c, fmt.Sprintf("%s is not assignable to %s nor does it have a custom field serializer",
			c.Name(), q.markerNames()), problems.Default)
		return false
	}

	if s := q.customSerializer(c); s != nil {
		failures := q.validateSerializer(s, c)
		for _, msg := range failures {
			report.Add(c, msg, problems.Default)
		}
		return len(failures) == 0
	}

	if !q.isAccessibleToSerializer(c) {
		report.Add(c, c.Name()+" is not accessible from a class in its same package; it will be excluded from the set of serializable types",
			problems.Default)
		return false
	}
	if c.Local {
		report.Add(c, c.Name()+" is a local type; it will be excluded from the set of serializable types",
			problems.Default)
		return false
	}
	if c.IsMember() && !c.Static {
		report.Add(c, c.Name()+" is nested but not static; it will be excluded from the set of serializable types",
			problems.Default)
		return false
	}
	return true
}

// isAccessibleToSerializer reports whether generated code in the same
// package could reach c. Standard library types must be public.
func (q *qualifier) isAccessibleToSerializer(c *typemodel.Class) bool {
	for cur := c; cur != nil; cur = cur.Enclosing {
		if cur.Visibility == typemodel.Private {
			return false
		}
		if cur.Standard && cur.Visibility != typemodel.Public {
			return false
		}
	}
	return true
}

// fieldStatus classifies a field for serialization.
type fieldStatus int

const (
	fieldSerialized fieldStatus = iota
	fieldSkipped
	fieldSkippedFinal
)

func (q *qualifier) considerField(f *typemodel.Field) fieldStatus {
	switch {
	case f.Static, f.Transient, f.HasAnnotation(transientAnnotation):
		return fieldSkipped
	case f.Final && !q.serializeFinalFields:
		return fieldSkippedFinal
	}
	return fieldSerialized
}

func (q *qualifier) markerNames() string {
	names := make([]string, 0, len(q.markers))
	for _, m := range q.markers {
		names = append(names, "'"+m.QualifiedName+"'")
	}
	if len(names) == 0 {
		return "a serialization marker"
	}
	return strings.Join(names, " or ")
}

// maybeInstantiable combines the instantiation and field qualification
// checks used to pick subtype candidates.
func (q *qualifier) maybeInstantiable(c *typemodel.Class, report *problems.Report) bool {
	return q.canBeInstantiated(c, report) && q.shouldConsiderFieldsForSerialization(c, report)
}
