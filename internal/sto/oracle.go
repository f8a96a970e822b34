package sto

import (
	"maps"
	"slices"
	"strings"

	"github.com/715d/rpcoracle/pkg/typemodel"
)

// SerializableTypeOracle is the immutable result of a Build. All queries
// are answered on erased types and are safe for concurrent use.
type SerializableTypeOracle struct {
	u                 *typemodel.Universe
	q                 *qualifier
	fieldSerializable map[typemodel.Type]*Path
	instantiable      map[typemodel.Type]*Path
	serializable      []typemodel.Type
	instantiableList  []typemodel.Type
}

// SerializableTypes returns every type that needs a field serializer,
// sorted by name.
func (o *SerializableTypeOracle) SerializableTypes() []typemodel.Type {
	return slices.Clone(o.serializable)
}

// InstantiableTypes returns every type that may be created on
// deserialization, sorted by name.
func (o *SerializableTypeOracle) InstantiableTypes() []typemodel.Type {
	return slices.Clone(o.instantiableList)
}

// IsSerializable reports whether t needs a field serializer.
func (o *SerializableTypeOracle) IsSerializable(t typemodel.Type) bool {
	_, ok := o.fieldSerializable[o.u.Erasure(t)]
	return ok
}

// MaybeInstantiated reports whether instances of t may be created.
func (o *SerializableTypeOracle) MaybeInstantiated(t typemodel.Type) bool {
	_, ok := o.instantiable[o.u.Erasure(t)]
	return ok
}

// Path explains why t is serializable, or returns nil.
func (o *SerializableTypeOracle) Path(t typemodel.Type) *Path {
	return o.fieldSerializable[o.u.Erasure(t)]
}

// SerializableFields returns the fields of t's declaration that take part
// in serialization, sorted by name. Superclass fields are not included.
func (o *SerializableTypeOracle) SerializableFields(t typemodel.Type) []*typemodel.Field {
	c := typemodel.BaseClass(o.u.Erasure(t))
	if c == nil {
		return nil
	}
	var out []*typemodel.Field
	for _, f := range c.Fields {
		if o.q.considerField(f) == fieldSerialized {
			out = append(out, f)
		}
	}
	slices.SortFunc(out, func(a, b *typemodel.Field) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// FinalFieldsSerialized reports whether final fields were serialized.
func (o *SerializableTypeOracle) FinalFieldsSerialized() bool {
	return o.q.serializeFinalFields
}

func sortedTypes(m map[typemodel.Type]*Path) []typemodel.Type {
	return slices.SortedFunc(maps.Keys(m), typemodel.Compare)
}
