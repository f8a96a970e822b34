package sto

import "github.com/715d/rpcoracle/pkg/typemodel"

type checkState int

const (
	notChecked checkState = iota
	inProgress
	checkDone
)

// typeInfo is the per-type analysis state of one build. Flags only ever
// become true during a build.
type typeInfo struct {
	typ  typemodel.Type
	path *Path

	// autoSerializable is set for types assignable to a marker interface.
	autoSerializable bool

	// manualSerializer is the custom field serializer, if any.
	manualSerializer *typemodel.Class

	// directlyImplementsMarker is set when a marker is reachable through
	// implemented interfaces alone, without the superclass chain.
	directlyImplementsMarker bool

	state                checkState
	computing            bool
	instantiable         bool
	fieldSerializable    bool
	instantiableSubtypes bool

	// instantiableTypes are the candidates found instantiable when this
	// type was last computed; the covariant array pass reads them.
	instantiableTypes []typemodel.Type
}

func newTypeInfo(t typemodel.Type, path *Path, q *qualifier) *typeInfo {
	ti := &typeInfo{typ: t, path: path}
	if c := typemodel.BaseClass(t); c != nil {
		ti.autoSerializable = q.isAutoSerializable(c)
		ti.manualSerializer = q.customSerializer(c)
		ti.directlyImplementsMarker = q.directlyImplementsMarker(c)
	}
	return ti
}

func (ti *typeInfo) isDeclaredSerializable() bool {
	return ti.autoSerializable || ti.manualSerializer != nil
}

func (ti *typeInfo) isDirectlySerializable() bool {
	return ti.directlyImplementsMarker || ti.manualSerializer != nil
}

func (ti *typeInfo) isManuallySerializable() bool { return ti.manualSerializer != nil }

func (ti *typeInfo) done() bool    { return ti.state == checkDone }
func (ti *typeInfo) pending() bool { return ti.state == inProgress }
func (ti *typeInfo) setPending()   { ti.state = inProgress }

// setInstantiable commits the result of a check. An instantiable type is
// also field serializable.
func (ti *typeInfo) setInstantiable(ok bool) {
	ti.instantiable = ti.instantiable || ok
	if ok {
		ti.fieldSerializable = true
	}
	ti.state = checkDone
}

func (ti *typeInfo) setFieldSerializable() { ti.fieldSerializable = true }

func (ti *typeInfo) setInstantiableSubtypes(ok bool) {
	ti.instantiableSubtypes = ti.instantiableSubtypes || ok
}

// hasInstantiableSubtypes is optimistic while the type or its subtypes are
// still being checked, which is what breaks cycles.
func (ti *typeInfo) hasInstantiableSubtypes() bool {
	return ti.instantiable || ti.instantiableSubtypes || ti.state == inProgress || ti.computing
}
