// Package sto computes which types of a closed world can flow through a
// serialized RPC interface.
//
// A Builder is seeded with root types (method parameters, results and
// declared exceptions). Build explores every type reachable from the roots
// through subtypes, fields and type arguments, decides which of them can be
// instantiated and which need field serializers, and returns an immutable
// SerializableTypeOracle with the answer.
package sto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/715d/rpcoracle/internal/filter"
	"github.com/715d/rpcoracle/internal/problems"
	"github.com/715d/rpcoracle/pkg/typemodel"
)

// ErrUnableToComplete is returned by Build when a root type has no
// serializable subtypes or a fatal problem was found.
var ErrUnableToComplete = errors.New("unable to complete serializable type analysis")

// Default names used when Options leaves them empty.
var (
	DefaultMarkers = []string{
		"com.google.gwt.user.client.rpc.IsSerializable",
		"java.io.Serializable",
	}
	DefaultCollectionTypes = []string{
		"java.util.Collection",
		"java.util.Map",
	}
)

const (
	DefaultStreamReader = "SerializationStreamReader"
	DefaultStreamWriter = "SerializationStreamWriter"
)

// Options configures a Builder.
type Options struct {
	// Filter decides which classes may be considered at all. Nil allows
	// everything.
	Filter filter.Filter

	// Markers are the qualified names of the interfaces that make a type
	// auto-serializable. Names missing from the universe are ignored.
	Markers []string

	// CollectionTypes are generic collection and map declarations whose
	// raw or wildcard-only use pulls every serializable type into the
	// analysis.
	CollectionTypes []string

	// CoreSerializerPackage is a second package searched for custom field
	// serializers, by simple name.
	CoreSerializerPackage string

	// SerializeFinalFields includes final fields in serialization.
	SerializeFinalFields bool

	// StreamReader and StreamWriter name the stream types custom field
	// serializer methods take, by qualified or simple name.
	StreamReader string
	StreamWriter string

	// Logger receives problem reports. Nil uses slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Filter == nil {
		o.Filter = filter.AllowAll{}
	}
	if o.Markers == nil {
		o.Markers = DefaultMarkers
	}
	if o.CollectionTypes == nil {
		o.CollectionTypes = DefaultCollectionTypes
	}
	if o.StreamReader == "" {
		o.StreamReader = DefaultStreamReader
	}
	if o.StreamWriter == "" {
		o.StreamWriter = DefaultStreamWriter
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Builder computes a SerializableTypeOracle from a set of root types. A
// Builder is not safe for concurrent use.
type Builder struct {
	u           *typemodel.Universe
	opts        Options
	q           *qualifier
	exposure    *ExposureComputer
	constrainer *Constrainer
	collections []*typemodel.Class

	roots   []typemodel.Type
	rootSet map[typemodel.Type]bool

	// Per-build state, reset by Build.
	infos         map[typemodel.Type]*typeInfo
	infoOrder     []*typeInfo
	rootParams    map[*typemodel.TypeParameter]struct{}
	checkedObject bool
	warnedFinal   map[*typemodel.Field]bool
	report        *problems.Report
}

// NewBuilder creates a builder over a sealed universe.
func NewBuilder(u *typemodel.Universe, opts Options) (*Builder, error) {
	if !u.Sealed() {
		return nil, errors.New("universe must be sealed before analysis")
	}
	opts = opts.withDefaults()

	markers := resolveClasses(u, opts.Markers, "marker")
	q := newQualifier(u, opts, markers)
	return &Builder{
		u:           u,
		opts:        opts,
		q:           q,
		exposure:    newExposureComputer(u, q),
		constrainer: NewConstrainer(u),
		collections: resolveClasses(u, opts.CollectionTypes, "collection type"),
		rootSet:     make(map[typemodel.Type]bool),
		report:      problems.New(),
	}, nil
}

func resolveClasses(u *typemodel.Universe, names []string, what string) []*typemodel.Class {
	var out []*typemodel.Class
	for _, name := range names {
		c, ok := u.Lookup(name)
		if !ok {
			slog.Debug("ignoring unknown "+what, "name", name)
			continue
		}
		out = append(out, c)
	}
	return out
}

// AddRootType adds a type every serializable closure must cover.
// Primitives and duplicates are ignored.
func (b *Builder) AddRootType(t typemodel.Type) {
	if t == nil {
		return
	}
	if _, ok := t.(*typemodel.Primitive); ok {
		return
	}
	if b.rootSet[t] {
		return
	}
	b.rootSet[t] = true
	b.roots = append(b.roots, t)
}

// Roots returns the root types in insertion order.
func (b *Builder) Roots() []typemodel.Type { return slices.Clone(b.roots) }

// Problems returns the problems recorded by the last Build.
func (b *Builder) Problems() *problems.Report { return b.report }

// Exposure returns the exposure level of a type parameter.
func (b *Builder) Exposure(generic *typemodel.Class, index int) int {
	return b.exposure.Exposure(generic, index)
}

func (b *Builder) reset() {
	b.infos = make(map[typemodel.Type]*typeInfo)
	b.infoOrder = nil
	b.rootParams = make(map[*typemodel.TypeParameter]struct{})
	b.checkedObject = false
	b.warnedFinal = make(map[*typemodel.Field]bool)
	b.report = problems.New()
}

// Build analyzes every root type. When a root has no serializable subtypes
// or any fatal problem is found, Build still explores every root so that
// all problems are reported, then returns an error wrapping
// ErrUnableToComplete.
func (b *Builder) Build(ctx context.Context) (*SerializableTypeOracle, error) {
	b.reset()
	logger := b.opts.Logger

	for _, root := range b.roots {
		typemodel.TypeParametersIn(root, b.rootParams)
	}

	// Problems from every root are logged together, sorted, once the
	// build settles.
	var failed []string
	defer func() {
		if len(failed) > 0 {
			b.report.Log(ctx, logger, slog.LevelError, slog.LevelInfo)
			return
		}
		b.maybeReport(ctx, b.report)
	}()

	for _, root := range b.roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report := problems.New()
		report.SetContext(root)

		ok := b.computeTypeInstantiability(root, rootPath(root), report).hasInstantiableSubtypes()
		if !ok {
			report.Add(root, root.Name()+" has no serializable subtypes", problems.Fatal)
		}
		if !ok || report.HasFatalProblems() {
			failed = append(failed, root.Name())
		}
		b.report.Merge(report)
	}
	if len(failed) > 0 {
		return nil, fmt.Errorf("%w: %d root type(s) failed: %v", ErrUnableToComplete, len(failed), failed)
	}

	for _, ti := range slices.Clone(b.infoOrder) {
		arr, ok := ti.typ.(*typemodel.Array)
		if !ok || !ti.instantiable {
			continue
		}
		report := problems.New()
		report.SetContext(arr)
		b.markArrayTypes(arr, ti.path, report)
		if report.HasFatalProblems() {
			failed = append(failed, arr.Name())
		}
		b.report.Merge(report)
	}
	if len(failed) > 0 {
		return nil, fmt.Errorf("%w: covariant array analysis failed for %v", ErrUnableToComplete, failed)
	}

	b.pruneUnreachableTypes()
	oracle := b.newOracle()
	if logger.Enabled(ctx, slog.LevelDebug) {
		for _, t := range oracle.SerializableTypes() {
			logger.Debug("serializable type",
				"type", t.Name(), "instantiable", oracle.MaybeInstantiated(t))
		}
	}
	return oracle, nil
}

// maybeReport logs fatal problems as errors and everything else at debug
// level.
func (b *Builder) maybeReport(ctx context.Context, report *problems.Report) {
	if report.HasFatalProblems() {
		report.LogFatal(ctx, b.opts.Logger, slog.LevelError)
	}
	report.Log(ctx, b.opts.Logger, slog.LevelDebug, slog.LevelDebug)
}

func (b *Builder) ensureInfo(t typemodel.Type, path *Path) *typeInfo {
	if ti, ok := b.infos[t]; ok {
		return ti
	}
	ti := newTypeInfo(t, path, b.q)
	b.infos[t] = ti
	b.infoOrder = append(b.infoOrder, ti)
	return ti
}

func (b *Builder) isRootParam(tp *typemodel.TypeParameter) bool {
	_, ok := b.rootParams[tp]
	return ok
}

// computeTypeInstantiability decides whether t or any of its subtypes can
// be instantiated and returns the resulting state.
func (b *Builder) computeTypeInstantiability(t typemodel.Type, path *Path, report *problems.Report) *typeInfo {
	if p, ok := t.(*typemodel.Primitive); ok {
		ti := b.ensureInfo(p, path)
		ti.setInstantiableSubtypes(true)
		ti.setInstantiable(false)
		return ti
	}

	// A type whose check is still running answers optimistically and
	// leaves the verdict to the outer call.
	if ti, ok := b.infos[t]; ok && (ti.done() || ti.computing) {
		return ti
	}

	switch t := t.(type) {
	case *typemodel.TypeParameter:
		if b.isRootParam(t) {
			return b.computeTypeInstantiability(t.FirstBound(), rootTypeParameterPath(path, t), report)
		}
		// Checked when the enclosing parameterization is checked.
		ti := b.ensureInfo(t, path)
		ti.setInstantiableSubtypes(true)
		ti.setInstantiable(false)
		return ti

	case *typemodel.Wildcard:
		ok := b.computeTypeInstantiability(t.UpperBound(), path, report).hasInstantiableSubtypes()
		ti := b.ensureInfo(t, path)
		ti.setInstantiableSubtypes(ok)
		ti.setInstantiable(false)
		return ti

	case *typemodel.Array:
		return b.checkArrayInstantiable(t, path, report)
	}

	if t == typemodel.Type(b.u.Object()) {
		priority := problems.Default
		if path.nonSpeculative() {
			priority = problems.Fatal
		}
		report.Add(t, "In order to produce smaller client-side code, 'Object' is not allowed; please use a more specific type",
			priority)
		ti := b.ensureInfo(t, path)
		ti.setInstantiable(false)
		return ti
	}

	if raw, ok := t.(*typemodel.Raw); ok {
		report.Add(raw, fmt.Sprintf("Type '%s' should be parameterized to help the compiler produce the smallest code size possible for your module",
			raw.Name()), problems.Auxiliary)
	}

	ti := b.ensureInfo(t, path)
	var instantiable []typemodel.Type
	ti.computing = true
	anySubtypes := b.checkSubtypes(t, &instantiable, path, report)
	ti.computing = false
	ti.setInstantiableSubtypes(anySubtypes)
	if !ti.done() {
		ti.setInstantiable(false)
	}
	ti.instantiableTypes = instantiable
	return ti
}

// checkSubtypes checks every possibly instantiable subtype of original,
// including original itself, and collects the instantiable ones.
func (b *Builder) checkSubtypes(original typemodel.Type, instantiable *[]typemodel.Type, path *Path, report *problems.Report) bool {
	base := typemodel.BaseClass(original)
	_, isRaw := original.(*typemodel.Raw)

	anySubtypes := false
	for _, cand := range b.possiblyInstantiableSubtypes(base, report) {
		var candidate typemodel.Type
		if typemodel.BaseClass(cand) == base && !isRaw {
			candidate = original
		} else {
			candidate = b.constrainer.ConstrainTypeBy(cand, original)
			if candidate == nil {
				continue
			}
		}
		if !b.q.isAllowedByFilter(candidate, report) {
			continue
		}

		subPath := subtypePath(path, candidate, original)
		ti := b.ensureInfo(candidate, subPath)
		switch {
		case ti.done():
			if ti.instantiable {
				anySubtypes = true
				*instantiable = append(*instantiable, candidate)
			}
			continue
		case ti.pending():
			anySubtypes = true
			*instantiable = append(*instantiable, candidate)
			continue
		}

		ti.setPending()
		ok := b.checkSubtype(candidate, original, subPath, report)
		ti.setInstantiable(ok)
		if ok {
			anySubtypes = true
			*instantiable = append(*instantiable, candidate)
		}
	}
	return anySubtypes
}

// possiblyInstantiableSubtypes returns base and its subtypes that pass the
// instantiation and qualification checks, generic ones parameterized by
// wildcards.
func (b *Builder) possiblyInstantiableSubtypes(base *typemodel.Class, report *problems.Report) []typemodel.Type {
	if base == nil || base == b.u.Object() {
		return nil
	}
	all := append([]*typemodel.Class{base}, b.u.Subtypes(base)...)
	var out []typemodel.Type
	for _, c := range all {
		if !b.q.maybeInstantiable(c, report) {
			continue
		}
		if c.IsGeneric() {
			out = append(out, b.u.AsParameterizedByWildcards(c))
		} else {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		details := make([]string, 0, len(all))
		for _, c := range all {
			msg := report.WorstMessageFor(c)
			if msg == "" {
				msg = c.Name() + " is not instantiable"
			}
			details = append(details, "subtype "+msg)
		}
		report.Add(base, base.Name()+" has no available instantiable subtypes.", problems.Default, details...)
	}
	return out
}

// checkSubtype checks one candidate: its type arguments, its serializable
// superclasses and its own fields.
func (b *Builder) checkSubtype(t, original typemodel.Type, path *Path, report *problems.Report) bool {
	base := typemodel.BaseClass(t)
	if base.IsEnum() {
		return true
	}

	if p, ok := t.(*typemodel.Parameterized); ok {
		if b.isRawMapOrRawCollection(p) {
			b.checkAllSubtypesOfObject(path, report)
		} else {
			for i, arg := range p.Args {
				if !b.checkTypeArgument(p.Base, i, arg, path, report) {
					return false
				}
			}
		}
	}

	super := b.u.SuperclassOf(t)
	if raw, ok := super.(*typemodel.Raw); ok {
		super = b.u.AsParameterizedByWildcards(raw.Base)
	}
	if super != nil {
		superPath := supertypePath(path, super, t)
		if b.ensureInfo(super, superPath).isDeclaredSerializable() {
			superOK := b.checkSubtype(super, original, superPath, report)
			if !superOK && !b.ensureInfo(t, path).isDirectlySerializable() {
				return false
			}
		}
	}

	return b.checkDeclaredFields(b.ensureInfo(t, path), path, report)
}

// isRawMapOrRawCollection reports whether p is a collection or map whose
// element types are all unconstrained wildcards.
func (b *Builder) isRawMapOrRawCollection(p *typemodel.Parameterized) bool {
	for _, c := range b.collections {
		if !c.IsGeneric() {
			continue
		}
		if as := b.u.AsParameterizationOf(p, c); as != nil && as == b.u.AsParameterizedByWildcards(c) {
			return true
		}
	}
	return false
}

// checkDeclaredFields checks the fields declared by the base of ti's type.
// Types with custom serializers only check their fields speculatively.
func (b *Builder) checkDeclaredFields(ti *typeInfo, path *Path, report *problems.Report) bool {
	base := typemodel.BaseClass(ti.typ)
	if base.IsEnum() {
		return true
	}

	fieldReport := report
	if ti.isManuallySerializable() {
		fieldReport = problems.New()
	}

	allOK := true
	for _, f := range base.Fields {
		if !b.shouldConsiderField(f, report) {
			continue
		}
		fPath := fieldPath(path, f)
		if ti.isManuallySerializable() && typemodel.LeafType(f.Type) == typemodel.Type(b.u.Object()) {
			b.checkAllSubtypesOfObject(fPath, report)
			continue
		}
		if !b.computeTypeInstantiability(f.Type, fPath, fieldReport).hasInstantiableSubtypes() {
			allOK = false
		}
	}

	ok := allOK || ti.isManuallySerializable()
	if ok {
		ti.setFieldSerializable()
	}
	return ok
}

// shouldConsiderField reports whether f is serialized, warning once about
// each final field that is skipped.
func (b *Builder) shouldConsiderField(f *typemodel.Field, report *problems.Report) bool {
	switch b.q.considerField(f) {
	case fieldSkipped:
		return false
	case fieldSkippedFinal:
		if !b.warnedFinal[f] {
			b.warnedFinal[f] = true
			report.Add(f.Declaring, fmt.Sprintf("Field '%s' will not be serialized because it is final", f),
				problems.Auxiliary)
		}
		return false
	}
	return true
}

// checkTypeArgument checks type argument index of generic according to how
// the corresponding parameter is exposed.
func (b *Builder) checkTypeArgument(generic *typemodel.Class, index int, arg typemodel.Type, path *Path, report *problems.Report) bool {
	if w, ok := arg.(*typemodel.Wildcard); ok {
		return b.checkTypeArgument(generic, index, w.UpperBound(), path, report)
	}

	if arr, ok := arg.(*typemodel.Array); ok {
		if leaf, ok := arr.Leaf().(*typemodel.TypeParameter); ok && leaf.Declaring != nil && !b.isRootParam(leaf) {
			leafFlow := b.exposure.Flow(leaf.Declaring, leaf.Ordinal)
			otherFlow := b.exposure.Flow(generic, index)
			if otherFlow != nil && otherFlow.Exposure() >= 0 && otherFlow.IsTransitivelyAffectedBy(leafFlow) {
				report.Add(generic, fmt.Sprintf("Cannot serialize type '%s' when given an argument of type '%s' because it appears to require serializing arrays of unbounded dimension",
					generic.Name(), arg.Name()), problems.Default)
				return false
			}
		}
	}

	argPath := typeArgumentPath(path, generic, index, arg)
	switch exposure := b.exposure.Exposure(generic, index); exposure {
	case ExposureNone:
		slog.Debug("type argument not exposed", "index", index, "type", generic.Name())
		return true
	case ExposureDirect:
		return b.computeTypeInstantiability(arg, argPath, report).hasInstantiableSubtypes() ||
			b.mightNotBeExposed(generic, index)
	default:
		report.Add(arg, fmt.Sprintf("Checking type argument %d of type '%s' because it is exposed as an array with a maximum dimension of %d in this type or one of its subtypes",
			index, generic.Name(), exposure), problems.Auxiliary)
		arrayType := b.u.ArrayOfRank(arg, exposure)
		return b.computeTypeInstantiability(arrayType, argPath, report).hasInstantiableSubtypes() ||
			b.mightNotBeExposed(generic, index)
	}
}

func (b *Builder) mightNotBeExposed(generic *typemodel.Class, index int) bool {
	return b.exposure.MightNotBeExposed(generic, index) || b.q.isManuallySerializable(generic)
}

// checkArrayInstantiable decides an array type from its leaf type.
func (b *Builder) checkArrayInstantiable(arr *typemodel.Array, path *Path, report *problems.Report) *typeInfo {
	leaf := arr.Leaf()
	if w, ok := leaf.(*typemodel.Wildcard); ok {
		bounded := b.u.ArrayOfRank(w.UpperBound(), arr.Rank()).(*typemodel.Array)
		return b.checkArrayInstantiable(bounded, path, report)
	}

	ti := b.ensureInfo(arr, path)
	if ti.done() || ti.pending() {
		return ti
	}
	ti.setPending()

	if tp, ok := leaf.(*typemodel.TypeParameter); ok && !b.isRootParam(tp) {
		// Checked when the parameter is bound.
		ti.setInstantiableSubtypes(true)
		ti.setInstantiable(false)
		return ti
	}
	if !b.q.isAllowedByFilter(arr, report) {
		ti.setInstantiable(false)
		return ti
	}

	leafInfo := b.computeTypeInstantiability(leaf, arrayComponentPath(arr, path), report)
	ti.setInstantiable(leafInfo.hasInstantiableSubtypes())
	return ti
}

// markArrayTypes marks the arrays of every instantiable subtype of an
// instantiable array's leaf, at every rank up to the array's, as
// instantiable: arrays are covariant.
func (b *Builder) markArrayTypes(arr *typemodel.Array, path *Path, report *problems.Report) {
	leaf := arr.Leaf()
	if tp, ok := leaf.(*typemodel.TypeParameter); ok {
		if !b.isRootParam(tp) {
			return
		}
		leaf = tp.FirstBound()
	}

	leafInfo, ok := b.infos[leaf]
	if !ok {
		report.Add(arr, "internal error: leaf type "+leaf.Name()+" of instantiable array was never analyzed",
			problems.Fatal)
		return
	}

	if _, ok := leaf.(*typemodel.Primitive); ok {
		for rank := 1; rank <= arr.Rank(); rank++ {
			b.ensureInfo(b.u.ArrayOfRank(leaf, rank), path).setInstantiable(true)
		}
		return
	}

	leaves := slices.Clone(leafInfo.instantiableTypes)
	if leafInfo.instantiable && !slices.Contains(leaves, leaf) {
		leaves = append(leaves, leaf)
	}
	for rank := 1; rank <= arr.Rank(); rank++ {
		for _, t := range leaves {
			b.ensureInfo(b.u.ArrayOfRank(t, rank), path).setInstantiable(true)
		}
	}
}

// pruneUnreachableTypes drops field-serializable types that are neither
// instantiable nor a superclass of something instantiable.
func (b *Builder) pruneUnreachableTypes() {
	supers := make(map[typemodel.Type]bool)
	for _, ti := range b.infoOrder {
		if !ti.instantiable {
			continue
		}
		if _, ok := ti.typ.(*typemodel.Array); ok {
			supers[b.u.Erasure(ti.typ)] = true
			continue
		}
		for c := typemodel.BaseClass(ti.typ); c != nil; c = typemodel.BaseClass(c.Super) {
			supers[c] = true
		}
	}

	kept := b.infoOrder[:0]
	for _, ti := range b.infoOrder {
		if ti.fieldSerializable && !ti.instantiable && !supers[b.u.Erasure(ti.typ)] {
			slog.Debug("pruning unreachable field serializable type", "type", ti.typ.Name())
			delete(b.infos, ti.typ)
			continue
		}
		kept = append(kept, ti)
	}
	b.infoOrder = kept
}

func (b *Builder) newOracle() *SerializableTypeOracle {
	o := &SerializableTypeOracle{
		u:                 b.u,
		q:                 b.q,
		fieldSerializable: make(map[typemodel.Type]*Path),
		instantiable:      make(map[typemodel.Type]*Path),
	}
	for _, ti := range b.infoOrder {
		switch ti.typ.(type) {
		case *typemodel.Primitive, *typemodel.TypeParameter, *typemodel.Wildcard:
			continue
		}
		erased := b.u.Erasure(ti.typ)
		if ti.instantiable {
			if _, ok := o.instantiable[erased]; !ok {
				o.instantiable[erased] = ti.path
			}
		}
		if ti.fieldSerializable {
			if _, ok := o.fieldSerializable[erased]; !ok {
				o.fieldSerializable[erased] = ti.path
			}
		}
	}
	o.serializable = sortedTypes(o.fieldSerializable)
	o.instantiableList = sortedTypes(o.instantiable)
	return o
}

// checkAllSubtypesOfObject pulls every declared-serializable type into the
// analysis, once per build. Raw collections make this necessary because
// their elements could be anything.
func (b *Builder) checkAllSubtypesOfObject(path *Path, report *problems.Report) {
	if b.checkedObject {
		return
	}
	b.checkedObject = true

	object := b.u.Object()
	slog.Warn("checking all subtypes of Object which qualify for serialization")
	report.Add(object, "Checking all subtypes of Object which qualify for serialization; this may increase the size of the generated code",
		problems.Auxiliary)
	for _, c := range b.u.Subtypes(object) {
		if !b.q.isDeclaredSerializable(c) {
			continue
		}
		b.computeTypeInstantiability(c, subtypePath(path, c, object), report)
	}
}
