package sto

import (
	"log/slog"
	"slices"

	"github.com/715d/rpcoracle/internal/problems"
	"github.com/715d/rpcoracle/pkg/typemodel"
)

// Exposure levels. A non-negative level n means values of the type
// parameter are serialized inside arrays of at most n dimensions; 0 means
// they are serialized directly.
const (
	ExposureNone            = -1
	ExposureDirect          = 0
	ExposureMinBoundedArray = 1
)

// ExposureComputer computes, for each type parameter of a generic class,
// whether values of that parameter can be serialized and as arrays of what
// maximum dimension. Results are cached and never decrease.
//
// A parameter is exposed directly when a serializable field of the class or
// of a superclass has it as its (leaf) type. Exposure also flows between
// parameters: a field Box<T[]> exposes T at one more dimension than Box's
// own parameter, and a subclass that passes its parameter up to a generic
// superclass inherits the superclass's exposure.
type ExposureComputer struct {
	u *typemodel.Universe
	q *qualifier

	flows    map[*typemodel.TypeParameter]*FlowInfo
	worklist []*FlowInfo
	queued   map[*FlowInfo]bool
}

func newExposureComputer(u *typemodel.Universe, q *qualifier) *ExposureComputer {
	return &ExposureComputer{
		u:      u,
		q:      q,
		flows:  make(map[*typemodel.TypeParameter]*FlowInfo),
		queued: make(map[*FlowInfo]bool),
	}
}

// FlowInfo is the exposure state of one type parameter.
type FlowInfo struct {
	c     *ExposureComputer
	base  *typemodel.Class
	param *typemodel.TypeParameter

	exposure          int
	mightNotBeExposed bool
	visited           bool

	// causes maps each parameter whose exposure flows into this one to the
	// number of array dimensions added on the way.
	causes      map[*FlowInfo]int
	causesOrder []*FlowInfo

	listeners     map[*FlowInfo]struct{}
	listenerOrder []*FlowInfo
}

// Exposure returns the current exposure level.
func (f *FlowInfo) Exposure() int { return f.exposure }

// MightNotBeExposed is true unless a field exposes the parameter directly
// with its exact type.
func (f *FlowInfo) MightNotBeExposed() bool { return f.mightNotBeExposed }

// Exposure returns the exposure level of type parameter index of generic.
func (c *ExposureComputer) Exposure(generic *typemodel.Class, index int) int {
	f := c.flowInfo(generic, index)
	if f == nil {
		return ExposureNone
	}
	c.drain()
	return f.exposure
}

// MightNotBeExposed reports whether the parameter may escape serialization.
func (c *ExposureComputer) MightNotBeExposed(generic *typemodel.Class, index int) bool {
	f := c.flowInfo(generic, index)
	if f == nil {
		return true
	}
	c.drain()
	return f.mightNotBeExposed
}

// Flow returns the settled flow info of a parameter.
func (c *ExposureComputer) Flow(generic *typemodel.Class, index int) *FlowInfo {
	f := c.flowInfo(generic, index)
	c.drain()
	return f
}

func (c *ExposureComputer) flowInfo(generic *typemodel.Class, index int) *FlowInfo {
	if generic == nil || index < 0 || index >= len(generic.TypeParams) {
		return nil
	}
	tp := generic.TypeParams[index]
	if f, ok := c.flows[tp]; ok {
		return f
	}
	f := &FlowInfo{
		c:                 c,
		base:              generic,
		param:             tp,
		exposure:          ExposureNone,
		mightNotBeExposed: true,
		causes:            make(map[*FlowInfo]int),
		listeners:         make(map[*FlowInfo]struct{}),
	}
	c.flows[tp] = f
	c.enqueue(f)
	return f
}

func (c *ExposureComputer) enqueue(f *FlowInfo) {
	if c.queued[f] {
		return
	}
	c.queued[f] = true
	c.worklist = append(c.worklist, f)
}

// drain runs the worklist to a fixpoint. Whenever a parameter's exposure
// changes, every parameter it feeds is re-examined.
func (c *ExposureComputer) drain() {
	var shadow []*FlowInfo
	for len(c.worklist) > 0 {
		shadow, c.worklist = c.worklist, shadow[:0]
		for _, f := range shadow {
			delete(c.queued, f)
			if f.update() {
				for _, l := range f.listenerOrder {
					c.enqueue(l)
				}
			}
		}
	}
}

func (f *FlowInfo) update() bool {
	changed := false
	if !f.visited {
		f.computeIndirectExposureCauses()
		changed = f.checkDirectExposure()
		f.visited = true
	}
	for _, other := range f.causesOrder {
		if other.exposure < 0 || f.infiniteArrayExpansionPathBetween(other) {
			continue
		}
		if f.markExposedAsArray(f.causes[other] + other.exposure) {
			changed = true
		}
	}
	return changed
}

func (f *FlowInfo) markExposedAsArray(dim int) bool {
	if f.exposure >= dim {
		return false
	}
	f.exposure = dim
	return true
}

// checkDirectExposure walks the class and its superclasses for fields of
// this parameter's type or arrays of it.
func (f *FlowInfo) checkDirectExposure() bool {
	changed := false
	for t := typemodel.Type(f.base); t != nil; t = f.c.u.SuperclassOf(t) {
		base := typemodel.BaseClass(t)
		if base == nil || !f.c.q.shouldConsiderFieldsForSerialization(base, problems.New()) {
			continue
		}
		for _, field := range f.c.u.FieldsOf(t) {
			if f.c.q.considerField(field) != fieldSerialized {
				continue
			}
			if typemodel.LeafType(field.Type) != typemodel.Type(f.param) {
				continue
			}
			f.mightNotBeExposed = false
			changed = true
			f.markExposedAsArray(ExposureDirect)
			if arr, ok := field.Type.(*typemodel.Array); ok {
				f.markExposedAsArray(arr.Rank())
			}
		}
	}
	return changed
}

// computeIndirectExposureCauses records every parameter whose exposure
// implies this one's.
func (f *FlowInfo) computeIndirectExposureCauses() {
	u := f.c.u
	// Subclasses that pass their own parameters up to this one.
	for _, sub := range u.Subtypes(f.base) {
		if !sub.IsGeneric() || !f.c.q.shouldConsiderFieldsForSerialization(sub, problems.New()) {
			continue
		}
		asBase := u.AsParameterizationOf(sub, f.base)
		if asBase == nil {
			continue
		}
		used := map[*typemodel.TypeParameter]struct{}{}
		typemodel.TypeParametersIn(asBase.Args[f.param.Ordinal], used)
		for _, tp := range sortedParams(used) {
			if tp.Declaring == sub {
				f.recordCausesExposure(sub, tp.Ordinal, 0)
			}
		}
	}

	// Fields that pass this parameter to another generic class.
	for t := typemodel.Type(f.base); t != nil; t = u.SuperclassOf(t) {
		base := typemodel.BaseClass(t)
		if base == nil || !f.c.q.shouldConsiderFieldsForSerialization(base, problems.New()) {
			continue
		}
		for _, field := range u.FieldsOf(t) {
			if f.c.q.considerField(field) != fieldSerialized {
				continue
			}
			p, ok := typemodel.LeafType(field.Type).(*typemodel.Parameterized)
			if !ok {
				continue
			}
			for i, arg := range p.Args {
				if !typemodel.References(arg, f.param) {
					continue
				}
				f.recordCausesExposure(p.Base, i, 0)
				if arr, ok := arg.(*typemodel.Array); ok && arr.Leaf() == typemodel.Type(f.param) {
					f.recordCausesExposure(p.Base, i, arr.Rank())
				}
			}
		}
	}
}

func (f *FlowInfo) recordCausesExposure(generic *typemodel.Class, index, level int) {
	other := f.c.flowInfo(generic, index)
	if other == nil {
		return
	}
	if _, ok := other.listeners[f]; !ok {
		other.listeners[f] = struct{}{}
		other.listenerOrder = append(other.listenerOrder, f)
	}
	prev, ok := f.causes[other]
	if !ok {
		f.causesOrder = append(f.causesOrder, other)
	}
	if !ok || level > prev {
		f.causes[other] = level
	}
	slog.Debug("type parameter exposure cause",
		"param", f.param.Name(), "class", f.base.Name(),
		"cause", other.param.Name(), "cause_class", generic.Name(), "level", level)
}

// infiniteArrayExpansionPathBetween reports whether other adds array
// dimensions to this parameter while also depending on it, which would let
// the exposure grow without bound.
func (f *FlowInfo) infiniteArrayExpansionPathBetween(other *FlowInfo) bool {
	delta, ok := f.causes[other]
	return ok && delta > 0 && other.IsTransitivelyAffectedBy(f)
}

// IsTransitivelyAffectedBy reports whether target's exposure can flow into
// f through any chain of causes, including f itself.
func (f *FlowInfo) IsTransitivelyAffectedBy(target *FlowInfo) bool {
	seen := map[*FlowInfo]bool{f: true}
	queue := []*FlowInfo{f}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target {
			return true
		}
		for _, next := range cur.causesOrder {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

func sortedParams(set map[*typemodel.TypeParameter]struct{}) []*typemodel.TypeParameter {
	out := make([]*typemodel.TypeParameter, 0, len(set))
	for tp := range set {
		out = append(out, tp)
	}
	slices.SortFunc(out, func(a, b *typemodel.TypeParameter) int {
		return typemodel.Compare(a, b)
	})
	return out
}
