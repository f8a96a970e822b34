// Package gosource maps type-checked Go packages onto a typemodel universe
// so that RPC services written in Go can be analyzed.
//
// The mapping follows Go's own notion of what a value carries over the
// wire: structs become classes whose exported fields are serialized,
// pointers collapse to their pointee, slices and arrays become arrays and
// maps become the synthetic generic class MapName. Interfaces become
// interfaces; a concrete type implements every loaded interface whose
// method set it (or its pointer) satisfies. Types opt into serialization
// with the //rpc:serializable directive and services are marked with
// //rpc:service.
package gosource

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/types"
	"log/slog"
	"reflect"
	"runtime"
	"slices"
	"strconv"

	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/packages"

	"github.com/715d/rpcoracle/pkg/directive"
	"github.com/715d/rpcoracle/pkg/typemodel"
)

const (
	// ObjectName is the universe root: the empty interface.
	ObjectName = "any"

	// MarkerName is the synthetic interface implemented by every type
	// carrying //rpc:serializable.
	MarkerName = "rpc.Serializable"

	// MapName is the synthetic generic class standing in for map[K]V.
	MapName = "rpc.Map"
)

// Options configures Convert.
type Options struct {
	// IsStandard reports whether an import path belongs to the standard
	// library. Nil uses the std package list of the local toolchain.
	IsStandard func(path string) bool
}

// Program is a converted set of packages.
type Program struct {
	Universe *typemodel.Universe

	// Services are the interfaces marked //rpc:service, sorted by name.
	Services []*typemodel.Class
}

// scanned holds what one package contributes before conversion.
type scanned struct {
	pkg        *packages.Package
	directives *directive.Set
	decls      []*types.TypeName
}

// Convert maps pkgs onto a new sealed universe. Every type declared in
// pkgs is converted; types from other packages only when referenced.
func Convert(ctx context.Context, pkgs []*packages.Package, opts Options) (*Program, error) {
	isStd := opts.IsStandard
	if isStd == nil {
		isStd = IsStandard
	}

	names := NewNameCache()
	results := make([]scanned, len(pkgs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, pkg := range pkgs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := scan(pkg, names)
			if err != nil {
				return fmt.Errorf("scan %s: %w", pkg.PkgPath, err)
			}
			results[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c := newConverter(names, isStd)
	for _, s := range results {
		c.directives[s.pkg.Types] = s.directives
	}
	for _, s := range results {
		for _, obj := range s.decls {
			c.declare(obj)
		}
	}
	if err := c.run(); err != nil {
		return nil, err
	}
	c.linkImplementations()

	if err := c.u.Seal(); err != nil {
		return nil, fmt.Errorf("seal universe: %w", err)
	}

	prog := &Program{Universe: c.u}
	for _, cls := range c.u.Classes() {
		if c.services[cls] {
			prog.Services = append(prog.Services, cls)
		}
	}
	slog.Debug("converted go packages",
		"packages", len(pkgs),
		"classes", len(c.u.Classes()),
		"services", len(prog.Services))
	return prog, nil
}

// scan collects the package-level and function-local type declarations of
// pkg and the directives attached to them.
func scan(pkg *packages.Package, names *NameCache) (scanned, error) {
	s := scanned{pkg: pkg, directives: directive.NewSet()}
	if pkg.Types == nil || pkg.TypesInfo == nil {
		return s, errors.New("package has no type information")
	}
	if err := s.directives.Load(pkg.Fset, pkg.Syntax); err != nil {
		return s, err
	}

	scope := pkg.Types.Scope()
	for _, name := range scope.Names() {
		if obj, ok := scope.Lookup(name).(*types.TypeName); ok && !obj.IsAlias() {
			s.decls = append(s.decls, obj)
		}
	}

	seen := make(map[string]int)
	for _, file := range pkg.Syntax {
		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Body == nil {
				continue
			}
			fnName := funcName(fn)
			ast.Inspect(fn.Body, func(n ast.Node) bool {
				ts, ok := n.(*ast.TypeSpec)
				if !ok {
					return true
				}
				obj, ok := pkg.TypesInfo.Defs[ts.Name].(*types.TypeName)
				if !ok || obj.IsAlias() {
					return true
				}
				key := fnName + "$" + obj.Name()
				seen[key]++
				prefix := fnName
				if n := seen[key]; n > 1 {
					prefix += "$" + strconv.Itoa(n)
				}
				names.RegisterLocal(obj, prefix)
				s.decls = append(s.decls, obj)
				return true
			})
		}
	}
	return s, nil
}

func funcName(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return fn.Name.Name
	}
	recv := fn.Recv.List[0].Type
	for {
		switch t := recv.(type) {
		case *ast.StarExpr:
			recv = t.X
			continue
		case *ast.IndexExpr:
			recv = t.X
			continue
		case *ast.IndexListExpr:
			recv = t.X
			continue
		case *ast.Ident:
			return t.Name + "." + fn.Name.Name
		}
		return fn.Name.Name
	}
}

type converter struct {
	u     *typemodel.Universe
	names *NameCache
	isStd func(string) bool

	classes    map[*types.TypeName]*typemodel.Class
	tparams    map[*types.TypeParam]*typemodel.TypeParameter
	directives map[*types.Package]*directive.Set
	services   map[*typemodel.Class]bool
	pending    []*types.TypeName
	errs       []error

	marker   *typemodel.Class
	mapClass *typemodel.Class
}

var errorType = types.Universe.Lookup("error").Type()

func newConverter(names *NameCache, isStd func(string) bool) *converter {
	u := typemodel.NewUniverse(ObjectName)
	marker := &typemodel.Class{
		QualifiedName: MarkerName,
		Package:       "rpc",
		Kind:          typemodel.KindInterface,
	}
	key := u.NewTypeParameter("K")
	value := u.NewTypeParameter("V")
	mapClass := &typemodel.Class{
		QualifiedName: MapName,
		Package:       "rpc",
		Kind:          typemodel.KindClass,
		Interfaces:    []typemodel.Type{marker},
		TypeParams:    []*typemodel.TypeParameter{key, value},
		Fields: []*typemodel.Field{
			{Name: "keys", Type: u.ArrayOf(key)},
			{Name: "values", Type: u.ArrayOf(value)},
		},
	}
	// Neither name can collide: Go qualified names always contain a path.
	_ = u.AddClass(marker)
	_ = u.AddClass(mapClass)

	return &converter{
		u:          u,
		names:      names,
		isStd:      isStd,
		classes:    make(map[*types.TypeName]*typemodel.Class),
		tparams:    make(map[*types.TypeParam]*typemodel.TypeParameter),
		directives: make(map[*types.Package]*directive.Set),
		services:   make(map[*typemodel.Class]bool),
		marker:     marker,
		mapClass:   mapClass,
	}
}

// declare creates the class shell for a named type and queues it for
// definition. Type parameters are created here so that uses of the type
// can be parameterized before its body is converted.
func (c *converter) declare(obj *types.TypeName) *typemodel.Class {
	if cls, ok := c.classes[obj]; ok {
		return cls
	}
	named, ok := obj.Type().(*types.Named)
	if !ok || obj.Pkg() == nil {
		return nil
	}
	named = named.Origin()

	path := obj.Pkg().Path()
	cls := &typemodel.Class{
		QualifiedName: c.names.ClassName(obj),
		Package:       path,
		Kind:          c.kindOf(obj, named),
		Local:         IsLocal(obj),
		Standard:      c.isStd(path),
	}
	if !obj.Exported() {
		cls.Visibility = typemodel.PackagePrivate
	}
	for i := range named.TypeParams().Len() {
		tp := named.TypeParams().At(i)
		p := c.u.NewTypeParameter(tp.Obj().Name())
		c.tparams[tp] = p
		cls.TypeParams = append(cls.TypeParams, p)
	}

	c.classes[obj] = cls
	if err := c.u.AddClass(cls); err != nil {
		c.errs = append(c.errs, fmt.Errorf("declare %s: %w", cls.QualifiedName, err))
		return cls
	}
	c.pending = append(c.pending, obj)
	return cls
}

func (c *converter) kindOf(obj *types.TypeName, named *types.Named) typemodel.Kind {
	switch u := named.Underlying().(type) {
	case *types.Interface:
		return typemodel.KindInterface
	case *types.Basic:
		if u.Info()&types.IsConstType != 0 && hasConstants(obj) {
			return typemodel.KindEnum
		}
	}
	return typemodel.KindClass
}

// hasConstants reports whether obj's package declares a constant of type
// obj, which makes obj an enumeration.
func hasConstants(obj *types.TypeName) bool {
	scope := obj.Pkg().Scope()
	for _, name := range scope.Names() {
		if k, ok := scope.Lookup(name).(*types.Const); ok && types.Identical(k.Type(), obj.Type()) {
			return true
		}
	}
	return false
}

// run defines queued classes until no new declaration is discovered.
func (c *converter) run() error {
	for len(c.pending) > 0 {
		obj := c.pending[0]
		c.pending = c.pending[1:]
		c.define(obj, c.classes[obj])
	}
	return errors.Join(c.errs...)
}

func (c *converter) define(obj *types.TypeName, cls *typemodel.Class) {
	named := obj.Type().(*types.Named).Origin()
	for i := range named.TypeParams().Len() {
		tp := named.TypeParams().At(i)
		if bound := c.boundOf(tp); bound != nil {
			c.tparams[tp].Bounds = []typemodel.Type{bound}
		}
	}

	set := c.directives[obj.Pkg()]
	if set != nil && set.Has(obj.Pos(), directive.Serializable) {
		cls.Interfaces = append(cls.Interfaces, c.marker)
	}
	if set != nil && set.Has(obj.Pos(), directive.Service) {
		if cls.IsInterface() {
			c.services[cls] = true
		} else {
			slog.Warn("ignoring service directive on non-interface", "type", cls.QualifiedName)
		}
	}

	// Standard library declarations are opaque: only their identity and
	// kind take part in the analysis.
	if cls.Standard {
		return
	}

	switch u := named.Underlying().(type) {
	case *types.Struct:
		c.defineStruct(cls, u)
	case *types.Interface:
		c.defineInterface(cls, u)
	default:
		if cls.IsEnum() {
			return
		}
		cls.Fields = append(cls.Fields, &typemodel.Field{Name: "value", Type: c.typeOf(u)})
	}
}

func (c *converter) defineStruct(cls *typemodel.Class, st *types.Struct) {
	for i := range st.NumFields() {
		f := st.Field(i)
		tag := reflect.StructTag(st.Tag(i)).Get("rpc")
		if f.Embedded() && cls.Super == nil && tag != "-" {
			if sup := c.superOf(f.Type()); sup != nil {
				cls.Super = sup
				continue
			}
		}
		if f.Name() == "_" {
			continue
		}
		field := &typemodel.Field{Name: f.Name(), Type: c.typeOf(f.Type())}
		switch types.Unalias(f.Type()).Underlying().(type) {
		case *types.Chan, *types.Signature:
			field.Transient = true
		}
		if tag == "-" || !f.Exported() {
			field.Transient = true
		}
		cls.Fields = append(cls.Fields, field)
	}
}

// superOf returns the superclass for an embedded field: a struct declared
// outside the standard library, possibly behind a pointer.
func (c *converter) superOf(t types.Type) typemodel.Type {
	t = types.Unalias(t)
	if p, ok := t.(*types.Pointer); ok {
		t = types.Unalias(p.Elem())
	}
	named, ok := t.(*types.Named)
	if !ok || named.Obj().Pkg() == nil || c.isStd(named.Obj().Pkg().Path()) {
		return nil
	}
	if _, ok := named.Underlying().(*types.Struct); !ok {
		return nil
	}
	return c.typeOf(named)
}

func (c *converter) defineInterface(cls *typemodel.Class, iface *types.Interface) {
	for i := range iface.NumEmbeddeds() {
		emb := c.typeOf(iface.EmbeddedType(i))
		if base := typemodel.BaseClass(emb); base != nil && base.IsInterface() && !slices.Contains(cls.Interfaces, emb) {
			cls.Interfaces = append(cls.Interfaces, emb)
		}
	}
	for i := range iface.NumMethods() {
		fn := iface.Method(i)
		sig := fn.Type().(*types.Signature)
		m := &typemodel.Method{Name: fn.Name()}
		for j := range sig.Params().Len() {
			if t := sig.Params().At(j).Type(); !isContext(t) {
				m.Params = append(m.Params, c.typeOf(t))
			}
		}
		for j := range sig.Results().Len() {
			if t := sig.Results().At(j).Type(); !types.Identical(t, errorType) {
				m.Results = append(m.Results, c.typeOf(t))
			}
		}
		cls.Methods = append(cls.Methods, m)
	}
}

func isContext(t types.Type) bool {
	named, ok := types.Unalias(t).(*types.Named)
	if !ok || named.Obj().Pkg() == nil {
		return false
	}
	return named.Obj().Pkg().Path() == "context" && named.Obj().Name() == "Context"
}

// boundOf returns the bound of a type parameter when its constraint is a
// named interface with methods; any, comparable and type sets leave the
// parameter bounded by the root.
func (c *converter) boundOf(tp *types.TypeParam) typemodel.Type {
	named, ok := types.Unalias(tp.Constraint()).(*types.Named)
	if !ok {
		return nil
	}
	if iface, ok := named.Underlying().(*types.Interface); !ok || iface.NumMethods() == 0 {
		return nil
	}
	bound := c.typeOf(named)
	if bound == typemodel.Type(c.u.Object()) {
		return nil
	}
	return bound
}

// typeOf maps a Go type. Shapes without a wire form (channels, functions,
// unnamed structs and interfaces) map to the root, which the analysis
// rejects wherever it must be serialized.
func (c *converter) typeOf(t types.Type) typemodel.Type {
	switch t := types.Unalias(t).(type) {
	case *types.Basic:
		if t.Kind() == types.UnsafePointer || t.Kind() == types.Invalid {
			return c.u.Object()
		}
		return c.u.Primitive(t.Name())
	case *types.Pointer:
		return c.typeOf(t.Elem())
	case *types.Slice:
		return c.u.ArrayOf(c.typeOf(t.Elem()))
	case *types.Array:
		return c.u.ArrayOf(c.typeOf(t.Elem()))
	case *types.Map:
		return c.u.Parameterize(c.mapClass, c.typeOf(t.Key()), c.typeOf(t.Elem()))
	case *types.TypeParam:
		if p, ok := c.tparams[t]; ok {
			return p
		}
	case *types.Named:
		return c.named(t)
	}
	return c.u.Object()
}

func (c *converter) named(t *types.Named) typemodel.Type {
	if iface, ok := t.Underlying().(*types.Interface); ok && iface.NumMethods() == 0 {
		return c.u.Object()
	}
	base := c.declare(t.Origin().Obj())
	if base == nil {
		return c.u.Object()
	}
	targs := t.TypeArgs()
	if targs.Len() == 0 {
		return base
	}
	args := make([]typemodel.Type, targs.Len())
	for i := range targs.Len() {
		args[i] = c.typeOf(targs.At(i))
	}
	return c.u.Parameterize(base, args...)
}

// linkImplementations records structural interface satisfaction: every
// non-generic concrete type implements each non-generic interface whose
// method set it or its pointer has.
func (c *converter) linkImplementations() {
	var concrete, ifaces []*types.TypeName
	for obj, cls := range c.classes {
		named := obj.Type().(*types.Named)
		if named.TypeParams().Len() > 0 {
			continue
		}
		switch {
		case cls.IsInterface():
			if iface := named.Underlying().(*types.Interface); iface.NumMethods() > 0 {
				ifaces = append(ifaces, obj)
			}
		case !cls.Standard:
			concrete = append(concrete, obj)
		}
	}

	links := 0
	for _, obj := range concrete {
		cls := c.classes[obj]
		ptr := types.NewPointer(obj.Type())
		for _, iobj := range ifaces {
			iface := iobj.Type().Underlying().(*types.Interface)
			if !types.Implements(obj.Type(), iface) && !types.Implements(ptr, iface) {
				continue
			}
			icls := c.classes[iobj]
			if !slices.Contains(cls.Interfaces, typemodel.Type(icls)) {
				cls.Interfaces = append(cls.Interfaces, icls)
				links++
			}
		}
	}
	for _, cls := range c.classes {
		slices.SortFunc(cls.Interfaces, typemodel.Compare)
	}
	slog.Debug("linked interface implementations", "links", links)
}
