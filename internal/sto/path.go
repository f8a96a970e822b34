package sto

import (
	"fmt"
	"strings"

	"github.com/715d/rpcoracle/pkg/typemodel"
)

// PathKind says how a type was reached during analysis.
type PathKind int

const (
	PathRoot PathKind = iota
	PathField
	PathSubtype
	PathSupertype
	PathTypeArgument
	PathArrayComponent
	PathRootTypeParameter
)

// Path records why a type was visited. Paths form a chain back to a root.
type Path struct {
	Kind   PathKind
	Type   typemodel.Type
	Parent *Path

	desc string
}

func rootPath(t typemodel.Type) *Path {
	return &Path{Kind: PathRoot, Type: t, desc: fmt.Sprintf("Started from '%s'", t.Name())}
}

func fieldPath(parent *Path, f *typemodel.Field) *Path {
	return &Path{Kind: PathField, Type: f.Type, Parent: parent,
		desc: fmt.Sprintf("'%s' is reachable from field '%s' of type '%s'", f.Type.Name(), f.Name, f.Declaring.Name())}
}

func subtypePath(parent *Path, sub, sup typemodel.Type) *Path {
	return &Path{Kind: PathSubtype, Type: sub, Parent: parent,
		desc: fmt.Sprintf("'%s' is reachable as a subtype of type '%s'", sub.Name(), sup.Name())}
}

func supertypePath(parent *Path, sup, sub typemodel.Type) *Path {
	return &Path{Kind: PathSupertype, Type: sup, Parent: parent,
		desc: fmt.Sprintf("'%s' is reachable as a supertype of type '%s'", sup.Name(), sub.Name())}
}

func typeArgumentPath(parent *Path, base *typemodel.Class, index int, arg typemodel.Type) *Path {
	return &Path{Kind: PathTypeArgument, Type: arg, Parent: parent,
		desc: fmt.Sprintf("'%s' is reachable from type argument %d of type '%s'", arg.Name(), index, base.Name())}
}

func arrayComponentPath(arr *typemodel.Array, parent *Path) *Path {
	return &Path{Kind: PathArrayComponent, Type: arr.Component, Parent: parent,
		desc: fmt.Sprintf("'%s' is reachable from array type '%s'", arr.Component.Name(), arr.Name())}
}

func rootTypeParameterPath(parent *Path, tp *typemodel.TypeParameter) *Path {
	bound := tp.FirstBound()
	return &Path{Kind: PathRootTypeParameter, Type: bound, Parent: parent,
		desc: fmt.Sprintf("'%s' is reachable as an upper bound of type parameter '%s', which appears in a root type",
			bound.Name(), tp.Name())}
}

// Lines returns the chain of reasons from this step back to the root.
func (p *Path) Lines() []string {
	var out []string
	for cur := p; cur != nil; cur = cur.Parent {
		out = append(out, cur.desc)
	}
	return out
}

func (p *Path) String() string {
	if p == nil {
		return ""
	}
	return strings.Join(p.Lines(), "\n")
}

// nonSpeculative reports whether the path leads straight to a root without
// passing through a subtype, supertype, field or type argument step.
func (p *Path) nonSpeculative() bool {
	for cur := p; cur != nil; cur = cur.Parent {
		switch cur.Kind {
		case PathRoot:
			return true
		case PathArrayComponent, PathRootTypeParameter:
			continue
		default:
			return false
		}
	}
	return true
}
