package gosource

import (
	"go/types"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"
)

// NameCache assigns the qualified class name of every Go type declaration.
// Package-level types are named "<import path>.<Name>"; function-local
// types, which may repeat across functions, are named
// "<import path>.<Func>$<Name>" and must be registered while scanning.
// It is safe for concurrent use.
type NameCache struct {
	names *xsync.Map[*types.TypeName, string]
}

func NewNameCache() *NameCache {
	return &NameCache{names: xsync.NewMap[*types.TypeName, string]()}
}

// RegisterLocal records the name of a type declared inside fn. For methods
// fn is "<Recv>.<Method>".
func (c *NameCache) RegisterLocal(obj *types.TypeName, fn string) string {
	var b strings.Builder
	b.Grow(64)
	if pkg := obj.Pkg(); pkg != nil {
		b.WriteString(pkg.Path())
		b.WriteByte('.')
	}
	b.WriteString(fn)
	b.WriteByte('$')
	b.WriteString(obj.Name())
	name, _ := c.names.LoadOrStore(obj, b.String())
	return name
}

// ClassName returns the qualified class name of a type declaration.
func (c *NameCache) ClassName(obj *types.TypeName) string {
	if obj == nil {
		return ""
	}
	if name, ok := c.names.Load(obj); ok {
		return name
	}
	name := obj.Name()
	if pkg := obj.Pkg(); pkg != nil {
		name = pkg.Path() + "." + name
	}
	name, _ = c.names.LoadOrStore(obj, name)
	return name
}

// IsLocal reports whether obj is declared inside a function body.
func IsLocal(obj *types.TypeName) bool {
	pkg := obj.Pkg()
	return pkg != nil && obj.Parent() != nil && obj.Parent() != pkg.Scope()
}
