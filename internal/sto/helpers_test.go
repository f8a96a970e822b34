package sto

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/rpcoracle/pkg/modelfile"
	"github.com/715d/rpcoracle/pkg/typemodel"
)

// standardTypes are declared in every test universe.
const standardTypes = `
  - name: java.io.Serializable
    kind: interface
  - name: com.google.gwt.user.client.rpc.IsSerializable
    kind: interface
  - name: com.google.gwt.user.client.rpc.SerializationStreamReader
    kind: interface
  - name: com.google.gwt.user.client.rpc.SerializationStreamWriter
    kind: interface
  - name: java.lang.String
    implements: [java.io.Serializable]
`

func newUniverse(t *testing.T, types string) *typemodel.Universe {
	t.Helper()
	m, err := modelfile.Parse([]byte("types:\n" + standardTypes + types))
	require.NoError(t, err)
	return m.Universe
}

func newBuilder(t *testing.T, u *typemodel.Universe, opts Options) *Builder {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	b, err := NewBuilder(u, opts)
	require.NoError(t, err)
	return b
}

func lookup(t *testing.T, u *typemodel.Universe, name string) *typemodel.Class {
	t.Helper()
	c, ok := u.Lookup(name)
	require.True(t, ok, "class %s", name)
	return c
}

func parseType(t *testing.T, u *typemodel.Universe, expr string) typemodel.Type {
	t.Helper()
	typ, err := modelfile.ParseType(u, expr)
	require.NoError(t, err)
	return typ
}

func typeNames(types []typemodel.Type) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, t.Name())
	}
	return out
}
