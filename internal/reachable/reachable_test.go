package reachable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/715d/rpcoracle/pkg/modelfile"
	"github.com/715d/rpcoracle/pkg/typemodel"
)

const shapesModel = `
types:
  - name: Shape
    abstract: true
  - name: Circle
    super: Shape
    fields: [{name: radius, type: double}]
  - name: Square
    super: Shape
    fields: [{name: side, type: int}]
  - name: List
    kind: interface
    type_params: [{name: E}]
  - name: ArrayList
    type_params: [{name: E}]
    implements: ["List<E>"]
    fields: [{name: elementData, type: "E[]"}]
  - name: Box
    type_params: [{name: T}]
    fields: [{name: value, type: T}]
  - name: Oops
  - name: Unrelated
    fields: [{name: name, type: long}]
  - name: Service
    kind: interface
    methods:
      - name: getShapes
        params: ["List<Shape>"]
        returns: ["Box<Circle>"]
        throws: [Oops]
      - name: ping
`

func newOracle(t *testing.T) (*Oracle, *typemodel.Universe) {
	t.Helper()
	m, err := modelfile.Parse([]byte(shapesModel))
	require.NoError(t, err)
	return New(m.Universe), m.Universe
}

func names(types []typemodel.Type) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, t.Name())
	}
	return out
}

func TestTypesReachableFromType(t *testing.T) {
	o, u := newOracle(t)

	tests := []struct {
		expr string
		// expected is the exact result, when non-nil.
		expected []string
		contains []string
	}{
		{
			expr:     "int[][]",
			expected: []string{"int", "int[]", "int[][]"},
		},
		{
			expr:     "double",
			expected: []string{"double"},
		},
		{
			// The superclass chain ends at the root, whose subtypes are
			// every declaration.
			expr:     "Circle",
			contains: []string{"Circle", "Shape", "Square", "Unrelated", "Service", "Oops", "double", "int", "long", "java.lang.Object"},
		},
		{
			expr:     "java.lang.Object",
			contains: []string{"ArrayList", "Box", "Circle", "List", "Oops", "Service", "Shape", "Square", "Unrelated"},
		},
		{
			expr:     "Box<Circle>",
			contains: []string{"Box", "Box<Circle>", "Circle", "T", "E[]", "java.lang.Object"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			typ, err := modelfile.ParseType(u, tt.expr)
			require.NoError(t, err)
			got := names(o.TypesReachableFromType(typ))
			if tt.expected != nil {
				assert.Equal(t, tt.expected, got)
			}
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
		})
	}
}

func TestTypesReachableFromType_RootField(t *testing.T) {
	m, err := modelfile.Parse([]byte(`
types:
  - name: Holder
    fields: [{name: value, type: java.lang.Object}]
  - name: Lonely
    fields: [{name: count, type: short}]
  - name: Marker
    kind: interface
  - name: Event
    type_params: [{name: P}]
`))
	require.NoError(t, err)
	o := New(m.Universe)

	holder, ok := m.Universe.Lookup("Holder")
	require.True(t, ok)
	got := names(o.TypesReachableFromType(holder))

	for _, c := range m.Universe.Classes() {
		assert.Contains(t, got, c.Name(), "a field of the root type reaches every declaration")
	}
	assert.Contains(t, got, "short")
}

func TestTypesReachableFromType_Nil(t *testing.T) {
	o, _ := newOracle(t)
	assert.Nil(t, o.TypesReachableFromType(nil))
	assert.Nil(t, o.TypesReachableFromMethod(nil))
	assert.Nil(t, o.TypesReachableFromInterface(nil))
}

func TestTypesReachableFromMethod(t *testing.T) {
	o, u := newOracle(t)
	service, ok := u.Lookup("Service")
	require.True(t, ok)

	got := names(o.TypesReachableFromMethod(service.Method("getShapes")))
	for _, want := range []string{
		"Box<Circle>", "List<Shape>", "Oops",
		"ArrayList", "E[]", "Circle", "Square", "Shape",
	} {
		assert.Contains(t, got, want)
	}
	// Through the root's subtypes.
	assert.Contains(t, got, "Unrelated")
	assert.Contains(t, got, "long")

	assert.Empty(t, o.TypesReachableFromMethod(service.Method("ping")))
}

func TestTypesReachableFromInterface(t *testing.T) {
	o, u := newOracle(t)
	service, ok := u.Lookup("Service")
	require.True(t, ok)

	fromInterface := o.TypesReachableFromInterface(service)
	assert.Equal(t, o.TypesReachableFromMethod(service.Method("getShapes")), fromInterface)
	assert.Contains(t, names(fromInterface), "Service", "the service is a subtype of the root")
}

func TestOracle_Cached(t *testing.T) {
	o, u := newOracle(t)
	circle, ok := u.Lookup("Circle")
	require.True(t, ok)

	first := o.TypesReachableFromType(circle)
	require.NotEmpty(t, first)
	first[0] = nil

	second := o.TypesReachableFromType(circle)
	assert.NotNil(t, second[0], "callers must not be able to corrupt the cache")
	assert.Equal(t, 1, o.byType.Size())
}

func TestOracle_Concurrent(t *testing.T) {
	o, u := newOracle(t)
	service, ok := u.Lookup("Service")
	require.True(t, ok)
	expected := New(u).TypesReachableFromInterface(service)

	var g errgroup.Group
	results := make([][]typemodel.Type, 16)
	for i := range results {
		g.Go(func() error {
			results[i] = o.TypesReachableFromInterface(service)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	for _, r := range results {
		assert.Equal(t, expected, r)
	}
}
