package sto

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/715d/rpcoracle/internal/problems"
	"github.com/715d/rpcoracle/pkg/typemodel"
)

type scenario struct {
	name  string
	types string
	roots []string

	// rootFn adds roots that cannot be written as type expressions.
	rootFn func(t *testing.T, u *typemodel.Universe) []typemodel.Type

	// serializable is the exact field-serializable set, when non-nil.
	serializable    []string
	instantiable    []string
	notInstantiable []string
	notSerializable []string
	fails           bool
}

func (s scenario) run(t *testing.T) {
	t.Helper()
	u := newUniverse(t, s.types)
	b := newBuilder(t, u, Options{})
	for _, r := range s.roots {
		b.AddRootType(parseType(t, u, r))
	}
	if s.rootFn != nil {
		for _, r := range s.rootFn(t, u) {
			b.AddRootType(r)
		}
	}

	so, err := b.Build(context.Background())
	if s.fails {
		require.ErrorIs(t, err, ErrUnableToComplete)
		assert.Nil(t, so)
		assert.True(t, b.Problems().HasFatalProblems())
		return
	}
	require.NoError(t, err, b.Problems().String())

	if s.serializable != nil {
		assert.ElementsMatch(t, s.serializable, typeNames(so.SerializableTypes()))
	}
	for _, name := range s.instantiable {
		assert.True(t, so.MaybeInstantiated(parseType(t, u, name)), "%s should be instantiable", name)
		assert.True(t, so.IsSerializable(parseType(t, u, name)), "%s should be serializable", name)
	}
	for _, name := range s.notInstantiable {
		assert.False(t, so.MaybeInstantiated(parseType(t, u, name)), "%s should not be instantiable", name)
	}
	for _, name := range s.notSerializable {
		assert.False(t, so.IsSerializable(parseType(t, u, name)), "%s should not be field serializable", name)
	}
}

func TestBuild(t *testing.T) {
	tests := []scenario{
		{
			name: "abstract field serializable root",
			types: `
  - name: A
    abstract: true
    implements: [java.io.Serializable]
  - name: B
    abstract: true
    super: A
  - name: C
    super: B
`,
			roots:           []string{"B"},
			serializable:    []string{"A", "B", "C"},
			instantiable:    []string{"C"},
			notInstantiable: []string{"A", "B"},
		},
		{
			name: "arrays of parameterized types",
			types: `
  - name: A
    type_params: [{name: T}]
    implements: [java.io.Serializable]
    fields: [{name: t, type: T}]
  - name: AList
    type_params: [{name: T}]
    implements: [java.io.Serializable]
    fields: [{name: as, type: "A<T>[]"}]
  - name: B
    type_params: [{name: T}]
    implements: [java.io.Serializable]
  - name: BList
    type_params: [{name: T}]
    implements: [java.io.Serializable]
    fields: [{name: bs, type: "B<T>[]"}]
  - name: Ser1
    implements: [java.io.Serializable]
  - name: Ser2
    implements: [java.io.Serializable]
  - name: Root
    implements: [java.io.Serializable]
    fields:
      - {name: alist, type: "AList<Ser1>"}
      - {name: blist, type: "BList<Ser2>"}
`,
			roots:           []string{"Root"},
			serializable:    []string{"Root", "AList", "BList", "A[]", "B[]", "A", "B", "Ser1"},
			instantiable:    []string{"AList", "BList", "A", "B", "A[]", "B[]", "Ser1"},
			notInstantiable: []string{"Ser2"},
			notSerializable: []string{"Ser2"},
		},
		{
			name:  "arrays of type parameters",
			types: arrayOfTypeParameterTypes,
			roots: []string{"C<java.lang.String>"},
			serializable: []string{
				"A", "B", "C", "java.lang.String", "java.lang.String[]", "java.lang.String[][]",
				"java.lang.String[][][]", "Ser", "Ser[]", "Ser[][]",
			},
			instantiable: []string{
				"A", "B", "C", "java.lang.String[]", "java.lang.String[][]", "java.lang.String[][][]",
				"Ser[]", "Ser[][]",
			},
		},
		{
			name: "type parameter that erases to Object",
			types: `
  - name: A
    type_params: [{name: T}]
    implements: [java.io.Serializable]
    fields: [{name: field, type: T}]
`,
			roots: []string{"A"},
			fails: true,
		},
		{
			name: "concrete classes constrain a type parameter",
			types: `
  - name: Holder
    abstract: true
    type_params: [{name: T, bounds: [java.io.Serializable]}]
    implements: [java.io.Serializable]
    fields: [{name: x, type: T}]
  - name: StringHolder
    super: Holder<java.lang.String>
  - name: DateHolder
    super: Holder<Date>
  - name: Date
    implements: [java.io.Serializable]
  - name: UnrelatedClass
    implements: [java.io.Serializable]
`,
			roots:           []string{"Holder"},
			serializable:    []string{"Holder", "StringHolder", "DateHolder", "java.lang.String", "Date"},
			instantiable:    []string{"StringHolder", "DateHolder", "java.lang.String", "Date"},
			notInstantiable: []string{"Holder", "UnrelatedClass"},
			notSerializable: []string{"UnrelatedClass"},
		},
		{
			name: "covariant arrays",
			types: `
  - name: Sup
    implements: [java.io.Serializable]
  - name: Sub
    super: Sup
`,
			roots:        []string{"Sub", "Sup[][]", "float[][]"},
			serializable: []string{"Sup", "Sub", "Sup[]", "Sub[]", "Sup[][]", "Sub[][]", "float[]", "float[][]"},
			instantiable: []string{"float[]", "float[][]", "Sub[]", "Sub[][]", "Sup[]", "Sup[][]"},
		},
		{
			name: "extension from a raw supertype",
			types: `
  - name: HashSet
    type_params: [{name: T, bounds: [SerClass]}]
    implements: [java.io.Serializable]
    fields: [{name: x, type: "T[]"}]
  - name: NameSet
    super: HashSet
  - name: SerClass
    implements: [java.io.Serializable]
  - name: SerClassSub
    super: SerClass
`,
			roots:           []string{"NameSet"},
			serializable:    []string{"HashSet", "NameSet", "SerClass", "SerClassSub", "SerClass[]", "SerClassSub[]"},
			instantiable:    []string{"NameSet", "SerClass", "SerClassSub", "SerClass[]", "SerClassSub[]"},
			notInstantiable: []string{"HashSet"},
		},
		{
			name: "infinite parameterized expansion with an exposed argument",
			types: `
  - name: A
    type_params: [{name: T}]
    implements: [java.io.Serializable]
    fields:
      - {name: b, type: "B<T>"}
      - {name: x, type: T}
  - name: B
    type_params: [{name: T}]
    super: A<T>
    fields: [{name: ab, type: "A<B<T>>"}]
  - name: SerializableArgument
    implements: [java.io.Serializable]
`,
			roots:        []string{"A<SerializableArgument>"},
			serializable: []string{"A", "B", "SerializableArgument"},
			instantiable: []string{"A", "B", "SerializableArgument"},
		},
		{
			name: "infinite parameterized expansion with an unused argument",
			types: `
  - name: A
    type_params: [{name: T}]
    implements: [java.io.Serializable]
    fields: [{name: b, type: "B<T>"}]
  - name: B
    type_params: [{name: T}]
    super: A<T>
    fields: [{name: ab, type: "A<B<T>>"}]
  - name: UnusedSerializableArgument
    implements: [java.io.Serializable]
`,
			roots:           []string{"A<UnusedSerializableArgument>"},
			serializable:    []string{"A", "B"},
			instantiable:    []string{"A", "B"},
			notSerializable: []string{"UnusedSerializableArgument"},
		},
		{
			name: "array expansion of an unexposed argument",
			types: `
  - name: A
    type_params: [{name: T}]
    implements: [java.io.Serializable]
    fields: [{name: b, type: "B<T>"}]
  - name: B
    type_params: [{name: T}]
    super: A<T>
    fields: [{name: ab, type: "A<T[]>"}]
`,
			roots:           []string{"A<java.lang.String>"},
			serializable:    []string{"A", "B"},
			instantiable:    []string{"A", "B"},
			notSerializable: []string{"java.lang.String"},
		},
		{
			name: "array expansion of an exposed argument",
			types: `
  - name: A
    type_params: [{name: T}]
    implements: [java.io.Serializable]
    fields: [{name: t, type: T}]
  - name: B
    type_params: [{name: T}]
    super: A<T>
    fields: [{name: ab, type: "A<T[]>"}]
`,
			roots:           []string{"A<java.lang.String>"},
			serializable:    []string{"A", "java.lang.String"},
			instantiable:    []string{"A", "java.lang.String"},
			notInstantiable: []string{"B"},
			notSerializable: []string{"B"},
		},
		{
			name: "custom serializer ignores unserializable fields",
			types: `
  - name: A
    fields: [{name: b, type: B}]
  - name: A_CustomFieldSerializer
    methods:
      - {name: serialize, static: true, params: [com.google.gwt.user.client.rpc.SerializationStreamWriter, A]}
      - {name: deserialize, static: true, params: [com.google.gwt.user.client.rpc.SerializationStreamReader, A]}
  - name: B
`,
			roots:           []string{"A"},
			instantiable:    []string{"A"},
			notInstantiable: []string{"B"},
			notSerializable: []string{"B"},
		},
		{
			name: "custom serializer replaces default instantiation",
			types: `
  - name: Money
    visibility: private
    default_instantiable: false
    implements: [java.io.Serializable]
    fields: [{name: amount, type: long}]
  - name: Money_CustomFieldSerializer
    methods:
      - {name: serialize, static: true, params: [com.google.gwt.user.client.rpc.SerializationStreamWriter, Money]}
      - {name: deserialize, static: true, params: [com.google.gwt.user.client.rpc.SerializationStreamReader, Money]}
      - name: instantiate
        static: true
        params: [com.google.gwt.user.client.rpc.SerializationStreamReader]
        returns: [Money]
`,
			roots:        []string{"Money"},
			serializable: []string{"Money"},
			instantiable: []string{"Money"},
		},
		{
			name: "interfaces that cannot overlap are rejected",
			types: `
  - name: Intf1
    kind: interface
    implements: [java.io.Serializable]
  - name: Intf2
    kind: interface
    implements: [java.io.Serializable]
  - name: Intf3
    kind: interface
    implements: [java.io.Serializable]
  - name: Implements12
    implements: [Intf1, Intf2]
  - name: ImplementsNeither
    implements: [java.io.Serializable]
  - name: List
    kind: interface
    type_params: [{name: T}]
    implements: [java.io.Serializable]
  - name: ListOfIntf1
    implements: ["List<Intf1>"]
  - name: ListOfIntf2
    implements: ["List<Intf2>"]
  - name: ListOfIntf3
    implements: ["List<Intf3>"]
  - name: ListOfImplements12
    implements: ["List<Implements12>"]
  - name: ListOfImplementsNeither
    implements: ["List<ImplementsNeither>"]
`,
			roots:           []string{"List<Intf1>"},
			serializable:    []string{"ListOfIntf1", "ListOfIntf2", "ListOfImplements12"},
			notSerializable: []string{"ListOfIntf3", "ListOfImplementsNeither"},
		},
		{
			name: "no serializable types",
			types: `
  - name: A
    fields: [{name: b, type: B}]
  - name: B
`,
			roots: []string{"A"},
			fails: true,
		},
		{
			name: "not all subtypes are serializable",
			types: `
  - name: A
  - name: B
    super: A
    implements: [com.google.gwt.user.client.rpc.IsSerializable]
  - name: C
    super: A
  - name: D
    super: B
`,
			roots:           []string{"A"},
			serializable:    []string{"B", "D"},
			instantiable:    []string{"B", "D"},
			notInstantiable: []string{"A", "C"},
		},
		{
			name:  "Object is not instantiable",
			roots: []string{"java.lang.Object"},
			fails: true,
		},
		{
			name:  "Object arrays are not instantiable",
			roots: []string{"java.lang.Object[]"},
			fails: true,
		},
		{
			name: "only abstract serializable types",
			types: `
  - name: IFoo
    kind: interface
    implements: [java.io.Serializable]
  - name: AbstractClass
    abstract: true
    implements: [java.io.Serializable]
`,
			roots: []string{"IFoo", "AbstractClass"},
			fails: true,
		},
		{
			name: "raw collections pull in every serializable type",
			types: `
  - name: java.util.Collection
    kind: interface
    type_params: [{name: E}]
  - name: List
    kind: interface
    type_params: [{name: T}]
    implements: [java.io.Serializable, "java.util.Collection<T>"]
  - name: LinkedList
    type_params: [{name: T}]
    implements: ["List<T>"]
    fields: [{name: head, type: T}]
  - name: RandomClass
    implements: [java.io.Serializable]
`,
			roots:        []string{"List"},
			instantiable: []string{"LinkedList", "RandomClass", "java.lang.String"},
		},
		{
			name: "raw types",
			types: `
  - name: A
    type_params: [{name: T, bounds: [SerializableClass]}]
    implements: [java.io.Serializable]
    fields: [{name: x, type: T}]
  - name: SerializableClass
    implements: [java.io.Serializable]
`,
			roots:        []string{"A"},
			serializable: []string{"A", "SerializableClass"},
			instantiable: []string{"A", "SerializableClass"},
		},
		{
			name: "root type parameter with itself in its bounds",
			types: `
  - name: A
    type_params: [{name: Ta, bounds: ["A<Ta>"]}]
    implements: [java.io.Serializable]
    fields: [{name: ta, type: Ta}]
`,
			rootFn: func(t *testing.T, u *typemodel.Universe) []typemodel.Type {
				return []typemodel.Type{lookup(t, u, "A").TypeParams[0]}
			},
			serializable: []string{"A"},
		},
		{
			name: "two dimensional string arrays",
			types: `
  - name: Data
    implements: [java.io.Serializable]
    fields:
      - {name: justOneString, type: java.lang.String}
      - {name: stringsGalore, type: "java.lang.String[][]"}
`,
			roots:        []string{"Data"},
			serializable: []string{"Data", "java.lang.String", "java.lang.String[]", "java.lang.String[][]"},
			instantiable: []string{"Data", "java.lang.String[]", "java.lang.String[][]"},
		},
		{
			name: "subclass with an incompatible argument",
			types: `
  - name: A
    type_params: [{name: T}]
    implements: [java.io.Serializable]
  - name: B
    super: A<java.lang.String>
    fields: [{name: o, type: java.lang.Object}]
  - name: C
    super: A<Ser>
  - name: Ser
    implements: [java.io.Serializable]
`,
			roots:           []string{"A<java.lang.String>"},
			serializable:    []string{"A"},
			instantiable:    []string{"A"},
			notSerializable: []string{"B", "C", "java.lang.String", "Ser"},
		},
		{
			name: "subclass with new instantiable type parameters",
			types: `
  - name: A
    implements: [java.io.Serializable]
  - name: B
    type_params: [{name: T, bounds: [C]}]
    super: A
    fields: [{name: c, type: T}]
  - name: C
    implements: [java.io.Serializable]
`,
			roots:        []string{"A"},
			serializable: []string{"A", "B", "C"},
			instantiable: []string{"A"},
		},
		{
			name: "subclass with a new type parameter compared to an implemented interface",
			types: `
  - name: Intf
    kind: interface
    type_params: [{name: T}]
    implements: [java.io.Serializable]
  - name: Bar
    type_params: [{name: T}]
    implements: [java.io.Serializable]
  - name: Foo
    type_params: [{name: T, bounds: [Ser]}]
    super: Bar<T>
    implements: ["Intf<java.lang.String>"]
    fields: [{name: x, type: T}]
  - name: Ser
    implements: [java.io.Serializable]
`,
			roots:        []string{"Intf<java.lang.String>"},
			serializable: []string{"Foo", "Bar", "Ser"},
			instantiable: []string{"Ser"},
		},
		{
			name: "subclass with new uninstantiable type parameters",
			types: `
  - name: A
    implements: [java.io.Serializable]
  - name: B
    type_params: [{name: T}]
    super: A
    fields: [{name: x, type: T}]
`,
			roots:        []string{"A"},
			serializable: []string{"A"},
			instantiable: []string{"A"},
		},
		{
			name: "transient fields",
			types: `
  - name: A
    implements: [java.io.Serializable]
    fields:
      - {name: serverOnly1, type: ServerOnly1, transient: true}
      - {name: serverOnly2, type: ServerOnly2, annotations: [GwtTransient]}
      - {name: serverOnly3, type: ServerOnly3, annotations: [com.google.gwt.user.rebind.rpc.GwtTransient]}
  - name: ServerOnly1
    implements: [java.io.Serializable]
  - name: ServerOnly2
    implements: [java.io.Serializable]
  - name: ServerOnly3
    implements: [java.io.Serializable]
`,
			roots:           []string{"A"},
			serializable:    []string{"A"},
			instantiable:    []string{"A"},
			notSerializable: []string{"ServerOnly1", "ServerOnly2", "ServerOnly3"},
		},
		{
			name: "type parameter of another class in a root",
			types: `
  - name: A
    type_params: [{name: T}]
    implements: [java.io.Serializable]
    fields: [{name: t, type: T}]
  - name: B
    implements: [java.io.Serializable]
  - name: C
    type_params: [{name: U, bounds: [B]}]
`,
			rootFn: func(t *testing.T, u *typemodel.Universe) []typemodel.Type {
				return []typemodel.Type{u.Parameterize(lookup(t, u, "A"), lookup(t, u, "C").TypeParams[0])}
			},
			serializable: []string{"A", "B"},
			instantiable: []string{"A", "B"},
		},
		{
			name: "type parameters as roots",
			types: `
  - name: A
    abstract: true
    type_params: [{name: U, bounds: [B]}]
    implements: [java.io.Serializable]
  - name: B
    implements: [java.io.Serializable]
  - name: C
    implements: [java.io.Serializable]
`,
			rootFn: func(t *testing.T, u *typemodel.Universe) []typemodel.Type {
				return []typemodel.Type{
					lookup(t, u, "A").TypeParams[0],
					u.NewTypeParameter("V", lookup(t, u, "C")),
				}
			},
			serializable:    []string{"B", "C"},
			instantiable:    []string{"B", "C"},
			notSerializable: []string{"A"},
		},
		{
			name: "self referencing type",
			types: `
  - name: Node
    implements: [java.io.Serializable]
    fields:
      - {name: next, type: Node}
      - {name: value, type: int}
`,
			roots:        []string{"Node"},
			serializable: []string{"Node"},
			instantiable: []string{"Node"},
		},
		{
			name: "array of a root type parameter as its own argument",
			types: `
  - name: Ser
    implements: [java.io.Serializable]
  - name: Holder
    type_params: [{name: H, bounds: [Ser]}]
    implements: [java.io.Serializable]
    fields: [{name: item, type: H}]
`,
			rootFn: func(t *testing.T, u *typemodel.Universe) []typemodel.Type {
				holder := lookup(t, u, "Holder")
				return []typemodel.Type{u.Parameterize(holder, u.ArrayOf(holder.TypeParams[0]))}
			},
			instantiable: []string{"Holder", "Ser"},
		},
		{
			name: "self reference next to an abstract supertype field",
			types: `
  - name: Base
    abstract: true
    implements: [java.io.Serializable]
  - name: Node
    super: Base
    fields:
      - {name: self, type: Node}
      - {name: other, type: Base}
`,
			roots:           []string{"Node"},
			serializable:    []string{"Base", "Node"},
			instantiable:    []string{"Node"},
			notInstantiable: []string{"Base"},
		},
		{
			name: "mutual recursion through an abstract root",
			types: `
  - name: Base
    abstract: true
    implements: [java.io.Serializable]
  - name: Leaf
    super: Base
    fields: [{name: parent, type: Base}]
  - name: Pair
    super: Base
    fields:
      - {name: left, type: Base}
      - {name: right, type: Leaf}
`,
			roots:           []string{"Base"},
			serializable:    []string{"Base", "Leaf", "Pair"},
			instantiable:    []string{"Leaf", "Pair"},
			notInstantiable: []string{"Base"},
		},
		{
			name: "Object field in a root type",
			types: `
  - name: Holder
    implements: [java.io.Serializable]
    fields: [{name: o, type: java.lang.Object}]
`,
			roots: []string{"Holder"},
			fails: true,
		},
		{
			name: "array dimensions that grow without bound",
			types: `
  - name: Box
    type_params: [{name: T}]
    implements: [java.io.Serializable]
    fields:
      - {name: value, type: T}
      - {name: nested, type: "Box<T[]>"}
`,
			roots: []string{"Box<java.lang.String>"},
			fails: true,
		},
		{
			name: "abstract root with one concrete subtype",
			types: `
  - name: Shape
    abstract: true
    implements: [java.io.Serializable]
  - name: Circle
    super: Shape
    fields: [{name: radius, type: double}]
`,
			roots:           []string{"Shape"},
			serializable:    []string{"Shape", "Circle"},
			instantiable:    []string{"Circle"},
			notInstantiable: []string{"Shape"},
		},
		{
			name: "field serializable types without instantiable subtypes are pruned",
			types: `
  - name: A
    abstract: true
    implements: [java.io.Serializable]
  - name: B
    abstract: true
    super: A
    fields: [{name: s, type: java.lang.String}]
  - name: C
    super: B
    fields: [{name: x, type: NotSerializable}]
  - name: D
    super: A
  - name: NotSerializable
`,
			roots:           []string{"A"},
			serializable:    []string{"A", "D"},
			instantiable:    []string{"D"},
			notSerializable: []string{"B", "C"},
		},
		{
			name: "primitive roots are ignored",
			types: `
  - name: A
    implements: [java.io.Serializable]
`,
			roots:        []string{"int", "A"},
			serializable: []string{"A"},
		},
		{
			name: "enums are always instantiable",
			types: `
  - name: Color
    kind: enum
    default_instantiable: false
`,
			roots:        []string{"Color"},
			serializable: []string{"Color"},
			instantiable: []string{"Color"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.run(t)
		})
	}
}

func TestBuild_ShapesService(t *testing.T) {
	u := newUniverse(t, `
  - name: java.util.List
    kind: interface
    type_params: [{name: E}]
  - name: java.util.ArrayList
    type_params: [{name: E}]
    implements: ["java.util.List<E>", java.io.Serializable]
    fields:
      - {name: elementData, type: "E[]"}
      - {name: size, type: int}
  - name: com.example.Shape
    abstract: true
    implements: [java.io.Serializable]
  - name: com.example.Circle
    super: com.example.Shape
    fields: [{name: radius, type: double}]
  - name: com.example.Square
    super: com.example.Shape
    fields: [{name: side, type: double}]
`)
	b := newBuilder(t, u, Options{})
	b.AddRootType(parseType(t, u, "java.util.List<com.example.Shape>"))

	so, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Subset(t, typeNames(so.SerializableTypes()), []string{
		"java.util.ArrayList", "com.example.Shape", "com.example.Circle", "com.example.Square",
	})
	for _, name := range []string{"java.util.ArrayList", "com.example.Circle", "com.example.Square"} {
		assert.True(t, so.MaybeInstantiated(parseType(t, u, name)), name)
	}
	assert.False(t, so.MaybeInstantiated(parseType(t, u, "com.example.Shape")))
	assert.True(t, so.MaybeInstantiated(parseType(t, u, "com.example.Circle[]")))
	assert.False(t, b.Problems().HasFatalProblems())

	path := so.Path(parseType(t, u, "com.example.Circle"))
	require.NotNil(t, path)
	assert.Contains(t, path.String(), "Started from 'java.util.List<com.example.Shape>'")
}

func TestBuild_Idempotent(t *testing.T) {
	u := newUniverse(t, arrayOfTypeParameterTypes)
	b := newBuilder(t, u, Options{})
	b.AddRootType(parseType(t, u, "C<java.lang.String>"))

	first, err := b.Build(context.Background())
	require.NoError(t, err)
	firstProblems := b.Problems().String()

	second, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, typeNames(first.SerializableTypes()), typeNames(second.SerializableTypes()))
	assert.Equal(t, typeNames(first.InstantiableTypes()), typeNames(second.InstantiableTypes()))
	assert.Equal(t, firstProblems, b.Problems().String())
}

func TestBuild_DuplicateRoots(t *testing.T) {
	u := newUniverse(t, `
  - name: A
    implements: [java.io.Serializable]
`)
	b := newBuilder(t, u, Options{})
	a := lookup(t, u, "A")
	b.AddRootType(a)
	b.AddRootType(a)
	b.AddRootType(nil)
	b.AddRootType(u.Primitive("int"))
	assert.Len(t, b.Roots(), 1)
}

func TestBuild_FinalFieldWarning(t *testing.T) {
	u := newUniverse(t, `
  - name: Account
    implements: [java.io.Serializable]
    fields:
      - {name: id, type: java.lang.String, final: true}
      - {name: balance, type: long}
  - name: Savings
    super: Account
  - name: Checking
    super: Account
`)
	b := newBuilder(t, u, Options{})
	b.AddRootType(lookup(t, u, "Account"))

	so, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Account", "Savings", "Checking"}, typeNames(so.SerializableTypes()))

	aux := b.Problems().AuxiliaryFor(lookup(t, u, "Account"))
	require.Len(t, aux, 1)
	assert.Contains(t, aux[0], "Field 'Account.id' will not be serialized because it is final")
	assert.False(t, so.IsSerializable(parseType(t, u, "java.lang.String")), "final fields are not followed")
}

func TestBuild_RootFailureReportsEveryRoot(t *testing.T) {
	u := newUniverse(t, `
  - name: Good
    implements: [java.io.Serializable]
  - name: Bad
  - name: AlsoBad
    kind: interface
`)
	b := newBuilder(t, u, Options{})
	for _, name := range []string{"Bad", "Good", "AlsoBad"} {
		b.AddRootType(lookup(t, u, name))
	}

	_, err := b.Build(context.Background())
	require.ErrorIs(t, err, ErrUnableToComplete)
	assert.Contains(t, err.Error(), "2 root type(s) failed")

	report := b.Problems()
	for _, name := range []string{"Bad", "AlsoBad"} {
		c := lookup(t, u, name)
		require.NotEmpty(t, report.ProblemsFor(c), name)
	}
	assert.Contains(t, report.WorstMessageFor(lookup(t, u, "Bad")), "Bad has no serializable subtypes")
	assert.Empty(t, report.ProblemsFor(lookup(t, u, "Good")))
}

func TestBuild_LogsProblemsAcrossRoots(t *testing.T) {
	u := newUniverse(t, `
  - name: Zed
  - name: Alpha
`)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	b := newBuilder(t, u, Options{Logger: logger})
	b.AddRootType(lookup(t, u, "Zed"))
	b.AddRootType(lookup(t, u, "Alpha"))

	_, err := b.Build(context.Background())
	require.ErrorIs(t, err, ErrUnableToComplete)

	out := buf.String()
	alpha := strings.Index(out, "Alpha has no serializable subtypes")
	zed := strings.Index(out, "Zed has no serializable subtypes")
	require.NotEqual(t, -1, alpha, out)
	require.NotEqual(t, -1, zed, out)
	assert.Less(t, alpha, zed, "problems are sorted across roots")
	assert.Equal(t, 1, strings.Count(out, "Zed has no serializable subtypes"), "each problem is logged once")
}

func TestBuild_Canceled(t *testing.T) {
	u := newUniverse(t, `
  - name: A
    implements: [java.io.Serializable]
`)
	b := newBuilder(t, u, Options{})
	b.AddRootType(lookup(t, u, "A"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Build(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewBuilder_Unsealed(t *testing.T) {
	_, err := NewBuilder(typemodel.NewUniverse(""), Options{})
	require.Error(t, err)
}

func TestComputeTypeInstantiability_ProblemReporting(t *testing.T) {
	u := newUniverse(t, `
  - name: TopInterface
    kind: interface
  - name: AbstractSerializable
    abstract: true
    implements: [java.io.Serializable, TopInterface]
  - name: PureAbstractSerializable
    kind: interface
    implements: [java.io.Serializable, TopInterface]
  - name: PureAbstractClass
    abstract: true
    implements: [PureAbstractSerializable]
  - name: PureAbstractClassTwo
    abstract: true
    super: PureAbstractClass
  - name: ConcreteNonSerializable
    implements: [TopInterface]
  - name: ConcreteSerializable
    implements: [java.io.Serializable, TopInterface]
  - name: SubSerializable
    super: ConcreteNonSerializable
    implements: [java.io.Serializable]
  - name: ConcreteBadCtor
    super: AbstractSerializable
    default_instantiable: false
`)
	b := newBuilder(t, u, Options{})
	b.reset()
	class := func(name string) *typemodel.Class { return lookup(t, u, name) }

	top := class("TopInterface")
	report := problems.New()
	assert.True(t, b.computeTypeInstantiability(top, rootPath(top), report).hasInstantiableSubtypes())

	for _, name := range []string{
		"TopInterface", "AbstractSerializable", "PureAbstractSerializable", "PureAbstractClass",
		"ConcreteSerializable", "SubSerializable",
	} {
		assert.Empty(t, report.ProblemsFor(class(name)), "%s should not be reported on", name)
	}
	for _, name := range []string{"ConcreteBadCtor", "ConcreteNonSerializable"} {
		assert.NotEmpty(t, report.ProblemsFor(class(name)), "%s should be reported on", name)
	}

	report = problems.New()
	pac := class("PureAbstractClass")
	assert.False(t, b.computeTypeInstantiability(pac, rootPath(pac), report).hasInstantiableSubtypes())
	assert.NotEmpty(t, report.ProblemsFor(pac))

	report = problems.New()
	pas := class("PureAbstractSerializable")
	assert.False(t, b.computeTypeInstantiability(pas, rootPath(pas), report).hasInstantiableSubtypes())
	assert.Contains(t, report.WorstMessageFor(pas), "has no available instantiable subtypes")
	for _, name := range []string{"PureAbstractClass", "PureAbstractClassTwo"} {
		assert.Empty(t, report.ProblemsFor(class(name)), name)
		assert.Empty(t, report.AuxiliaryFor(class(name)), name)
	}
}
