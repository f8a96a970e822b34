package sto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/715d/rpcoracle/internal/filter"
	"github.com/715d/rpcoracle/internal/problems"
)

const qualifyTypes = `
  - name: NotSerializable
  - name: OuterClass
  - name: OuterClass$StaticNested
    enclosing: OuterClass
    static: true
    implements: [java.io.Serializable]
  - name: OuterClass$NonStaticNested
    enclosing: OuterClass
    implements: [java.io.Serializable]
  - name: AbstractSerializableClass
    abstract: true
    implements: [java.io.Serializable]
  - name: NonDefaultInstantiableSerializable
    default_instantiable: false
    implements: [java.io.Serializable]
  - name: PublicOuterClass
  - name: PublicOuterClass$PrivateStaticInner
    enclosing: PublicOuterClass
    visibility: private
    static: true
  - name: PublicOuterClass$PrivateStaticInner$PublicStaticInnerInner
    enclosing: PublicOuterClass$PrivateStaticInner
    static: true
    implements: [java.io.Serializable]
  - name: PublicOuterClass$DefaultStaticInner
    enclosing: PublicOuterClass
    visibility: package
    static: true
  - name: PublicOuterClass$DefaultStaticInner$DefaultStaticInnerInner
    enclosing: PublicOuterClass$DefaultStaticInner
    visibility: package
    static: true
    implements: [java.io.Serializable]
  - name: EnumWithNonDefaultCtors
    kind: enum
    default_instantiable: false
  - name: LocalSerializable
    local: true
    implements: [java.io.Serializable]
  - name: java.util.Hidden
    visibility: package
    implements: [java.io.Serializable]
  - name: Marked
    implements: [com.google.gwt.user.client.rpc.IsSerializable]
  - name: Inherits
    super: Marked
  - name: Manual
    default_instantiable: false
  - name: Manual_CustomFieldSerializer
    methods:
      - name: serialize
        static: true
        params: [com.google.gwt.user.client.rpc.SerializationStreamWriter, Manual]
      - name: deserialize
        static: true
        params: [com.google.gwt.user.client.rpc.SerializationStreamReader, Manual]
      - name: instantiate
        static: true
        params: [com.google.gwt.user.client.rpc.SerializationStreamReader]
        returns: [Manual]
  - name: Broken
  - name: Broken_CustomFieldSerializer
    methods:
      - name: serialize
        params: [com.google.gwt.user.client.rpc.SerializationStreamWriter, Broken]
  - name: Twice
  - name: Twice_CustomFieldSerializer
    methods:
      - {name: serialize, static: true, params: [com.google.gwt.user.client.rpc.SerializationStreamWriter, Twice]}
      - {name: serialize, static: true, params: [com.google.gwt.user.client.rpc.SerializationStreamWriter, java.lang.String]}
      - {name: deserialize, static: true, params: [com.google.gwt.user.client.rpc.SerializationStreamReader, Twice]}
  - name: InterfaceBacked
  - name: InterfaceBacked_CustomFieldSerializer
    kind: interface
  - name: Core
  - name: core.Core_CustomFieldSerializer
    methods:
      - {name: serialize, static: true, params: [com.google.gwt.user.client.rpc.SerializationStreamWriter, Core]}
      - {name: deserialize, static: true, params: [com.google.gwt.user.client.rpc.SerializationStreamReader, Core]}
`

func TestShouldConsiderFieldsForSerialization(t *testing.T) {
	u := newUniverse(t, qualifyTypes)
	b := newBuilder(t, u, Options{CoreSerializerPackage: "core"})

	tests := []struct {
		class    string
		expected bool
		problem  string
	}{
		{class: "NotSerializable", problem: "is not assignable to 'com.google.gwt.user.client.rpc.IsSerializable' or 'java.io.Serializable'"},
		{class: "OuterClass$StaticNested", expected: true},
		{class: "OuterClass$NonStaticNested", problem: "nested but not static"},
		{class: "AbstractSerializableClass", expected: true},
		{class: "NonDefaultInstantiableSerializable", expected: true},
		{class: "PublicOuterClass$PrivateStaticInner$PublicStaticInnerInner", problem: "is not accessible from a class in its same package"},
		{class: "PublicOuterClass$DefaultStaticInner$DefaultStaticInnerInner", expected: true},
		{class: "EnumWithNonDefaultCtors", expected: true},
		{class: "LocalSerializable", problem: "is a local type"},
		{class: "java.util.Hidden", problem: "is not accessible"},
		{class: "Inherits", expected: true},
		{class: "Manual", expected: true},
		{class: "Core", expected: true},
		{class: "Broken", problem: "Custom Field Serializer 'Broken_CustomFieldSerializer' does not define a deserialize method"},
		{class: "Twice", problem: "defines too many methods named 'serialize'"},
		{class: "InterfaceBacked", problem: "must not be an interface"},
	}
	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			report := problems.New()
			c := lookup(t, u, tt.class)
			assert.Equal(t, tt.expected, b.q.shouldConsiderFieldsForSerialization(c, report))
			if tt.problem == "" {
				assert.Empty(t, report.ProblemsFor(c))
				return
			}
			require.NotEmpty(t, report.ProblemsFor(c))
			assert.Contains(t, report.WorstMessageFor(c), tt.problem)
			assert.False(t, report.HasFatalProblems(), "qualification problems are never fatal")
		})
	}
}

func TestCanBeInstantiated(t *testing.T) {
	u := newUniverse(t, qualifyTypes)
	b := newBuilder(t, u, Options{})

	tests := []struct {
		class    string
		expected bool
		reported bool
	}{
		{class: "AbstractSerializableClass"},
		{class: "NonDefaultInstantiableSerializable", reported: true},
		{class: "EnumWithNonDefaultCtors", expected: true},
		{class: "Manual", expected: true},
		{class: "java.lang.String", expected: true},
	}
	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			report := problems.New()
			c := lookup(t, u, tt.class)
			assert.Equal(t, tt.expected, b.q.canBeInstantiated(c, report))
			assert.Equal(t, tt.reported, len(report.ProblemsFor(c)) > 0)
		})
	}
}

func TestValidateSerializer(t *testing.T) {
	u := newUniverse(t, qualifyTypes)
	b := newBuilder(t, u, Options{CoreSerializerPackage: "core"})

	t.Run("non static serialize and missing deserialize", func(t *testing.T) {
		broken := lookup(t, u, "Broken")
		serializer := lookup(t, u, "Broken_CustomFieldSerializer")
		msgs := b.q.validateSerializer(serializer, broken)
		require.Len(t, msgs, 2)
		assert.Contains(t, msgs[0], "does not define a deserialize method")
		assert.Contains(t, msgs[1], "does not define a serialize method")
	})

	t.Run("core package lookup by simple name", func(t *testing.T) {
		core := lookup(t, u, "Core")
		assert.Same(t, lookup(t, u, "core.Core_CustomFieldSerializer"), b.q.customSerializer(core))
		assert.Empty(t, b.q.validateSerializer(b.q.customSerializer(core), core))
	})

	t.Run("not declared serializable without serializer", func(t *testing.T) {
		assert.Nil(t, b.q.customSerializer(lookup(t, u, "NotSerializable")))
	})
}

func TestConsiderField(t *testing.T) {
	u := newUniverse(t, `
  - name: A
    fields:
      - {name: plain, type: int}
      - {name: constant, type: int, static: true}
      - {name: cached, type: int, transient: true}
      - {name: skipped, type: int, annotations: [GwtTransient]}
      - {name: qualified, type: int, annotations: [com.google.gwt.user.rebind.rpc.GwtTransient]}
      - {name: id, type: int, final: true}
`)
	a := lookup(t, u, "A")
	expected := []fieldStatus{fieldSerialized, fieldSkipped, fieldSkipped, fieldSkipped, fieldSkipped, fieldSkippedFinal}

	b := newBuilder(t, u, Options{})
	for i, f := range a.Fields {
		assert.Equal(t, expected[i], b.q.considerField(f), f.Name)
	}

	withFinal := newBuilder(t, u, Options{SerializeFinalFields: true})
	assert.Equal(t, fieldSerialized, withFinal.q.considerField(a.Fields[5]))
}

func TestFilterExcludesTypes(t *testing.T) {
	u := newUniverse(t, `
  - name: com.example.Shape
    abstract: true
    implements: [java.io.Serializable]
  - name: com.example.Circle
    super: com.example.Shape
  - name: com.example.internal.Secret
    super: com.example.Shape
`)
	bl, err := filter.NewBlacklist([]string{"-com\\.example\\.internal\\..*"})
	require.NoError(t, err)

	b := newBuilder(t, u, Options{Filter: bl})
	b.AddRootType(lookup(t, u, "com.example.Shape"))
	so, err := b.Build(t.Context())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"com.example.Shape", "com.example.Circle"}, typeNames(so.SerializableTypes()))
	secret := lookup(t, u, "com.example.internal.Secret")
	require.NotEmpty(t, b.Problems().AuxiliaryFor(secret))
	assert.Contains(t, b.Problems().AuxiliaryFor(secret)[0], "is excluded by type filter Blacklist")
}
