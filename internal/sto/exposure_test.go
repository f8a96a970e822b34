package sto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arrayOfTypeParameterTypes = `
  - name: A
    type_params: [{name: T}]
    implements: [java.io.Serializable]
  - name: B
    type_params: [{name: T}]
    super: A<T>
    implements: [java.io.Serializable]
    fields: [{name: t, type: "T[][]"}]
  - name: C
    type_params: [{name: T}]
    implements: [java.io.Serializable]
    fields:
      - {name: a1, type: "A<T[]>"}
      - {name: a2, type: "A<Ser>"}
  - name: Ser
    implements: [java.io.Serializable]
`

func TestExposure(t *testing.T) {
	type want struct {
		class    string
		index    int
		exposure int
	}
	tests := []struct {
		name  string
		types string
		want  []want
	}{
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
`,
			want: []want{
				{"A", 0, ExposureDirect},
				{"B", 0, ExposureNone},
				{"AList", 0, ExposureDirect},
				{"BList", 0, ExposureNone},
			},
		},
		{
			name:  "arrays of type parameters",
			types: arrayOfTypeParameterTypes,
			want:  []want{{"A", 0, 2}, {"B", 0, 2}, {"C", 0, 3}},
		},
		{
			name: "array expansion through a subclass",
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
			want: []want{{"A", 0, ExposureDirect}, {"B", 0, ExposureDirect}},
		},
		{
			name: "self referential array field stays bounded",
			types: `
  - name: Box
    type_params: [{name: T}]
    implements: [java.io.Serializable]
    fields:
      - {name: value, type: T}
      - {name: nested, type: "Box<T[]>"}
`,
			want: []want{{"Box", 0, ExposureDirect}},
		},
		{
			name: "unused parameter",
			types: `
  - name: A
    type_params: [{name: T}]
    implements: [java.io.Serializable]
  - name: B
    super: A<java.lang.String>
    implements: [java.io.Serializable]
`,
			want: []want{{"A", 0, ExposureNone}},
		},
		{
			name: "transient and static fields do not expose",
			types: `
  - name: A
    type_params: [{name: T}, {name: U}, {name: V}]
    implements: [java.io.Serializable]
    fields:
      - {name: t, type: T, transient: true}
      - {name: u, type: U, static: true}
      - {name: v, type: "V[]"}
`,
			want: []want{{"A", 0, ExposureNone}, {"A", 1, ExposureNone}, {"A", 2, 1}},
		},
		{
			name: "parameter forwarded to a field's type",
			types: `
  - name: Holder
    type_params: [{name: T}]
    implements: [java.io.Serializable]
    fields: [{name: values, type: "T[]"}]
  - name: Wrapper
    type_params: [{name: E}]
    implements: [java.io.Serializable]
    fields: [{name: holder, type: "Holder<E[]>"}]
`,
			want: []want{{"Holder", 0, 1}, {"Wrapper", 0, 2}},
		},
		{
			name: "out of range index",
			types: `
  - name: A
    type_params: [{name: T}]
`,
			want: []want{{"A", 1, ExposureNone}, {"A", -1, ExposureNone}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			u := newUniverse(t, tt.types)
			b := newBuilder(t, u, Options{})
			for _, w := range tt.want {
				assert.Equal(t, w.exposure, b.Exposure(lookup(t, u, w.class), w.index),
					"exposure of %s[%d]", w.class, w.index)
			}
		})
	}
}

func TestExposure_OrderIndependent(t *testing.T) {
	u := newUniverse(t, arrayOfTypeParameterTypes)
	a, bc, c := lookup(t, u, "A"), lookup(t, u, "B"), lookup(t, u, "C")

	first := newBuilder(t, u, Options{})
	second := newBuilder(t, u, Options{})

	fromA := []int{first.Exposure(a, 0), first.Exposure(bc, 0), first.Exposure(c, 0)}
	cFirst := second.Exposure(c, 0)
	fromC := []int{second.Exposure(a, 0), second.Exposure(bc, 0), cFirst}
	assert.Equal(t, fromA, fromC)

	// Cached results never change once computed.
	for range 3 {
		assert.Equal(t, fromA, []int{first.Exposure(a, 0), first.Exposure(bc, 0), first.Exposure(c, 0)})
	}
}

func TestExposure_MightNotBeExposed(t *testing.T) {
	u := newUniverse(t, `
  - name: Direct
    type_params: [{name: T}]
    implements: [java.io.Serializable]
    fields: [{name: t, type: T}]
  - name: Unused
    type_params: [{name: T}]
    implements: [java.io.Serializable]
  - name: Forwarded
    type_params: [{name: T}]
    implements: [java.io.Serializable]
    fields: [{name: d, type: "Direct<T>"}]
`)
	b := newBuilder(t, u, Options{})

	tests := []struct {
		class    string
		expected bool
	}{
		{"Direct", false},
		{"Unused", true},
		{"Forwarded", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, b.exposure.MightNotBeExposed(lookup(t, u, tt.class), 0), tt.class)
	}
	assert.Equal(t, ExposureDirect, b.Exposure(lookup(t, u, "Forwarded"), 0))
}

func TestFlowInfo_IsTransitivelyAffectedBy(t *testing.T) {
	u := newUniverse(t, arrayOfTypeParameterTypes)
	b := newBuilder(t, u, Options{})

	a := b.exposure.Flow(lookup(t, u, "A"), 0)
	bf := b.exposure.Flow(lookup(t, u, "B"), 0)
	c := b.exposure.Flow(lookup(t, u, "C"), 0)
	require.NotNil(t, a)

	assert.True(t, a.IsTransitivelyAffectedBy(a))
	assert.True(t, a.IsTransitivelyAffectedBy(bf))
	assert.True(t, c.IsTransitivelyAffectedBy(bf))
	assert.False(t, a.IsTransitivelyAffectedBy(c))
	assert.False(t, bf.IsTransitivelyAffectedBy(c))
}
