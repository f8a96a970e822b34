package sto

import (
	"fmt"

	"github.com/715d/rpcoracle/pkg/typemodel"
)

// validateSerializer checks that the custom field serializer s can handle
// instances of c and returns one message per failure.
func (q *qualifier) validateSerializer(s, c *typemodel.Class) []string {
	if s.IsInterface() {
		return []string{fmt.Sprintf("Field serializer '%s' must not be an interface", s.Name())}
	}

	var out []string
	if msg := q.checkSerializerMethod(s, c, "deserialize", q.readerName); msg != "" {
		out = append(out, msg)
	}
	if msg := q.checkSerializerMethod(s, c, "serialize", q.writerName); msg != "" {
		out = append(out, msg)
	}
	if (!c.IsDefaultInstantiable() || c.IsAbstract()) && !c.IsEnum() {
		if msg := q.checkInstantiate(s, c); msg != "" {
			out = append(out, msg)
		}
	}
	return out
}

// checkSerializerMethod looks for "static void name(stream, c)".
func (q *qualifier) checkSerializerMethod(s, c *typemodel.Class, name, stream string) string {
	candidates := methodsNamed(s, name)
	if len(candidates) > 1 {
		return fmt.Sprintf("Custom Field Serializer '%s' defines too many methods named '%s'; please define only one method with that name",
			s.Name(), name)
	}
	var missing string
	if name == "serialize" {
		missing = fmt.Sprintf("Custom Field Serializer '%s' does not define a serialize method: 'public static void serialize(%s writer,%s instance)'",
			s.Name(), stream, c.Name())
	} else {
		missing = fmt.Sprintf("Custom Field Serializer '%s' does not define a deserialize method: 'public static void deserialize(%s reader,%s instance)'",
			s.Name(), stream, c.Name())
	}
	if len(candidates) == 0 {
		return missing
	}
	m := candidates[0]
	if !m.Static || len(m.Params) != 2 || len(m.Results) != 0 {
		return missing
	}
	if !q.isStream(m.Params[0], stream) || !q.u.IsAssignable(c, m.Params[1]) {
		return missing
	}
	return ""
}

// checkInstantiate looks for "static c instantiate(reader)".
func (q *qualifier) checkInstantiate(s, c *typemodel.Class) string {
	candidates := methodsNamed(s, "instantiate")
	if len(candidates) > 1 {
		return fmt.Sprintf("Custom Field Serializer '%s' defines too many methods named 'instantiate'; please define only one method with that name",
			s.Name())
	}
	missing := fmt.Sprintf("Custom Field Serializer '%s' does not define an instantiate method: 'public static %s instantiate(%s reader)'; but '%s' is not default instantiable",
		s.Name(), c.Name(), q.readerName, c.Name())
	if len(candidates) == 0 {
		return missing
	}
	m := candidates[0]
	if !m.Static || len(m.Params) != 1 || len(m.Results) != 1 {
		return missing
	}
	if !q.isStream(m.Params[0], q.readerName) || !q.u.IsAssignable(m.Results[0], c) {
		return missing
	}
	return ""
}

// isStream matches a stream parameter by qualified or simple name.
func (q *qualifier) isStream(t typemodel.Type, name string) bool {
	c := typemodel.BaseClass(q.u.Erasure(t))
	if c == nil {
		return false
	}
	return name == "" || c.QualifiedName == name || c.SimpleName() == name
}

func methodsNamed(c *typemodel.Class, name string) []*typemodel.Method {
	var out []*typemodel.Method
	for _, m := range c.Methods {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}
