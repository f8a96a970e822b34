// Package modelfile loads a type universe from a YAML description.
//
// A model file lists declarations with their hierarchy, type parameters,
// fields and methods. Types inside a declaration are written as type
// expressions such as "java.util.List<? extends com.example.Shape>[]".
package modelfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/715d/rpcoracle/pkg/typemodel"
)

// DefaultStandardPackages are the package prefixes treated as the
// platform's standard library when a file does not list its own.
var DefaultStandardPackages = []string{"java.", "javax."}

// File is the decoded form of a model file.
type File struct {
	Object           string     `yaml:"object"`
	StandardPackages []string   `yaml:"standard_packages"`
	Services         []string   `yaml:"services"`
	Types            []TypeDecl `yaml:"types"`
}

type TypeDecl struct {
	Name                string          `yaml:"name"`
	Kind                string          `yaml:"kind"`
	Abstract            bool            `yaml:"abstract"`
	Static              bool            `yaml:"static"`
	Local               bool            `yaml:"local"`
	Visibility          string          `yaml:"visibility"`
	DefaultInstantiable *bool           `yaml:"default_instantiable"`
	Enclosing           string          `yaml:"enclosing"`
	TypeParams          []TypeParamDecl `yaml:"type_params"`
	Super               string          `yaml:"super"`
	Implements          []string        `yaml:"implements"`
	Fields              []FieldDecl     `yaml:"fields"`
	Methods             []MethodDecl    `yaml:"methods"`
}

type TypeParamDecl struct {
	Name   string   `yaml:"name"`
	Bounds []string `yaml:"bounds"`
}

type FieldDecl struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Static      bool     `yaml:"static"`
	Transient   bool     `yaml:"transient"`
	Final       bool     `yaml:"final"`
	Annotations []string `yaml:"annotations"`
}

type MethodDecl struct {
	Name    string   `yaml:"name"`
	Params  []string `yaml:"params"`
	Returns []string `yaml:"returns"`
	Throws  []string `yaml:"throws"`
	Static  bool     `yaml:"static"`
}

// Model is a loaded model: a sealed universe plus the service interfaces
// the file names.
type Model struct {
	Universe *typemodel.Universe
	Services []*typemodel.Class
}

// Load reads and builds the model file at path.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and builds a model. Unknown keys are rejected.
func Parse(data []byte) (*Model, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	return Build(&f)
}

// Build turns a decoded file into a sealed universe. Declarations are
// created first so that type expressions may refer to any of them.
func Build(f *File) (*Model, error) {
	u := typemodel.NewUniverse(f.Object)
	std := f.StandardPackages
	if std == nil {
		std = DefaultStandardPackages
	}

	classes := make([]*typemodel.Class, len(f.Types))
	for i, d := range f.Types {
		c, err := declare(d, std, u)
		if err != nil {
			return nil, err
		}
		if err := u.AddClass(c); err != nil {
			return nil, fmt.Errorf("type %s: %w", d.Name, err)
		}
		classes[i] = c
	}

	var errs []error
	for i, d := range f.Types {
		if err := define(u, classes[i], d); err != nil {
			errs = append(errs, fmt.Errorf("type %s: %w", d.Name, err))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := u.Seal(); err != nil {
		return nil, fmt.Errorf("seal universe: %w", err)
	}

	m := &Model{Universe: u}
	for _, name := range f.Services {
		c, ok := u.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown service %s", name)
		}
		if !c.IsInterface() {
			return nil, fmt.Errorf("service %s is not an interface", name)
		}
		m.Services = append(m.Services, c)
	}
	return m, nil
}

func declare(d TypeDecl, std []string, u *typemodel.Universe) (*typemodel.Class, error) {
	if d.Name == "" {
		return nil, errors.New("type declaration without a name")
	}
	kind, err := parseKind(d.Kind)
	if err != nil {
		return nil, fmt.Errorf("type %s: %w", d.Name, err)
	}
	vis, err := parseVisibility(d.Visibility)
	if err != nil {
		return nil, fmt.Errorf("type %s: %w", d.Name, err)
	}

	c := &typemodel.Class{
		QualifiedName:        d.Name,
		Package:              packageOf(d.Name),
		Kind:                 kind,
		Visibility:           vis,
		Abstract:             d.Abstract,
		Static:               d.Static,
		Local:                d.Local,
		NoDefaultConstructor: d.DefaultInstantiable != nil && !*d.DefaultInstantiable,
	}
	for _, prefix := range std {
		if strings.HasPrefix(d.Name, prefix) {
			c.Standard = true
			break
		}
	}
	for _, tp := range d.TypeParams {
		c.TypeParams = append(c.TypeParams, u.NewTypeParameter(tp.Name))
	}
	return c, nil
}

// define resolves everything that may refer to other declarations.
func define(u *typemodel.Universe, c *typemodel.Class, d TypeDecl) error {
	if d.Enclosing != "" {
		enc, ok := u.Lookup(d.Enclosing)
		if !ok {
			return fmt.Errorf("unknown enclosing type %s", d.Enclosing)
		}
		c.Enclosing = enc
		c.Package = enc.Package
	}

	scope := typeScope(c)
	parse := func(expr string) (typemodel.Type, error) {
		return parseType(u, expr, scope)
	}
	parseAll := func(exprs []string) ([]typemodel.Type, error) {
		out := make([]typemodel.Type, 0, len(exprs))
		for _, e := range exprs {
			t, err := parse(e)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		return out, nil
	}

	for i, tpd := range d.TypeParams {
		bounds, err := parseAll(tpd.Bounds)
		if err != nil {
			return err
		}
		c.TypeParams[i].Bounds = bounds
	}
	if d.Super != "" {
		t, err := parse(d.Super)
		if err != nil {
			return err
		}
		c.Super = t
	}
	intfs, err := parseAll(d.Implements)
	if err != nil {
		return err
	}
	c.Interfaces = intfs

	for _, fd := range d.Fields {
		t, err := parse(fd.Type)
		if err != nil {
			return fmt.Errorf("field %s: %w", fd.Name, err)
		}
		c.Fields = append(c.Fields, &typemodel.Field{
			Name:        fd.Name,
			Type:        t,
			Static:      fd.Static,
			Transient:   fd.Transient,
			Final:       fd.Final,
			Annotations: fd.Annotations,
		})
	}
	for _, md := range d.Methods {
		m := &typemodel.Method{Name: md.Name, Static: md.Static}
		if m.Params, err = parseAll(md.Params); err != nil {
			return fmt.Errorf("method %s: %w", md.Name, err)
		}
		if m.Results, err = parseAll(md.Returns); err != nil {
			return fmt.Errorf("method %s: %w", md.Name, err)
		}
		if m.Throws, err = parseAll(md.Throws); err != nil {
			return fmt.Errorf("method %s: %w", md.Name, err)
		}
		c.Methods = append(c.Methods, m)
	}
	return nil
}

// typeScope returns the parameters visible inside c: those of enclosing
// declarations first, so that c's own parameters shadow them.
func typeScope(c *typemodel.Class) []*typemodel.TypeParameter {
	var chain []*typemodel.Class
	for cur := c; cur != nil; cur = cur.Enclosing {
		chain = append(chain, cur)
	}
	var scope []*typemodel.TypeParameter
	for i := len(chain) - 1; i >= 0; i-- {
		scope = append(scope, chain[i].TypeParams...)
	}
	return scope
}

func parseKind(s string) (typemodel.Kind, error) {
	switch s {
	case "", "class":
		return typemodel.KindClass, nil
	case "interface":
		return typemodel.KindInterface, nil
	case "enum":
		return typemodel.KindEnum, nil
	}
	return 0, fmt.Errorf("unknown kind %q", s)
}

func parseVisibility(s string) (typemodel.Visibility, error) {
	switch s {
	case "", "public":
		return typemodel.Public, nil
	case "package":
		return typemodel.PackagePrivate, nil
	case "private":
		return typemodel.Private, nil
	}
	return 0, fmt.Errorf("unknown visibility %q", s)
}
