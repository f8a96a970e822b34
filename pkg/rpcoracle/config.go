package rpcoracle

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/715d/rpcoracle/internal/filter"
	"github.com/715d/rpcoracle/internal/sto"
)

// Config holds the analysis settings read from a YAML file.
type Config struct {
	// Markers are the interfaces that make a type auto-serializable.
	Markers []string `yaml:"markers"`

	// Blacklist holds filter rules: "+regex" allows, "-regex" or a bare
	// regex excludes. The last matching rule wins.
	Blacklist []string `yaml:"blacklist"`

	// CollectionTypes are the generic collections and maps whose raw use
	// pulls every serializable type into the analysis.
	CollectionTypes []string `yaml:"collection_types"`

	// CoreSerializerPackage is searched for custom field serializers by
	// simple name.
	CoreSerializerPackage string `yaml:"core_serializer_package"`

	// SerializeFinalFields includes final fields in serialization.
	SerializeFinalFields bool `yaml:"serialize_final_fields"`

	// Services restricts the analysis to the named service interfaces.
	Services []string `yaml:"services"`

	// ExtraToClientRoots are type expressions added as roots of every
	// to-client build, such as exceptions the transport may throw.
	ExtraToClientRoots []string `yaml:"extra_to_client_roots"`

	StreamReader string `yaml:"stream_reader"`
	StreamWriter string `yaml:"stream_writer"`
}

// LoadConfig reads a YAML config. An empty path or a missing file yields
// the zero Config, whose fields all fall back to the builder defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: decode config: %w", path, err)
	}
	return cfg, nil
}

// filter builds the type filter for the blacklist rules.
func (c *Config) filter() (filter.Filter, error) {
	if len(c.Blacklist) == 0 {
		return filter.AllowAll{}, nil
	}
	bl, err := filter.NewBlacklist(c.Blacklist)
	if err != nil {
		return nil, fmt.Errorf("blacklist: %w", err)
	}
	return bl, nil
}

func (c *Config) builderOptions(f filter.Filter) sto.Options {
	return sto.Options{
		Filter:                f,
		Markers:               c.Markers,
		CollectionTypes:       c.CollectionTypes,
		CoreSerializerPackage: c.CoreSerializerPackage,
		SerializeFinalFields:  c.SerializeFinalFields,
		StreamReader:          c.StreamReader,
		StreamWriter:          c.StreamWriter,
	}
}
