package format

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed reference.yaml
var referenceYAML []byte

// Definition is the uncompiled form of a format as it appears in settings files.
type Definition struct {
	Comment  string `yaml:"comment" mapstructure:"comment"`
	Output   string `yaml:"output" mapstructure:"output"`
	Filename string `yaml:"filename" mapstructure:"filename"`
	Duration string `yaml:"duration,omitempty" mapstructure:"duration"`
}

// Set is an immutable collection of compiled formats keyed by name.
type Set struct {
	specs map[string]*Spec
}

// ReferenceDefinitions returns the built-in format definitions.
func ReferenceDefinitions() (map[string]Definition, error) {
	return ParseDefinitions(referenceYAML)
}

// ParseDefinitions decodes a YAML document of the form `formats: {name: {...}}`.
func ParseDefinitions(data []byte) (map[string]Definition, error) {
	var doc struct {
		Formats map[string]Definition `yaml:"formats"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("decode formats: %w", err)}
	}
	return doc.Formats, nil
}

// Compile validates and compiles definitions. Later maps override earlier ones
// by format name, so reference definitions can be passed first and user
// definitions after them.
func Compile(defs ...map[string]Definition) (*Set, error) {
	merged := map[string]Definition{}
	for _, d := range defs {
		for name, def := range d {
			merged[strings.ToLower(strings.TrimSpace(name))] = def
		}
	}
	if _, ok := merged[AllFormats]; ok {
		return nil, &ConfigError{Format: AllFormats, Err: fmt.Errorf("name is reserved")}
	}
	set := &Set{specs: make(map[string]*Spec, len(merged))}
	seen := map[string]string{}
	for name, def := range merged {
		if name == "" {
			return nil, &ConfigError{Err: fmt.Errorf("format with empty name")}
		}
		spec, err := newSpec(name, def)
		if err != nil {
			return nil, err
		}
		// Probe file names so two formats never write to the same path.
		probe, err := spec.FileName("0")
		if err != nil {
			return nil, &ConfigError{Format: name, Err: err}
		}
		if other, dup := seen[probe]; dup {
			return nil, &ConfigError{Format: name, Err: fmt.Errorf("file name %q collides with format %q", spec.Filename, other)}
		}
		seen[probe] = name
		set.specs[name] = spec
	}
	return set, nil
}

// Reference compiles the built-in formats.
func Reference() (*Set, error) {
	defs, err := ReferenceDefinitions()
	if err != nil {
		return nil, err
	}
	return Compile(defs)
}

// Names returns the configured format names, sorted.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.specs))
	for name := range s.specs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the named format.
func (s *Set) Lookup(name string) (*Spec, bool) {
	spec, ok := s.specs[strings.ToLower(strings.TrimSpace(name))]
	return spec, ok
}

// Resolve turns a user-supplied format name into the specs to render.
// "all" selects every format in name order.
func (s *Set) Resolve(name string) ([]*Spec, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == AllFormats {
		out := make([]*Spec, 0, len(s.specs))
		for _, n := range s.Names() {
			out = append(out, s.specs[n])
		}
		return out, nil
	}
	spec, ok := s.specs[name]
	if !ok {
		return nil, &ConfigError{Format: name, Err: fmt.Errorf("unknown format (available: %s, %s)", strings.Join(s.Names(), ", "), AllFormats)}
	}
	return []*Spec{spec}, nil
}
