package functions

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/extrema/internal/objective"
)

// ErrUnknownFunction reports a key that is not in the catalog or the set.
var ErrUnknownFunction = errors.New("unknown function")

// Override adjusts a catalog definition. Zero fields keep the default.
type Override struct {
	Title    string    `yaml:"title"`
	Start    []float64 `yaml:"start"`
	Minimize *bool     `yaml:"minimize"`
}

// Overrides maps catalog keys to overrides.
type Overrides map[string]Override

// ParseOverrides decodes a YAML document of the form
//
//	samsClub:
//	  title: Store Location
//	  start: [0, 0]
//	  minimize: false
func ParseOverrides(data []byte) (Overrides, error) {
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse function overrides: %w", err)
	}
	for key := range o {
		if _, ok := catalog[key]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, key)
		}
	}
	return o, nil
}

// LoadOverrides reads and parses an override file.
func LoadOverrides(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read function overrides: %w", err)
	}
	return ParseOverrides(data)
}

// Set holds the live function instances of a process, keyed by catalog key.
// The set itself is immutable after construction.
type Set struct {
	keys  []string
	byKey map[string]*objective.Function
}

// NewSet builds one instance per key, in order, applying overrides.
func NewSet(keys []string, overrides Overrides) (*Set, error) {
	s := &Set{byKey: make(map[string]*objective.Function, len(keys))}
	for _, key := range keys {
		if _, dup := s.byKey[key]; dup {
			continue
		}
		def, ok := Lookup(key)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, key)
		}
		if o, ok := overrides[key]; ok {
			def = def.Apply(o)
		}
		fn, err := def.New()
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", key, err)
		}
		s.keys = append(s.keys, key)
		s.byKey[key] = fn
	}
	return s, nil
}

// Get returns the instance for key.
func (s *Set) Get(key string) (*objective.Function, error) {
	fn, ok := s.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, key)
	}
	return fn, nil
}

// Keys returns the keys in construction order.
func (s *Set) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Each calls fn for every instance in key order.
func (s *Set) Each(fn func(key string, f *objective.Function)) {
	for _, key := range s.keys {
		fn(key, s.byKey[key])
	}
}

// Len returns the number of instances.
func (s *Set) Len() int {
	return len(s.keys)
}
