// Package techniques resolves technique identifiers to optimization
// strategies.
package techniques

import (
	"sort"
	"strings"

	"github.com/copyleftdev/extrema/internal/optimization"
	"github.com/copyleftdev/extrema/internal/optimization/bayesian"
	"github.com/copyleftdev/extrema/internal/optimization/neldermead"
	"github.com/copyleftdev/extrema/internal/optimization/powell"
	"github.com/copyleftdev/extrema/internal/optimization/randomwalk"
)

// Constructor builds a fresh strategy from options.
type Constructor func(opts ...optimization.Option) optimization.Strategy

// Factory is a lookup table from technique identifier to constructor.
// Lookups are case-insensitive; Names reports the canonical spelling.
type Factory struct {
	constructors map[string]Constructor
	canonical    map[string]string
	defaults     []optimization.Option
}

// NewFactory returns a factory that knows every built-in technique. defaults
// are applied to each created strategy before per-call options.
func NewFactory(defaults ...optimization.Option) *Factory {
	f := &Factory{
		constructors: make(map[string]Constructor),
		canonical:    make(map[string]string),
		defaults:     defaults,
	}
	f.Register(randomwalk.Name, func(opts ...optimization.Option) optimization.Strategy {
		return randomwalk.New(opts...)
	})
	f.Register(powell.Name, func(opts ...optimization.Option) optimization.Strategy {
		return powell.New(opts...)
	})
	f.Register(neldermead.Name, func(opts ...optimization.Option) optimization.Strategy {
		return neldermead.New(opts...)
	})
	f.Register(bayesian.Name, func(opts ...optimization.Option) optimization.Strategy {
		return bayesian.New(opts...)
	})
	return f
}

// Register adds or replaces a technique. It is meant to be called during
// setup, before the factory is shared.
func (f *Factory) Register(name string, ctor Constructor) {
	key := strings.ToLower(name)
	f.constructors[key] = ctor
	f.canonical[key] = name
}

// Create returns a new strategy for name. Unknown names fail with
// ErrUnknownTechnique; there is no fallback.
func (f *Factory) Create(name string, opts ...optimization.Option) (optimization.Strategy, error) {
	ctor, ok := f.constructors[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, optimization.UnknownTechnique(name).WithComponent("techniques").WithOperation("create")
	}
	all := make([]optimization.Option, 0, len(f.defaults)+len(opts))
	all = append(all, f.defaults...)
	all = append(all, opts...)
	return ctor(all...), nil
}

// Canonical returns the registered spelling of name.
func (f *Factory) Canonical(name string) (string, bool) {
	c, ok := f.canonical[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Names returns every resolvable identifier, sorted.
func (f *Factory) Names() []string {
	names := make([]string, 0, len(f.canonical))
	for _, name := range f.canonical {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve parses a comma-delimited technique list such as
// "RandomWalk, Powell". Blank entries are skipped and duplicates collapse.
// Every remaining entry must resolve.
func (f *Factory) Resolve(list string) ([]string, error) {
	var names []string
	seen := make(map[string]bool)
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		name, ok := f.Canonical(raw)
		if !ok {
			return nil, optimization.UnknownTechnique(raw).WithComponent("techniques").WithOperation("resolve")
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, optimization.NewErrorf("no techniques in %q", list).
			WithKind(optimization.ErrUnknownTechnique).
			WithComponent("techniques").
			WithOperation("resolve")
	}
	return names, nil
}
