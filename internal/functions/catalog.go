// Package functions is the catalog of built-in objective functions and the
// set of live instances a process serves.
package functions

import (
	"math"
	"slices"
	"sort"

	"github.com/copyleftdev/extrema/internal/objective"
)

// Catalog keys.
const (
	SamsClub  = "samsClub"
	Dell      = "dell"
	MinAbsSum = "minAbsSum"
)

// Definition describes how to build a function instance.
type Definition struct {
	Key        string
	Title      string
	InputNames []string
	Start      []float64
	Minimize   bool
	Formula    objective.Formula
}

// New builds an instance at the definition's starting point.
func (d Definition) New() (*objective.Function, error) {
	return d.NewAt(d.Start)
}

// NewAt builds an instance at values.
func (d Definition) NewAt(values []float64) (*objective.Function, error) {
	return objective.New(d.Title, d.InputNames, values, d.Minimize, d.Formula)
}

// Apply returns a copy of d with the non-zero fields of o applied.
func (d Definition) Apply(o Override) Definition {
	if o.Title != "" {
		d.Title = o.Title
	}
	if o.Start != nil {
		d.Start = slices.Clone(o.Start)
	}
	if o.Minimize != nil {
		d.Minimize = *o.Minimize
	}
	return d
}

var catalog = map[string]Definition{
	SamsClub: {
		Key:        SamsClub,
		Title:      "Sams Club",
		InputNames: []string{"X", "Y"},
		Start:      []float64{-5, 0},
		Minimize:   false,
		Formula:    samsClubProfit,
	},
	Dell: {
		Key:        Dell,
		Title:      "Dell",
		InputNames: []string{"Desktops", "Laptops", "Servers"},
		Start:      []float64{0, 0, 0},
		Minimize:   true,
		Formula:    dellCost,
	},
	MinAbsSum: {
		Key:        MinAbsSum,
		Title:      "Minimum Absolute Sum",
		InputNames: []string{"A", "B", "C", "D"},
		Start:      []float64{3, -2, 5, -1},
		Minimize:   true,
		Formula:    absSum,
	},
}

// Lookup returns the definition registered under key.
func Lookup(key string) (Definition, bool) {
	d, ok := catalog[key]
	if !ok {
		return Definition{}, false
	}
	d.InputNames = slices.Clone(d.InputNames)
	d.Start = slices.Clone(d.Start)
	return d, true
}

// Keys returns every catalog key, sorted.
func Keys() []string {
	keys := make([]string, 0, len(catalog))
	for k := range catalog {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// samsClubProfit is the expected profit of opening a store at (x, y): three
// population centres whose pull falls off with squared distance.
func samsClubProfit(v []float64) (float64, error) {
	x, y := v[0], v[1]
	return 60/(1+sq(x+1)+sq(y-3)) +
		20/(1+sq(x-1)+sq(y-3)) +
		30/(1+sq(x)+sq(y+4)), nil
}

// dellCost is a production cost with quadratic penalties for deviating from
// the demand of each product line.
func dellCost(v []float64) (float64, error) {
	return 100 + sq(v[0]-10) + 2*sq(v[1]-5) + 3*sq(v[2]-2), nil
}

func absSum(v []float64) (float64, error) {
	var sum float64
	for _, x := range v {
		sum += math.Abs(x)
	}
	return sum, nil
}

func sq(x float64) float64 { return x * x }
