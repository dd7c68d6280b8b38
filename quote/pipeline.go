package quote

import "fmt"

// InstrumentSpec configures extraction and validation of one primary.
type InstrumentSpec struct {
	Aliases   []string
	Templates []string
	MinSpread float64
}

// Spec configures a Pipeline.
type Spec struct {
	Dollar           InstrumentSpec
	Real             InstrumentSpec
	RealDollarSpread float64
}

// DefaultSpec returns the built-in aliases, templates and spreads.
func DefaultSpec() Spec {
	return Spec{
		Dollar: InstrumentSpec{
			Aliases:   []string{"dólar", "dolar", "usd", "us$"},
			Templates: DefaultTemplates,
			MinSpread: DefaultDollarSpread,
		},
		Real: InstrumentSpec{
			Aliases:   []string{"real", "reales", "brl", "r$"},
			Templates: DefaultTemplates,
			MinSpread: DefaultRealSpread,
		},
		RealDollarSpread: DefaultRealDollarSpread,
	}
}

// Result is the outcome of one pipeline run.
type Result struct {
	Snapshot Snapshot
	Changed  bool
	// Matched reports, per primary instrument, whether any pattern hit.
	Matched map[Key]bool
}

// Misses returns the primary instruments that fell back to previous values.
func (r Result) Misses() []Key {
	var out []Key
	for _, k := range []Key{KeyDollar, KeyReal} {
		if !r.Matched[k] {
			out = append(out, k)
		}
	}
	return out
}

type instrument struct {
	patterns  PatternSet
	minSpread float64
}

// Pipeline composes extraction, cross rate, validation and change detection.
// It holds only compiled configuration and is safe for concurrent use.
type Pipeline struct {
	dollar      instrument
	real        instrument
	crossSpread float64
}

// NewPipeline compiles the patterns of spec.
func NewPipeline(spec Spec) (*Pipeline, error) {
	dollar, err := CompilePatterns(spec.Dollar.Aliases, spec.Dollar.Templates)
	if err != nil {
		return nil, fmt.Errorf("dollar patterns: %w", err)
	}
	real, err := CompilePatterns(spec.Real.Aliases, spec.Real.Templates)
	if err != nil {
		return nil, fmt.Errorf("real patterns: %w", err)
	}
	return &Pipeline{
		dollar:      instrument{patterns: dollar, minSpread: spec.Dollar.MinSpread},
		real:        instrument{patterns: real, minSpread: spec.Real.MinSpread},
		crossSpread: spec.RealDollarSpread,
	}, nil
}

// Run extracts a new snapshot from text and compares it with previous.
// Identical inputs always give identical outputs.
func (p *Pipeline) Run(text string, previous Snapshot) Result {
	dollar, dollarOK := ExtractPrimary(text, previous.Dollar, p.dollar.patterns)
	real, realOK := ExtractPrimary(text, previous.Real, p.real.patterns)
	cross := ComputeCross(dollar, real, previous.RealDollar)

	next := Snapshot{
		Dollar:     Validate(dollar, p.dollar.minSpread),
		Real:       Validate(real, p.real.minSpread),
		RealDollar: Validate(cross, p.crossSpread),
	}
	return Result{
		Snapshot: next,
		Changed:  Changed(previous, next),
		Matched:  map[Key]bool{KeyDollar: dollarOK, KeyReal: realOK},
	}
}
