package quote

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var initialSnapshot = Snapshot{
	Dollar:     Quote{Buy: 6480, Sell: 6680},
	Real:       Quote{Buy: 1175, Sell: 1230},
	RealDollar: Quote{Buy: 5.42, Sell: 5.50},
}

func newDefaultPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewPipeline(DefaultSpec())
	require.NoError(t, err)
	return p
}

func TestPipelineDetectsMove(t *testing.T) {
	p := newDefaultPipeline(t)
	text := "Cotizaciones del día\nDólar Compra 6.490 Venta 6.690\nReal Compra 1.175 Venta 1.230"

	res := p.Run(text, initialSnapshot)

	require.True(t, res.Changed)
	assert.Equal(t, Quote{Buy: 6490, Sell: 6690}, res.Snapshot.Dollar)
	assert.Equal(t, Quote{Buy: 1175, Sell: 1230}, res.Snapshot.Real)
	assert.Equal(t, 5.5234, res.Snapshot.RealDollar.Buy)
	assert.InDelta(t, 5.5734, res.Snapshot.RealDollar.Sell, 1e-9)
	assert.Empty(t, res.Misses())
}

func TestPipelineIsIdempotent(t *testing.T) {
	p := newDefaultPipeline(t)
	text := "USD 6.480 6.680 BRL 1.175 1.230"

	first := p.Run(text, initialSnapshot)
	second := p.Run(text, first.Snapshot)

	assert.False(t, second.Changed)
	assert.Equal(t, first.Snapshot, second.Snapshot)

	// The caller's previous snapshot is never modified.
	assert.Equal(t, Quote{Buy: 5.42, Sell: 5.50}, initialSnapshot.RealDollar)
}

func TestPipelineCrossIsCorrected(t *testing.T) {
	p := newDefaultPipeline(t)
	res := p.Run("dólar 6.480 6.680 real 1.175 1.230", Snapshot{})

	assert.Equal(t, 5.5149, res.Snapshot.RealDollar.Buy)
	assert.InDelta(t, 5.5649, res.Snapshot.RealDollar.Sell, 1e-9)
}

func TestPipelinePartialMatch(t *testing.T) {
	p := newDefaultPipeline(t)
	previous := p.Run("", initialSnapshot).Snapshot

	res := p.Run("compra dólar 6500", previous)

	assert.Equal(t, []Key{KeyReal}, res.Misses())
	assert.True(t, res.Matched[KeyDollar])
	assert.Equal(t, Quote{Buy: 6480, Sell: 6500}, res.Snapshot.Dollar)
	assert.Equal(t, previous.Real, res.Snapshot.Real)
	assert.True(t, res.Changed)
}

func TestPipelineNoMatchKeepsPrevious(t *testing.T) {
	p := newDefaultPipeline(t)
	previous := p.Run("", initialSnapshot).Snapshot

	res := p.Run("<html>mantenimiento</html>", previous)

	assert.False(t, res.Changed)
	assert.Equal(t, previous, res.Snapshot)
	assert.ElementsMatch(t, []Key{KeyDollar, KeyReal}, res.Misses())
}

func TestPipelineAlwaysOrdersQuotes(t *testing.T) {
	p := newDefaultPipeline(t)
	texts := []string{
		"dólar 6.700 6.500 real 1.300 1.200",
		"dólar 6.500 6.500 real 1.200 1.200",
		"venta dólar 10",
		"real 0",
		"",
		"dólar 1.000.000.000.000.000.000 1 real 1.175 1.230",
		"dólar compra " + strings.Repeat("9", 400) + " venta " + strings.Repeat("9", 400) + "\nreal compra 1.175 venta 1.230",
	}
	for _, text := range texts {
		var res Result
		require.NotPanics(t, func() { res = p.Run(text, initialSnapshot) }, "text %q", text)
		for _, k := range Keys() {
			q := res.Snapshot.Get(k)
			assert.Less(t, q.Buy, q.Sell, "%s in %q", k, text)
			assert.False(t, math.IsInf(q.Buy, 0) || math.IsInf(q.Sell, 0), "%s in %q", k, text)
		}
	}
}

func TestNewPipelineRejectsBadSpec(t *testing.T) {
	spec := DefaultSpec()
	spec.Real.Templates = []string{"{alias}(["}
	_, err := NewPipeline(spec)
	assert.ErrorContains(t, err, "real patterns")

	spec = DefaultSpec()
	spec.Dollar.Aliases = nil
	_, err = NewPipeline(spec)
	assert.ErrorContains(t, err, "dollar patterns")
}
