package quote

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChanged(t *testing.T) {
	base := Snapshot{
		Dollar:     Quote{Buy: 6480, Sell: 6680},
		Real:       Quote{Buy: 1175, Sell: 1230},
		RealDollar: Quote{Buy: 5.42, Sell: 5.50},
	}

	assert.False(t, Changed(base, base))
	assert.Empty(t, Diff(base, base))

	moved := base.With(KeyReal, Quote{Buy: 1175, Sell: 1231})
	assert.True(t, Changed(base, moved))
	assert.Equal(t, []Key{KeyReal}, Diff(base, moved))

	moved = moved.With(KeyRealDollar, Quote{Buy: 5.4201, Sell: 5.50})
	assert.Equal(t, []Key{KeyReal, KeyRealDollar}, Diff(base, moved))

	assert.True(t, Changed(Snapshot{}, base))
}

func TestSnapshotAccessors(t *testing.T) {
	s := Snapshot{}.With(KeyDollar, Quote{Buy: 1, Sell: 2})
	assert.Equal(t, Quote{Buy: 1, Sell: 2}, s.Get(KeyDollar))
	assert.Equal(t, Quote{}, s.Get(Key("euro")))
	assert.Equal(t, s, s.With(Key("euro"), Quote{Buy: 9, Sell: 10}))
	assert.True(t, s.Dollar.Known())
	assert.False(t, s.Real.Known())
}
