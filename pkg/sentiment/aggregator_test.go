package sentiment

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/gregtusar/greeks-sentiment/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const equalityThreshold = 1e-9

func quote(t models.OptionType, delta, vega, theta float64) models.Quote {
	return models.Quote{Type: t, Greeks: models.Greeks{Delta: delta, Vega: vega, Theta: theta}}
}

func newTestAggregator(t *testing.T) *Aggregator {
	agg, err := NewAggregator(DefaultBand())
	require.NoError(t, err)
	return agg
}

func TestAggregate(t *testing.T) {
	ts := time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC)

	t.Run("example chain excludes deep in the money call", func(t *testing.T) {
		agg := newTestAggregator(t).WithClock(func() time.Time { return ts })
		res := agg.Aggregate([]models.Quote{
			quote(models.OptionTypeCall, 0.10, 5, -2),
			quote(models.OptionTypeCall, 0.70, 9, -1),
			quote(models.OptionTypePut, -0.20, 4, -3),
		})

		assert.Equal(t, ts, res.Timestamp)
		assert.InDelta(t, 0.10, res.CallDelta, equalityThreshold)
		assert.InDelta(t, 5.0, res.CallVega, equalityThreshold)
		assert.InDelta(t, -2.0, res.CallTheta, equalityThreshold)
		assert.InDelta(t, -0.20, res.PutDelta, equalityThreshold)
		assert.InDelta(t, 4.0, res.PutVega, equalityThreshold)
		assert.InDelta(t, -3.0, res.PutTheta, equalityThreshold)
		assert.InDelta(t, -0.10, res.NetDelta, equalityThreshold)
		assert.InDelta(t, 9.0, res.NetVega, equalityThreshold)
		assert.InDelta(t, -5.0, res.NetTheta, equalityThreshold)
		assert.Equal(t, 2, res.Contracts)
	})

	t.Run("band edges are inclusive", func(t *testing.T) {
		res := newTestAggregator(t).Aggregate([]models.Quote{
			quote(models.OptionTypeCall, 0.05, 1, 0),
			quote(models.OptionTypeCall, 0.60, 1, 0),
			quote(models.OptionTypePut, -0.05, 1, 0),
			quote(models.OptionTypePut, -0.60, 1, 0),
			quote(models.OptionTypeCall, 0.0499, 100, 0),
			quote(models.OptionTypePut, -0.6001, 100, 0),
		})

		assert.InDelta(t, 2.0, res.CallVega, equalityThreshold)
		assert.InDelta(t, 2.0, res.PutVega, equalityThreshold)
		assert.Equal(t, 4, res.Contracts)
	})

	t.Run("empty input yields zero sums", func(t *testing.T) {
		res := newTestAggregator(t).Aggregate(nil)
		res.Timestamp = time.Time{}
		assert.Equal(t, models.Aggregate{}, res)
	})

	t.Run("nothing in band yields zero sums", func(t *testing.T) {
		res := newTestAggregator(t).Aggregate([]models.Quote{
			quote(models.OptionTypeCall, 0.95, 3, -1),
			quote(models.OptionTypePut, -0.01, 2, -1),
		})
		res.Timestamp = time.Time{}
		assert.Equal(t, models.Aggregate{}, res)
	})

	t.Run("unknown option type is ignored", func(t *testing.T) {
		res := newTestAggregator(t).Aggregate([]models.Quote{
			quote(models.OptionType("straddle"), 0.3, 3, -1),
		})
		assert.Equal(t, 0, res.Contracts)
		assert.Zero(t, res.NetVega)
	})
}

func TestAggregateSkipsNonFiniteGreeks(t *testing.T) {
	agg := newTestAggregator(t)

	quotes := []models.Quote{
		quote(models.OptionTypeCall, 0.3, math.NaN(), -1),
		quote(models.OptionTypePut, -0.3, 2, math.Inf(-1)),
		quote(models.OptionTypeCall, 0.2, 4, -2),
		// out of band, so not counted as skipped
		quote(models.OptionTypePut, -0.9, math.Inf(1), -1),
	}

	var res models.Aggregate
	require.NotPanics(t, func() { res = agg.Aggregate(quotes) })

	assert.Equal(t, 1, res.Contracts)
	assert.Equal(t, 2, res.Skipped)
	assert.InDelta(t, 0.2, res.CallDelta, equalityThreshold)
	assert.InDelta(t, 4.0, res.CallVega, equalityThreshold)
	assert.Zero(t, res.PutTheta)
	assert.False(t, math.IsNaN(res.NetVega))
}

func TestAggregateIgnoresExcludedQuotes(t *testing.T) {
	agg := newTestAggregator(t)
	rng := rand.New(rand.NewSource(7))

	var inBand, all []models.Quote
	for i := 0; i < 200; i++ {
		q := quote(models.OptionTypeCall, rng.Float64(), rng.Float64()*10, -rng.Float64()*5)
		if i%2 == 1 {
			q.Type = models.OptionTypePut
			q.Delta = -q.Delta
		}
		all = append(all, q)
		if agg.Band().Contains(q.Delta) {
			inBand = append(inBand, q)
		}
	}

	ts := time.Now()
	assert.Equal(t, agg.AggregateAt(ts, inBand), agg.AggregateAt(ts, all))
}

func TestAggregateIsOrderIndependent(t *testing.T) {
	agg := newTestAggregator(t)
	rng := rand.New(rand.NewSource(42))

	quotes := make([]models.Quote, 0, 100)
	for i := 0; i < 100; i++ {
		typ := models.OptionTypeCall
		sign := 1.0
		if rng.Intn(2) == 0 {
			typ = models.OptionTypePut
			sign = -1
		}
		quotes = append(quotes, quote(typ, sign*rng.Float64()*0.7, rng.Float64()*12, -rng.Float64()*8))
	}

	ts := time.Now()
	expected := agg.AggregateAt(ts, quotes)

	for i := 0; i < 10; i++ {
		shuffled := append([]models.Quote(nil), quotes...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, expected, agg.AggregateAt(ts, shuffled))
	}
}

func TestBandValidate(t *testing.T) {
	assert.NoError(t, DefaultBand().Validate())
	assert.Error(t, Band{Lower: -0.1, Upper: 0.5}.Validate())
	assert.Error(t, Band{Lower: 0.6, Upper: 0.5}.Validate())

	_, err := NewAggregator(Band{Lower: 0.7, Upper: 0.1})
	assert.Error(t, err)
}

func TestChangeSince(t *testing.T) {
	open := models.Aggregate{CallDelta: 1.5, PutDelta: -2, CallVega: 10, PutVega: 12, CallTheta: -4, PutTheta: -5}
	latest := models.Aggregate{
		Timestamp: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		CallDelta: 2, PutDelta: -1.5, CallVega: 9, PutVega: 15, CallTheta: -6, PutTheta: -5,
	}

	change := ChangeSince(open, latest)
	assert.Equal(t, latest.Timestamp, change.Timestamp)
	assert.InDelta(t, 0.5, change.CallDelta, equalityThreshold)
	assert.InDelta(t, 0.5, change.PutDelta, equalityThreshold)
	assert.InDelta(t, -1.0, change.CallVega, equalityThreshold)
	assert.InDelta(t, 3.0, change.PutVega, equalityThreshold)
	assert.InDelta(t, -2.0, change.CallTheta, equalityThreshold)
	assert.Zero(t, change.PutTheta)
}
