package sentiment

import (
	"fmt"
	"math"
	"time"

	"github.com/gregtusar/greeks-sentiment/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	DefaultDeltaLower = 0.05
	DefaultDeltaUpper = 0.60
)

// Band is the inclusive |Delta| range a quote must fall in to contribute.
type Band struct {
	Lower float64
	Upper float64
}

func DefaultBand() Band {
	return Band{Lower: DefaultDeltaLower, Upper: DefaultDeltaUpper}
}

func (b Band) Validate() error {
	if math.IsNaN(b.Lower) || math.IsNaN(b.Upper) {
		return fmt.Errorf("delta band bounds must be numbers")
	}
	if b.Lower < 0 {
		return fmt.Errorf("delta band lower bound %v is negative", b.Lower)
	}
	if b.Upper < b.Lower {
		return fmt.Errorf("delta band upper bound %v is below lower bound %v", b.Upper, b.Lower)
	}
	return nil
}

func (b Band) Contains(delta float64) bool {
	d := math.Abs(delta)
	return d >= b.Lower && d <= b.Upper
}

type Aggregator struct {
	band Band
	now  func() time.Time
}

func NewAggregator(band Band) (*Aggregator, error) {
	if err := band.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{band: band, now: time.Now}, nil
}

// WithClock replaces the timestamp source, mainly for tests and backfills.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

func (a *Aggregator) Band() Band {
	return a.band
}

// Aggregate stamps the sums with the aggregator clock.
func (a *Aggregator) Aggregate(quotes []models.Quote) models.Aggregate {
	return a.AggregateAt(a.now(), quotes)
}

type side struct {
	delta, vega, theta decimal.Decimal
}

func (s *side) add(g models.Greeks) {
	s.delta = s.delta.Add(decimal.NewFromFloat(g.Delta))
	s.vega = s.vega.Add(decimal.NewFromFloat(g.Vega))
	s.theta = s.theta.Add(decimal.NewFromFloat(g.Theta))
}

// AggregateAt sums Greeks per side over the quotes inside the band.
// Quotes with a NaN or infinite Greek are counted in Skipped and left out.
// Decimal accumulation keeps the result independent of input order.
func (a *Aggregator) AggregateAt(ts time.Time, quotes []models.Quote) models.Aggregate {
	var calls, puts side
	contracts, skipped := 0, 0

	for _, q := range quotes {
		if !a.band.Contains(q.Delta) {
			continue
		}
		if !q.Greeks.Finite() {
			skipped++
			continue
		}
		switch q.Type {
		case models.OptionTypeCall:
			calls.add(q.Greeks)
		case models.OptionTypePut:
			puts.add(q.Greeks)
		default:
			continue
		}
		contracts++
	}

	agg := models.Aggregate{
		Timestamp: ts,
		CallDelta: calls.delta.InexactFloat64(),
		CallVega:  calls.vega.InexactFloat64(),
		CallTheta: calls.theta.InexactFloat64(),
		PutDelta:  puts.delta.InexactFloat64(),
		PutVega:   puts.vega.InexactFloat64(),
		PutTheta:  puts.theta.InexactFloat64(),
		NetDelta:  calls.delta.Add(puts.delta).InexactFloat64(),
		NetVega:   calls.vega.Add(puts.vega).InexactFloat64(),
		NetTheta:  calls.theta.Add(puts.theta).InexactFloat64(),
		Contracts: contracts,
		Skipped:   skipped,
	}
	return agg
}

// ChangeSince reports how far latest has moved from the open snapshot.
func ChangeSince(open, latest models.Aggregate) models.Change {
	return models.Change{
		Timestamp: latest.Timestamp,
		CallDelta: latest.CallDelta - open.CallDelta,
		PutDelta:  latest.PutDelta - open.PutDelta,
		CallVega:  latest.CallVega - open.CallVega,
		PutVega:   latest.PutVega - open.PutVega,
		CallTheta: latest.CallTheta - open.CallTheta,
		PutTheta:  latest.PutTheta - open.PutTheta,
	}
}
