package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gregtusar/greeks-sentiment/pkg/kite"
	"github.com/gregtusar/greeks-sentiment/pkg/models"
	"github.com/sirupsen/logrus"
)

const optionSegment = "NFO-OPT"

var ErrNoExpiry = errors.New("no option expiry on or after today")

// Source produces the option quotes of one fetch.
type Source interface {
	Fetch(ctx context.Context) ([]models.Quote, error)
}

// Broker is the subset of the Kite client a chain source needs.
type Broker interface {
	Instruments(ctx context.Context, exchange string) ([]models.Instrument, error)
	Quote(ctx context.Context, keys ...string) (map[string]kite.QuoteDTO, error)
	LTP(ctx context.Context, keys ...string) (map[string]kite.LTPDTO, error)
}

type KiteSource struct {
	broker   Broker
	exchange string
	symbol   string
	indexKey string
	loc      *time.Location
	now      func() time.Time
	logger   logrus.FieldLogger
}

func NewKiteSource(broker Broker, exchange, symbol string, loc *time.Location, logger logrus.FieldLogger) *KiteSource {
	return &KiteSource{
		broker:   broker,
		exchange: exchange,
		symbol:   symbol,
		loc:      loc,
		now:      time.Now,
		logger:   logger,
	}
}

// WithIndex makes every fetch also read the underlying's last price, e.g. "NSE:NIFTY 50".
func (s *KiteSource) WithIndex(key string) *KiteSource {
	s.indexKey = key
	return s
}

func (s *KiteSource) spot(ctx context.Context) (float64, error) {
	ltp, err := s.broker.LTP(ctx, s.indexKey)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch %s price: %w", s.indexKey, err)
	}
	price, ok := ltp[s.indexKey]
	if !ok {
		return 0, fmt.Errorf("no last price returned for %s", s.indexKey)
	}
	return price.LastPrice, nil
}

// Contracts returns the index option contracts of the nearest expiry.
func (s *KiteSource) Contracts(ctx context.Context) ([]models.Instrument, time.Time, error) {
	instruments, err := s.broker.Instruments(ctx, s.exchange)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to load %s instruments: %w", s.exchange, err)
	}

	options := FilterOptions(instruments, s.symbol)
	expiry, err := NearestExpiry(options, s.now().In(s.loc))
	if err != nil {
		return nil, time.Time{}, err
	}

	selected := make([]models.Instrument, 0, len(options))
	for _, inst := range options {
		if inst.Expiry.Equal(expiry) {
			selected = append(selected, inst)
		}
	}

	return selected, expiry, nil
}

func (s *KiteSource) Fetch(ctx context.Context) ([]models.Quote, error) {
	contracts, expiry, err := s.Contracts(ctx)
	if err != nil {
		return nil, err
	}

	var spot float64
	if s.indexKey != "" {
		if spot, err = s.spot(ctx); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(contracts))
	for _, inst := range contracts {
		keys = append(keys, inst.Key())
	}

	raw, err := s.broker.Quote(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("failed to quote %d contracts: %w", len(keys), err)
	}

	fetchedAt := s.now()
	quotes := make([]models.Quote, 0, len(contracts))
	missing := 0

	for _, inst := range contracts {
		q, ok := raw[inst.Key()]
		if !ok || q.Greeks == nil {
			missing++
			continue
		}
		greeks := models.Greeks{Delta: q.Greeks.Delta, Vega: q.Greeks.Vega, Theta: q.Greeks.Theta}
		if !greeks.Finite() {
			missing++
			continue
		}

		typ, err := models.ParseOptionType(inst.InstrumentType)
		if err != nil {
			missing++
			continue
		}

		quotes = append(quotes, models.Quote{
			TradingSymbol: inst.TradingSymbol,
			Strike:        inst.Strike,
			Type:          typ,
			Expiry:        inst.Expiry,
			Greeks:        greeks,
			Timestamp: fetchedAt,
		})
	}

	fields := logrus.Fields{
		"expiry":    expiry.Format("2006-01-02"),
		"contracts": len(contracts),
		"quotes":    len(quotes),
		"skipped":   missing,
	}
	if s.indexKey != "" {
		fields["spot"] = spot
	}
	s.logger.WithFields(fields).Info("Fetched option chain")

	return quotes, nil
}

// FilterOptions keeps the call and put contracts of the named underlying.
func FilterOptions(instruments []models.Instrument, symbol string) []models.Instrument {
	out := make([]models.Instrument, 0)
	for _, inst := range instruments {
		if inst.Name != symbol || inst.Segment != optionSegment {
			continue
		}
		if inst.InstrumentType != "CE" && inst.InstrumentType != "PE" {
			continue
		}
		out = append(out, inst)
	}
	return out
}

// NearestExpiry picks the earliest expiry that has not passed as of today.
func NearestExpiry(instruments []models.Instrument, today time.Time) (time.Time, error) {
	cutoff := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	expiries := make([]time.Time, 0)
	seen := make(map[time.Time]bool)
	for _, inst := range instruments {
		if inst.Expiry.IsZero() || inst.Expiry.Before(cutoff) || seen[inst.Expiry] {
			continue
		}
		seen[inst.Expiry] = true
		expiries = append(expiries, inst.Expiry)
	}

	if len(expiries) == 0 {
		return time.Time{}, ErrNoExpiry
	}

	sort.Slice(expiries, func(i, j int) bool {
		return expiries[i].Before(expiries[j])
	})

	return expiries[0], nil
}
