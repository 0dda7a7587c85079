package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/gregtusar/greeks-sentiment/pkg/chain"
	"github.com/gregtusar/greeks-sentiment/pkg/greeks"
	"github.com/gregtusar/greeks-sentiment/pkg/ledger"
	"github.com/gregtusar/greeks-sentiment/pkg/market"
	"github.com/gregtusar/greeks-sentiment/pkg/models"
	"github.com/gregtusar/greeks-sentiment/pkg/sentiment"
	"github.com/sirupsen/logrus"
)

const yearHours = 365 * 24

type HistoricalBroker interface {
	Instruments(ctx context.Context, exchange string) ([]models.Instrument, error)
	HistoricalData(ctx context.Context, token int64, interval string, from, to time.Time) ([]models.Candle, error)
}

type BackfillConfig struct {
	Exchange       string
	Symbol         string
	IndexToken     int64
	Interval       string
	HistoricalPath string
}

// Backfill rebuilds a day of sentiment from index candles with model Greeks.
type Backfill struct {
	broker     HistoricalBroker
	calc       *greeks.Calculator
	aggregator *sentiment.Aggregator
	calendar   *market.Calendar
	openLog    ledger.Log
	cfg        BackfillConfig
	logger     *logrus.Logger
}

func NewBackfill(broker HistoricalBroker, calc *greeks.Calculator, aggregator *sentiment.Aggregator, calendar *market.Calendar, openLog ledger.Log, cfg BackfillConfig, logger *logrus.Logger) *Backfill {
	return &Backfill{
		broker:     broker,
		calc:       calc,
		aggregator: aggregator,
		calendar:   calendar,
		openLog:    openLog,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run prices every nearest-expiry contract at each candle close using the given
// implied volatility and writes the change against the first candle.
func (b *Backfill) Run(ctx context.Context, day time.Time, iv float64) ([]models.Change, error) {
	if iv <= 0 {
		return nil, fmt.Errorf("implied volatility must be positive, got %v", iv)
	}
	if !b.calendar.IsTradingDay(day) {
		return nil, market.ErrMarketClosed
	}

	from, to := b.calendar.SessionBounds(day)
	candles, err := b.broker.HistoricalData(ctx, b.cfg.IndexToken, b.cfg.Interval, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch index candles: %w", err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no index candles between %s and %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	instruments, err := b.broker.Instruments(ctx, b.cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s instruments: %w", b.cfg.Exchange, err)
	}

	options := chain.FilterOptions(instruments, b.cfg.Symbol)
	expiry, err := chain.NearestExpiry(options, b.calendar.Day(day))
	if err != nil {
		return nil, err
	}

	contracts := make([]models.Instrument, 0, len(options))
	for _, inst := range options {
		if inst.Expiry.Equal(expiry) {
			contracts = append(contracts, inst)
		}
	}

	expiryDay, _ := b.calendar.ParseDay(expiry.Format("2006-01-02"))
	_, expiryClose := b.calendar.SessionBounds(expiryDay)

	b.logger.WithFields(logrus.Fields{
		"date":      b.calendar.Day(day).Format("2006-01-02"),
		"expiry":    expiry.Format("2006-01-02"),
		"contracts": len(contracts),
		"candles":   len(candles),
	}).Info("Starting greek backfill")

	var open models.Aggregate
	changes := make([]models.Change, 0, len(candles))

	for i, candle := range candles {
		years := expiryClose.Sub(candle.Timestamp).Hours() / yearHours
		quotes := b.price(contracts, candle, iv, years)
		snapshot := b.aggregator.AggregateAt(candle.Timestamp, quotes)

		if i == 0 {
			open = snapshot
			if b.openLog != nil {
				if err := b.openLog.Append(ctx, open); err != nil {
					return nil, fmt.Errorf("failed to save open snapshot: %w", err)
				}
			}
		}

		changes = append(changes, sentiment.ChangeSince(open, snapshot))

		b.logger.WithFields(logrus.Fields{
			"time":       candle.Timestamp.In(b.calendar.Location()).Format("15:04"),
			"call_delta": snapshot.CallDelta,
			"put_delta":  snapshot.PutDelta,
		}).Debug("Backfilled snapshot")
	}

	if b.cfg.HistoricalPath != "" {
		if err := ledger.WriteChanges(b.cfg.HistoricalPath, changes); err != nil {
			return nil, err
		}
		b.logger.WithField("path", b.cfg.HistoricalPath).Info("Saved historical change log")
	}

	return changes, nil
}

func (b *Backfill) price(contracts []models.Instrument, candle models.Candle, iv, years float64) []models.Quote {
	quotes := make([]models.Quote, 0, len(contracts))
	for _, inst := range contracts {
		typ, err := models.ParseOptionType(inst.InstrumentType)
		if err != nil {
			continue
		}
		quotes = append(quotes, models.Quote{
			TradingSymbol: inst.TradingSymbol,
			Strike:        inst.Strike,
			Type:          typ,
			Expiry:        inst.Expiry,
			Greeks:        b.calc.Compute(typ, candle.Close, inst.Strike, iv, years),
			Timestamp:     candle.Timestamp,
		})
	}
	return quotes
}
