package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gregtusar/greeks-sentiment/pkg/chain"
	"github.com/gregtusar/greeks-sentiment/pkg/ledger"
	"github.com/gregtusar/greeks-sentiment/pkg/market"
	"github.com/gregtusar/greeks-sentiment/pkg/models"
	"github.com/gregtusar/greeks-sentiment/pkg/sentiment"
	"github.com/sirupsen/logrus"
)

type ProfileChecker interface {
	Profile(ctx context.Context) (*models.Profile, error)
}

// Tracker runs one fetch, aggregate and append cycle per call to Run.
type Tracker struct {
	source     chain.Source
	aggregator *sentiment.Aggregator
	log        ledger.Log
	openLog    ledger.Log
	calendar   *market.Calendar
	profile    ProfileChecker
	skipClosed bool
	logger     *logrus.Logger
	now        func() time.Time
}

func NewTracker(source chain.Source, aggregator *sentiment.Aggregator, log ledger.Log, calendar *market.Calendar, logger *logrus.Logger) *Tracker {
	return &Tracker{
		source:     source,
		aggregator: aggregator,
		log:        log,
		calendar:   calendar,
		logger:     logger,
		now:        time.Now,
	}
}

// WithOpenLog records the first aggregate of each trading day into log.
func (t *Tracker) WithOpenLog(log ledger.Log) *Tracker {
	t.openLog = log
	return t
}

// WithProfileCheck validates the broker session before fetching.
func (t *Tracker) WithProfileCheck(p ProfileChecker) *Tracker {
	t.profile = p
	return t
}

// WithClock sets the time source of the tracker and its aggregator.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	t.aggregator.WithClock(now)
	return t
}

func (t *Tracker) SkipClosedMarket(skip bool) *Tracker {
	t.skipClosed = skip
	return t
}

// Run returns market.ErrMarketClosed without touching the broker when the
// market is closed and skipping is enabled. Any fetch failure aborts before a
// row is written. The open snapshot is still recorded when the log append
// fails, since a Fanout keeps its local row on a remote failure.
func (t *Tracker) Run(ctx context.Context) (*models.Aggregate, error) {
	entry := t.logger.WithField("run_id", uuid.NewString())
	now := t.now()

	if t.skipClosed && !t.calendar.IsTradingDay(now) {
		entry.WithField("date", t.calendar.Day(now).Format("2006-01-02")).Info("Market is closed today")
		return nil, market.ErrMarketClosed
	}

	if t.profile != nil {
		profile, err := t.profile.Profile(ctx)
		if err != nil {
			return nil, fmt.Errorf("access token validation failed: %w", err)
		}
		entry.WithField("user", profile.UserName).Info("Access token valid")
	}

	quotes, err := t.source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch option chain: %w", err)
	}

	agg := t.aggregator.Aggregate(quotes)
	if agg.Skipped > 0 {
		entry.WithField("skipped", agg.Skipped).Warn("Dropped quotes with non-finite greeks")
	}
	if agg.Contracts == 0 {
		entry.WithField("quotes", len(quotes)).Warn("No strikes found in delta range")
	}

	var errs []error
	if err := t.log.Append(ctx, agg); err != nil {
		errs = append(errs, fmt.Errorf("failed to append aggregate: %w", err))
	}

	if t.openLog != nil {
		if err := t.recordOpen(ctx, agg); err != nil {
			errs = append(errs, fmt.Errorf("failed to record open snapshot: %w", err))
		}
	}

	if len(errs) > 0 {
		return &agg, errors.Join(errs...)
	}

	entry.WithFields(logrus.Fields{
		"contracts":  agg.Contracts,
		"call_delta": agg.CallDelta,
		"put_delta":  agg.PutDelta,
	}).Info("Logged greek summary")

	return &agg, nil
}

func (t *Tracker) recordOpen(ctx context.Context, agg models.Aggregate) error {
	rows, err := t.openLog.Rows(ctx)
	if err != nil {
		return err
	}

	today := t.calendar.Day(agg.Timestamp)
	if len(rows) > 0 && t.calendar.Day(rows[len(rows)-1].Timestamp).Equal(today) {
		return nil
	}

	t.logger.WithField("date", today.Format("2006-01-02")).Info("Saving session open snapshot")
	return t.openLog.Append(ctx, agg)
}
