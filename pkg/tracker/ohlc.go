package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/gregtusar/greeks-sentiment/pkg/gsheets"
	"github.com/gregtusar/greeks-sentiment/pkg/market"
	"github.com/gregtusar/greeks-sentiment/pkg/models"
	"github.com/sirupsen/logrus"
)

type CandleFetcher interface {
	HistoricalData(ctx context.Context, token int64, interval string, from, to time.Time) ([]models.Candle, error)
}

type RowAppender interface {
	IsEmpty(ctx context.Context) (bool, error)
	AppendRows(ctx context.Context, values []gsheets.Row) error
}

var ohlcHeader = gsheets.Row{"date", "open", "high", "low", "close", "volume"}

// OHLCExport copies the last trading day's index candles into a sheet tab.
type OHLCExport struct {
	broker   CandleFetcher
	tab      RowAppender
	calendar *market.Calendar
	token    int64
	interval string
	logger   *logrus.Logger
	now      func() time.Time
}

func NewOHLCExport(broker CandleFetcher, tab RowAppender, calendar *market.Calendar, token int64, interval string, logger *logrus.Logger) *OHLCExport {
	return &OHLCExport{
		broker:   broker,
		tab:      tab,
		calendar: calendar,
		token:    token,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

func (e *OHLCExport) Run(ctx context.Context) (int, error) {
	day := e.calendar.LastTradingDay(e.now())
	from, to := e.calendar.SessionBounds(day)

	e.logger.WithField("date", day.Format("2006-01-02")).Info("Fetching OHLC")

	candles, err := e.broker.HistoricalData(ctx, e.token, e.interval, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch OHLC: %w", err)
	}

	empty, err := e.tab.IsEmpty(ctx)
	if err != nil {
		return 0, err
	}

	values := make([]gsheets.Row, 0, len(candles)+1)
	if empty {
		values = append(values, ohlcHeader)
	}
	for _, c := range candles {
		values = append(values, gsheets.Row{
			c.Timestamp.In(e.calendar.Location()).Format(time.RFC3339),
			c.Open, c.High, c.Low, c.Close, c.Volume,
		})
	}

	if len(values) == 0 {
		return 0, nil
	}
	if err := e.tab.AppendRows(ctx, values); err != nil {
		return 0, err
	}

	e.logger.WithField("candles", len(candles)).Info("Logged OHLC candles to sheet")
	return len(candles), nil
}
