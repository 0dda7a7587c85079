package tracker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gregtusar/greeks-sentiment/pkg/greeks"
	"github.com/gregtusar/greeks-sentiment/pkg/gsheets"
	"github.com/gregtusar/greeks-sentiment/pkg/ledger"
	"github.com/gregtusar/greeks-sentiment/pkg/market"
	"github.com/gregtusar/greeks-sentiment/pkg/models"
	"github.com/gregtusar/greeks-sentiment/pkg/sentiment"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	instruments []models.Instrument
	candles     []models.Candle
	token       int64
	interval    string
	from, to    time.Time
}

func (f *fakeHistory) Instruments(ctx context.Context, exchange string) ([]models.Instrument, error) {
	return f.instruments, nil
}

func (f *fakeHistory) HistoricalData(ctx context.Context, token int64, interval string, from, to time.Time) ([]models.Candle, error) {
	f.token, f.interval, f.from, f.to = token, interval, from, to
	return f.candles, nil
}

func nfoOption(symbol, name, typ string, strike float64, expiry string) models.Instrument {
	e, _ := time.Parse("2006-01-02", expiry)
	return models.Instrument{
		TradingSymbol:  symbol,
		Name:           name,
		Strike:         strike,
		Expiry:         e,
		InstrumentType: typ,
		Segment:        "NFO-OPT",
		Exchange:       "NFO",
	}
}

func newTestBackfill(t *testing.T, broker *fakeHistory, open ledger.Log, path string) (*Backfill, *market.Calendar) {
	t.Helper()

	logger, _ := test.NewNullLogger()
	cal := testCalendar(t)
	agg, err := sentiment.NewAggregator(sentiment.DefaultBand())
	require.NoError(t, err)

	cfg := BackfillConfig{
		Exchange:       "NFO",
		Symbol:         "NIFTY",
		IndexToken:     256265,
		Interval:       "5minute",
		HistoricalPath: path,
	}
	return NewBackfill(broker, greeks.NewCalculator(greeks.DefaultRiskFreeRate), agg, cal, open, cfg, logger), cal
}

func TestBackfillRun(t *testing.T) {
	cal := testCalendar(t)
	broker := &fakeHistory{
		instruments: []models.Instrument{
			nfoOption("NIFTY25JUN24500CE", "NIFTY", "CE", 24500, "2025-06-05"),
			nfoOption("NIFTY25JUN24500PE", "NIFTY", "PE", 24500, "2025-06-05"),
			nfoOption("NIFTY25JUN24500CE2", "NIFTY", "CE", 24500, "2025-06-12"),
			nfoOption("BANKNIFTY25JUN55000CE", "BANKNIFTY", "CE", 55000, "2025-06-05"),
		},
		candles: []models.Candle{
			{Timestamp: at(t, cal, "2025-06-03", "09:15"), Close: 24500},
			{Timestamp: at(t, cal, "2025-06-03", "09:20"), Close: 24550},
		},
	}

	open := ledger.NewMemory()
	path := filepath.Join(t.TempDir(), "greeks_log_historical.csv")
	bf, _ := newTestBackfill(t, broker, open, path)

	day, err := cal.ParseDay("2025-06-03")
	require.NoError(t, err)

	changes, err := bf.Run(context.Background(), day, 0.15)
	require.NoError(t, err)
	require.Len(t, changes, 2)

	assert.Equal(t, int64(256265), broker.token)
	assert.Equal(t, "5minute", broker.interval)
	assert.True(t, broker.from.Equal(at(t, cal, "2025-06-03", "09:15")))
	assert.True(t, broker.to.Equal(at(t, cal, "2025-06-03", "15:30")))

	// first candle is the open, so its change is zero
	assert.Zero(t, changes[0].CallDelta)
	assert.Zero(t, changes[0].PutDelta)

	// spot moved up: calls gain delta, puts lose magnitude
	assert.Greater(t, changes[1].CallDelta, 0.0)
	assert.Greater(t, changes[1].PutDelta, 0.0)

	opens, err := open.Rows(context.Background())
	require.NoError(t, err)
	require.Len(t, opens, 1)
	assert.Equal(t, 2, opens[0].Contracts)

	expiryClose := at(t, cal, "2025-06-05", "15:30")
	years := expiryClose.Sub(broker.candles[0].Timestamp).Hours() / yearHours
	want := greeks.NewCalculator(greeks.DefaultRiskFreeRate).Compute(models.OptionTypeCall, 24500, 24500, 0.15, years)
	assert.InDelta(t, want.Delta, opens[0].CallDelta, 1e-9)
	assert.InDelta(t, want.Vega, opens[0].CallVega, 1e-9)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "timestamp,ce_delta_change"))
}

func TestBackfillRejectsClosedDay(t *testing.T) {
	broker := &fakeHistory{}
	bf, cal := newTestBackfill(t, broker, nil, "")

	holiday, _ := cal.ParseDay("2025-04-14")
	_, err := bf.Run(context.Background(), holiday, 0.15)
	assert.ErrorIs(t, err, market.ErrMarketClosed)
}

func TestBackfillRejectsNonPositiveIV(t *testing.T) {
	bf, cal := newTestBackfill(t, &fakeHistory{}, nil, "")

	day, _ := cal.ParseDay("2025-06-03")
	_, err := bf.Run(context.Background(), day, 0)
	assert.Error(t, err)
}

func TestBackfillWithoutCandles(t *testing.T) {
	bf, cal := newTestBackfill(t, &fakeHistory{}, nil, "")

	day, _ := cal.ParseDay("2025-06-03")
	_, err := bf.Run(context.Background(), day, 0.15)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index candles")
}

type fakeTab struct {
	empty bool
	rows  []gsheets.Row
}

func (f *fakeTab) IsEmpty(ctx context.Context) (bool, error) {
	return f.empty, nil
}

func (f *fakeTab) AppendRows(ctx context.Context, values []gsheets.Row) error {
	f.rows = append(f.rows, values...)
	f.empty = false
	return nil
}

func TestOHLCExportUsesLastTradingDay(t *testing.T) {
	cal := testCalendar(t)
	broker := &fakeHistory{
		candles: []models.Candle{
			{Timestamp: at(t, cal, "2025-06-06", "09:15"), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
			{Timestamp: at(t, cal, "2025-06-06", "09:20"), Open: 1.5, High: 2, Low: 1, Close: 1.8, Volume: 80},
		},
	}
	tab := &fakeTab{empty: true}
	logger, _ := test.NewNullLogger()

	export := NewOHLCExport(broker, tab, cal, 256265, "5minute", logger)
	export.now = func() time.Time { return at(t, cal, "2025-06-07", "11:00") }

	n, err := export.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.True(t, broker.from.Equal(at(t, cal, "2025-06-06", "09:15")))
	require.Len(t, tab.rows, 3)
	assert.Equal(t, ohlcHeader, tab.rows[0])
	assert.Equal(t, "2025-06-06T09:15:00+05:30", tab.rows[1][0])
	assert.Equal(t, int64(100), tab.rows[1][5])

	// header is not repeated on a populated tab
	n, err = export.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, tab.rows, 5)
}
