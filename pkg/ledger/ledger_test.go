package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gregtusar/greeks-sentiment/pkg/gsheets"
	"github.com/gregtusar/greeks-sentiment/pkg/gsheets/gsheetstest"
	"github.com/gregtusar/greeks-sentiment/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAggregates(n int) []models.Aggregate {
	base := time.Date(2025, 6, 2, 3, 45, 0, 0, time.UTC)
	out := make([]models.Aggregate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.Aggregate{
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
			CallDelta: 1.5 + float64(i),
			CallVega:  120.25,
			CallTheta: -40.5,
			PutDelta:  -1.25 - float64(i),
			PutVega:   110,
			PutTheta:  -38.75,
			NetDelta:  0.25,
			NetVega:   230.25,
			NetTheta:  -79.25,
			Contracts: 20 + i,
		})
	}
	return out
}

func TestCSVLogAppendKeepsOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "greeks_log.csv")
	log := NewCSVLog(path)
	ctx := context.Background()

	rows, err := log.Rows(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	aggs := sampleAggregates(5)
	for _, a := range aggs {
		require.NoError(t, log.Append(ctx, a))
	}

	rows, err = log.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, len(aggs))
	for i := range aggs {
		assert.True(t, aggs[i].Timestamp.Equal(rows[i].Timestamp))
		assert.Equal(t, aggs[i].CallDelta, rows[i].CallDelta)
		assert.Equal(t, aggs[i].PutTheta, rows[i].PutTheta)
		assert.Equal(t, aggs[i].Contracts, rows[i].Contracts)
	}

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, strings.Join(Header, ","), lines[0])
}

func TestCSVLogKeepsDuplicates(t *testing.T) {
	log := NewCSVLog(filepath.Join(t.TempDir(), "greeks_log.csv"))
	ctx := context.Background()

	agg := sampleAggregates(1)[0]
	require.NoError(t, log.Append(ctx, agg))
	require.NoError(t, log.Append(ctx, agg))

	rows, err := log.Rows(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSheetLog(t *testing.T) {
	fake, srv := gsheetstest.NewServer(t)
	log := NewSheetLog(gsheets.NewTab(srv, "greeks", "GreeksLog"))
	ctx := context.Background()

	aggs := sampleAggregates(3)
	for _, a := range aggs {
		require.NoError(t, log.Append(ctx, a))
	}

	stored := fake.Rows("GreeksLog")
	require.Len(t, stored, 4)
	assert.Equal(t, Header, stored[0])
	assert.Equal(t, []string{"RAW", "RAW", "RAW"}, fake.InputOptions("GreeksLog"))

	rows, err := log.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i := range aggs {
		assert.True(t, aggs[i].Timestamp.Equal(rows[i].Timestamp))
		assert.Equal(t, aggs[i].CallDelta, rows[i].CallDelta)
		assert.Equal(t, aggs[i].Contracts, rows[i].Contracts)
	}
}

type failingLog struct{ Memory }

func (f *failingLog) Append(ctx context.Context, agg models.Aggregate) error {
	return errors.New("quota exceeded")
}

func TestFanoutRemoteFailureKeepsLocalRow(t *testing.T) {
	local := NewCSVLog(filepath.Join(t.TempDir(), "greeks_log.csv"))
	fanout := NewFanout(local, &failingLog{})
	ctx := context.Background()

	err := fanout.Append(ctx, sampleAggregates(1)[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote log")

	rows, err := local.Rows(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFanoutWithSheetOutage(t *testing.T) {
	fake, srv := gsheetstest.NewServer(t)
	fake.FailAppend = true

	local := NewMemory()
	fanout := NewFanout(local, NewSheetLog(gsheets.NewTab(srv, "greeks", "GreeksLog")))
	ctx := context.Background()

	require.Error(t, fanout.Append(ctx, sampleAggregates(1)[0]))

	rows, err := fanout.Rows(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Empty(t, fake.Rows("GreeksLog"))
}

func TestFanoutWithoutRemote(t *testing.T) {
	local := NewMemory()
	fanout := NewFanout(local, nil)
	ctx := context.Background()

	for _, a := range sampleAggregates(4) {
		require.NoError(t, fanout.Append(ctx, a))
	}

	rows, err := fanout.Rows(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestWriteChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greeks_log_historical.csv")
	ts := time.Date(2025, 6, 2, 9, 20, 0, 0, time.FixedZone("IST", 19800))

	require.NoError(t, WriteChanges(path, []models.Change{
		{Timestamp: ts, CallDelta: 0.5, PutDelta: -0.25},
	}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "timestamp,ce_delta_change,pe_delta_change,ce_vega_change,pe_vega_change,ce_theta_change,pe_theta_change", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2025-06-02T09:20:00+05:30,0.5,-0.25"))
}

func TestRowFromUnformattedCells(t *testing.T) {
	row, err := rowFromCells([]interface{}{
		"2025-06-02T04:00:00Z", 0.1, 5.0, -2.0, -0.2, 4.0, -3.0, -0.1, 9.0, -5.0, 2.0,
	})
	require.NoError(t, err)

	agg, err := row.toAggregate()
	require.NoError(t, err)
	assert.Equal(t, 0.1, agg.CallDelta)
	assert.Equal(t, -5.0, agg.NetTheta)
	assert.Equal(t, 2, agg.Contracts)

	_, err = rowFromCells([]interface{}{
		"2025-06-02T04:00:00Z", 0.1, 5.0, -2.0, -0.2, 4.0, -3.0, -0.1, 9.0, -5.0, 2.5,
	})
	assert.Error(t, err)
}
