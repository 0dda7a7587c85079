// Package ledger persists aggregate rows to append-only logs.
package ledger

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gregtusar/greeks-sentiment/pkg/models"
)

// Log is an append-only sequence of aggregates ordered by append time.
type Log interface {
	Append(ctx context.Context, agg models.Aggregate) error
	Rows(ctx context.Context) ([]models.Aggregate, error)
}

// Header is the column set shared by the CSV file and the spreadsheet tab.
var Header = []string{
	"timestamp",
	"call_delta_sum", "call_vega_sum", "call_theta_sum",
	"put_delta_sum", "put_vega_sum", "put_theta_sum",
	"net_delta_sum", "net_vega_sum", "net_theta_sum",
	"contracts",
}

type aggregateRow struct {
	Timestamp string  `csv:"timestamp"`
	CallDelta float64 `csv:"call_delta_sum"`
	CallVega  float64 `csv:"call_vega_sum"`
	CallTheta float64 `csv:"call_theta_sum"`
	PutDelta  float64 `csv:"put_delta_sum"`
	PutVega   float64 `csv:"put_vega_sum"`
	PutTheta  float64 `csv:"put_theta_sum"`
	NetDelta  float64 `csv:"net_delta_sum"`
	NetVega   float64 `csv:"net_vega_sum"`
	NetTheta  float64 `csv:"net_theta_sum"`
	Contracts int     `csv:"contracts"`
}

func toRow(a models.Aggregate) *aggregateRow {
	return &aggregateRow{
		Timestamp: a.Timestamp.UTC().Format(time.RFC3339),
		CallDelta: a.CallDelta,
		CallVega:  a.CallVega,
		CallTheta: a.CallTheta,
		PutDelta:  a.PutDelta,
		PutVega:   a.PutVega,
		PutTheta:  a.PutTheta,
		NetDelta:  a.NetDelta,
		NetVega:   a.NetVega,
		NetTheta:  a.NetTheta,
		Contracts: a.Contracts,
	}
}

func (r *aggregateRow) toAggregate() (models.Aggregate, error) {
	ts, err := time.Parse(time.RFC3339, r.Timestamp)
	if err != nil {
		return models.Aggregate{}, fmt.Errorf("invalid timestamp %q: %w", r.Timestamp, err)
	}

	return models.Aggregate{
		Timestamp: ts,
		CallDelta: r.CallDelta,
		CallVega:  r.CallVega,
		CallTheta: r.CallTheta,
		PutDelta:  r.PutDelta,
		PutVega:   r.PutVega,
		PutTheta:  r.PutTheta,
		NetDelta:  r.NetDelta,
		NetVega:   r.NetVega,
		NetTheta:  r.NetTheta,
		Contracts: r.Contracts,
	}, nil
}

// cells renders a row in Header order for the spreadsheet.
func (r *aggregateRow) cells() []interface{} {
	return []interface{}{
		r.Timestamp,
		r.CallDelta, r.CallVega, r.CallTheta,
		r.PutDelta, r.PutVega, r.PutTheta,
		r.NetDelta, r.NetVega, r.NetTheta,
		r.Contracts,
	}
}

// rowFromCells parses a spreadsheet row in Header order.
func rowFromCells(cells []interface{}) (*aggregateRow, error) {
	if len(cells) < len(Header) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(Header), len(cells))
	}

	floats := make([]float64, 9)
	for i := range floats {
		v, err := cellFloat(cells[i+1])
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s=%v: %w", Header[i+1], cells[i+1], err)
		}
		floats[i] = v
	}

	n, err := cellFloat(cells[10])
	if err != nil || n != math.Trunc(n) {
		return nil, fmt.Errorf("failed to parse contracts=%v: not an integer", cells[10])
	}
	contracts := int(n)

	return &aggregateRow{
		Timestamp: fmt.Sprintf("%v", cells[0]),
		CallDelta: floats[0],
		CallVega:  floats[1],
		CallTheta: floats[2],
		PutDelta:  floats[3],
		PutVega:   floats[4],
		PutTheta:  floats[5],
		NetDelta:  floats[6],
		NetVega:   floats[7],
		NetTheta:  floats[8],
		Contracts: contracts,
	}, nil
}

// cellFloat accepts both unformatted numbers and numeric text.
func cellFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	}
	return strconv.ParseFloat(fmt.Sprintf("%v", v), 64)
}
