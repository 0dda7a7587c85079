package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/gregtusar/greeks-sentiment/pkg/models"
)

// CSVLog appends aggregates to a local CSV file.
type CSVLog struct {
	path string
}

func NewCSVLog(path string) *CSVLog {
	return &CSVLog{path: path}
}

func (l *CSVLog) Path() string {
	return l.path
}

func (l *CSVLog) Append(ctx context.Context, agg models.Aggregate) error {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", l.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", l.path, err)
	}

	rows := []*aggregateRow{toRow(agg)}
	if info.Size() == 0 {
		err = gocsv.Marshal(&rows, f)
	} else {
		err = gocsv.MarshalWithoutHeaders(&rows, f)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", l.path, err)
	}

	return f.Sync()
}

// Rows reads the whole file back. A missing file is an empty log.
func (l *CSVLog) Rows(ctx context.Context) ([]models.Aggregate, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.Aggregate{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", l.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", l.path, err)
	}
	if info.Size() == 0 {
		return []models.Aggregate{}, nil
	}

	var rows []*aggregateRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", l.path, err)
	}

	out := make([]models.Aggregate, 0, len(rows))
	for i, r := range rows {
		agg, err := r.toAggregate()
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", l.path, i+2, err)
		}
		out = append(out, agg)
	}

	return out, nil
}

type changeRow struct {
	Timestamp string  `csv:"timestamp"`
	CallDelta float64 `csv:"ce_delta_change"`
	PutDelta  float64 `csv:"pe_delta_change"`
	CallVega  float64 `csv:"ce_vega_change"`
	PutVega   float64 `csv:"pe_vega_change"`
	CallTheta float64 `csv:"ce_theta_change"`
	PutTheta  float64 `csv:"pe_theta_change"`
}

// WriteChanges replaces path with the given change rows.
func WriteChanges(path string, changes []models.Change) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating CSV file: %w", err)
	}
	defer f.Close()

	rows := make([]*changeRow, 0, len(changes))
	for _, c := range changes {
		rows = append(rows, &changeRow{
			Timestamp: c.Timestamp.Format(time.RFC3339),
			CallDelta: c.CallDelta,
			PutDelta:  c.PutDelta,
			CallVega:  c.CallVega,
			PutVega:   c.PutVega,
			CallTheta: c.CallTheta,
			PutTheta:  c.PutTheta,
		})
	}

	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}
