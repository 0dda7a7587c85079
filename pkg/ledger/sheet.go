package ledger

import (
	"context"
	"fmt"

	"github.com/gregtusar/greeks-sentiment/pkg/gsheets"
	"github.com/gregtusar/greeks-sentiment/pkg/models"
)

// SheetLog mirrors the log into a spreadsheet tab with the CSV header.
type SheetLog struct {
	tab *gsheets.Tab
}

func NewSheetLog(tab *gsheets.Tab) *SheetLog {
	return &SheetLog{tab: tab}
}

func (l *SheetLog) Append(ctx context.Context, agg models.Aggregate) error {
	empty, err := l.tab.IsEmpty(ctx)
	if err != nil {
		return err
	}

	values := make([]gsheets.Row, 0, 2)
	if empty {
		header := make(gsheets.Row, 0, len(Header))
		for _, h := range Header {
			header = append(header, h)
		}
		values = append(values, header)
	}
	values = append(values, toRow(agg).cells())

	return l.tab.AppendRawRows(ctx, values)
}

func (l *SheetLog) Rows(ctx context.Context) ([]models.Aggregate, error) {
	fetched, err := l.tab.FetchRows(ctx, "A2:K")
	if err != nil {
		return nil, err
	}

	out := make([]models.Aggregate, 0, len(fetched))
	for i, cells := range fetched {
		row, err := rowFromCells(cells)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", l.tab.Name, i+2, err)
		}
		agg, err := row.toAggregate()
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", l.tab.Name, i+2, err)
		}
		out = append(out, agg)
	}

	return out, nil
}
