package gsheets

import (
	"context"
	"fmt"

	"google.golang.org/api/sheets/v4"
)

type Row = []interface{}

// Tab addresses one worksheet of a spreadsheet.
type Tab struct {
	srv           *sheets.Service
	SpreadsheetID string
	Name          string
}

func NewTab(srv *sheets.Service, spreadsheetID, name string) *Tab {
	return &Tab{srv: srv, SpreadsheetID: spreadsheetID, Name: name}
}

func (t *Tab) rangeOf(cells string) string {
	if cells == "" {
		return t.Name
	}
	return fmt.Sprintf("%s!%s", t.Name, cells)
}

// AppendRows lets Sheets parse the values as if typed into the UI.
func (t *Tab) AppendRows(ctx context.Context, values []Row) error {
	return t.appendRows(ctx, values, "USER_ENTERED")
}

// AppendRawRows stores the values as given, so text such as timestamps is not
// turned into dates or reformatted.
func (t *Tab) AppendRawRows(ctx context.Context, values []Row) error {
	return t.appendRows(ctx, values, "RAW")
}

func (t *Tab) appendRows(ctx context.Context, values []Row, inputOption string) error {
	row := &sheets.ValueRange{
		Values: values,
	}

	response, err := t.srv.Spreadsheets.Values.Append(t.SpreadsheetID, t.Name, row).
		ValueInputOption(inputOption).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", t.Name, err)
	}

	if response.HTTPStatusCode != 200 {
		return fmt.Errorf("invalid http status code: %v", response.HTTPStatusCode)
	}

	return nil
}

// FetchRows reads unformatted values of a cell range, e.g. "A2:K". Numbers come
// back as float64, text as string.
func (t *Tab) FetchRows(ctx context.Context, cells string) ([]Row, error) {
	response, err := t.srv.Spreadsheets.Values.Get(t.SpreadsheetID, t.rangeOf(cells)).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve data from %s: %w", t.rangeOf(cells), err)
	}

	return response.Values, nil
}

func (t *Tab) Cell(ctx context.Context, cell string) (string, error) {
	rows, err := t.FetchRows(ctx, cell)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "", nil
	}
	return fmt.Sprintf("%v", rows[0][0]), nil
}

func (t *Tab) UpdateCell(ctx context.Context, cell string, value interface{}) error {
	row := &sheets.ValueRange{
		Values: []Row{{value}},
	}

	_, err := t.srv.Spreadsheets.Values.Update(t.SpreadsheetID, t.rangeOf(cell), row).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", t.rangeOf(cell), err)
	}

	return nil
}

// IsEmpty reports whether the first row of the tab has no values.
func (t *Tab) IsEmpty(ctx context.Context) (bool, error) {
	rows, err := t.FetchRows(ctx, "A1:Z1")
	if err != nil {
		return false, err
	}
	return len(rows) == 0 || len(rows[0]) == 0, nil
}
