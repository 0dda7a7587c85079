// Package gsheetstest provides an in-memory stand-in for the Sheets v4 values API.
package gsheetstest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

type Server struct {
	*httptest.Server

	mu   sync.Mutex
	tabs map[string][][]string

	// FailAppend makes every append request fail with a 500.
	FailAppend bool

	inputOptions map[string][]string
}

// NewServer starts a fake and returns it with a Sheets client pointed at it.
func NewServer(t *testing.T) (*Server, *sheets.Service) {
	t.Helper()

	s := &Server{tabs: make(map[string][][]string), inputOptions: make(map[string][]string)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)

	srv, err := sheets.NewService(context.Background(),
		option.WithEndpoint(s.URL+"/"),
		option.WithHTTPClient(s.Client()),
	)
	if err != nil {
		t.Fatalf("failed to create sheets service: %v", err)
	}

	return s, srv
}

// Rows returns a copy of everything stored in a tab.
func (s *Server) Rows(tab string) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]string, len(s.tabs[tab]))
	for i, r := range s.tabs[tab] {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// InputOptions lists the valueInputOption of every append to a tab, in order.
func (s *Server) InputOptions(tab string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.inputOptions[tab]...)
}

func (s *Server) SetRows(tab string, rows [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabs[tab] = rows
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/")
	parts := strings.SplitN(rest, "/values/", 2)
	if len(parts) != 2 {
		http.Error(w, "unsupported path", http.StatusNotFound)
		return
	}
	spreadsheetID, rng := parts[0], parts[1]

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(rng, ":append"):
		s.handleAppend(w, r, spreadsheetID, strings.TrimSuffix(rng, ":append"))
	case r.Method == http.MethodGet:
		s.handleGet(w, rng, r.URL.Query().Get("valueRenderOption") == "UNFORMATTED_VALUE")
	case r.Method == http.MethodPut:
		s.handleUpdate(w, r, rng)
	default:
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request, spreadsheetID, rng string) {
	if s.FailAppend {
		http.Error(w, `{"error":{"code":500,"message":"backend error"}}`, http.StatusInternalServerError)
		return
	}

	var body sheets.ValueRange
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tab, _ := splitRange(rng)

	s.mu.Lock()
	s.inputOptions[tab] = append(s.inputOptions[tab], r.URL.Query().Get("valueInputOption"))
	for _, row := range body.Values {
		s.tabs[tab] = append(s.tabs[tab], stringify(row))
	}
	s.mu.Unlock()

	writeJSON(w, map[string]interface{}{
		"spreadsheetId": spreadsheetID,
		"updates":       map[string]interface{}{"updatedRows": len(body.Values)},
	})
}

// handleGet returns numeric cells as JSON numbers when unformatted values are
// requested, the way Sheets does.
func (s *Server) handleGet(w http.ResponseWriter, rng string, unformatted bool) {
	tab, cells := splitRange(rng)

	s.mu.Lock()
	rows := s.tabs[tab]
	s.mu.Unlock()

	r0, c0, r1, c1 := parseCells(cells)
	values := make([][]interface{}, 0)
	for ri := r0; ri < len(rows) && (r1 < 0 || ri <= r1); ri++ {
		row := make([]interface{}, 0)
		for ci := c0; ci < len(rows[ri]) && (c1 < 0 || ci <= c1); ci++ {
			cell := rows[ri][ci]
			if unformatted {
				if f, err := strconv.ParseFloat(cell, 64); err == nil {
					row = append(row, f)
					continue
				}
			}
			row = append(row, cell)
		}
		values = append(values, row)
	}

	resp := map[string]interface{}{"range": rng, "majorDimension": "ROWS"}
	if len(values) > 0 {
		resp["values"] = values
	}
	writeJSON(w, resp)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, rng string) {
	var body sheets.ValueRange
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tab, cells := splitRange(rng)
	r0, c0, _, _ := parseCells(cells)

	s.mu.Lock()
	for i, row := range body.Values {
		for j, v := range stringify(row) {
			ri, ci := r0+i, c0+j
			for len(s.tabs[tab]) <= ri {
				s.tabs[tab] = append(s.tabs[tab], []string{})
			}
			for len(s.tabs[tab][ri]) <= ci {
				s.tabs[tab][ri] = append(s.tabs[tab][ri], "")
			}
			s.tabs[tab][ri][ci] = v
		}
	}
	s.mu.Unlock()

	writeJSON(w, map[string]interface{}{"updatedRange": rng})
}

func splitRange(rng string) (string, string) {
	if i := strings.Index(rng, "!"); i >= 0 {
		return rng[:i], rng[i+1:]
	}
	return rng, ""
}

// parseCells turns A1 notation into zero based bounds; -1 means open ended.
func parseCells(cells string) (r0, c0, r1, c1 int) {
	if cells == "" {
		return 0, 0, -1, -1
	}

	parts := strings.SplitN(cells, ":", 2)
	r0, c0 = parseCell(parts[0])
	if r0 < 0 {
		r0 = 0
	}
	if c0 < 0 {
		c0 = 0
	}
	if len(parts) == 1 {
		return r0, c0, r0, c0
	}

	r1, c1 = parseCell(parts[1])
	return r0, c0, r1, c1
}

func parseCell(cell string) (row, col int) {
	row, col = -1, -1
	letters := 0
	for letters < len(cell) && cell[letters] >= 'A' && cell[letters] <= 'Z' {
		letters++
	}
	if letters > 0 {
		col = 0
		for _, ch := range cell[:letters] {
			col = col*26 + int(ch-'A'+1)
		}
		col--
	}
	if letters < len(cell) {
		var n int
		if _, err := fmt.Sscanf(cell[letters:], "%d", &n); err == nil {
			row = n - 1
		}
	}
	return row, col
}

func stringify(row []interface{}) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = fmt.Sprint(v)
	}
	return out
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
