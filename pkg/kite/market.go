package kite

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/gregtusar/greeks-sentiment/pkg/models"
)

const (
	maxQuoteInstruments = 500
	historicalLayout    = "2006-01-02 15:04:05"
	candleLayout        = "2006-01-02T15:04:05-0700"
)

type GreeksDTO struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	IV    float64 `json:"iv"`
}

type QuoteDTO struct {
	InstrumentToken int64      `json:"instrument_token"`
	Timestamp       string     `json:"timestamp"`
	LastPrice       float64    `json:"last_price"`
	Volume          int64      `json:"volume"`
	OI              float64    `json:"oi"`
	Greeks          *GreeksDTO `json:"greeks"`
}

type LTPDTO struct {
	InstrumentToken int64   `json:"instrument_token"`
	LastPrice       float64 `json:"last_price"`
}

type instrumentRow struct {
	InstrumentToken int64   `csv:"instrument_token"`
	ExchangeToken   int64   `csv:"exchange_token"`
	TradingSymbol   string  `csv:"tradingsymbol"`
	Name            string  `csv:"name"`
	LastPrice       float64 `csv:"last_price"`
	Expiry          string  `csv:"expiry"`
	Strike          float64 `csv:"strike"`
	TickSize        float64 `csv:"tick_size"`
	LotSize         int     `csv:"lot_size"`
	InstrumentType  string  `csv:"instrument_type"`
	Segment         string  `csv:"segment"`
	Exchange        string  `csv:"exchange"`
}

type historicalDTO struct {
	Candles [][]interface{} `json:"candles"`
}

func (c *Client) Profile(ctx context.Context) (*models.Profile, error) {
	var profile models.Profile
	if err := c.getJSON(ctx, classDefault, "/user/profile", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Instruments downloads the instrument dump of one exchange.
func (c *Client) Instruments(ctx context.Context, exchange string) ([]models.Instrument, error) {
	resp, err := c.doRequest(ctx, classDefault, http.MethodGet, "/instruments/"+url.PathEscape(exchange), nil)
	if err != nil {
		return nil, fmt.Errorf("request instruments: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, ErrorType: "HTTPError", Message: "failed to download instruments"}
	}

	var rows []*instrumentRow
	if err := gocsv.Unmarshal(resp.Body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse instruments csv: %w", err)
	}

	instruments := make([]models.Instrument, 0, len(rows))
	for _, r := range rows {
		inst := models.Instrument{
			InstrumentToken: r.InstrumentToken,
			ExchangeToken:   r.ExchangeToken,
			TradingSymbol:   r.TradingSymbol,
			Name:            r.Name,
			LastPrice:       r.LastPrice,
			Strike:          r.Strike,
			TickSize:        r.TickSize,
			LotSize:         r.LotSize,
			InstrumentType:  r.InstrumentType,
			Segment:         r.Segment,
			Exchange:        r.Exchange,
		}
		if r.Expiry != "" {
			expiry, err := time.Parse("2006-01-02", r.Expiry)
			if err != nil {
				return nil, fmt.Errorf("instrument %s has invalid expiry %q: %w", r.TradingSymbol, r.Expiry, err)
			}
			inst.Expiry = expiry
		}
		instruments = append(instruments, inst)
	}

	return instruments, nil
}

// Quote fetches full quotes keyed by EXCHANGE:TRADINGSYMBOL, batching past the API limit.
func (c *Client) Quote(ctx context.Context, keys ...string) (map[string]QuoteDTO, error) {
	out := make(map[string]QuoteDTO, len(keys))

	for start := 0; start < len(keys); start += maxQuoteInstruments {
		end := min(start+maxQuoteInstruments, len(keys))

		query := url.Values{}
		for _, k := range keys[start:end] {
			query.Add("i", k)
		}

		batch := make(map[string]QuoteDTO)
		if err := c.getJSON(ctx, classQuote, "/quote", query, &batch); err != nil {
			return nil, err
		}
		for k, v := range batch {
			out[k] = v
		}
	}

	return out, nil
}

func (c *Client) LTP(ctx context.Context, keys ...string) (map[string]LTPDTO, error) {
	query := url.Values{}
	for _, k := range keys {
		query.Add("i", k)
	}

	out := make(map[string]LTPDTO)
	if err := c.getJSON(ctx, classQuote, "/quote/ltp", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HistoricalData fetches candles for an instrument token between from and to.
func (c *Client) HistoricalData(ctx context.Context, token int64, interval string, from, to time.Time) ([]models.Candle, error) {
	query := url.Values{}
	query.Set("from", from.Format(historicalLayout))
	query.Set("to", to.Format(historicalLayout))
	query.Set("continuous", "0")

	path := fmt.Sprintf("/instruments/historical/%d/%s", token, url.PathEscape(interval))

	var dto historicalDTO
	if err := c.getJSON(ctx, classHistorical, path, query, &dto); err != nil {
		return nil, err
	}

	candles := make([]models.Candle, 0, len(dto.Candles))
	for i, raw := range dto.Candles {
		candle, err := parseCandle(raw)
		if err != nil {
			return nil, fmt.Errorf("candle %d: %w", i, err)
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

func parseCandle(raw []interface{}) (models.Candle, error) {
	if len(raw) < 6 {
		return models.Candle{}, fmt.Errorf("expected 6 fields, got %d", len(raw))
	}

	tsStr, ok := raw[0].(string)
	if !ok {
		return models.Candle{}, fmt.Errorf("failed to parse raw[0]=%v", raw[0])
	}
	ts, err := time.Parse(candleLayout, tsStr)
	if err != nil {
		if ts, err = time.Parse(time.RFC3339, tsStr); err != nil {
			return models.Candle{}, fmt.Errorf("invalid candle timestamp %q: %w", tsStr, err)
		}
	}

	values := make([]float64, 5)
	for i := range values {
		v, ok := raw[i+1].(float64)
		if !ok {
			return models.Candle{}, fmt.Errorf("failed to parse raw[%d]=%v", i+1, raw[i+1])
		}
		values[i] = v
	}

	return models.Candle{
		Timestamp: ts,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    int64(values[4]),
	}, nil
}
