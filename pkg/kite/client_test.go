package kite

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const instrumentsCSV = `instrument_token,exchange_token,tradingsymbol,name,last_price,expiry,strike,tick_size,lot_size,instrument_type,segment,exchange
12345,48,NIFTY25JUN24000CE,NIFTY,0,2025-06-05,24000,0.05,75,CE,NFO-OPT,NFO
12346,49,NIFTY25JUN24000PE,NIFTY,0,2025-06-05,24000,0.05,75,PE,NFO-OPT,NFO
256265,0,NIFTY 50,NIFTY 50,0,,0,0,0,EQ,INDICES,NSE
`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	c := NewClient("key", "token", srv.URL, logger)
	c.SetRateLimit(rate.Inf)
	return c
}

func TestClientHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.Header.Get("X-Kite-Version"))
		assert.Equal(t, "token key:token", r.Header.Get("Authorization"))
		assert.Equal(t, "/user/profile", r.URL.Path)
		fmt.Fprint(w, `{"status":"success","data":{"user_id":"AB1234","user_name":"Test User"}}`)
	})

	profile, err := c.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Test User", profile.UserName)
}

func TestClientAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"status":"error","message":"Incorrect api_key or access_token.","error_type":"TokenException"}`)
	})

	_, err := c.Profile(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "TokenException", apiErr.ErrorType)
}

func TestInstruments(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instruments/NFO", r.URL.Path)
		fmt.Fprint(w, instrumentsCSV)
	})

	instruments, err := c.Instruments(context.Background(), "NFO")
	require.NoError(t, err)
	require.Len(t, instruments, 3)

	assert.Equal(t, "NIFTY25JUN24000CE", instruments[0].TradingSymbol)
	assert.Equal(t, int64(12345), instruments[0].InstrumentToken)
	assert.Equal(t, 24000.0, instruments[0].Strike)
	assert.Equal(t, time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC), instruments[0].Expiry)
	assert.Equal(t, "NFO:NIFTY25JUN24000CE", instruments[0].Key())
	assert.True(t, instruments[2].Expiry.IsZero())
}

func TestQuoteBatches(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		keys := r.URL.Query()["i"]
		assert.LessOrEqual(t, len(keys), maxQuoteInstruments)

		fmt.Fprint(w, `{"status":"success","data":{`)
		for i, k := range keys {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `%q:{"instrument_token":%d,"last_price":1.5,"greeks":{"delta":0.3,"vega":2,"theta":-1}}`, k, i)
		}
		fmt.Fprint(w, `}}`)
	})

	keys := make([]string, 0, 750)
	for i := 0; i < 750; i++ {
		keys = append(keys, fmt.Sprintf("NFO:SYM%d", i))
	}

	quotes, err := c.Quote(context.Background(), keys...)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, quotes, 750)
	require.NotNil(t, quotes["NFO:SYM700"].Greeks)
	assert.Equal(t, 0.3, quotes["NFO:SYM700"].Greeks.Delta)
}

func TestLTP(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote/ltp", r.URL.Path)
		assert.Equal(t, []string{"NSE:NIFTY 50"}, r.URL.Query()["i"])
		fmt.Fprint(w, `{"status":"success","data":{"NSE:NIFTY 50":{"instrument_token":256265,"last_price":24010.5}}}`)
	})

	ltp, err := c.LTP(context.Background(), "NSE:NIFTY 50")
	require.NoError(t, err)
	assert.Equal(t, 24010.5, ltp["NSE:NIFTY 50"].LastPrice)
}

func TestHistoricalData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instruments/historical/256265/5minute", r.URL.Path)
		assert.Equal(t, "2025-06-02 09:15:00", r.URL.Query().Get("from"))
		assert.Equal(t, "0", r.URL.Query().Get("continuous"))
		fmt.Fprint(w, `{"status":"success","data":{"candles":[
			["2025-06-02T09:15:00+0530",24000,24050,23990,24020,0],
			["2025-06-02T09:20:00+0530",24020,24030,24000,24005,0]
		]}}`)
	})

	ist := time.FixedZone("IST", 5*3600+1800)
	from := time.Date(2025, 6, 2, 9, 15, 0, 0, ist)
	candles, err := c.HistoricalData(context.Background(), 256265, "5minute", from, from.Add(6*time.Hour))
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.True(t, from.Equal(candles[0].Timestamp))
	assert.Equal(t, 24020.0, candles[0].Close)
	assert.Equal(t, 24005.0, candles[1].Close)
}

func TestParseCandleRejectsShortRows(t *testing.T) {
	_, err := parseCandle([]interface{}{"2025-06-02T09:15:00+0530", 1.0})
	assert.Error(t, err)
}
