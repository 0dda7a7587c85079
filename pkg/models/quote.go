package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type OptionType string

const (
	OptionTypeCall OptionType = "call"
	OptionTypePut  OptionType = "put"
)

// ParseOptionType accepts both the long form and the exchange codes CE/PE.
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALL", "CE":
		return OptionTypeCall, nil
	case "PUT", "PE":
		return OptionTypePut, nil
	}
	return "", fmt.Errorf("unknown option type %q", s)
}

type Greeks struct {
	Delta float64 `json:"delta"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
}

// Finite reports whether every Greek is a real number.
func (g Greeks) Finite() bool {
	for _, v := range [...]float64{g.Delta, g.Vega, g.Theta} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Quote is a single option contract observation.
type Quote struct {
	TradingSymbol string     `json:"tradingsymbol"`
	Strike        float64    `json:"strike"`
	Type          OptionType `json:"type"`
	Expiry        time.Time  `json:"expiry"`
	Greeks
	Timestamp time.Time `json:"timestamp"`
}

type Instrument struct {
	InstrumentToken int64
	ExchangeToken   int64
	TradingSymbol   string
	Name            string
	LastPrice       float64
	Expiry          time.Time
	Strike          float64
	TickSize        float64
	LotSize         int
	InstrumentType  string
	Segment         string
	Exchange        string
}

// Key returns the EXCHANGE:TRADINGSYMBOL form used by the quote endpoints.
func (i Instrument) Key() string {
	return i.Exchange + ":" + i.TradingSymbol
}
