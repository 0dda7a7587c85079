package models

import "time"

// Aggregate is one row of the sentiment log.
type Aggregate struct {
	Timestamp time.Time `json:"timestamp"`

	CallDelta float64 `json:"call_delta_sum"`
	CallVega  float64 `json:"call_vega_sum"`
	CallTheta float64 `json:"call_theta_sum"`

	PutDelta float64 `json:"put_delta_sum"`
	PutVega  float64 `json:"put_vega_sum"`
	PutTheta float64 `json:"put_theta_sum"`

	NetDelta float64 `json:"net_delta_sum"`
	NetVega  float64 `json:"net_vega_sum"`
	NetTheta float64 `json:"net_theta_sum"`

	Contracts int `json:"contracts"`

	// Skipped counts in-band quotes dropped for non-finite Greeks. Not persisted.
	Skipped int `json:"-"`
}

// Change is the difference of an Aggregate against the session open.
type Change struct {
	Timestamp time.Time `json:"timestamp"`

	CallDelta float64 `json:"call_delta_change"`
	PutDelta  float64 `json:"put_delta_change"`
	CallVega  float64 `json:"call_vega_change"`
	PutVega   float64 `json:"put_vega_change"`
	CallTheta float64 `json:"call_theta_change"`
	PutTheta  float64 `json:"put_theta_change"`
}
