// Package greeks prices option sensitivities with the Black-Scholes model.
package greeks

import (
	"math"

	"github.com/gregtusar/greeks-sentiment/pkg/models"
)

const DefaultRiskFreeRate = 0.06

type Calculator struct {
	RiskFreeRate float64
}

func NewCalculator(r float64) *Calculator {
	return &Calculator{RiskFreeRate: r}
}

// Compute returns Delta, Vega per vol point and Theta per calendar day.
// Years is the time to expiry in years. Inputs the model cannot price return zero Greeks.
func (c *Calculator) Compute(optionType models.OptionType, spot, strike, vol, years float64) models.Greeks {
	if spot <= 0 || strike <= 0 || vol <= 0 || years <= 0 {
		return models.Greeks{}
	}
	if optionType != models.OptionTypeCall && optionType != models.OptionTypePut {
		return models.Greeks{}
	}

	sqrtT := math.Sqrt(years)
	d1 := (math.Log(spot/strike) + (c.RiskFreeRate+0.5*vol*vol)*years) / (vol * sqrtT)
	d2 := d1 - vol*sqrtT
	pdf := normPDF(d1)
	discount := c.RiskFreeRate * strike * math.Exp(-c.RiskFreeRate*years)

	g := models.Greeks{
		Vega:  spot * pdf * sqrtT / 100,
		Theta: -spot * pdf * vol / (2 * sqrtT) / 365,
	}

	if optionType == models.OptionTypeCall {
		g.Delta = normCDF(d1)
		g.Theta -= discount * normCDF(d2) / 365
	} else {
		g.Delta = -normCDF(-d1)
		g.Theta -= discount * normCDF(-d2) / 365
	}

	if !g.Finite() {
		return models.Greeks{}
	}
	return g
}

func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
