package engine

import "math"

const quantityDecimals = 8

// PositionSize converts available balance and risk policy into an
// exchange-legal order quantity. The risk amount is halved to reserve
// symmetric capital for both legs of the hedge. Zero is the expected
// "do not trade" result, distinct from a fetch failure.
func PositionSize(price, availableBalance, riskFraction, minNotional, lotStep float64) float64 {
	if price <= 0 {
		return 0
	}
	riskAmount := availableBalance * riskFraction / 2
	if riskAmount < minNotional {
		return 0
	}
	quantity := riskAmount / price
	if lotStep > 0 {
		quantity = math.Floor(quantity/lotStep) * lotStep
	}
	quantity = roundTo(quantity, quantityDecimals)
	// Flooring to the lot step can push the notional under the minimum.
	if quantity*price < minNotional {
		return 0
	}
	return quantity
}

func roundTo(value float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(value)
	}
	factor := math.Pow10(decimals)
	return math.Round(value*factor) / factor
}
