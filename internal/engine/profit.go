package engine

// Cash-leg directions recorded on a trade row.
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// LegProfit is the fee-aware realized profit of one leg. For a LONG leg the
// entry is a purchase and the exit a sale; for a SHORT leg the entry is a
// sale and the exit a buy-back. Fees always make the purchase dearer and the
// sale leaner, whichever end of the trade they sit on.
func LegProfit(side string, entryPrice, exitPrice, quantity, entryFee, exitFee float64) float64 {
	var profit float64
	switch side {
	case SideShort:
		revenue := entryPrice * quantity * (1 - entryFee)
		cost := exitPrice * quantity * (1 + exitFee)
		profit = revenue - cost
	default: // LONG
		cost := entryPrice * quantity * (1 + entryFee)
		revenue := exitPrice * quantity * (1 - exitFee)
		profit = revenue - cost
	}
	return roundTo(profit, quantityDecimals)
}
