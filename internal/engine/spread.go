// Package engine holds the arbitrage decision logic and the open/monitor/
// close lifecycle for hedged positions.
package engine

// Action classifies one evaluation of the basis spread.
type Action string

const (
	// ActionHold: spread inside the threshold band, do nothing.
	ActionHold Action = "HOLD"
	// ActionShortBasis: futures rich. Long the cash leg, short futures.
	ActionShortBasis Action = "SHORT_BASIS"
	// ActionLongBasis: futures cheap. Short the cash leg via borrow, long futures.
	ActionLongBasis Action = "LONG_BASIS"
)

// SpreadPercent is the basis spread of futures over spot, in percent.
func SpreadPercent(spot, futures float64) float64 {
	return (futures - spot) / spot * 100
}

// Classify maps a spread percentage to an action for threshold t.
func Classify(spreadPercent, threshold float64) Action {
	switch {
	case spreadPercent > threshold:
		return ActionShortBasis
	case spreadPercent < -threshold:
		return ActionLongBasis
	default:
		return ActionHold
	}
}
