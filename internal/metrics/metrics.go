package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	CyclesCompleted    Counter
	EvaluationsSkipped Counter
	TradesOpened       Counter
	TradesClosed       Counter
	OrdersPlaced       Counter
	OrdersFailed       Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		CyclesCompleted:    n,
		EvaluationsSkipped: n,
		TradesOpened:       n,
		TradesClosed:       n,
		OrdersPlaced:       n,
		OrdersFailed:       n,
	}
}
