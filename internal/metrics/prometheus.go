package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "basis_arb_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry        *prometheus.Registry
	cyclesCompleted prometheus.Counter
	evalsSkipped    prometheus.Counter
	tradesOpened    prometheus.Counter
	tradesClosed    prometheus.Counter
	ordersPlaced    prometheus.Counter
	ordersFailed    prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	cyclesCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cycles_completed_total",
		Help:      "Total number of completed evaluation cycles.",
	})
	evalsSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "evaluations_skipped_total",
		Help:      "Total number of symbol evaluations skipped on missing quotes.",
	})
	tradesOpened := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "trades_opened_total",
		Help:      "Total number of hedged positions opened.",
	})
	tradesClosed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "trades_closed_total",
		Help:      "Total number of hedged positions closed.",
	})
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of orders placed.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of order placement failures.",
	})

	registry.MustRegister(cyclesCompleted, evalsSkipped, tradesOpened, tradesClosed, ordersPlaced, ordersFailed)

	m := &Metrics{
		CyclesCompleted:    promCounter{cyclesCompleted},
		EvaluationsSkipped: promCounter{evalsSkipped},
		TradesOpened:       promCounter{tradesOpened},
		TradesClosed:       promCounter{tradesClosed},
		OrdersPlaced:       promCounter{ordersPlaced},
		OrdersFailed:       promCounter{ordersFailed},
	}

	return &Prometheus{
		Metrics:         m,
		registry:        registry,
		cyclesCompleted: cyclesCompleted,
		evalsSkipped:    evalsSkipped,
		tradesOpened:    tradesOpened,
		tradesClosed:    tradesClosed,
		ordersPlaced:    ordersPlaced,
		ordersFailed:    ordersFailed,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
