package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type MarketMetrics struct {
	accrualRuns     prometheus.Counter
	accrualFailures prometheus.Counter
	reserves        prometheus.Gauge
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			accrualRuns: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_accrual_runs_total",
				Help: "Count of completed interest accrual passes.",
			}),
			accrualFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_accrual_failures_total",
				Help: "Count of interest accrual passes that returned an error.",
			}),
			reserves: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "market_reserves_base_units",
				Help: "Protocol reserves in base token units after the latest accrual.",
			}),
		}
		prometheus.MustRegister(
			marketRegistry.accrualRuns,
			marketRegistry.accrualFailures,
			marketRegistry.reserves,
		)
	})
	return marketRegistry
}

func (m *MarketMetrics) ObserveAccrual(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.accrualFailures.Inc()
		return
	}
	m.accrualRuns.Inc()
}

func (m *MarketMetrics) SetReserves(value float64) {
	if m == nil {
		return
	}
	m.reserves.Set(value)
}
