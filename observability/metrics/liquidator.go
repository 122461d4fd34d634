package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LiquidatorMetrics struct {
	accountsAbsorbed prometheus.Counter
	absorbFailures   prometheus.Counter
	nftsDisposed     prometheus.Counter
	proceedsRemitted *prometheus.CounterVec
}

var (
	liquidatorOnce     sync.Once
	liquidatorRegistry *LiquidatorMetrics
)

func Liquidator() *LiquidatorMetrics {
	liquidatorOnce.Do(func() {
		liquidatorRegistry = &LiquidatorMetrics{
			accountsAbsorbed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "liquidator_accounts_absorbed_total",
				Help: "Count of accounts successfully absorbed.",
			}),
			absorbFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "liquidator_absorb_failures_total",
				Help: "Count of absorption attempts skipped after failing.",
			}),
			nftsDisposed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "liquidator_nfts_disposed_total",
				Help: "Count of queued NFT positions unwound and sold.",
			}),
			proceedsRemitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "liquidator_proceeds_remitted_total",
				Help: "Base-asset proceeds remitted per destination market.",
			}, []string{"market"}),
		}
		prometheus.MustRegister(
			liquidatorRegistry.accountsAbsorbed,
			liquidatorRegistry.absorbFailures,
			liquidatorRegistry.nftsDisposed,
			liquidatorRegistry.proceedsRemitted,
		)
	})
	return liquidatorRegistry
}

func (m *LiquidatorMetrics) ObserveAbsorb(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.accountsAbsorbed.Inc()
	} else {
		m.absorbFailures.Inc()
	}
}

func (m *LiquidatorMetrics) ObserveDisposal() {
	if m == nil {
		return
	}
	m.nftsDisposed.Inc()
}

func (m *LiquidatorMetrics) ObserveRemittance(market string, amount float64) {
	if m == nil {
		return
	}
	if market == "" {
		market = "unknown"
	}
	m.proceedsRemitted.WithLabelValues(market).Add(amount)
}
