package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// BasketRefreshTotal counts basket promotion refresh outcomes.
	BasketRefreshTotal *prometheus.CounterVec
	// VoucherSubmitTotal counts voucher submission outcomes.
	VoucherSubmitTotal *prometheus.CounterVec
	// SurchargeCleanupTotal counts empty-basket surcharge removals.
	SurchargeCleanupTotal prometheus.Counter
	// OrderFinalizeTotal counts order-creation finalizer outcomes.
	OrderFinalizeTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		BasketRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "basket_refresh_total",
			Help:      "Count of basket promotion refresh passes by outcome.",
		}, []string{"result"})
		VoucherSubmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voucher_submit_total",
			Help:      "Count of voucher code submissions by outcome.",
		}, []string{"result"})
		SurchargeCleanupTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "surcharge_cleanup_total",
			Help:      "Count of surcharge line removals triggered by empty baskets.",
		})
		OrderFinalizeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_finalize_total",
			Help:      "Count of order-creation voucher finalizations by outcome.",
		}, []string{"result"})
		reg.MustRegister(BasketRefreshTotal, VoucherSubmitTotal, SurchargeCleanupTotal, OrderFinalizeTotal)
	})
}

// CountBasketRefresh records a refresh outcome when metrics are registered.
func CountBasketRefresh(result string) {
	if BasketRefreshTotal != nil {
		BasketRefreshTotal.WithLabelValues(result).Inc()
	}
}

// CountVoucherSubmit records a voucher submission outcome when metrics are registered.
func CountVoucherSubmit(result string) {
	if VoucherSubmitTotal != nil {
		VoucherSubmitTotal.WithLabelValues(result).Inc()
	}
}

// CountSurchargeCleanup records a surcharge cleanup when metrics are registered.
func CountSurchargeCleanup() {
	if SurchargeCleanupTotal != nil {
		SurchargeCleanupTotal.Inc()
	}
}

// CountOrderFinalize records a finalizer outcome when metrics are registered.
func CountOrderFinalize(result string) {
	if OrderFinalizeTotal != nil {
		OrderFinalizeTotal.WithLabelValues(result).Inc()
	}
}
