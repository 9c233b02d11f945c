package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// OrdersSubmittedTotal counts order submission outcomes.
	OrdersSubmittedTotal *prometheus.CounterVec
	// OrdersProcessedTotal counts order processing outcomes.
	OrdersProcessedTotal *prometheus.CounterVec
	// PricingValidationFailures counts entries rejected during validation.
	PricingValidationFailures prometheus.Counter
	// OrderProcessConflicts counts processing attempts that lost the
	// pending-status race.
	OrderProcessConflicts prometheus.Counter
	// OrderEntriesTotal counts entry outcomes after processing.
	OrderEntriesTotal *prometheus.CounterVec
	// OrderProcessDuration records the end-to-end processing latency.
	OrderProcessDuration prometheus.Histogram
)

// MustRegisterDomainMetrics initialises and registers domain Prometheus
// collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		OrdersSubmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Count of order submission outcomes.",
		}, []string{"result"})
		OrdersProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_processed_total",
			Help:      "Count of order processing outcomes.",
		}, []string{"result"})
		PricingValidationFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_validation_failures_total",
			Help:      "Number of entries that could not be priced at submission.",
		})
		OrderProcessConflicts = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_process_conflicts_total",
			Help:      "Number of processing attempts rejected because the order was already processed.",
		})
		OrderEntriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_entries_total",
			Help:      "Count of entry outcomes after order processing.",
		}, []string{"status"})
		OrderProcessDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_process_duration_ms",
			Help:      "Latency of the pending to processed transition in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		})

		registerDomainCollector(reg, OrdersSubmittedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				OrdersSubmittedTotal = v
			}
		})
		registerDomainCollector(reg, OrdersProcessedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				OrdersProcessedTotal = v
			}
		})
		registerDomainCollector(reg, PricingValidationFailures, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				PricingValidationFailures = v
			}
		})
		registerDomainCollector(reg, OrderProcessConflicts, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				OrderProcessConflicts = v
			}
		})
		registerDomainCollector(reg, OrderEntriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				OrderEntriesTotal = v
			}
		})
		registerDomainCollector(reg, OrderProcessDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				OrderProcessDuration = v
			}
		})
	})
}

func registerDomainCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
