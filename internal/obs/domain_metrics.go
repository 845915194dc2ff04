package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// TransactionsTotal counts transaction mutations by operation and result.
	TransactionsTotal *prometheus.CounterVec
	// DraftEditsTotal counts draft edit commands by op and result.
	DraftEditsTotal *prometheus.CounterVec
	// OCRScansTotal counts receipt scans by outcome.
	OCRScansTotal *prometheus.CounterVec
	// StatsCacheTotal counts stats cache lookups by outcome (hit, miss, error).
	StatsCacheTotal *prometheus.CounterVec
	// TasksProcessedTotal counts background tasks handled by the worker.
	TasksProcessedTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		TransactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transaction mutations by operation and result.",
		}, []string{"op", "result"})
		DraftEditsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draft_edits_total",
			Help:      "Draft edit commands applied by op and result.",
		}, []string{"op", "result"})
		OCRScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_scans_total",
			Help:      "Receipt scans by outcome.",
		}, []string{"result"})
		StatsCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_cache_total",
			Help:      "Stats cache lookups by outcome.",
		}, []string{"result"})
		TasksProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_processed_total",
			Help:      "Background tasks processed by type and result.",
		}, []string{"type", "result"})

		for _, c := range []**prometheus.CounterVec{&TransactionsTotal, &DraftEditsTotal, &OCRScansTotal, &StatsCacheTotal, &TasksProcessedTotal} {
			target := c
			mustRegisterCollector(reg, *target, func(existing prometheus.Collector) {
				if v, ok := existing.(*prometheus.CounterVec); ok {
					*target = v
				}
			})
		}
	})
}

// Inc bumps a counter vec when domain metrics are registered. Packages call it
// unconditionally so tests can run without a registry.
func Inc(c *prometheus.CounterVec, labels ...string) {
	if c == nil {
		return
	}
	c.WithLabelValues(labels...).Inc()
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
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
