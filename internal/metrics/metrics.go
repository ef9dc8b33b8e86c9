// Package metrics holds the Prometheus collectors exported by genevault.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	VaultOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genevault",
		Name:      "vault_operations_total",
		Help:      "Vault operations by operation and outcome.",
	}, []string{"op", "outcome"})
	VaultBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genevault",
		Name:      "vault_ciphertext_bytes_total",
		Help:      "Ciphertext bytes written or read by the vault.",
	}, []string{"direction"})
	IntegrityFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genevault",
		Name:      "integrity_failures_total",
		Help:      "Authentication or tamper failures detected on fetch.",
	}, []string{"kind"})
	DegradedMode = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "genevault",
		Name:      "degraded_mode",
		Help:      "1 when no master key is configured and per-file keys are stored in the clear.",
	})
	ActiveStagings = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "genevault",
		Name:      "staging_active",
		Help:      "Staging directories currently holding plaintext.",
	})
	StagingCleanupFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "genevault",
		Name:      "staging_cleanup_failures_total",
		Help:      "Staging directories that could not be removed.",
	})
	StagingSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "genevault",
		Name:      "staging_swept_total",
		Help:      "Orphaned staging directories removed by the recovery sweep.",
	})
	AnalysisSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "genevault",
		Name:      "analysis_seconds",
		Help:      "Duration of external analysis runs.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
	LedgerFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "genevault",
		Name:      "ledger_failures_total",
		Help:      "Deletion ledger writes that failed.",
	})
	LedgerPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "genevault",
		Name:      "ledger_pruned_total",
		Help:      "Deletion ledger entries pruned after the retention window.",
	})
)

func init() {
	prometheus.MustRegister(
		VaultOps, VaultBytes, IntegrityFailures, DegradedMode,
		ActiveStagings, StagingCleanupFailures, StagingSwept,
		AnalysisSeconds, LedgerFailures, LedgerPruned,
	)
}

// Outcome labels an operation result for VaultOps.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
