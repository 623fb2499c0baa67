package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	AuditEntriesTotal      *prometheus.CounterVec
	AuditWriteFailures     prometheus.Counter
	RollbacksTotal         *prometheus.CounterVec
	RetentionDeletedTotal  prometheus.Counter
	StreamPublishFailures  prometheus.Counter
	StatisticsCacheHits    prometheus.Counter
	StatisticsCacheMisses  prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		AuditEntriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transtrack_audit_entries_total",
			Help: "Total number of audit entries appended to the ledger",
		}, []string{"operation", "table"}),
		AuditWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transtrack_audit_write_failures_total",
			Help: "Total number of failed ledger appends",
		}),
		RollbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transtrack_audit_rollbacks_total",
			Help: "Total number of rollback requests by outcome",
		}, []string{"outcome"}),
		RetentionDeletedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transtrack_audit_retention_deleted_total",
			Help: "Total number of audit entries removed by the retention job",
		}),
		StreamPublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transtrack_audit_stream_publish_failures_total",
			Help: "Total number of audit entries that could not be published downstream",
		}),
		StatisticsCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transtrack_audit_statistics_cache_hits_total",
			Help: "Statistics and compliance report cache hits",
		}),
		StatisticsCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transtrack_audit_statistics_cache_misses_total",
			Help: "Statistics and compliance report cache misses",
		}),
	}
}

func (m *Metrics) ObserveEntry(operation, table string) {
	if m == nil {
		return
	}
	m.AuditEntriesTotal.WithLabelValues(operation, table).Inc()
}

func (m *Metrics) ObserveWriteFailure() {
	if m == nil {
		return
	}
	m.AuditWriteFailures.Inc()
}

func (m *Metrics) ObserveRollback(outcome string) {
	if m == nil {
		return
	}
	m.RollbacksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRetentionDeleted(count int64) {
	if m == nil {
		return
	}
	m.RetentionDeletedTotal.Add(float64(count))
}

func (m *Metrics) ObserveStreamPublishFailure() {
	if m == nil {
		return
	}
	m.StreamPublishFailures.Inc()
}

func (m *Metrics) ObserveCacheHit() {
	if m == nil {
		return
	}
	m.StatisticsCacheHits.Inc()
}

func (m *Metrics) ObserveCacheMiss() {
	if m == nil {
		return
	}
	m.StatisticsCacheMisses.Inc()
}
