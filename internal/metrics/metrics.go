// Package metrics holds process-lifetime counters rendered as plain text at GET /metrics.
package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/PratikDhanave/factory-events-service/internal/models"
)

// Metrics is safe for concurrent use. A nil *Metrics ignores every call.
type Metrics struct {
	BatchesTotal        atomic.Int64
	EventsAcceptedTotal atomic.Int64
	EventsDedupedTotal  atomic.Int64
	EventsUpdatedTotal  atomic.Int64
	EventsRejectedTotal atomic.Int64

	// InsertConflictsTotal counts rows that lost an insert race to another batch.
	InsertConflictsTotal atomic.Int64
	StoreErrorsTotal     atomic.Int64

	StatsQueriesTotal   atomic.Int64
	StatsCacheHitsTotal atomic.Int64
}

// New returns zeroed counters.
func New() *Metrics {
	return &Metrics{}
}

// ObserveBatch adds one batch tally.
func (m *Metrics) ObserveBatch(r models.BatchResult) {
	if m == nil {
		return
	}
	m.BatchesTotal.Add(1)
	m.EventsAcceptedTotal.Add(int64(r.Accepted))
	m.EventsDedupedTotal.Add(int64(r.Deduped))
	m.EventsUpdatedTotal.Add(int64(r.Updated))
	m.EventsRejectedTotal.Add(int64(r.Rejected))
}

// ObserveConflicts records n rows reclassified after an insert race.
func (m *Metrics) ObserveConflicts(n int) {
	if m == nil || n == 0 {
		return
	}
	m.InsertConflictsTotal.Add(int64(n))
}

// ObserveStoreError records one batch or query aborted by the store.
func (m *Metrics) ObserveStoreError() {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.Add(1)
}

// ObserveStatsQuery records one stats read and whether the cache served it.
func (m *Metrics) ObserveStatsQuery(cacheHit bool) {
	if m == nil {
		return
	}
	m.StatsQueriesTotal.Add(1)
	if cacheHit {
		m.StatsCacheHitsTotal.Add(1)
	}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(384)

	fmt.Fprintf(&sb, "ingest_batches_total=%d\n", m.BatchesTotal.Load())
	fmt.Fprintf(&sb, "ingest_events_accepted_total=%d\n", m.EventsAcceptedTotal.Load())
	fmt.Fprintf(&sb, "ingest_events_deduped_total=%d\n", m.EventsDedupedTotal.Load())
	fmt.Fprintf(&sb, "ingest_events_updated_total=%d\n", m.EventsUpdatedTotal.Load())
	fmt.Fprintf(&sb, "ingest_events_rejected_total=%d\n", m.EventsRejectedTotal.Load())
	fmt.Fprintf(&sb, "ingest_insert_conflicts_total=%d\n", m.InsertConflictsTotal.Load())
	fmt.Fprintf(&sb, "store_errors_total=%d\n", m.StoreErrorsTotal.Load())
	fmt.Fprintf(&sb, "stats_queries_total=%d\n", m.StatsQueriesTotal.Load())
	fmt.Fprintf(&sb, "stats_cache_hits_total=%d\n", m.StatsCacheHitsTotal.Load())

	return sb.String()
}
