package metrics

import "sync/atomic"

// Metrics captures shared operational stats for ingest and detection.
type Metrics struct {
	fragmentsIngested int64
	evaluations       int64
	accepted          int64
	merged            int64
	rejected          int64
	cacheHits         int64
	storeErrors       int64
}

// Snapshot provides a consistent view of the current metrics.
type Snapshot struct {
	FragmentsIngested int64 `json:"fragments_ingested"`
	Evaluations       int64 `json:"evaluations"`
	Accepted          int64 `json:"accepted"`
	Merged            int64 `json:"merged"`
	Rejected          int64 `json:"rejected"`
	CacheHits         int64 `json:"cache_hits"`
	StoreErrors       int64 `json:"store_errors"`
}

// New creates a zeroed Metrics instance.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncFragments()   { atomic.AddInt64(&m.fragmentsIngested, 1) }
func (m *Metrics) IncEvaluations() { atomic.AddInt64(&m.evaluations, 1) }
func (m *Metrics) IncAccepted()    { atomic.AddInt64(&m.accepted, 1) }
func (m *Metrics) IncMerged()      { atomic.AddInt64(&m.merged, 1) }
func (m *Metrics) IncRejected()    { atomic.AddInt64(&m.rejected, 1) }
func (m *Metrics) IncCacheHits()   { atomic.AddInt64(&m.cacheHits, 1) }
func (m *Metrics) IncStoreErrors() { atomic.AddInt64(&m.storeErrors, 1) }

// Snapshot returns a read-only view of metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		FragmentsIngested: atomic.LoadInt64(&m.fragmentsIngested),
		Evaluations:       atomic.LoadInt64(&m.evaluations),
		Accepted:          atomic.LoadInt64(&m.accepted),
		Merged:            atomic.LoadInt64(&m.merged),
		Rejected:          atomic.LoadInt64(&m.rejected),
		CacheHits:         atomic.LoadInt64(&m.cacheHits),
		StoreErrors:       atomic.LoadInt64(&m.storeErrors),
	}
}
