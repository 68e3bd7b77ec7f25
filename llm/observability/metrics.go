package observability

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// RequestRecord is one observed generation request.
type RequestRecord struct {
	Timestamp    time.Time     `json:"timestamp"`
	Model        string        `json:"model"`
	RequestType  string        `json:"request_type"`
	Cached       bool          `json:"cached"`
	Deduped      bool          `json:"deduped"`
	ResponseTime time.Duration `json:"response_time"`
	TokenCount   int           `json:"token_count,omitempty"`
	Error        string        `json:"error,omitempty"`
	Retried      bool          `json:"retried,omitempty"`
}

// Report is the derived view over the recorded window.
type Report struct {
	TotalRequests   int           `json:"total_requests"`
	CacheHitRate    float64       `json:"cache_hit_rate"`
	DedupRate       float64       `json:"dedup_rate"`
	ErrorRate       float64       `json:"error_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	// EfficiencyScore is a composite 0-100 figure: cache hits and dedup
	// raise it, errors lower it.
	EfficiencyScore float64 `json:"efficiency_score"`
}

// DefaultMaxRecords bounds the in-memory request log.
const DefaultMaxRecords = 1000

// PerformanceMetrics is a monotonically-appended, capacity-bounded log of
// request records. Once full, the oldest record is dropped per append.
type PerformanceMetrics struct {
	mu         sync.Mutex
	records    []RequestRecord
	maxRecords int
	now        func() time.Time
	logger     *zap.Logger
}

// NewPerformanceMetrics creates an empty log. maxRecords <= 0 selects the
// default bound; a nil logger is replaced with a nop logger.
func NewPerformanceMetrics(maxRecords int, logger *zap.Logger) *PerformanceMetrics {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PerformanceMetrics{
		maxRecords: maxRecords,
		now:        time.Now,
		logger:     logger.With(zap.String("component", "performance_metrics")),
	}
}

// Record appends one request record, stamping it when the timestamp is
// zero and dropping the oldest record if the log is full.
func (m *PerformanceMetrics) Record(rec RequestRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now()
	}
	if len(m.records) >= m.maxRecords {
		m.records = m.records[1:]
	}
	m.records = append(m.records, rec)
}

// Count returns the number of retained records.
func (m *PerformanceMetrics) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Records returns a copy of the retained records, oldest first.
func (m *PerformanceMetrics) Records() []RequestRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RequestRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Reset discards all records.
func (m *PerformanceMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
}

// Report derives rates and the composite efficiency score from the
// retained records.
func (m *PerformanceMetrics) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := len(m.records)
	if total == 0 {
		return Report{}
	}

	var hits, deduped, errored int
	var totalLatency time.Duration
	for _, rec := range m.records {
		if rec.Cached {
			hits++
		}
		if rec.Deduped {
			deduped++
		}
		if rec.Error != "" {
			errored++
		}
		totalLatency += rec.ResponseTime
	}

	r := Report{
		TotalRequests:   total,
		CacheHitRate:    float64(hits) / float64(total),
		DedupRate:       float64(deduped) / float64(total),
		ErrorRate:       float64(errored) / float64(total),
		AvgResponseTime: totalLatency / time.Duration(total),
	}

	// Saved work (hits + dedup) pushes the score up from a 50-point
	// baseline, errors pull it down twice as hard.
	score := 50 + 50*(r.CacheHitRate+r.DedupRate) - 100*r.ErrorRate
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	r.EfficiencyScore = score
	return r
}
