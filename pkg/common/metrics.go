package common

import (
	"sync"

	"github.com/dustin/go-humanize"
	log "github.com/rs/zerolog/log"
)

// Metrics tracks byte-source traffic and decoder work for an extraction session
type Metrics struct {
	mu sync.RWMutex

	// Range read metrics
	RangeReadBytesTotal   map[string]int64 // source -> bytes fetched
	RangeReadRequestTotal map[string]int64 // source -> request count

	// Decoder metrics
	DecodedBytesTotal   int64
	DiscardedBytesTotal int64 // dropped while positioning on an entry
	SkippedBytesTotal   int64 // dropped by partial streaming within an entry

	// Block cache metrics
	CacheHitsTotal   int64
	CacheMissesTotal int64

	// Extraction metrics
	EntriesExtracted int64
	EntriesSkipped   int64
	ChecksumFailures int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		RangeReadBytesTotal:   make(map[string]int64),
		RangeReadRequestTotal: make(map[string]int64),
	}
}

// RecordRangeRead records one ranged read against a byte source
func (m *Metrics) RecordRangeRead(source string, bytesRead int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RangeReadBytesTotal[source] += bytesRead
	m.RangeReadRequestTotal[source]++

	log.Debug().
		Str("source", source).
		Int64("bytes", bytesRead).
		Int64("total_bytes", m.RangeReadBytesTotal[source]).
		Int64("total_requests", m.RangeReadRequestTotal[source]).
		Msg("range read recorded")
}

// RecordDecoded records bytes produced by a folder decoder and handed to a caller
func (m *Metrics) RecordDecoded(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DecodedBytesTotal += n
}

// RecordDiscarded records bytes of preceding folder members decoded only to
// position a cursor on its entry
func (m *Metrics) RecordDiscarded(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DiscardedBytesTotal += n
}

// RecordSkippedBytes records leading entry bytes decoded but not emitted
func (m *Metrics) RecordSkippedBytes(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SkippedBytesTotal += n
}

func (m *Metrics) RecordCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CacheHitsTotal++

	if m.CacheHitsTotal%100 == 0 {
		log.Debug().
			Int64("hits", m.CacheHitsTotal).
			Int64("misses", m.CacheMissesTotal).
			Float64("hit_rate", float64(m.CacheHitsTotal)/float64(m.CacheHitsTotal+m.CacheMissesTotal)).
			Msg("block cache stats")
	}
}

func (m *Metrics) RecordCacheMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CacheMissesTotal++

	if m.CacheMissesTotal%100 == 0 {
		log.Debug().
			Int64("hits", m.CacheHitsTotal).
			Int64("misses", m.CacheMissesTotal).
			Float64("miss_rate", float64(m.CacheMissesTotal)/float64(m.CacheHitsTotal+m.CacheMissesTotal)).
			Msg("block cache stats")
	}
}

func (m *Metrics) RecordExtracted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EntriesExtracted++
}

func (m *Metrics) RecordSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EntriesSkipped++
}

func (m *Metrics) RecordChecksumFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChecksumFailures++
}

// GetStats returns a snapshot of current statistics
func (m *Metrics) GetStats() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rangeBytes := make(map[string]int64, len(m.RangeReadBytesTotal))
	rangeReqs := make(map[string]int64, len(m.RangeReadRequestTotal))
	for k, v := range m.RangeReadBytesTotal {
		rangeBytes[k] = v
	}
	for k, v := range m.RangeReadRequestTotal {
		rangeReqs[k] = v
	}

	return MetricsSnapshot{
		RangeReadBytesTotal:   rangeBytes,
		RangeReadRequestTotal: rangeReqs,
		DecodedBytesTotal:     m.DecodedBytesTotal,
		DiscardedBytesTotal:   m.DiscardedBytesTotal,
		SkippedBytesTotal:     m.SkippedBytesTotal,
		CacheHitsTotal:        m.CacheHitsTotal,
		CacheMissesTotal:      m.CacheMissesTotal,
		EntriesExtracted:      m.EntriesExtracted,
		EntriesSkipped:        m.EntriesSkipped,
		ChecksumFailures:      m.ChecksumFailures,
	}
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	RangeReadBytesTotal   map[string]int64
	RangeReadRequestTotal map[string]int64
	DecodedBytesTotal     int64
	DiscardedBytesTotal   int64
	SkippedBytesTotal     int64
	CacheHitsTotal        int64
	CacheMissesTotal      int64
	EntriesExtracted      int64
	EntriesSkipped        int64
	ChecksumFailures      int64
}

func (s *MetricsSnapshot) TotalRangeBytes() int64 {
	total := int64(0)
	for _, b := range s.RangeReadBytesTotal {
		total += b
	}
	return total
}

func (s *MetricsSnapshot) TotalRangeRequests() int64 {
	total := int64(0)
	for _, r := range s.RangeReadRequestTotal {
		total += r
	}
	return total
}

// PrintSummary logs a human-readable summary of metrics
func (s *MetricsSnapshot) PrintSummary() {
	log.Info().Msg("=== Metrics Summary ===")

	log.Info().
		Str("range_read_bytes", humanize.Bytes(uint64(s.TotalRangeBytes()))).
		Int64("range_read_requests", s.TotalRangeRequests()).
		Msg("range read stats")

	log.Info().
		Str("decoded", humanize.Bytes(uint64(s.DecodedBytesTotal))).
		Str("discarded", humanize.Bytes(uint64(s.DiscardedBytesTotal))).
		Str("skipped", humanize.Bytes(uint64(s.SkippedBytesTotal))).
		Msg("decoder stats")

	total := s.CacheHitsTotal + s.CacheMissesTotal
	if total > 0 {
		log.Info().
			Int64("hits", s.CacheHitsTotal).
			Int64("misses", s.CacheMissesTotal).
			Float64("hit_rate", float64(s.CacheHitsTotal)/float64(total)).
			Msg("block cache stats")
	}

	log.Info().
		Int64("extracted", s.EntriesExtracted).
		Int64("skipped", s.EntriesSkipped).
		Int64("checksum_failures", s.ChecksumFailures).
		Msg("extraction stats")

	log.Info().Msg("=== End Metrics Summary ===")
}

var globalMetrics *Metrics
var metricsOnce sync.Once

// GetGlobalMetrics returns the process-wide metrics instance
func GetGlobalMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = NewMetrics()
	})
	return globalMetrics
}
