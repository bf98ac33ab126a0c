package common

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsSnapshotIsACopy(t *testing.T) {
	m := NewMetrics()
	m.RecordRangeRead("s3://bucket/a.solid", 100)
	m.RecordRangeRead("s3://bucket/a.solid", 50)
	m.RecordRangeRead("/tmp/b.solid", 10)

	snap := m.GetStats()
	m.RecordRangeRead("/tmp/b.solid", 10)

	assert.Equal(t, int64(160), snap.TotalRangeBytes())
	assert.Equal(t, int64(3), snap.TotalRangeRequests())
	assert.Equal(t, int64(20), m.GetStats().RangeReadBytesTotal["/tmp/b.solid"])
}

func TestMetricsConcurrentRecording(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				m.RecordCacheHit()
				m.RecordCacheMiss()
				m.RecordDecoded(2)
				m.RecordDiscarded(1)
				m.RecordSkippedBytes(3)
			}
		}()
	}
	wg.Wait()

	snap := m.GetStats()
	require.Equal(t, int64(2000), snap.CacheHitsTotal)
	require.Equal(t, int64(2000), snap.CacheMissesTotal)
	assert.Equal(t, int64(4000), snap.DecodedBytesTotal)
	assert.Equal(t, int64(2000), snap.DiscardedBytesTotal)
	assert.Equal(t, int64(6000), snap.SkippedBytesTotal)
	snap.PrintSummary()
}

func TestChecksumMismatchErrorMatchesSentinel(t *testing.T) {
	err := error(&ChecksumMismatchError{Name: "a.txt", Expected: 1, Computed: 2})
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.NotErrorIs(t, err, ErrDecompression)
	assert.Contains(t, err.Error(), "a.txt")
	assert.Contains(t, err.Error(), "00000001")
}

func TestFolderPosition(t *testing.T) {
	a := &FileEntry{Name: "a", Size: 1}
	b := &FileEntry{Name: "b", Size: 2}
	f := &FolderRecord{PackOffset: 10, PackSize: 5, Files: []*FileEntry{a, b}}

	assert.Equal(t, 0, f.Position(a))
	assert.Equal(t, 1, f.Position(b))
	assert.Equal(t, -1, f.Position(&FileEntry{Name: "c"}))
	assert.Equal(t, int64(15), f.End())
	assert.True(t, (&FileEntry{}).IsEmpty())
}
