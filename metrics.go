package x3fs

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordOp is called after each file system operation.
	// op is the operation name (mkdir, open, write, ...), err is nil if successful.
	RecordOp(op string, duration time.Duration, err error)

	// RecordIO is called after each descriptor transfer with the bytes moved.
	RecordIO(read, written int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordOp(string, time.Duration, error) {}
func (NoopMetricsCollector) RecordIO(int, int)                      {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	OpCount      atomic.Int64
	OpErrors     atomic.Int64
	OpTotalNanos atomic.Int64
	WriteCount   atomic.Int64
	WriteErrors  atomic.Int64
	BytesRead    atomic.Int64
	BytesWritten atomic.Int64
}

// RecordOp implements MetricsCollector.
func (b *BasicMetricsCollector) RecordOp(op string, duration time.Duration, err error) {
	b.OpCount.Add(1)
	b.OpTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.OpErrors.Add(1)
	}
	if op == "write" {
		b.WriteCount.Add(1)
		if err != nil {
			b.WriteErrors.Add(1)
		}
	}
}

// RecordIO implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIO(read, written int) {
	b.BytesRead.Add(int64(read))
	b.BytesWritten.Add(int64(written))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		OpCount:      b.OpCount.Load(),
		OpErrors:     b.OpErrors.Load(),
		OpAvgNanos:   b.getAvgOpNanos(),
		WriteCount:   b.WriteCount.Load(),
		WriteErrors:  b.WriteErrors.Load(),
		BytesRead:    b.BytesRead.Load(),
		BytesWritten: b.BytesWritten.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgOpNanos() int64 {
	count := b.OpCount.Load()
	if count == 0 {
		return 0
	}
	return b.OpTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	OpCount      int64
	OpErrors     int64
	OpAvgNanos   int64
	WriteCount   int64
	WriteErrors  int64
	BytesRead    int64
	BytesWritten int64
}
