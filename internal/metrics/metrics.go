// Package metrics collects and exposes phobosd runtime observability data.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (per-family counters + time series)
//     for a lightweight JSON /metrics endpoint.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems.
//
// Keeping both lets an operator read the JSON endpoint with curl without
// standing up a scrape target, while still supporting a real monitoring
// stack.
//
// # Concurrency — hot path
//
// Metrics.RecordSubRequestStatus is called from the device workers when a
// format or read/write sub-request completes and must be as fast as
// possible. It uses atomic increments
// for global counters and dispatches a lightweight event onto a buffered
// channel (tsChan) for the time-series worker to process asynchronously.
// This avoids holding any lock on the hot path.
//
// The per-family FamilyMetrics struct also uses atomic operations
// exclusively; the sync.Map that stores the per-family entries is
// read-heavy and write-once-per-new-family.
//
// # Invariants
//
//   - TotalSubRequests == SuccessSubRequests + FailedSubRequests + CanceledSubRequests.
//   - The time-series ring buffer holds at most timeSeriesBucketCount buckets
//     (24 * 60 = 1440 for the last 24 hours at 1-minute granularity).
//   - tsChan capacity is 8192 events; events dropped when full are counted
//     in tsDroppedEvents for observability.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timeSeriesBucketDuration = time.Minute
	timeSeriesBucketCount    = 24 * 60
)

// TimeSeriesBucket stores metrics for a single time bucket.
type TimeSeriesBucket struct {
	Timestamp    time.Time
	SubRequests  int64
	Errors       int64
	TotalLatency int64
	Count        int64
}

// Metrics collects and exposes phobosd runtime metrics.
type Metrics struct {
	TotalSubRequests    atomic.Int64
	SuccessSubRequests  atomic.Int64
	FailedSubRequests   atomic.Int64
	CanceledSubRequests atomic.Int64

	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	SyncEpochs     atomic.Int64
	DeviceFailures atomic.Int64
	MediumFailures atomic.Int64

	familyMetrics sync.Map // family -> *FamilyMetrics

	timeSeriesMu    sync.RWMutex
	timeSeries      []*TimeSeriesBucket
	tsChan          chan timeSeriesEvent
	tsDroppedEvents atomic.Int64

	startTime time.Time
}

type timeSeriesEvent struct {
	durationMs int64
	isError    bool
}

// FamilyMetrics tracks metrics for a single resource family.
type FamilyMetrics struct {
	SubRequests atomic.Int64
	Successes   atomic.Int64
	Failures    atomic.Int64
	Canceled    atomic.Int64
	TotalMs     atomic.Int64
	MinMs       atomic.Int64
	MaxMs       atomic.Int64
}

var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinLatencyMs.Store(int64(^uint64(0) >> 1))
	global.tsChan = make(chan timeSeriesEvent, 8192)
	global.initTimeSeries()
	go global.processTimeSeriesLoop()
}

func (m *Metrics) initTimeSeries() {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)
	m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
	for i := 0; i < timeSeriesBucketCount; i++ {
		m.timeSeries[i] = &TimeSeriesBucket{
			Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
		}
	}
}

// Global returns the global metrics instance.
func Global() *Metrics { return global }

// StartTime returns the time the metrics system was initialized.
func StartTime() time.Time { return global.startTime }

// RecordSubRequestStatus records a terminal sub-request status.
func (m *Metrics) RecordSubRequestStatus(family, kind, status string, durationMs int64) {
	m.TotalSubRequests.Add(1)
	switch status {
	case "done":
		m.SuccessSubRequests.Add(1)
	case "cancel":
		m.CanceledSubRequests.Add(1)
	default:
		m.FailedSubRequests.Add(1)
	}

	m.TotalLatencyMs.Add(durationMs)
	updateMin(&m.MinLatencyMs, durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	fm := m.getFamilyMetrics(family)
	fm.SubRequests.Add(1)
	switch status {
	case "done":
		fm.Successes.Add(1)
	case "cancel":
		fm.Canceled.Add(1)
	default:
		fm.Failures.Add(1)
	}
	fm.TotalMs.Add(durationMs)
	updateMin(&fm.MinMs, durationMs)
	updateMax(&fm.MaxMs, durationMs)

	m.recordTimeSeries(durationMs, status != "done")
	RecordSubRequest(kind, family, status)
}

func (m *Metrics) recordTimeSeries(durationMs int64, isError bool) {
	select {
	case m.tsChan <- timeSeriesEvent{durationMs: durationMs, isError: isError}:
	default:
		m.tsDroppedEvents.Add(1)
	}
}

func (m *Metrics) processTimeSeriesLoop() {
	for evt := range m.tsChan {
		m.applyTimeSeriesEvent(evt.durationMs, evt.isError)
	}
}

func (m *Metrics) applyTimeSeriesEvent(durationMs int64, isError bool) {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)

	if len(m.timeSeries) > 0 {
		lastBucket := m.timeSeries[len(m.timeSeries)-1]
		bucketsDiff := int(now.Sub(lastBucket.Timestamp) / timeSeriesBucketDuration)

		if bucketsDiff > 0 {
			if bucketsDiff >= timeSeriesBucketCount {
				m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
				for i := 0; i < timeSeriesBucketCount; i++ {
					m.timeSeries[i] = &TimeSeriesBucket{
						Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
					}
				}
			} else {
				m.timeSeries = m.timeSeries[bucketsDiff:]
				for i := 0; i < bucketsDiff; i++ {
					m.timeSeries = append(m.timeSeries, &TimeSeriesBucket{
						Timestamp: lastBucket.Timestamp.Add(time.Duration(i+1) * timeSeriesBucketDuration),
					})
				}
			}
		}
	}

	if len(m.timeSeries) > 0 {
		bucket := m.timeSeries[len(m.timeSeries)-1]
		bucket.SubRequests++
		bucket.TotalLatency += durationMs
		bucket.Count++
		if isError {
			bucket.Errors++
		}
	}
}

// RecordSyncEpochFlushed records one completed sync epoch.
func (m *Metrics) RecordSyncEpochFlushed(family, trigger string, durationMs, bytes int64) {
	m.SyncEpochs.Add(1)
	RecordSyncEpoch(family, trigger, durationMs, bytes)
}

// RecordDeviceFailure records a device failure attribution.
func (m *Metrics) RecordDeviceFailure(family string) {
	m.DeviceFailures.Add(1)
	RecordDeviceFailure(family)
}

// RecordMediumFailure records a medium failure attribution.
func (m *Metrics) RecordMediumFailure(family string) {
	m.MediumFailures.Add(1)
	RecordMediumFailure(family)
}

func (m *Metrics) getFamilyMetrics(family string) *FamilyMetrics {
	if v, ok := m.familyMetrics.Load(family); ok {
		return v.(*FamilyMetrics)
	}
	fm := &FamilyMetrics{}
	fm.MinMs.Store(int64(^uint64(0) >> 1))
	actual, _ := m.familyMetrics.LoadOrStore(family, fm)
	return actual.(*FamilyMetrics)
}

// FamilyStats returns the metrics recorded for one family, or nil.
func (m *Metrics) FamilyStats(family string) *FamilyMetrics {
	if v, ok := m.familyMetrics.Load(family); ok {
		return v.(*FamilyMetrics)
	}
	return nil
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.TotalSubRequests.Load()
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(m.TotalLatencyMs.Load()) / float64(total)
	}

	minLatency := m.MinLatencyMs.Load()
	if minLatency == int64(^uint64(0)>>1) {
		minLatency = 0
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"subrequests": map[string]interface{}{
			"total":    total,
			"success":  m.SuccessSubRequests.Load(),
			"failed":   m.FailedSubRequests.Load(),
			"canceled": m.CanceledSubRequests.Load(),
		},
		"latency_ms": map[string]interface{}{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.MaxLatencyMs.Load(),
		},
		"sync_epochs":     m.SyncEpochs.Load(),
		"device_failures": m.DeviceFailures.Load(),
		"medium_failures": m.MediumFailures.Load(),
		"ts_dropped_events": m.tsDroppedEvents.Load(),
	}
}

// FamilyStatsAll returns per-family metrics.
func (m *Metrics) FamilyStatsAll() map[string]interface{} {
	result := make(map[string]interface{})

	m.familyMetrics.Range(func(key, value interface{}) bool {
		family := key.(string)
		fm := value.(*FamilyMetrics)

		total := fm.SubRequests.Load()
		avgMs := float64(0)
		if total > 0 {
			avgMs = float64(fm.TotalMs.Load()) / float64(total)
		}

		minMs := fm.MinMs.Load()
		if minMs == int64(^uint64(0)>>1) {
			minMs = 0
		}

		result[family] = map[string]interface{}{
			"subrequests": total,
			"successes":   fm.Successes.Load(),
			"failures":    fm.Failures.Load(),
			"canceled":    fm.Canceled.Load(),
			"avg_ms":      avgMs,
			"min_ms":      minMs,
			"max_ms":      fm.MaxMs.Load(),
		}
		return true
	})

	return result
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["families"] = m.FamilyStatsAll()
		json.NewEncoder(w).Encode(result)
	})
}

// TimeSeries returns minute-level time-series data for the last 24 hours.
func (m *Metrics) TimeSeries() []map[string]interface{} {
	m.timeSeriesMu.RLock()
	defer m.timeSeriesMu.RUnlock()

	result := make([]map[string]interface{}, len(m.timeSeries))
	for i, bucket := range m.timeSeries {
		avgDuration := float64(0)
		if bucket.Count > 0 {
			avgDuration = float64(bucket.TotalLatency) / float64(bucket.Count)
		}
		result[i] = map[string]interface{}{
			"timestamp":    bucket.Timestamp.Format(time.RFC3339),
			"subrequests":  bucket.SubRequests,
			"errors":       bucket.Errors,
			"avg_duration": avgDuration,
		}
	}
	return result
}

// TimeSeriesHandler returns an HTTP handler for time-series metrics.
func (m *Metrics) TimeSeriesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.TimeSeries())
	})
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
