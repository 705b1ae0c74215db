// Package syncbatch implements the Synchronization Batcher's threshold
// tests, wakeup-deadline arithmetic and five-step epoch protocol
// (spec.md §4.D).
//
// Grounded on the teacher's internal/asyncqueue/adaptive.go (a queue
// that tracks accumulated count/age/bytes and decides when to drain)
// for the threshold tests, and internal/eventbus/outbox_relay.go
// (snapshot-under-lock, do I/O outside the lock, persist results, emit
// per-item outcomes) for the epoch's 5-step flush shape.
package syncbatch

import (
	"time"

	"github.com/phobos-lrs/lrs/internal/resource"
)

// MinSleep bounds the wakeup deadline below, protecting against
// busy-looping when an entry arrives almost exactly on the previous
// deadline (§4.D wakeup policy).
const MinSleep = 10 * time.Millisecond

// Thresholds are the per-family sync trigger configuration (§4.D).
type Thresholds struct {
	CountThreshold     int           // sync_nb_req
	TimeThreshold      time.Duration // sync_time_ms
	SizeThresholdBytes int64         // sync_wsize_kb * 1024
}

// NeedsFlush reports whether batch should be flagged needs_sync, given
// the three thresholds, or whether a forced-flush condition holds
// (shutdown in progress, worker stopping, or non-zero accumulated
// client rc).
func NeedsFlush(batch *resource.SyncBatchState, thr Thresholds, now time.Time, clientRC int32, forced bool) bool {
	if batch.NeedsSync {
		return true
	}
	if forced || clientRC != 0 {
		return true
	}
	if batch.Empty() {
		return false
	}
	if thr.CountThreshold > 0 && len(batch.Entries) >= thr.CountThreshold {
		return true
	}
	if thr.TimeThreshold > 0 && !now.Before(batch.OldestArrival.Add(thr.TimeThreshold)) {
		return true
	}
	if thr.SizeThresholdBytes > 0 && batch.SummedBytes >= thr.SizeThresholdBytes {
		return true
	}
	return false
}

// Trigger names which threshold caused a pending flush, for metrics
// labeling. Checked in the same precedence as NeedsFlush.
func Trigger(batch *resource.SyncBatchState, thr Thresholds, now time.Time, clientRC int32, forced bool) string {
	if clientRC != 0 {
		return "client_rc"
	}
	if forced {
		return "forced"
	}
	if thr.CountThreshold > 0 && len(batch.Entries) >= thr.CountThreshold {
		return "count"
	}
	if thr.TimeThreshold > 0 && !now.Before(batch.OldestArrival.Add(thr.TimeThreshold)) {
		return "time"
	}
	if thr.SizeThresholdBytes > 0 && batch.SummedBytes >= thr.SizeThresholdBytes {
		return "size"
	}
	return "unknown"
}

// NextDeadline computes the next wakeup deadline per §4.D: if the
// batch is non-empty, max(now+MinSleep, oldest_arrival+sync_time_ms);
// otherwise now+sync_time_ms.
func NextDeadline(batch *resource.SyncBatchState, thr Thresholds, now time.Time) time.Time {
	if batch.Empty() {
		return now.Add(thr.TimeThreshold)
	}
	floor := now.Add(MinSleep)
	byAge := batch.OldestArrival.Add(thr.TimeThreshold)
	if byAge.After(floor) {
		return byAge
	}
	return floor
}
