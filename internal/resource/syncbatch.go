package resource

import "time"

// SyncEntry is one write sub-request enrolled in a device's sync batch.
type SyncEntry struct {
	Sub         *SubRequest
	Medium      ID
	WrittenSize int64
	ClientRC    int32 // the release sub-request's client-reported rc, if any
	Canceled    bool  // removed by a sibling worker observing a prior fatal error
}

// CumulativeClientRC returns the first non-zero rc across entries,
// checking each entry's own client-reported ClientRC and, failing
// that, its owning request's Completion.RC() (an internal failure
// already recorded by a sibling sub-request). Used to decide whether a
// sync epoch must forced-fail per §4.D's "accumulated client_rc"
// clause.
func CumulativeClientRC(entries []*SyncEntry) int32 {
	for _, e := range entries {
		if e.ClientRC != 0 {
			return e.ClientRC
		}
		if e.Sub != nil && e.Sub.Owner != nil && e.Sub.Owner.Completion != nil {
			if rc := e.Sub.Owner.Completion.RC(); rc != 0 {
				return rc
			}
		}
	}
	return 0
}

// SyncBatchState is the per-device triple: the queue of pending entries,
// the oldest arrival timestamp, and the summed written size. It is pure
// data; the owning worker holds its device mutex while mutating it (§4.D).
type SyncBatchState struct {
	Entries       []*SyncEntry
	OldestArrival time.Time
	SummedBytes   int64
	NeedsSync     bool
}

// Empty reports whether the batch has no enrolled entries.
func (s *SyncBatchState) Empty() bool {
	return len(s.Entries) == 0
}

// Reset clears the batch triple after a flush (§4.D step 5).
func (s *SyncBatchState) Reset() {
	s.Entries = nil
	s.OldestArrival = time.Time{}
	s.SummedBytes = 0
	s.NeedsSync = false
}

// Enroll appends an entry, updating the oldest-arrival and summed-bytes
// fields. It does not check thresholds; that is the batcher's job.
func (s *SyncBatchState) Enroll(e *SyncEntry, arrival time.Time) {
	if len(s.Entries) == 0 || arrival.Before(s.OldestArrival) {
		s.OldestArrival = arrival
	}
	s.Entries = append(s.Entries, e)
	s.SummedBytes += e.WrittenSize
}
