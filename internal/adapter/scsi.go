package adapter

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// RetryClass is the SCSI error classification used by the retry loop
// (spec.md §4.A.2): fatal errors are returned immediately, short-retry
// errors are retried on a tight budget, long-retry errors back off.
//
// Grounded on the teacher's internal/circuitbreaker three-state discipline
// — here collapsed to a one-shot bounded retry per call rather than a
// breaker with persistent open/half-open state, since a single adapter
// call has no notion of "recovery window" beyond its own retry budget.
type RetryClass int

const (
	RetryFatal RetryClass = iota
	RetryShort
	RetryLong
)

// classify maps a unix errno to a RetryClass. Errnos not listed are fatal.
func classify(errno unix.Errno) RetryClass {
	switch errno {
	case unix.EAGAIN, unix.EBUSY:
		return RetryShort
	case unix.ETIMEDOUT, unix.ENOMEDIUM:
		return RetryLong
	default:
		return RetryFatal
	}
}

// scsiMu serializes SCSI commands process-wide: concurrent library moves
// on the same physical changer corrupt shared controller state, so every
// call wrapped in WithSCSIRetry funnels through this mutex, mirroring the teacher's
// db-advisory-lock-per-resource discipline (internal/store/tx_locks.go)
// collapsed to a single process-wide critical section, since all drives
// in a family share one physical SCSI bus.
var scsiMu scsiMutex

type scsiMutex struct{ ch chan struct{} }

func init() {
	scsiMu.ch = make(chan struct{}, 1)
	scsiMu.ch <- struct{}{}
}

func (m *scsiMutex) lock(ctx context.Context) error {
	select {
	case <-m.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *scsiMutex) unlock() { m.ch <- struct{}{} }

const (
	shortRetryBudget = 5
	shortRetryDelay  = 50 * time.Millisecond
	longRetryBudget  = 3
	longRetryDelay   = 2 * time.Second
)

// WithSCSIRetry runs fn under the process-wide SCSI mutex, retrying per
// the errno classification returned alongside fn's error. fn should
// return an error that wraps a unix.Errno (found via errors.As) when the
// underlying syscall failed, or a plain error for non-SCSI failures
// which are always treated as fatal.
func WithSCSIRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := scsiMu.lock(ctx); err != nil {
		return err
	}
	defer scsiMu.unlock()

	var lastErr error
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var errno unix.Errno
		if !errors.As(err, &errno) {
			return err // non-SCSI error: fatal, no retry
		}

		switch classify(errno) {
		case RetryFatal:
			return err
		case RetryShort:
			if attempt >= shortRetryBudget {
				return lastErr
			}
			if !sleepOrDone(ctx, shortRetryDelay) {
				return ctx.Err()
			}
		case RetryLong:
			if attempt >= longRetryBudget {
				return lastErr
			}
			if !sleepOrDone(ctx, longRetryDelay) {
				return ctx.Err()
			}
		}
	}
}

// IsMoveRefused reports whether err represents a library move refused
// because the destination drive is already busy with another move —
// translated by the caller into a "busy" retry rather than a failure
// (§4.C read/write handler).
func IsMoveRefused(err error) bool {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno == unix.EBUSY
	}
	return false
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
