// Package worker implements the Device Worker (spec.md §4.C): one
// cooperative goroutine per device, owning its mount point, loaded
// medium, single-slot inbox and sync batch.
//
// Grounded on the teacher's internal/pool (a long-lived resource
// acquired/released under a per-resource mutex plus condition
// variable, evicted on health-check failure) composed with
// internal/firecracker/vm_lifecycle.go (an explicit state machine
// driving one physical resource through ordered phases, with
// teardown-on-failure that persists state before freeing memory).
package worker

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/phobos-lrs/lrs/internal/adapter"
	"github.com/phobos-lrs/lrs/internal/logging"
	"github.com/phobos-lrs/lrs/internal/resource"
	"github.com/phobos-lrs/lrs/internal/syncbatch"
	"github.com/phobos-lrs/lrs/internal/tracing"
)

// Config is the per-family tuning a worker needs beyond its device
// record: sync thresholds and the mount-path prefix convention.
type Config struct {
	Sync        syncbatch.Thresholds
	MountPrefix string // deterministic mount path = MountPrefix + basename(DevPath)
	LockOwner   string // this host's DSS lock owner token
}

// Worker owns one device end to end: the device record, the currently
// loaded medium (nil if empty), a single-slot inbox, and a sync batch.
// Every field below the mutex line is read or written only while mu is
// held, per §5's device-mutex discipline.
type Worker struct {
	cfg    Config
	bundle adapter.Bundle
	dss    DSSClient
	disp   Dispatcher

	mu   sync.Mutex
	cond *sync.Cond

	device   *resource.Device
	medium   *resource.Medium // nil unless Loaded or Mounted
	handle   adapter.Handle   // non-nil only while mounted
	inFlight bool             // true while blocked in an adapter call

	inbox chan *resource.SubRequest // capacity 1
	batch resource.SyncBatchState

	thread      ThreadState
	formatIndex *FormatIndex
}

// New constructs a worker for device, not yet started. Call Run in its
// own goroutine.
func New(device *resource.Device, bundle adapter.Bundle, dss DSSClient, disp Dispatcher, cfg Config, idx *FormatIndex) *Worker {
	w := &Worker{
		cfg:         cfg,
		bundle:      bundle,
		dss:         dss,
		disp:        disp,
		device:      device,
		inbox:       make(chan *resource.SubRequest, 1),
		thread:      ThreadRunning,
		formatIndex: idx,
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Submit places sub into the worker's single-slot inbox. Returns false
// if the slot is already occupied; the dispatcher must check
// Dispatchable before calling Submit.
func (w *Worker) Submit(sub *resource.SubRequest) bool {
	select {
	case w.inbox <- sub:
		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
		return true
	default:
		return false
	}
}

// Dispatchable reports whether this worker may accept a new sub-request
// at all, per §4.E's dispatchability predicate: thread running, device
// unlocked, operational status not failed, inbox empty, no in-flight
// I/O, no pending sync flag.
func (w *Worker) Dispatchable() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.thread == ThreadRunning &&
		!w.device.Lock.Held() &&
		w.device.OpStatus != resource.OpFailed &&
		len(w.inbox) == 0 &&
		!w.inFlight &&
		!w.batch.NeedsSync
}

// CanTake reports whether sub is assignment-compatible with this
// worker's current state, per §4.E rule (a/b/c): empty, already has
// the target medium mounted, or the sub-request pins no medium.
func (w *Worker) CanTake(sub *resource.SubRequest) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.device.OpStatus == resource.OpEmpty {
		return true
	}
	if sub.Medium == nil {
		return true
	}
	return w.medium != nil && w.medium.ID.Equal(*sub.Medium)
}

// ID returns the device identifier this worker owns.
func (w *Worker) ID() resource.ID { return w.device.ID }

// OpStatus returns the device's current operational state, for
// metrics gauges that need a point-in-time inventory across devices.
func (w *Worker) OpStatus() resource.OpStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.device.OpStatus
}

// Stop requests a soft, drain-then-exit shutdown (§5 cancellation).
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.thread == ThreadRunning {
		w.thread = ThreadStopping
	}
	w.cond.Broadcast()
	w.mu.Unlock()
}

// mountPath is the deterministic mount path convention (§4.C).
func (w *Worker) mountPath() string {
	return filepath.Join(w.cfg.MountPrefix, filepath.Base(w.device.DevPath))
}

// Run is the worker loop (§4.C's six steps). It returns once the
// worker has fully drained and reached ThreadStopped, or ctx is
// canceled (in which case a fatal-exit teardown runs first).
func (w *Worker) Run(ctx context.Context) {
	logger := logging.Op().With("device", w.device.ID.String())
	for {
		if ctx.Err() != nil {
			w.fatalExit(context.Background(), logger, ctx.Err())
			return
		}

		w.dropCanceledInbox()
		w.drainCanceledBatch()
		w.testSyncThresholds()

		if w.finishStoppingIfQuiescent() {
			logger.Info("worker stopped")
			return
		}

		if w.stepIfIdle(ctx, logger) {
			continue
		}

		w.waitForDeadline(ctx)
	}
}

func (w *Worker) dropCanceledInbox() {
	select {
	case sub := <-w.inbox:
		if sub.Owner.Completion.RC() != 0 {
			if last := sub.Owner.Completion.SetStatus(sub.MediumIndex, resource.SubCancel, sub.Owner.Completion.RC()); last {
				w.disp.Respond(sub, resource.SubCancel, sub.Owner.Completion.RC())
			}
			return
		}
		w.inbox <- sub
	default:
	}
}

func (w *Worker) drainCanceledBatch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	live := w.batch.Entries[:0]
	for _, e := range w.batch.Entries {
		if e.Sub.Owner.Completion.RC() != 0 {
			e.Canceled = true
			continue
		}
		live = append(live, e)
	}
	w.batch.Entries = live
}

func (w *Worker) testSyncThresholds() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.batch.NeedsSync {
		return
	}
	clientRC := resource.CumulativeClientRC(w.batch.Entries)
	if syncbatch.NeedsFlush(&w.batch, w.cfg.Sync, time.Now(), clientRC, w.thread == ThreadStopping) {
		w.batch.NeedsSync = true
	}
}

func (w *Worker) finishStoppingIfQuiescent() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.thread != ThreadStopping {
		return false
	}
	if len(w.inbox) == 0 && w.batch.Empty() {
		w.thread = ThreadStopped
		return true
	}
	return false
}

// stepIfIdle performs exactly one unit of work (sync epoch, or
// dispatch-by-kind) if any is pending, returning true if it did. Each
// unit of work opens its own worker-loop-turn span (§5.A).
func (w *Worker) stepIfIdle(ctx context.Context, logger *slog.Logger) bool {
	w.mu.Lock()
	needsSync := w.batch.NeedsSync
	w.mu.Unlock()

	if needsSync {
		ctx, span := tracing.StartWorkerSpan(ctx, w.device.ID.String())
		w.runSyncEpoch(ctx, logger)
		span.End()
		return true
	}

	select {
	case sub := <-w.inbox:
		ctx, span := tracing.StartWorkerSpan(ctx, w.device.ID.String())
		w.dispatchByKind(ctx, sub, logger)
		span.End()
		return true
	default:
		return false
	}
}

func (w *Worker) waitForDeadline(ctx context.Context) {
	w.mu.Lock()
	deadline := syncbatch.NextDeadline(&w.batch, w.cfg.Sync, time.Now())
	w.mu.Unlock()

	waitFor := time.Until(deadline)
	if waitFor < 0 {
		return
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.cond.Broadcast()
			w.mu.Unlock()
		case <-done:
		}
	}()

	timer := time.AfterFunc(waitFor, func() {
		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
	})

	w.mu.Lock()
	w.cond.Wait()
	w.mu.Unlock()

	close(done)
	timer.Stop()
}
