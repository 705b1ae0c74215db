package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/phobos-lrs/lrs/internal/metrics"
	"github.com/phobos-lrs/lrs/internal/resource"
	"github.com/phobos-lrs/lrs/internal/syncbatch"
	"github.com/phobos-lrs/lrs/internal/tracing"
)

// runSyncEpoch executes the five-step epoch protocol (§4.D): steps 1
// and 5 (freeze/snapshot, reset) bracket the call into
// syncbatch.RunEpoch, which performs steps 2-4.
func (w *Worker) runSyncEpoch(ctx context.Context, logger *slog.Logger) {
	w.mu.Lock()
	entries := w.batch.Entries
	medium := w.medium
	handle := w.handle
	w.mu.Unlock()

	ctx, span := tracing.StartSyncEpochSpan(ctx, w.device.ID.String(), len(entries))
	var spanErr error
	defer func() { tracing.EndWithError(span, spanErr) }()

	if medium == nil || handle == nil {
		// Nothing mounted: nothing to sync. Clear the flag and move on;
		// this happens if the batch was force-flagged while the medium
		// was being unmounted by a concurrent format/release teardown.
		w.mu.Lock()
		w.batch.Reset()
		w.mu.Unlock()
		return
	}

	cumulativeRC := resource.CumulativeClientRC(entries)

	trigger := syncbatch.Trigger(&w.batch, w.cfg.Sync, time.Now(), cumulativeRC, w.thread == ThreadStopping)
	result, err := syncbatch.RunEpoch(ctx, entries, medium, handle, w.bundle.Filesystem, w.mountPath(), w.dss, cumulativeRC)
	if err != nil {
		spanErr = err
		logger.Error("sync epoch failed", "error", err)
	}

	w.mu.Lock()
	w.batch.Reset()
	w.mu.Unlock()

	metrics.Global().RecordSyncEpochFlushed(string(w.device.ID.Family), trigger, result.Duration.Milliseconds(), result.SyncedBytes)
	if result.MediumFailed {
		metrics.Global().RecordMediumFailure(string(w.device.ID.Family))
	}

	for _, outcome := range result.Outcomes {
		sub := outcome.Entry.Sub
		last := sub.Owner.Completion.SetStatus(sub.MediumIndex, outcome.Status, outcome.RC)
		if outcome.Status == resource.SubError {
			sub.Owner.Completion.SetRC(outcome.RC)
		}
		w.disp.Respond(sub, outcome.Status, outcome.RC)
		if last {
			logger.Info("release request fully terminal", "request", sub.Owner.ID)
		}
	}
}
