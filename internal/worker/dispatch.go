package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/phobos-lrs/lrs/internal/lrserr"
	"github.com/phobos-lrs/lrs/internal/metrics"
	"github.com/phobos-lrs/lrs/internal/resource"
	"github.com/phobos-lrs/lrs/internal/syncbatch"
)

// dispatchByKind routes sub to the format, read/write, or release
// handler per its owning request's kind (§4.C "Dispatch by kind").
func (w *Worker) dispatchByKind(ctx context.Context, sub *resource.SubRequest, logger *slog.Logger) {
	switch sub.Owner.Kind {
	case resource.KindFormat:
		w.dispatchFormat(ctx, sub, logger)
	case resource.KindReadAlloc, resource.KindWriteAlloc:
		w.dispatchReadWrite(ctx, sub, logger)
	case resource.KindRelease:
		w.dispatchRelease(sub)
	}
}

// dispatchFormat implements §4.C's format handler.
func (w *Worker) dispatchFormat(ctx context.Context, sub *resource.SubRequest, logger *slog.Logger) {
	if w.formatIndex != nil {
		w.formatIndex.Register(*sub.Medium)
		defer w.formatIndex.Unregister(*sub.Medium)
	}

	w.mu.Lock()
	alreadyMatches := w.medium != nil && w.medium.ID.Equal(*sub.Medium)
	w.mu.Unlock()

	if !alreadyMatches {
		if err := w.reloadMedium(ctx, *sub.Medium, logger); err != nil {
			attr := classifyFailure(err)
			w.applyAttribution(ctx, sub, attr, err, logger)
			return
		}
	}

	space, err := w.bundle.Filesystem.Format(ctx, w.device.DevPath, sub.Medium.Name)
	if err != nil {
		attr := classifyFailure(err)
		w.applyAttribution(ctx, sub, attr, err, logger)
		return
	}

	w.mu.Lock()
	if w.medium != nil {
		w.medium.FSStatus = resource.FSEmpty
		w.medium.PhysUsedBytes = space.PhysUsedBytes
		w.medium.PhysFreeBytes = space.PhysFreeBytes
	}
	w.mu.Unlock()

	if sub.Owner.Format != nil && sub.Owner.Format.UnlockOnDone {
		_ = w.dss.MediaRelease(ctx, *sub.Medium, w.cfg.LockOwner)
	}

	last := sub.Owner.Completion.SetStatus(sub.MediumIndex, resource.SubDone, 0)
	metrics.Global().RecordSubRequestStatus(string(sub.Medium.Family), "format", "done", 0)
	w.disp.Respond(sub, resource.SubDone, 0)
	if last {
		logger.Info("format request terminal", "request", sub.Owner.ID)
	}
}

// dispatchReadWrite implements §4.C's read/write handler.
func (w *Worker) dispatchReadWrite(ctx context.Context, sub *resource.SubRequest, logger *slog.Logger) {
	w.mu.Lock()
	alreadyMounted := sub.Medium != nil && w.medium != nil && w.device.OpStatus == resource.OpMounted && w.medium.ID.Equal(*sub.Medium)
	w.mu.Unlock()

	if !alreadyMounted {
		target := sub.Medium
		if target == nil {
			w.disp.Retry(sub, RetryMediumCandidatesRemain)
			return
		}
		if err := w.reloadAndMount(ctx, *target, logger); err != nil {
			if lrserr.IsKind(err, lrserr.KindMoveRefused) {
				// Transient: never counted as failure; retained in inbox.
				w.Submit(sub)
				return
			}
			attr := classifyFailure(err)
			if attr.MediumFailed && !attr.DeviceFailed {
				w.persistMediumFailure(ctx, *target, logger)
				if hasMoreCandidates(sub) {
					// Clear the binding so the dispatcher's binder advances
					// to the next untried candidate instead of re-binding
					// this same failed medium (§4.B retry semantics).
					sub.Medium = nil
					w.disp.Retry(sub, RetryMediumCandidatesRemain)
					return
				}
				w.failRequestFatally(sub, err)
				return
			}
			w.applyAttribution(ctx, sub, attr, err, logger)
			return
		}
	}

	if sub.Owner.Kind == resource.KindWriteAlloc {
		space, err := w.bundle.Filesystem.DF(ctx, w.mountPath())
		if err == nil && space.ReadOnly && space.PhysFreeBytes > 0 {
			w.mu.Lock()
			var medium resource.Medium
			if w.medium != nil {
				w.medium.FSStatus = resource.FSFull
				medium = *w.medium
			}
			w.mu.Unlock()
			if medium.ID.Name != "" {
				if err := w.dss.MediaSet(ctx, medium, syncbatch.FieldFSStatus); err != nil {
					logger.Warn("medium fs_status persist failed", "medium", medium.ID.String(), "error", err)
				}
			}
			w.disp.Retry(sub, RetryMediumCandidatesRemain)
			return
		}
	}

	last := sub.Owner.Completion.SetStatus(sub.MediumIndex, resource.SubDone, 0)
	metrics.Global().RecordSubRequestStatus(string(w.device.ID.Family), sub.Owner.Kind.String(), "done", 0)
	w.disp.Respond(sub, resource.SubDone, 0)
	if last {
		logger.Info("alloc request terminal", "request", sub.Owner.ID)
	}
}

// dispatchRelease enrolls the sub-request into the sync batch (§4.D).
func (w *Worker) dispatchRelease(sub *resource.SubRequest) {
	w.mu.Lock()
	defer w.mu.Unlock()
	entry := &resource.SyncEntry{
		Sub:         sub,
		Medium:      *sub.Medium,
		WrittenSize: sub.WrittenSize,
		ClientRC:    sub.ClientRC,
	}
	w.batch.Enroll(entry, sub.Arrival)
}

func hasMoreCandidates(sub *resource.SubRequest) bool {
	if sub.Owner.Kind == resource.KindReadAlloc && sub.Owner.ReadAlloc != nil {
		return len(sub.Owner.ReadAlloc.Candidates) > sub.MediumIndex+1
	}
	return false
}

func (w *Worker) failRequestFatally(sub *resource.SubRequest, err error) {
	rc := int32(-1)
	var le *lrserr.Error
	if errors.As(err, &le) {
		rc = int32(le.Errno)
	}
	sub.Owner.Completion.SetRC(rc)
	sub.Owner.Completion.SetStatus(sub.MediumIndex, resource.SubError, rc)
	w.disp.Respond(sub, resource.SubError, rc)
}

// classifyFailure maps an adapter error to a (device, medium) failure
// attribution verdict (§7).
func classifyFailure(err error) lrserr.Attribution {
	switch {
	case lrserr.IsKind(err, lrserr.KindMediumOnly):
		return lrserr.Attribution{MediumFailed: true}
	case lrserr.IsKind(err, lrserr.KindDeviceOnly):
		return lrserr.Attribution{DeviceFailed: true}
	case lrserr.IsKind(err, lrserr.KindJoint):
		return lrserr.Attribution{DeviceFailed: true, MediumFailed: true}
	default:
		return lrserr.Attribution{DeviceFailed: true}
	}
}
