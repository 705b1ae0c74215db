package worker

import (
	"context"
	"log/slog"

	"github.com/phobos-lrs/lrs/internal/resource"
)

// fatalExit runs the orderly teardown for an unrecoverable error or a
// canceled context (§4.C "Fatal exit"): answer any pending inbox
// sub-request with an error, unmount a mounted medium and unload a
// loaded one (marking the device failed if either step fails), then
// release the device lock (or mark the device failed and then release).
// The DSS writes (failed adm_status, lock release) are made before the
// worker returns; the op-status changes from unmount/unload are kept in
// memory only and are not written to the DSS.
func (w *Worker) fatalExit(ctx context.Context, logger *slog.Logger, cause error) {
	logger.Warn("worker fatal exit", "error", cause)

	w.mu.Lock()
	w.thread = ThreadStopping
	w.mu.Unlock()

	w.cancelPendingInbox(cause)

	if err := w.teardownMounted(ctx); err != nil {
		logger.Error("teardown: unmount failed, marking device failed", "error", err)
		_ = w.dss.DeviceUpdateAdmStatus(ctx, w.device.ID, resource.AdmFailed)
	}

	if err := w.teardownLoaded(ctx); err != nil {
		logger.Error("teardown: unload failed, marking device failed", "error", err)
		_ = w.dss.DeviceUpdateAdmStatus(ctx, w.device.ID, resource.AdmFailed)
	}

	if err := w.dss.DeviceRelease(ctx, w.device.ID, w.cfg.LockOwner); err != nil {
		logger.Error("teardown: device lock release failed, marking device failed", "error", err)
		_ = w.dss.DeviceUpdateAdmStatus(ctx, w.device.ID, resource.AdmFailed)
		_ = w.dss.DeviceRelease(ctx, w.device.ID, w.cfg.LockOwner)
	}

	w.mu.Lock()
	w.thread = ThreadStopped
	w.mu.Unlock()
}

func (w *Worker) cancelPendingInbox(cause error) {
	select {
	case sub := <-w.inbox:
		if w.formatIndex != nil && sub.Medium != nil {
			w.formatIndex.Unregister(*sub.Medium)
		}
		rc := int32(-1)
		sub.Owner.Completion.SetRC(rc)
		sub.Owner.Completion.SetStatus(sub.MediumIndex, resource.SubError, rc)
		w.disp.Respond(sub, resource.SubError, rc)
	default:
	}
}

func (w *Worker) teardownMounted(ctx context.Context) error {
	w.mu.Lock()
	mounted := w.device.OpStatus == resource.OpMounted
	w.mu.Unlock()
	if !mounted {
		return nil
	}
	return w.umount(ctx)
}

func (w *Worker) teardownLoaded(ctx context.Context) error {
	w.mu.Lock()
	loaded := w.device.OpStatus == resource.OpLoaded
	w.mu.Unlock()
	if !loaded {
		return nil
	}
	return w.unload(ctx)
}
