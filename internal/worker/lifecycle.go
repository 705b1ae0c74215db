package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phobos-lrs/lrs/internal/adapter"
	"github.com/phobos-lrs/lrs/internal/lrserr"
	"github.com/phobos-lrs/lrs/internal/metrics"
	"github.com/phobos-lrs/lrs/internal/resource"
	"github.com/phobos-lrs/lrs/internal/syncbatch"
)

// reloadMedium performs umount -> unload -> load(target) as needed to
// bring target into the drive, without mounting it. Used by the
// format path, which needs the medium loaded but not mounted.
func (w *Worker) reloadMedium(ctx context.Context, target resource.ID, logger *slog.Logger) error {
	if err := w.umountIfMounted(ctx); err != nil {
		return err
	}
	if err := w.unloadIfLoaded(ctx); err != nil {
		return err
	}
	return w.load(ctx, target, logger)
}

// reloadAndMount performs umount -> unload -> load -> mount for target,
// as needed. Used by the read/write path.
func (w *Worker) reloadAndMount(ctx context.Context, target resource.ID, logger *slog.Logger) error {
	if err := w.reloadMedium(ctx, target, logger); err != nil {
		return err
	}
	return w.mount(ctx, target)
}

func (w *Worker) umountIfMounted(ctx context.Context) error {
	w.mu.Lock()
	mounted := w.device.OpStatus == resource.OpMounted
	w.mu.Unlock()
	if !mounted {
		return nil
	}
	return w.umount(ctx)
}

func (w *Worker) unloadIfLoaded(ctx context.Context) error {
	w.mu.Lock()
	loaded := w.device.OpStatus == resource.OpLoaded
	w.mu.Unlock()
	if !loaded {
		return nil
	}
	return w.unload(ctx)
}

func (w *Worker) umount(ctx context.Context) error {
	w.mu.Lock()
	w.inFlight = true
	mountPath := w.mountPath()
	w.mu.Unlock()
	defer func() { w.mu.Lock(); w.inFlight = false; w.mu.Unlock() }()

	if err := w.bundle.Filesystem.Umount(ctx, mountPath); err != nil {
		return lrserr.Wrap("umount", lrserr.KindDeviceOnly, w.device.ID.String(), err)
	}
	if err := transition(w.device.OpStatus, resource.OpLoaded); err != nil {
		return err
	}
	w.mu.Lock()
	w.device.OpStatus = resource.OpLoaded
	w.device.MountPath = ""
	if w.handle != nil {
		_ = w.handle.Close(ctx)
		w.handle = nil
	}
	w.mu.Unlock()
	return nil
}

func (w *Worker) unload(ctx context.Context) error {
	w.mu.Lock()
	w.inFlight = true
	devPath := w.device.DevPath
	w.mu.Unlock()
	defer func() { w.mu.Lock(); w.inFlight = false; w.mu.Unlock() }()

	if w.bundle.Drive != nil {
		if err := adapter.WithSCSIRetry(ctx, func(ctx context.Context) error {
			return w.bundle.Drive.Eject(ctx, devPath)
		}); err != nil {
			return lrserr.Wrap("unload", lrserr.KindDeviceOnly, w.device.ID.String(), err)
		}
	}
	if err := transition(w.device.OpStatus, resource.OpEmpty); err != nil {
		return err
	}
	w.mu.Lock()
	w.device.OpStatus = resource.OpEmpty
	w.medium = nil
	w.mu.Unlock()
	return nil
}

func (w *Worker) load(ctx context.Context, target resource.ID, logger *slog.Logger) error {
	w.mu.Lock()
	w.inFlight = true
	devPath := w.device.DevPath
	w.mu.Unlock()
	defer func() { w.mu.Lock(); w.inFlight = false; w.mu.Unlock() }()

	if w.bundle.Library != nil {
		srcLoc, err := w.bundle.Library.MediumLookup(ctx, target.Name)
		if err != nil {
			return lrserr.Wrap("load", lrserr.KindMediumOnly, target.String(), err)
		}
		dstLoc, err := w.bundle.Library.DriveLookup(ctx, devPath)
		if err != nil {
			return lrserr.Wrap("load", lrserr.KindDeviceOnly, w.device.ID.String(), err)
		}
		if err := adapter.WithSCSIRetry(ctx, func(ctx context.Context) error {
			return w.bundle.Library.Move(ctx, srcLoc, dstLoc)
		}); err != nil {
			if adapter.IsMoveRefused(err) {
				return lrserr.Wrap("load", lrserr.KindMoveRefused, target.String(), err)
			}
			return lrserr.Wrap("load", lrserr.KindJoint, target.String(), err)
		}
	}

	if err := transition(w.device.OpStatus, resource.OpLoaded); err != nil {
		return err
	}
	w.mu.Lock()
	w.device.OpStatus = resource.OpLoaded
	w.medium = &resource.Medium{ID: target}
	w.mu.Unlock()
	return nil
}

func (w *Worker) mount(ctx context.Context, target resource.ID) error {
	w.mu.Lock()
	w.inFlight = true
	devPath := w.device.DevPath
	mountPath := w.mountPath()
	w.mu.Unlock()
	defer func() { w.mu.Lock(); w.inFlight = false; w.mu.Unlock() }()

	label, err := w.bundle.Filesystem.GetLabel(ctx, devPath)
	if err == nil && label != "" && label != target.Name {
		return lrserr.New("mount", lrserr.KindMediumOnly, fmt.Sprintf("label mismatch: on-medium %q, requested %q", label, target.Name))
	}

	if err := w.bundle.Filesystem.Mount(ctx, devPath, mountPath, target.Name); err != nil {
		return lrserr.Wrap("mount", lrserr.KindMediumOnly, target.String(), err)
	}

	handle, err := w.bundle.IO.Open(ctx, mountPath, 0)
	if err != nil {
		return lrserr.Wrap("mount", lrserr.KindDeviceOnly, target.String(), err)
	}

	if err := transition(w.device.OpStatus, resource.OpMounted); err != nil {
		return err
	}
	w.mu.Lock()
	w.device.OpStatus = resource.OpMounted
	w.device.MountPath = mountPath
	w.handle = handle
	w.mu.Unlock()
	return nil
}

// persistMediumFailure writes the medium's adm_status=failed to the DSS
// and releases its lock (§7 "medium-only failure" handling). Shared by
// every path that attributes a failure to the medium: attribution on
// the owning worker, and the dispatcher-level reroute/exhaustion paths
// in dispatch.go, which never call applyAttribution because the device
// itself is still healthy.
func (w *Worker) persistMediumFailure(ctx context.Context, medium resource.ID, logger *slog.Logger) {
	failed := resource.Medium{ID: medium, AdmStatus: resource.AdmFailed}
	if err := w.dss.MediaSet(ctx, failed, syncbatch.FieldAdmStatus); err != nil {
		logger.Warn("medium state persist failed after attribution", "medium", medium.String(), "error", err)
	}
	if err := w.dss.MediaRelease(ctx, medium, w.cfg.LockOwner); err != nil {
		logger.Warn("medium release failed after attribution", "medium", medium.String(), "error", err)
	}
	metrics.Global().RecordMediumFailure(string(medium.Family))
}

// applyAttribution applies the (device, medium) failure verdict from
// §7: independently marks the device failed (stopping the worker) and
// the medium failed (via DSS, releasing its lock), then responds to
// the sub-request with an error.
func (w *Worker) applyAttribution(ctx context.Context, sub *resource.SubRequest, attr lrserr.Attribution, cause error, logger *slog.Logger) {
	rc := int32(-1)
	var le *lrserr.Error
	if e, ok := cause.(*lrserr.Error); ok {
		le = e
	}
	if le != nil && le.Errno != 0 {
		rc = int32(le.Errno)
	}

	if attr.MediumFailed && sub.Medium != nil {
		w.persistMediumFailure(ctx, *sub.Medium, logger)
		_ = w.dss.EmitLog(ctx, LogRecord{DeviceID: w.device.ID, MediumID: sub.Medium, Op: "medium_fail", RC: rc, Message: cause.Error()})
	}

	if attr.DeviceFailed {
		w.mu.Lock()
		w.device.OpStatus = resource.OpFailed
		w.mu.Unlock()
		if err := w.dss.DeviceUpdateAdmStatus(ctx, w.device.ID, resource.AdmFailed); err != nil {
			logger.Warn("device status persist failed after attribution", "device", w.device.ID.String(), "error", err)
		}
		_ = w.dss.EmitLog(ctx, LogRecord{DeviceID: w.device.ID, Op: "device_fail", RC: rc, Message: cause.Error()})
		metrics.Global().RecordDeviceFailure(string(w.device.ID.Family))
		w.Stop()
	}

	sub.Owner.Completion.SetRC(rc)
	sub.Owner.Completion.SetStatus(sub.MediumIndex, resource.SubError, rc)
	w.disp.Respond(sub, resource.SubError, rc)
}
