package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/phobos-lrs/lrs/internal/adapter/adapterfake"
	"github.com/phobos-lrs/lrs/internal/resource"
	"github.com/phobos-lrs/lrs/internal/syncbatch"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(t *testing.T) (*Worker, *fakeDSS, *fakeDispatcher) {
	t.Helper()
	bundle, _, _, _, _ := adapterfake.Bundle()
	dss := newFakeDSS()
	disp := newFakeDispatcher()
	device := &resource.Device{
		ID:       resource.ID{Family: resource.FamilyTape, Name: "drive-1"},
		DevPath:  "/dev/st0",
		OpStatus: resource.OpEmpty,
	}
	cfg := Config{
		Sync:        syncbatch.Thresholds{CountThreshold: 10, TimeThreshold: time.Minute, SizeThresholdBytes: 1 << 20},
		MountPrefix: "/mnt/phobos",
		LockOwner:   "host-a",
	}
	w := New(device, bundle, dss, disp, cfg, NewFormatIndex())
	return w, dss, disp
}

func TestDispatchableWhenIdleAndRunning(t *testing.T) {
	w, _, _ := newTestWorker(t)
	if !w.Dispatchable() {
		t.Fatalf("freshly constructed idle worker should be dispatchable")
	}
}

func TestDispatchableFalseWhenFailed(t *testing.T) {
	w, _, _ := newTestWorker(t)
	w.mu.Lock()
	w.device.OpStatus = resource.OpFailed
	w.mu.Unlock()
	if w.Dispatchable() {
		t.Fatalf("failed device should never be dispatchable")
	}
}

func TestDispatchableFalseWhenInboxOccupied(t *testing.T) {
	w, _, _ := newTestWorker(t)
	req := &resource.Request{Completion: resource.NewCompletion(1)}
	sub := &resource.SubRequest{Owner: req}
	if !w.Submit(sub) {
		t.Fatalf("submit to empty inbox should succeed")
	}
	if w.Dispatchable() {
		t.Fatalf("worker with an occupied inbox should not be dispatchable")
	}
}

func TestDispatchableFalseWhenStopping(t *testing.T) {
	w, _, _ := newTestWorker(t)
	w.Stop()
	if w.Dispatchable() {
		t.Fatalf("a stopping worker should not be dispatchable")
	}
}

func TestCanTakeEmptyDeviceAcceptsAnything(t *testing.T) {
	w, _, _ := newTestWorker(t)
	target := resource.ID{Family: resource.FamilyTape, Name: "vol-1"}
	sub := &resource.SubRequest{Medium: &target}
	if !w.CanTake(sub) {
		t.Fatalf("an empty device should accept any sub-request")
	}
}

func TestCanTakeMountedDeviceRejectsOtherMedium(t *testing.T) {
	w, _, _ := newTestWorker(t)
	w.mu.Lock()
	w.device.OpStatus = resource.OpMounted
	w.medium = &resource.Medium{ID: resource.ID{Family: resource.FamilyTape, Name: "vol-1"}}
	w.mu.Unlock()

	other := resource.ID{Family: resource.FamilyTape, Name: "vol-2"}
	sub := &resource.SubRequest{Medium: &other}
	if w.CanTake(sub) {
		t.Fatalf("a mounted device should refuse a sub-request pinned to a different medium")
	}

	same := resource.ID{Family: resource.FamilyTape, Name: "vol-1"}
	sameSub := &resource.SubRequest{Medium: &same}
	if !w.CanTake(sameSub) {
		t.Fatalf("a mounted device should accept a sub-request pinned to its own medium")
	}
}

func TestCanTakeAcceptsUnpinnedSubRequest(t *testing.T) {
	w, _, _ := newTestWorker(t)
	w.mu.Lock()
	w.device.OpStatus = resource.OpMounted
	w.medium = &resource.Medium{ID: resource.ID{Family: resource.FamilyTape, Name: "vol-1"}}
	w.mu.Unlock()

	sub := &resource.SubRequest{Medium: nil}
	if !w.CanTake(sub) {
		t.Fatalf("a sub-request with no pinned medium should be takeable by any busy worker")
	}
}

func TestFatalExitPersistsTeardownOrder(t *testing.T) {
	w, dss, disp := newTestWorker(t)

	w.mu.Lock()
	w.device.OpStatus = resource.OpMounted
	w.device.MountPath = w.mountPath()
	w.medium = &resource.Medium{ID: resource.ID{Family: resource.FamilyTape, Name: "vol-1"}}
	w.mu.Unlock()

	req := &resource.Request{Completion: resource.NewCompletion(1)}
	pending := &resource.SubRequest{Owner: req, MediumIndex: 0}
	w.Submit(pending)

	logger := discardLogger()
	w.fatalExit(context.Background(), logger, errors.New("simulated fatal"))

	w.mu.Lock()
	state := w.thread
	opStatus := w.device.OpStatus
	w.mu.Unlock()

	if state != ThreadStopped {
		t.Fatalf("fatalExit should leave the worker ThreadStopped, got %v", state)
	}
	if opStatus != resource.OpEmpty {
		t.Fatalf("fatalExit should unmount and unload down to empty, got %v", opStatus)
	}
	if len(dss.Released) != 1 || !dss.Released[0].Equal(w.device.ID) {
		t.Fatalf("fatalExit should release the device lock, got %+v", dss.Released)
	}
	if len(disp.Responses) != 1 {
		t.Fatalf("fatalExit should respond to the pending sub-request, got %d responses", len(disp.Responses))
	}
	if disp.Responses[0].Status != resource.SubError {
		t.Fatalf("pending sub-request should be answered with SubError, got %v", disp.Responses[0].Status)
	}
}

func TestFatalExitMarksDeviceFailedOnUnmountError(t *testing.T) {
	w, dss, _ := newTestWorker(t)

	fsFake := w.bundle.Filesystem.(*adapterfake.Filesystem)
	fsFake.UmountErr = errors.New("umount failed")

	w.mu.Lock()
	w.device.OpStatus = resource.OpMounted
	w.device.MountPath = w.mountPath()
	w.mu.Unlock()

	logger := discardLogger()
	w.fatalExit(context.Background(), logger, errors.New("simulated fatal"))

	w.mu.Lock()
	admStatus := dss.AdmStatus[w.device.ID]
	w.mu.Unlock()

	if admStatus != resource.AdmFailed {
		t.Fatalf("device should be marked failed when unmount fails, got %v", admStatus)
	}
}
