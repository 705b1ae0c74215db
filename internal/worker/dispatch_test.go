package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/phobos-lrs/lrs/internal/adapter"
	"github.com/phobos-lrs/lrs/internal/adapter/adapterfake"
	"github.com/phobos-lrs/lrs/internal/resource"
)

func newReadAllocSub(t *testing.T, candidates []resource.ID, bound resource.ID, index int) *resource.SubRequest {
	t.Helper()
	req := &resource.Request{
		ID:        "r1",
		Kind:      resource.KindReadAlloc,
		ReadAlloc: &resource.ReadAllocPayload{Required: len(candidates), Candidates: candidates},
	}
	req.Completion = resource.NewCompletion(len(candidates))
	return &resource.SubRequest{Owner: req, MediumIndex: index, Medium: &bound}
}

func TestDispatchReadWriteAdvancesCandidateOnMediumOnlyFailure(t *testing.T) {
	w, dss, disp := newTestWorker(t)
	fsFake := w.bundle.Filesystem.(*adapterfake.Filesystem)
	fsFake.MountErr = errors.New("mount failed")

	candidates := []resource.ID{
		{Family: resource.FamilyTape, Name: "vol-1"},
		{Family: resource.FamilyTape, Name: "vol-2"},
	}
	sub := newReadAllocSub(t, candidates, candidates[0], 0)

	w.dispatchReadWrite(context.Background(), sub, discardLogger())

	if sub.Medium != nil {
		t.Fatalf("expected the binding cleared so the dispatcher's binder advances to the next candidate, got %v", sub.Medium)
	}
	if len(disp.Retries) != 1 || disp.Retries[0].Reason != RetryMediumCandidatesRemain {
		t.Fatalf("expected a candidates-remain retry, got %+v", disp.Retries)
	}
	if len(dss.MediaSets) != 1 || dss.MediaSets[0].AdmStatus != resource.AdmFailed {
		t.Fatalf("expected the failed medium's adm_status persisted, got %+v", dss.MediaSets)
	}
	if len(dss.Released) != 1 || !dss.Released[0].Equal(candidates[0]) {
		t.Fatalf("expected the failed medium's lock released, got %+v", dss.Released)
	}
}

func TestDispatchReadWriteFailsFatallyWhenCandidatesExhaustedButStillPersists(t *testing.T) {
	w, dss, disp := newTestWorker(t)
	fsFake := w.bundle.Filesystem.(*adapterfake.Filesystem)
	fsFake.MountErr = errors.New("mount failed")

	candidates := []resource.ID{{Family: resource.FamilyTape, Name: "vol-1"}}
	sub := newReadAllocSub(t, candidates, candidates[0], 0)

	w.dispatchReadWrite(context.Background(), sub, discardLogger())

	if len(disp.Retries) != 0 {
		t.Fatalf("expected no retry once candidates are exhausted, got %+v", disp.Retries)
	}
	if len(disp.Responses) != 1 || disp.Responses[0].Status != resource.SubError {
		t.Fatalf("expected the sub-request answered with SubError, got %+v", disp.Responses)
	}
	if len(dss.MediaSets) != 1 || dss.MediaSets[0].AdmStatus != resource.AdmFailed {
		t.Fatalf("expected the medium marked failed in DSS even on the exhausted path, got %+v", dss.MediaSets)
	}
	if len(dss.Released) != 1 {
		t.Fatalf("expected the medium's lock released on the exhausted path, got %+v", dss.Released)
	}
}

func TestDispatchReadWritePersistsFSFullOnAlmostFullWrite(t *testing.T) {
	w, dss, disp := newTestWorker(t)
	fsFake := w.bundle.Filesystem.(*adapterfake.Filesystem)
	fsFake.DFSpace = adapter.SpaceInfo{ReadOnly: true, PhysFreeBytes: 1 << 10}

	target := resource.ID{Family: resource.FamilyTape, Name: "vol-1"}
	w.mu.Lock()
	w.device.OpStatus = resource.OpMounted
	w.device.MountPath = w.mountPath()
	w.medium = &resource.Medium{ID: target}
	w.mu.Unlock()

	req := &resource.Request{
		ID:         "r1",
		Kind:       resource.KindWriteAlloc,
		WriteAlloc: &resource.WriteAllocPayload{Required: 1},
	}
	req.Completion = resource.NewCompletion(1)
	sub := &resource.SubRequest{Owner: req, MediumIndex: 0, Medium: &target}

	w.dispatchReadWrite(context.Background(), sub, discardLogger())

	if len(disp.Retries) != 1 || disp.Retries[0].Reason != RetryMediumCandidatesRemain {
		t.Fatalf("expected a retry on an almost-full medium, got %+v", disp.Retries)
	}
	if len(dss.MediaSets) != 1 || dss.MediaSets[0].FSStatus != resource.FSFull {
		t.Fatalf("expected fs_status=full persisted to the DSS, got %+v", dss.MediaSets)
	}

	w.mu.Lock()
	fsStatus := w.medium.FSStatus
	w.mu.Unlock()
	if fsStatus != resource.FSFull {
		t.Fatalf("expected the in-memory medium updated too, got %v", fsStatus)
	}
}

func TestCumulativeClientRCPrefersEntryOverCompletion(t *testing.T) {
	req := &resource.Request{Completion: resource.NewCompletion(2)}
	owned := &resource.SubRequest{Owner: req, MediumIndex: 0}
	entries := []*resource.SyncEntry{
		{Sub: owned, ClientRC: 7},
		{Sub: owned},
	}
	if rc := resource.CumulativeClientRC(entries); rc != 7 {
		t.Fatalf("expected the entry's own ClientRC to win, got %d", rc)
	}
}

func TestCumulativeClientRCFallsBackToCompletionRC(t *testing.T) {
	req := &resource.Request{Completion: resource.NewCompletion(1)}
	req.Completion.SetRC(-5)
	sub := &resource.SubRequest{Owner: req, MediumIndex: 0}
	entries := []*resource.SyncEntry{{Sub: sub}}
	if rc := resource.CumulativeClientRC(entries); rc != -5 {
		t.Fatalf("expected a sibling's internal failure rc to force the flush, got %d", rc)
	}
}

func TestCumulativeClientRCZeroWhenNothingFailed(t *testing.T) {
	req := &resource.Request{Completion: resource.NewCompletion(1)}
	sub := &resource.SubRequest{Owner: req, MediumIndex: 0}
	entries := []*resource.SyncEntry{{Sub: sub}}
	if rc := resource.CumulativeClientRC(entries); rc != 0 {
		t.Fatalf("expected zero rc when nothing failed, got %d", rc)
	}
}
