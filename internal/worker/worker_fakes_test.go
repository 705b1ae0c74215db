package worker

import (
	"context"
	"sync"

	"github.com/phobos-lrs/lrs/internal/resource"
)

// fakeDSS is an in-memory fake of DSSClient, recording calls for
// assertions and allowing injected errors, in the teacher's mockSink
// style (internal/logsink).
type fakeDSS struct {
	mu sync.Mutex

	AdmStatus map[resource.ID]resource.AdmStatus
	Released  []resource.ID
	MediaSets []resource.Medium
	Logs      []LogRecord

	DeviceUpdateErr  error
	DeviceReleaseErr error
	MediaSetErr      error
	MediaReleaseErr  error
	LockErr          error
}

func newFakeDSS() *fakeDSS {
	return &fakeDSS{AdmStatus: make(map[resource.ID]resource.AdmStatus)}
}

func (f *fakeDSS) DeviceUpdateAdmStatus(ctx context.Context, id resource.ID, status resource.AdmStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeviceUpdateErr != nil {
		return f.DeviceUpdateErr
	}
	f.AdmStatus[id] = status
	return nil
}

func (f *fakeDSS) DeviceRelease(ctx context.Context, id resource.ID, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeviceReleaseErr != nil {
		return f.DeviceReleaseErr
	}
	f.Released = append(f.Released, id)
	return nil
}

func (f *fakeDSS) MediaSet(ctx context.Context, medium resource.Medium, fields uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MediaSetErr != nil {
		return f.MediaSetErr
	}
	f.MediaSets = append(f.MediaSets, medium)
	return nil
}

func (f *fakeDSS) MediaRelease(ctx context.Context, id resource.ID, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MediaReleaseErr != nil {
		return f.MediaReleaseErr
	}
	f.Released = append(f.Released, id)
	return nil
}

func (f *fakeDSS) Lock(ctx context.Context, id resource.ID, owner string) error   { return f.LockErr }
func (f *fakeDSS) Unlock(ctx context.Context, id resource.ID, owner string) error { return nil }

func (f *fakeDSS) EmitLog(ctx context.Context, record LogRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Logs = append(f.Logs, record)
	return nil
}

// fakeDispatcher is an in-memory fake of Dispatcher.
type fakeDispatcher struct {
	mu sync.Mutex

	Retries   []retryCall
	Responses []responseCall
}

type retryCall struct {
	Sub    *resource.SubRequest
	Reason RetryReason
}

type responseCall struct {
	Sub    *resource.SubRequest
	Status resource.SubStatus
	RC     int32
}

func newFakeDispatcher() *fakeDispatcher { return &fakeDispatcher{} }

func (f *fakeDispatcher) Retry(sub *resource.SubRequest, reason RetryReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Retries = append(f.Retries, retryCall{Sub: sub, Reason: reason})
}

func (f *fakeDispatcher) Respond(sub *resource.SubRequest, status resource.SubStatus, rc int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses = append(f.Responses, responseCall{Sub: sub, Status: status, RC: rc})
}
