package worker

import (
	"context"

	"github.com/phobos-lrs/lrs/internal/resource"
)

// DSSClient is the slice of the DSS surface a device worker needs:
// persisting device/medium state and the distributed lock discipline
// that must be consistent before any state-mutating adapter call
// returns control to the caller (§5). Defined here, at the point of
// use, rather than imported from internal/dss — internal/dss's
// concrete client satisfies this structurally.
type DSSClient interface {
	DeviceUpdateAdmStatus(ctx context.Context, id resource.ID, status resource.AdmStatus) error
	DeviceRelease(ctx context.Context, id resource.ID, owner string) error
	MediaSet(ctx context.Context, medium resource.Medium, fields uint64) error
	MediaRelease(ctx context.Context, id resource.ID, owner string) error
	Lock(ctx context.Context, id resource.ID, owner string) error
	Unlock(ctx context.Context, id resource.ID, owner string) error
	EmitLog(ctx context.Context, record LogRecord) error
}

// LogRecord is one append-only DSS log row (§6).
type LogRecord struct {
	DeviceID  resource.ID
	MediumID  *resource.ID
	Op        string
	RC        int32
	Message   string
}

// Dispatcher is the slice of the dispatcher's surface a worker needs: the
// retry and response sinks (§4.E). internal/dispatch.Dispatcher satisfies
// this structurally.
type Dispatcher interface {
	Retry(sub *resource.SubRequest, reason RetryReason)
	Respond(sub *resource.SubRequest, status resource.SubStatus, rc int32)
}

// RetryReason classifies why a sub-request was handed back to the
// dispatcher's retry queue (§4.E retry semantics).
type RetryReason int

const (
	// RetryMediumCandidatesRemain: medium-level failure, candidates remain.
	RetryMediumCandidatesRemain RetryReason = iota
	// RetryTransientMoveRefused: drive-to-drive move refused, not a failure.
	RetryTransientMoveRefused
	// RetryDeviceShutdown: device-level failure, worker is shutting down.
	RetryDeviceShutdown
)
