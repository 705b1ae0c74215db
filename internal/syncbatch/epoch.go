package syncbatch

import (
	"context"
	"errors"
	"time"

	"github.com/phobos-lrs/lrs/internal/adapter"
	"github.com/phobos-lrs/lrs/internal/lrserr"
	"github.com/phobos-lrs/lrs/internal/resource"
)

// DSSClient is the slice of the DSS surface the epoch protocol needs to
// persist medium state. internal/dss's concrete client satisfies this
// structurally.
type DSSClient interface {
	MediaSet(ctx context.Context, medium resource.Medium, fields uint64) error
}

// Medium state field bitmask bits for MediaSet, per §6's media_set.
const (
	FieldFSStatus      uint64 = 1 << iota
	FieldPhysUsedBytes
	FieldPhysFreeBytes
	FieldLogicalUsed
	FieldObjectCount
	FieldAdmStatus
)

// EntryOutcome is the terminal status assigned to one enrolled entry.
type EntryOutcome struct {
	Entry  *resource.SyncEntry
	Status resource.SubStatus
	RC     int32
}

// EpochResult is everything RunEpoch produced, for the worker to apply
// against its own request-completion bookkeeping and response sink.
type EpochResult struct {
	Outcomes     []EntryOutcome
	MediumFailed bool
	SyncedBytes  int64
	Duration     time.Duration
	FirstErrorRC int32
}

// RunEpoch executes the five-step epoch protocol (§4.D) against a
// frozen snapshot of enrolled entries. The caller must have already
// taken the snapshot and reset the live batch under the worker mutex
// (steps 1 and 5 are the caller's bracket; this function performs
// steps 2-4).
//
// If clientRC is non-zero, no adapter I/O is performed — every entry is
// failed immediately and the medium is marked failed, matching the
// "no I/O sync is performed" forced-flush rule.
func RunEpoch(
	ctx context.Context,
	entries []*resource.SyncEntry,
	medium *resource.Medium,
	handle adapter.Handle,
	fs adapter.Filesystem,
	mountPath string,
	dss DSSClient,
	clientRC int32,
) (EpochResult, error) {
	live := make([]*resource.SyncEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Canceled {
			live = append(live, e)
		}
	}

	if clientRC != 0 {
		return forcedFailEpoch(ctx, live, medium, dss, clientRC)
	}

	start := time.Now()
	syncErr := handle.MediumSync(ctx)
	duration := time.Since(start)

	result := EpochResult{Duration: duration}

	if syncErr == nil {
		space, dfErr := fs.DF(ctx, mountPath)
		if dfErr == nil {
			applySpaceUpdate(medium, live, space)
			if err := persistMediumSuccess(ctx, dss, medium); err != nil {
				return result, err
			}
		} else {
			syncErr = dfErr
		}
	}

	if syncErr != nil {
		medium.AdmStatus = resource.AdmFailed
		result.MediumFailed = true
		if err := dss.MediaSet(ctx, *medium, FieldAdmStatus); err != nil {
			return result, err
		}
	}

	for i, e := range live {
		if syncErr != nil {
			rc := int32(-1)
			var le *lrserr.Error
			if errors.As(syncErr, &le) {
				rc = int32(le.Errno)
			}
			if result.FirstErrorRC == 0 {
				result.FirstErrorRC = rc
			}
			result.Outcomes = append(result.Outcomes, EntryOutcome{Entry: live[i], Status: resource.SubError, RC: rc})
			continue
		}
		result.SyncedBytes += e.WrittenSize
		result.Outcomes = append(result.Outcomes, EntryOutcome{Entry: live[i], Status: resource.SubDone, RC: 0})
	}

	return result, nil
}

func forcedFailEpoch(ctx context.Context, live []*resource.SyncEntry, medium *resource.Medium, dss DSSClient, clientRC int32) (EpochResult, error) {
	medium.AdmStatus = resource.AdmFailed
	if err := dss.MediaSet(ctx, *medium, FieldAdmStatus); err != nil {
		return EpochResult{MediumFailed: true}, err
	}
	outcomes := make([]EntryOutcome, len(live))
	for i, e := range live {
		outcomes[i] = EntryOutcome{Entry: e, Status: resource.SubError, RC: clientRC}
	}
	return EpochResult{Outcomes: outcomes, MediumFailed: true, FirstErrorRC: clientRC}, nil
}

func applySpaceUpdate(medium *resource.Medium, live []*resource.SyncEntry, space adapter.SpaceInfo) {
	if medium.FSStatus == resource.FSEmpty && len(live) > 0 {
		medium.FSStatus = resource.FSUsed
	}
	medium.PhysUsedBytes = space.PhysUsedBytes
	medium.PhysFreeBytes = space.PhysFreeBytes
	if medium.PhysFreeBytes == 0 {
		medium.FSStatus = resource.FSFull
	}
	for _, e := range live {
		medium.LogicalUsed += e.WrittenSize
		medium.ObjectCount += e.Sub.ObjectDelta
	}
}

func persistMediumSuccess(ctx context.Context, dss DSSClient, medium *resource.Medium) error {
	fields := FieldFSStatus | FieldPhysUsedBytes | FieldPhysFreeBytes | FieldLogicalUsed | FieldObjectCount
	return dss.MediaSet(ctx, *medium, fields)
}
