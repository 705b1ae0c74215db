// Package reqfanout normalizes an admitted resource.Request into its
// per-medium resource.SubRequest slice and builds the request's
// resource.Completion, per spec.md §4.B.
//
// Grounded on the teacher's internal/pool.functionPool locking
// discipline (RWMutex for reads, atomics for hot counters): here a
// plain mutex over the status array lives in resource.Completion, and
// the "last writer frees the request" rule is checked under that mutex
// together with Completion's remaining counter.
package reqfanout

import (
	"fmt"

	"github.com/phobos-lrs/lrs/internal/resource"
)

// Normalize builds the sub-request slice and completion structure for
// req, per kind:
//
//   - format: exactly one sub-request, bound to the named medium.
//   - read_alloc: Required sub-requests, medium unbound, sharing the
//     candidate list.
//   - write_alloc: Required sub-requests, medium unbound.
//   - release: one sub-request per ReleaseEntry.
func Normalize(req *resource.Request) ([]*resource.SubRequest, error) {
	switch req.Kind {
	case resource.KindFormat:
		return normalizeFormat(req)
	case resource.KindReadAlloc:
		return normalizeReadAlloc(req)
	case resource.KindWriteAlloc:
		return normalizeWriteAlloc(req)
	case resource.KindRelease:
		return normalizeRelease(req)
	default:
		return nil, fmt.Errorf("reqfanout: unknown request kind %d", req.Kind)
	}
}

func normalizeFormat(req *resource.Request) ([]*resource.SubRequest, error) {
	if req.Format == nil {
		return nil, fmt.Errorf("reqfanout: format request %s missing payload", req.ID)
	}
	medium := req.Format.Medium
	req.Completion = resource.NewCompletion(1)
	return []*resource.SubRequest{{
		Owner:       req,
		MediumIndex: 0,
		Medium:      &medium,
		Arrival:     req.Arrival,
	}}, nil
}

func normalizeReadAlloc(req *resource.Request) ([]*resource.SubRequest, error) {
	if req.ReadAlloc == nil || req.ReadAlloc.Required <= 0 {
		return nil, fmt.Errorf("reqfanout: read_alloc request %s missing or zero-required payload", req.ID)
	}
	n := req.ReadAlloc.Required
	req.Completion = resource.NewCompletion(n)
	subs := make([]*resource.SubRequest, n)
	for i := 0; i < n; i++ {
		subs[i] = &resource.SubRequest{
			Owner:       req,
			MediumIndex: i,
			Arrival:     req.Arrival,
		}
	}
	return subs, nil
}

func normalizeWriteAlloc(req *resource.Request) ([]*resource.SubRequest, error) {
	if req.WriteAlloc == nil || req.WriteAlloc.Required <= 0 {
		return nil, fmt.Errorf("reqfanout: write_alloc request %s missing or zero-required payload", req.ID)
	}
	n := req.WriteAlloc.Required
	req.Completion = resource.NewCompletion(n)
	subs := make([]*resource.SubRequest, n)
	for i := 0; i < n; i++ {
		subs[i] = &resource.SubRequest{
			Owner:       req,
			MediumIndex: i,
			Arrival:     req.Arrival,
		}
	}
	return subs, nil
}

func normalizeRelease(req *resource.Request) ([]*resource.SubRequest, error) {
	if req.Release == nil || len(req.Release.Entries) == 0 {
		return nil, fmt.Errorf("reqfanout: release request %s missing entries", req.ID)
	}
	n := len(req.Release.Entries)
	req.Completion = resource.NewCompletion(n)
	subs := make([]*resource.SubRequest, n)
	for i, e := range req.Release.Entries {
		medium := e.Medium
		subs[i] = &resource.SubRequest{
			Owner:       req,
			MediumIndex: i,
			Medium:      &medium,
			WrittenSize: e.WrittenSize,
			ObjectDelta: e.ObjectDelta,
			ToSync:      e.ToSync,
			ClientRC:    e.ClientRC,
			Arrival:     req.Arrival,
		}
	}
	return subs, nil
}

// FilterByTags returns the subset of candidates whose Tags are a
// superset of required, preserving order. An empty required filter
// matches everything.
func FilterByTags(candidates []resource.Medium, required []string) []resource.Medium {
	if len(required) == 0 {
		return candidates
	}
	out := make([]resource.Medium, 0, len(candidates))
	for _, m := range candidates {
		if m.Tags.SupersetOf(required) {
			out = append(out, m)
		}
	}
	return out
}
