package dispatch

import (
	"context"
	"sync"

	"github.com/phobos-lrs/lrs/internal/reqfanout"
	"github.com/phobos-lrs/lrs/internal/resource"
)

// MediaCatalog answers "which media of family could serve a write_alloc
// request" (tag-filtered, with usable free space), the one piece of
// DSS read access the dispatcher needs beyond the device table itself.
// internal/dss.Store satisfies this structurally.
type MediaCatalog interface {
	CandidatesForWrite(ctx context.Context, family resource.Family, minFree int64) ([]resource.Medium, error)
}

// binder tracks, per unbound sub-request, which candidate medium IDs
// have already been tried, so a retried sub-request advances to the
// next candidate instead of looping on one that already failed.
// Grounded on the teacher's functionPoolKeys sync.Map-keyed bookkeeping
// style (internal/worker.FormatIndex borrows the same pattern).
type binder struct {
	mu   sync.Mutex
	seen map[*resource.SubRequest]map[resource.ID]bool
}

func newBinder() *binder {
	return &binder{seen: make(map[*resource.SubRequest]map[resource.ID]bool)}
}

func (b *binder) forget(sub *resource.SubRequest) {
	b.mu.Lock()
	delete(b.seen, sub)
	b.mu.Unlock()
}

func (b *binder) tried(sub *resource.SubRequest) map[resource.ID]bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seen[sub] == nil {
		b.seen[sub] = make(map[resource.ID]bool)
	}
	return b.seen[sub]
}

func (b *binder) markTried(sub *resource.SubRequest, id resource.ID) {
	b.mu.Lock()
	if b.seen[sub] == nil {
		b.seen[sub] = make(map[resource.ID]bool)
	}
	b.seen[sub][id] = true
	b.mu.Unlock()
}

// bind resolves sub.Medium for an unbound read_alloc/write_alloc
// sub-request. Returns bound=false, exhausted=true when every
// candidate has already been tried (the caller should fail the
// sub-request); bound=false, exhausted=false when no untried candidate
// is known yet but more may appear later (e.g. the catalog query
// itself failed transiently).
func (d *Dispatcher) bind(ctx context.Context, sub *resource.SubRequest) (bound, exhausted bool) {
	switch sub.Owner.Kind {
	case resource.KindReadAlloc:
		return d.bindReadAlloc(sub)
	case resource.KindWriteAlloc:
		return d.bindWriteAlloc(ctx, sub)
	default:
		// format/release subs are always bound at fan-out time.
		return false, true
	}
}

func (d *Dispatcher) bindReadAlloc(sub *resource.SubRequest) (bound, exhausted bool) {
	if sub.Owner.ReadAlloc == nil {
		return false, true
	}
	tried := d.binder.tried(sub)
	for _, candidate := range sub.Owner.ReadAlloc.Candidates {
		if tried[candidate] {
			continue
		}
		medium := candidate
		sub.Medium = &medium
		d.binder.markTried(sub, candidate)
		return true, false
	}
	return false, true
}

func (d *Dispatcher) bindWriteAlloc(ctx context.Context, sub *resource.SubRequest) (bound, exhausted bool) {
	if sub.Owner.WriteAlloc == nil || d.catalog == nil {
		return false, true
	}

	family := d.anyFamily()
	candidates, err := d.catalog.CandidatesForWrite(ctx, family, sub.Owner.WriteAlloc.MinFreeHint)
	if err != nil {
		return false, false
	}
	candidates = reqfanout.FilterByTags(candidates, sub.Owner.WriteAlloc.TagFilter)

	tried := d.binder.tried(sub)
	for _, m := range candidates {
		if tried[m.ID] || m.AdmStatus != resource.AdmUnlocked || m.Lock.Held() {
			continue
		}
		medium := m.ID
		sub.Medium = &medium
		d.binder.markTried(sub, medium)
		return true, false
	}
	if len(candidates) == 0 {
		return false, false
	}
	return false, true
}

// anyFamily reports the family of an arbitrary registered device, the
// best guess available without a family argument threaded through the
// write_alloc payload (spec.md's write_alloc request carries a tag
// filter, not a family; a daemon instance serves exactly one family in
// practice, matching one device table).
func (d *Dispatcher) anyFamily() resource.Family {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for id := range d.devices {
		return id.Family
	}
	return ""
}
