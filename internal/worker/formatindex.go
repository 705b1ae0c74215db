package worker

import (
	"sync"

	"github.com/phobos-lrs/lrs/internal/resource"
)

// FormatIndex is the global "ongoing format" set (§4.C.1), letting
// concurrent format admission see in-flight formats across devices.
// Grounded on the teacher's sync.Map-keyed pool bookkeeping style
// (functionPoolKeys): read-heavy, write-once-per-in-flight-format.
type FormatIndex struct {
	inflight sync.Map // resource.ID -> struct{}
}

// NewFormatIndex returns an empty index.
func NewFormatIndex() *FormatIndex { return &FormatIndex{} }

// Register marks id as having an in-flight format.
func (idx *FormatIndex) Register(id resource.ID) { idx.inflight.Store(id, struct{}{}) }

// Unregister clears id's in-flight format marker.
func (idx *FormatIndex) Unregister(id resource.ID) { idx.inflight.Delete(id) }

// Ongoing reports whether id currently has a format in flight.
func (idx *FormatIndex) Ongoing(id resource.ID) bool {
	_, ok := idx.inflight.Load(id)
	return ok
}
