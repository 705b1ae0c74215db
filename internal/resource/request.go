package resource

import "time"

// RequestKind tags the payload carried by a Request.
type RequestKind int

const (
	KindFormat RequestKind = iota
	KindReadAlloc
	KindWriteAlloc
	KindRelease
)

func (k RequestKind) String() string {
	switch k {
	case KindFormat:
		return "format"
	case KindReadAlloc:
		return "read_alloc"
	case KindWriteAlloc:
		return "write_alloc"
	case KindRelease:
		return "release"
	default:
		return "unknown"
	}
}

// FormatPayload is the body of a format request.
type FormatPayload struct {
	Medium       ID
	FSType       string
	UnlockOnDone bool
}

// ReadAllocPayload is the body of a read-allocation request.
type ReadAllocPayload struct {
	Required   int
	Candidates []ID // tried in order
}

// WriteAllocPayload is the body of a write-allocation request.
type WriteAllocPayload struct {
	Required    int
	TagFilter   []string
	MinFreeHint int64
}

// ReleaseEntry is one medium's worth of release accounting.
type ReleaseEntry struct {
	Medium       ID
	WrittenSize  int64
	ObjectDelta  int64
	ClientRC     int32
	ToSync       bool
}

// ReleasePayload is the body of a release request.
type ReleasePayload struct {
	Entries []ReleaseEntry
}

// Request is the immutable header plus kind-tagged payload a client submits.
// The header never changes after admission; the payload is read-only once
// normalized into sub-requests (§4.B).
type Request struct {
	ID        string
	Arrival   time.Time
	ClientTag string // opaque tag identifying the originating client socket

	Kind          RequestKind
	Format        *FormatPayload
	ReadAlloc     *ReadAllocPayload
	WriteAlloc    *WriteAllocPayload
	Release       *ReleasePayload

	Completion *Completion
}

// SubStatus is the terminal/non-terminal status of one sub-request.
// Transitions are monotone except todo -> cancel, which is legal and
// terminal (§3).
type SubStatus int

const (
	SubTodo SubStatus = iota
	SubDone
	SubError
	SubCancel
)

func (s SubStatus) Terminal() bool {
	return s == SubDone || s == SubError || s == SubCancel
}

func (s SubStatus) String() string {
	switch s {
	case SubTodo:
		return "todo"
	case SubDone:
		return "done"
	case SubError:
		return "error"
	case SubCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// SubRequest is the unit of work bound to exactly one medium. Its lifecycle
// is bound to the owning Request; the last sub-request to reach a terminal
// status frees the Request (invariant 2, §8).
type SubRequest struct {
	Owner        *Request
	MediumIndex  int  // index into the owning request's candidate/entry list
	Medium       *ID  // nil until the dispatcher/allocator binds one
	MediumFailed bool

	// WrittenSize/ObjectDelta/ToSync/ClientRC mirror the originating
	// ReleaseEntry for release sub-requests; zero otherwise.
	WrittenSize int64
	ObjectDelta int64
	ToSync      bool
	ClientRC    int32

	Arrival time.Time
}
