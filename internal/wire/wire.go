// Package wire defines the client request/response Go types (spec.md
// §6.D): ping, format, read_alloc, write_alloc, release, notify, plus
// the protocol version byte. It deliberately does not open sockets or
// frame bytes — a caller supplies its own framing and hands decoded
// Request values to a dispatcher.
package wire

import (
	"errors"

	"github.com/phobos-lrs/lrs/internal/resource"
)

// ProtocolVersion is the first octet of every framed message.
const ProtocolVersion byte = 1

// ErrUnsupportedVersion is returned when a decoded message's version
// octet does not match ProtocolVersion.
var ErrUnsupportedVersion = errors.New("wire: unsupported protocol version")

// CheckVersion validates a decoded version octet.
func CheckVersion(v byte) error {
	if v != ProtocolVersion {
		return ErrUnsupportedVersion
	}
	return nil
}

// Kind tags a Request's variant.
type Kind int

const (
	KindPing Kind = iota
	KindFormat
	KindReadAlloc
	KindWriteAlloc
	KindRelease
	KindNotify
)

// PingRequest carries no payload beyond the originating request id.
type PingRequest struct{}

// FormatRequest asks the daemon to format medium.
type FormatRequest struct {
	Medium resource.ID
	FSType string
	Unlock bool
}

// ReadAllocRequest asks for n media able to satisfy a read, trying the
// given candidates in order.
type ReadAllocRequest struct {
	Required  int
	MediumIDs []resource.ID
}

// WriteAllocRequest asks for n media able to satisfy a write matching
// tags and a minimum free-space hint.
type WriteAllocRequest struct {
	Required    int
	Tags        []string
	MinSizeHint int64
}

// ReleaseMediumEntry is one medium's worth of release accounting.
type ReleaseMediumEntry struct {
	Medium      resource.ID
	SizeWritten int64
	ObjectDelta int64
	ClientRC    int32
	ToSync      bool
}

// ReleaseRequest reports completion of one or more allocations.
type ReleaseRequest struct {
	Entries []ReleaseMediumEntry
}

// NotifyRequest informs the daemon of a device's addition or removal.
type NotifyRequest struct {
	Family    resource.Family
	Name      string
	AddDevice bool
}

// Request is the decoded client request envelope. Exactly one of the
// kind-tagged payload fields is populated, matching Kind.
type Request struct {
	ID   string
	Kind Kind

	Ping       *PingRequest
	Format     *FormatRequest
	ReadAlloc  *ReadAllocRequest
	WriteAlloc *WriteAllocRequest
	Release    *ReleaseRequest
	Notify     *NotifyRequest
}

// MediumResult is one medium's outcome within a Response.
type MediumResult struct {
	Medium resource.ID
	RC     int32
}

// Response carries the originating request id and the per-medium
// outcomes (empty for ping/notify, which succeed or fail as a whole).
type Response struct {
	RequestID string
	RC        int32
	Results   []MediumResult
}
