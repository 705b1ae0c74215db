// Package adapter is the Device Adapter Facade (spec.md §4.A): a uniform
// capability surface over library, drive, filesystem and I/O adapters,
// selected at runtime by resource family. Grounded on the teacher's
// internal/backend.Backend/Client pair — a multi-family capability
// interface with several concrete implementations registered at startup.
package adapter

import "context"

// LocationKind tags where a medium currently sits, per spec.md §4.A.
type LocationKind int

const (
	LocationUnknown LocationKind = iota
	LocationDrive
	LocationSlot
	LocationArm
	LocationImpExp
)

// Location is an opaque library address plus its kind tag.
type Location struct {
	Kind LocationKind
	Addr uint32
}

// DriveInfo is what Drive.Query reports about a drive path.
type DriveInfo struct {
	Model  string
	Serial string
	Family string
}

// SpaceInfo is what Filesystem.Format/DF report about medium space.
type SpaceInfo struct {
	PhysUsedBytes int64
	PhysFreeBytes int64
	ReadOnly      bool
}

// Library is the mechanical system that moves media between slots and
// drives. The facade guarantees that two consecutive DriveLookup calls on
// a stable library return identical addresses; any inconsistency forces a
// reopen by the caller.
type Library interface {
	Open(ctx context.Context) error
	Close() error
	DriveLookup(ctx context.Context, serial string) (Location, error)
	MediumLookup(ctx context.Context, label string) (Location, error)
	Move(ctx context.Context, src, dst Location) error
	Scan(ctx context.Context) ([]byte, error)
}

// Drive is the per-drive control surface. Load/Eject may be no-ops on
// families where the library performs the physical motion (e.g. tape,
// where Library.Move does the load). Families with no drive at all
// (disk, rados_pool) leave Bundle.Drive nil.
type Drive interface {
	Lookup(ctx context.Context, id string) (string, error)
	Query(ctx context.Context, path string) (DriveInfo, error)
	Load(ctx context.Context, path string) error
	Eject(ctx context.Context, path string) error
}

// Filesystem is the mount/format/df surface. Mount must refuse if the
// on-medium label does not match the requested label.
type Filesystem interface {
	Mount(ctx context.Context, devPath, mountPath, label string) error
	Umount(ctx context.Context, mountPath string) error
	Format(ctx context.Context, devPath, label string) (SpaceInfo, error)
	MountedAt(ctx context.Context, devPath string) (mountPath string, ok bool, err error)
	DF(ctx context.Context, mountPath string) (SpaceInfo, error)
	GetLabel(ctx context.Context, devPath string) (string, error)
}

// Handle is an open I/O handle returned by IO.Open.
type Handle interface {
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	WriteAt(ctx context.Context, p []byte, off int64) (int, error)
	Close(ctx context.Context) error
	Delete(ctx context.Context) error
	MediumSync(ctx context.Context) error
}

// IO is the raw I/O surface. PreferredIOSize participates in the
// copy_extent chunk-size precedence: preferred_io_size, else the
// configured block size, else the OS page size.
type IO interface {
	Open(ctx context.Context, path string, flags int) (Handle, error)
	PreferredIOSize() int
}

// Bundle is the full capability set for one resource family.
type Bundle struct {
	Library    Library // nil for families with no mechanical library (disk, rados_pool)
	Drive      Drive   // nil for families with no per-drive control surface
	Filesystem Filesystem
	IO         IO
}
