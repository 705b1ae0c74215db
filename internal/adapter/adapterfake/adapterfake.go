// Package adapterfake provides in-memory fakes for the adapter
// capability interfaces, for use in tests of packages that depend on
// internal/adapter without exercising real SCSI/filesystem/library
// calls.
//
// Grounded on the teacher's mockSink pattern (internal/logsink):
// plain structs recording calls and returning injectable errors, no
// mocking framework.
package adapterfake

import (
	"context"
	"io"
	"sync"

	"github.com/phobos-lrs/lrs/internal/adapter"
)

// Library is an in-memory fake of adapter.Library.
type Library struct {
	mu sync.Mutex

	OpenErr  error
	CloseErr error
	MoveErr  error
	ScanErr  error

	DriveLocations  map[string]adapter.Location
	MediumLocations map[string]adapter.Location

	Moves []MoveCall
}

type MoveCall struct{ Src, Dst adapter.Location }

func NewLibrary() *Library {
	return &Library{
		DriveLocations:  make(map[string]adapter.Location),
		MediumLocations: make(map[string]adapter.Location),
	}
}

func (l *Library) Open(ctx context.Context) error { return l.OpenErr }
func (l *Library) Close() error                   { return l.CloseErr }

func (l *Library) DriveLookup(ctx context.Context, serial string) (adapter.Location, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	loc, ok := l.DriveLocations[serial]
	if !ok {
		return adapter.Location{}, errNotFound("drive", serial)
	}
	return loc, nil
}

func (l *Library) MediumLookup(ctx context.Context, label string) (adapter.Location, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	loc, ok := l.MediumLocations[label]
	if !ok {
		return adapter.Location{}, errNotFound("medium", label)
	}
	return loc, nil
}

func (l *Library) Move(ctx context.Context, src, dst adapter.Location) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Moves = append(l.Moves, MoveCall{Src: src, Dst: dst})
	return l.MoveErr
}

func (l *Library) Scan(ctx context.Context) ([]byte, error) { return nil, l.ScanErr }

// Drive is an in-memory fake of adapter.Drive.
type Drive struct {
	mu sync.Mutex

	Info      adapter.DriveInfo
	LookupErr error
	QueryErr  error
	LoadErr   error
	EjectErr  error

	Loaded  map[string]bool
	Ejected int
}

func NewDrive() *Drive {
	return &Drive{Loaded: make(map[string]bool)}
}

func (d *Drive) Lookup(ctx context.Context, id string) (string, error) { return id, d.LookupErr }
func (d *Drive) Query(ctx context.Context, path string) (adapter.DriveInfo, error) {
	return d.Info, d.QueryErr
}

func (d *Drive) Load(ctx context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.LoadErr != nil {
		return d.LoadErr
	}
	d.Loaded[path] = true
	return nil
}

func (d *Drive) Eject(ctx context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Ejected++
	if d.EjectErr != nil {
		return d.EjectErr
	}
	delete(d.Loaded, path)
	return nil
}

// Filesystem is an in-memory fake of adapter.Filesystem.
type Filesystem struct {
	mu sync.Mutex

	MountErr     error
	UmountErr    error
	FormatErr    error
	GetLabelErr  error
	DFErr        error
	FormatSpace  adapter.SpaceInfo
	DFSpace      adapter.SpaceInfo
	Labels       map[string]string // devPath -> on-medium label
	mounted      map[string]string // devPath -> mountPath
}

func NewFilesystem() *Filesystem {
	return &Filesystem{
		Labels:  make(map[string]string),
		mounted: make(map[string]string),
	}
}

func (f *Filesystem) Mount(ctx context.Context, devPath, mountPath, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MountErr != nil {
		return f.MountErr
	}
	f.mounted[devPath] = mountPath
	f.Labels[devPath] = label
	return nil
}

func (f *Filesystem) Umount(ctx context.Context, mountPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UmountErr != nil {
		return f.UmountErr
	}
	for dev, mp := range f.mounted {
		if mp == mountPath {
			delete(f.mounted, dev)
		}
	}
	return nil
}

func (f *Filesystem) Format(ctx context.Context, devPath, label string) (adapter.SpaceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FormatErr != nil {
		return adapter.SpaceInfo{}, f.FormatErr
	}
	f.Labels[devPath] = label
	return f.FormatSpace, nil
}

func (f *Filesystem) MountedAt(ctx context.Context, devPath string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mp, ok := f.mounted[devPath]
	return mp, ok, nil
}

func (f *Filesystem) DF(ctx context.Context, mountPath string) (adapter.SpaceInfo, error) {
	return f.DFSpace, f.DFErr
}

func (f *Filesystem) GetLabel(ctx context.Context, devPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetLabelErr != nil {
		return "", f.GetLabelErr
	}
	return f.Labels[devPath], nil
}

// Handle is an in-memory fake of adapter.Handle backed by a byte slice.
type Handle struct {
	mu sync.Mutex

	Data       []byte
	ReadErr    error
	WriteErr   error
	CloseErr   error
	DeleteErr  error
	SyncErr    error
	Closed     bool
	SyncCalled int
}

func (h *Handle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ReadErr != nil {
		return 0, h.ReadErr
	}
	if off >= int64(len(h.Data)) {
		return 0, io.EOF
	}
	n := copy(p, h.Data[off:])
	return n, nil
}

func (h *Handle) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.WriteErr != nil {
		return 0, h.WriteErr
	}
	end := off + int64(len(p))
	if end > int64(len(h.Data)) {
		grown := make([]byte, end)
		copy(grown, h.Data)
		h.Data = grown
	}
	copy(h.Data[off:end], p)
	return len(p), nil
}

func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Closed = true
	return h.CloseErr
}

func (h *Handle) Delete(ctx context.Context) error { return h.DeleteErr }

func (h *Handle) MediumSync(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.SyncCalled++
	return h.SyncErr
}

// IO is an in-memory fake of adapter.IO, handing out Handle fakes.
type IO struct {
	mu sync.Mutex

	OpenErr  error
	Handles  map[string]*Handle
	Preferred int
}

func NewIO() *IO {
	return &IO{Handles: make(map[string]*Handle)}
}

func (f *IO) Open(ctx context.Context, path string, flags int) (adapter.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	h, ok := f.Handles[path]
	if !ok {
		h = &Handle{}
		f.Handles[path] = h
	}
	return h, nil
}

func (f *IO) PreferredIOSize() int { return f.Preferred }

// Bundle constructs a fully-faked adapter.Bundle with fresh fakes.
func Bundle() (adapter.Bundle, *Library, *Drive, *Filesystem, *IO) {
	lib := NewLibrary()
	drv := NewDrive()
	fs := NewFilesystem()
	ioAdapter := NewIO()
	return adapter.Bundle{
		Library:    lib,
		Drive:      drv,
		Filesystem: fs,
		IO:         ioAdapter,
	}, lib, drv, fs, ioAdapter
}

type notFoundError string

func (e notFoundError) Error() string { return string(e) }

func errNotFound(kind, key string) error {
	return notFoundError(kind + " not found: " + key)
}
