package adapter

import (
	"context"
	"fmt"
	"os"
)

// osFileIO is the IO adapter shared by every family whose medium, once
// mounted, presents as an ordinary POSIX path: ext4 loopback images
// (disk) and an ltfs fuse mountpoint (tape) both qualify.
type osFileIO struct{}

func (osFileIO) PreferredIOSize() int { return 0 }

func (osFileIO) Open(ctx context.Context, path string, flags int) (Handle, error) {
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("adapter: open %s: %w", path, err)
	}
	return &osFileHandle{f: f}, nil
}

type osFileHandle struct {
	f *os.File
}

func (h *osFileHandle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	return h.f.ReadAt(p, off)
}

func (h *osFileHandle) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	return h.f.WriteAt(p, off)
}

func (h *osFileHandle) Close(ctx context.Context) error { return h.f.Close() }

func (h *osFileHandle) Delete(ctx context.Context) error { return os.Remove(h.f.Name()) }

func (h *osFileHandle) MediumSync(ctx context.Context) error { return h.f.Sync() }
