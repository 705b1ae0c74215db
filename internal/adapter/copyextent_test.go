package adapter

import (
	"context"
	"io"
	"testing"
)

// memHandle is an in-memory Handle backing CopyExtent's tests; it
// models neither a real device nor adapterfake's medium map, just a
// byte slice a test can assert against directly.
type memHandle struct {
	data []byte
}

func (h *memHandle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= int64(len(h.data)) {
		return 0, io.EOF
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (h *memHandle) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(h.data)) {
		grown := make([]byte, end)
		copy(grown, h.data)
		h.data = grown
	}
	copy(h.data[off:end], p)
	return len(p), nil
}

func (h *memHandle) Close(ctx context.Context) error      { return nil }
func (h *memHandle) Delete(ctx context.Context) error     { return nil }
func (h *memHandle) MediumSync(ctx context.Context) error { return nil }

type fakeIO struct{ preferred int }

func (f fakeIO) Open(ctx context.Context, path string, flags int) (Handle, error) { return nil, nil }
func (f fakeIO) PreferredIOSize() int                                             { return f.preferred }

func TestChunkSizePrefersAdapterReportedSize(t *testing.T) {
	if got := ChunkSize(fakeIO{preferred: 4096}, 8192); got != 4096 {
		t.Fatalf("ChunkSize = %d, want 4096", got)
	}
}

func TestChunkSizeFallsBackToConfiguredBlockSize(t *testing.T) {
	if got := ChunkSize(fakeIO{preferred: 0}, 8192); got != 8192 {
		t.Fatalf("ChunkSize = %d, want 8192", got)
	}
}

func TestChunkSizeFallsBackToPageSize(t *testing.T) {
	if got := ChunkSize(nil, 0); got != defaultPageSize {
		t.Fatalf("ChunkSize = %d, want page size %d", got, defaultPageSize)
	}
}

func TestCopyExtentCopiesFullRange(t *testing.T) {
	src := &memHandle{data: []byte("the quick brown fox jumps over the lazy dog")}
	dst := &memHandle{}

	n, err := CopyExtent(context.Background(), dst, src, 0, 0, int64(len(src.data)), 7)
	if err != nil {
		t.Fatalf("CopyExtent: %v", err)
	}
	if n != int64(len(src.data)) {
		t.Fatalf("copied = %d, want %d", n, len(src.data))
	}
	if string(dst.data) != string(src.data) {
		t.Fatalf("dst = %q, want %q", dst.data, src.data)
	}
}

func TestCopyExtentStopsAtSourceEOF(t *testing.T) {
	src := &memHandle{data: []byte("short")}
	dst := &memHandle{}

	n, err := CopyExtent(context.Background(), dst, src, 0, 0, 100, 4)
	if err != nil {
		t.Fatalf("CopyExtent: %v", err)
	}
	if n != int64(len(src.data)) {
		t.Fatalf("copied = %d, want %d (stop at source EOF)", n, len(src.data))
	}
}

func TestCopyExtentRespectsOffsets(t *testing.T) {
	src := &memHandle{data: []byte("0123456789")}
	dst := &memHandle{data: make([]byte, 5)}

	n, err := CopyExtent(context.Background(), dst, src, 2, 5, 3, 2)
	if err != nil {
		t.Fatalf("CopyExtent: %v", err)
	}
	if n != 3 {
		t.Fatalf("copied = %d, want 3", n)
	}
	if string(dst.data[2:5]) != "567" {
		t.Fatalf("dst[2:5] = %q, want 567", dst.data[2:5])
	}
}
