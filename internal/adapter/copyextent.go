package adapter

import (
	"context"
	"errors"
	"io"
	"os"
)

// defaultPageSize is the copy_extent chunk-size fallback of last resort.
var defaultPageSize = os.Getpagesize()

// ChunkSize resolves the copy_extent chunk size precedence (§4.A):
// preferred I/O size reported by the adapter, else the configured block
// size, else the OS page size.
func ChunkSize(ioh IO, configuredBlockSize int) int {
	if ioh != nil {
		if p := ioh.PreferredIOSize(); p > 0 {
			return p
		}
	}
	if configuredBlockSize > 0 {
		return configuredBlockSize
	}
	return defaultPageSize
}

var errShortWrite = errors.New("adapter: short write during copy_extent")

// CopyExtent copies n bytes from src to dst starting at the given offsets,
// in fixed-size chunks sized by ChunkSize. It stops at the first short
// read (EOF) or any error.
func CopyExtent(ctx context.Context, dst, src Handle, dstOff, srcOff, n int64, chunkSize int) (copied int64, err error) {
	if chunkSize <= 0 {
		chunkSize = defaultPageSize
	}
	buf := make([]byte, chunkSize)
	for copied < n {
		want := int64(chunkSize)
		if rem := n - copied; rem < want {
			want = rem
		}
		r, rerr := src.ReadAt(ctx, buf[:want], srcOff+copied)
		if r > 0 {
			w, werr := dst.WriteAt(ctx, buf[:r], dstOff+copied)
			copied += int64(w)
			if werr != nil {
				return copied, werr
			}
			if w < r {
				return copied, errShortWrite
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return copied, nil
			}
			return copied, rerr
		}
		if r == 0 {
			return copied, nil
		}
	}
	return copied, nil
}
