package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// RadosPoolBundle is the rados_pool family's capability Bundle: an RGW
// S3-compatible gateway in front of a Ceph pool. There is no mechanical
// library and no per-drive control surface — "mounting" a rados_pool
// medium means nothing more than confirming its bucket exists, and I/O
// goes straight to S3 objects rather than a local path.
//
// Grounded on the same facade shape as DiskBundle/TapeBundle; the S3
// client itself is the pack's aws-sdk-go-v2, used only by this family
// for its own object storage.
func RadosPoolBundle(client *s3.Client) Bundle {
	return Bundle{
		Filesystem: &radosFilesystem{client: client},
		IO:         &radosIO{client: client},
	}
}

type radosFilesystem struct {
	client *s3.Client
}

// Format ensures the bucket named label exists; rados_pool has no
// notion of a filesystem image to write, so "formatting" a medium is
// creating its backing bucket. devPath is unused (there is no device
// node for an object-store medium).
func (f *radosFilesystem) Format(ctx context.Context, devPath, label string) (SpaceInfo, error) {
	_, err := f.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(label)})
	if err != nil {
		var exists *types.BucketAlreadyOwnedByYou
		if !errors.As(err, &exists) {
			return SpaceInfo{}, fmt.Errorf("adapter: create bucket %s: %w", label, err)
		}
	}
	return SpaceInfo{}, nil
}

// Mount confirms the bucket exists and matches the requested label; a
// rados_pool medium is "mounted" the moment its bucket is reachable,
// there is no local mountPath to bind.
func (f *radosFilesystem) Mount(ctx context.Context, devPath, mountPath, label string) error {
	_, err := f.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(label)})
	if err != nil {
		return fmt.Errorf("adapter: head bucket %s: %w", label, err)
	}
	return nil
}

func (f *radosFilesystem) Umount(ctx context.Context, mountPath string) error { return nil }

func (f *radosFilesystem) MountedAt(ctx context.Context, devPath string) (string, bool, error) {
	return "", false, nil
}

// DF sums object sizes in the bucket; rados_pool reports logical usage
// rather than a block-device free/used split, so ReadOnly/PhysFreeBytes
// are left at their zero values and the caller relies on ObjectCount/
// LogicalUsed from the medium record instead.
func (f *radosFilesystem) DF(ctx context.Context, mountPath string) (SpaceInfo, error) {
	var used int64
	var continuation *string
	for {
		out, err := f.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(mountPath),
			ContinuationToken: continuation,
		})
		if err != nil {
			return SpaceInfo{}, fmt.Errorf("adapter: list objects %s: %w", mountPath, err)
		}
		for _, obj := range out.Contents {
			used += aws.ToInt64(obj.Size)
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuation = out.NextContinuationToken
	}
	return SpaceInfo{PhysUsedBytes: used}, nil
}

func (f *radosFilesystem) GetLabel(ctx context.Context, devPath string) (string, error) {
	return devPath, nil // the bucket name doubles as devPath for this family
}

type radosIO struct {
	client *s3.Client
}

func (radosIO) PreferredIOSize() int { return 0 }

func (r *radosIO) Open(ctx context.Context, path string, flags int) (Handle, error) {
	bucket, key, err := splitBucketKey(path)
	if err != nil {
		return nil, err
	}
	return &radosHandle{client: r.client, bucket: bucket, key: key}, nil
}

// radosHandle buffers writes in memory and flushes a single PutObject on
// Close/MediumSync: S3-compatible object stores have no in-place
// random-write API, so WriteAt accumulates into a local buffer keyed by
// offset and the whole object is re-uploaded on flush, matching how the
// sync-epoch protocol already batches writes before the handle's
// MediumSync is ever called (internal/syncbatch).
type radosHandle struct {
	client *s3.Client
	bucket string
	key    string

	buf    []byte
	dirty  bool
}

func (h *radosHandle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	end := off + int64(len(p)) - 1
	out, err := h.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(h.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, fmt.Errorf("adapter: get object %s/%s: %w", h.bucket, h.key, err)
	}
	defer out.Body.Close()
	n, err := io.ReadFull(out.Body, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

func (h *radosHandle) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	need := off + int64(len(p))
	if int64(len(h.buf)) < need {
		grown := make([]byte, need)
		copy(grown, h.buf)
		h.buf = grown
	}
	copy(h.buf[off:], p)
	h.dirty = true
	return len(p), nil
}

func (h *radosHandle) flush(ctx context.Context) error {
	if !h.dirty {
		return nil
	}
	_, err := h.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(h.key),
		Body:   bytes.NewReader(h.buf),
	})
	if err != nil {
		return fmt.Errorf("adapter: put object %s/%s: %w", h.bucket, h.key, err)
	}
	h.dirty = false
	return nil
}

func (h *radosHandle) Close(ctx context.Context) error { return h.flush(ctx) }

func (h *radosHandle) Delete(ctx context.Context) error {
	_, err := h.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(h.key),
	})
	if err != nil {
		return fmt.Errorf("adapter: delete object %s/%s: %w", h.bucket, h.key, err)
	}
	return nil
}

func (h *radosHandle) MediumSync(ctx context.Context) error { return h.flush(ctx) }

// splitBucketKey splits a "bucket/key" path into its two parts, the
// convention worker.mountPath uses for this family (the medium's label
// is the bucket name, the sub-request's logical path is the key).
func splitBucketKey(path string) (bucket, key string, err error) {
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i], path[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("adapter: rados_pool path %q missing bucket/key separator", path)
}
