package dss

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/phobos-lrs/lrs/internal/resource"
	"github.com/phobos-lrs/lrs/internal/syncbatch"
	"github.com/phobos-lrs/lrs/internal/worker"
)

// Client is the full DSS surface (spec.md §6.B): Postgres-backed
// metadata plus the Redis-backed (with local fallback) distributed
// lock, composed so that *Client alone satisfies internal/worker's and
// internal/syncbatch's DSSClient interfaces structurally.
type Client struct {
	*Store
	*Locker
}

// NewClient connects to both backing stores and returns a ready Client.
func NewClient(ctx context.Context, postgresDSN string, redisOpts *redis.Options) (*Client, error) {
	store, err := NewStore(ctx, postgresDSN)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(redisOpts)
	locker := NewLocker(rdb)
	return &Client{Store: store, Locker: locker}, nil
}

// DeviceRelease releases id's device lock for owner. The Postgres side
// of device release (clearing adm_status, say) is the caller's
// responsibility via DeviceUpdateAdmStatus; this method only releases
// the distributed lock, per spec.md §6.B's dss_unlock.
func (c *Client) DeviceRelease(ctx context.Context, id resource.ID, owner string) error {
	return c.Locker.Unlock(ctx, id, owner)
}

// MediaRelease releases id's medium lock for owner.
func (c *Client) MediaRelease(ctx context.Context, id resource.ID, owner string) error {
	return c.Locker.Unlock(ctx, id, owner)
}

var _ worker.DSSClient = (*Client)(nil)
var _ syncbatch.DSSClient = (*Client)(nil)
