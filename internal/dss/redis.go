package dss

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/phobos-lrs/lrs/internal/logging"
	"github.com/phobos-lrs/lrs/internal/resource"
)

// lockTTL bounds how long a DSS lock survives without being refreshed,
// so a crashed holder does not strand a device/medium locked forever.
const lockTTL = 30 * time.Second

// unlockScript is a Lua compare-and-delete unlock: only the owner that
// currently holds the key may release it. Grounded on the teacher's
// tokenBucketScript (internal/ratelimit/redis_backend.go): an atomic
// read-check-write performed server-side via a Redis script rather than
// a client-side read-then-delete race.
//
// KEYS[1] = lock key, ARGV[1] = owner
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Locker is the Redis-backed half of the DSS: the distributed lock
// discipline idempotent per (entity, hostname, owner), per spec.md §6.B.
// Falls back to an in-process lock table when Redis is unreachable,
// grounded on the teacher's FallbackBackend
// (internal/ratelimit/fallback_backend.go): degrade on primary error,
// probe periodically, recover transparently.
type Locker struct {
	client *redis.Client
	prefix string

	degraded      atomic.Bool
	probeMu       sync.Mutex
	lastProbeTime atomic.Value // time.Time

	local *localLockTable
}

// NewLocker constructs a Locker against an already-configured redis.Client.
func NewLocker(client *redis.Client) *Locker {
	l := &Locker{
		client: client,
		prefix: "phobos:lock:",
		local:  newLocalLockTable(),
	}
	l.lastProbeTime.Store(time.Time{})
	return l
}

const probeInterval = 5 * time.Second

func (l *Locker) key(id resource.ID) string {
	return l.prefix + string(id.Family) + ":" + id.Name
}

// Lock acquires id's lock for owner, idempotent if owner already holds it.
func (l *Locker) Lock(ctx context.Context, id resource.ID, owner string) error {
	if l.degraded.Load() {
		l.maybeProbe(ctx)
		return l.local.lock(id, owner)
	}

	ok, err := l.client.SetNX(ctx, l.key(id), owner, lockTTL).Result()
	if err != nil {
		l.degrade()
		return l.local.lock(id, owner)
	}
	if ok {
		return nil
	}
	// Already held: idempotent if the same owner holds it (refresh TTL).
	held, err := l.client.Get(ctx, l.key(id)).Result()
	if err != nil {
		l.degrade()
		return l.local.lock(id, owner)
	}
	if held == owner {
		l.client.Expire(ctx, l.key(id), lockTTL)
		return nil
	}
	return fmt.Errorf("dss: %s already locked by %q", id.String(), held)
}

// Unlock releases id's lock, a no-op if owner does not hold it.
func (l *Locker) Unlock(ctx context.Context, id resource.ID, owner string) error {
	if l.degraded.Load() {
		l.maybeProbe(ctx)
		return l.local.unlock(id, owner)
	}
	if err := unlockScript.Run(ctx, l.client, []string{l.key(id)}, owner).Err(); err != nil {
		l.degrade()
		return l.local.unlock(id, owner)
	}
	return nil
}

func (l *Locker) degrade() {
	if !l.degraded.Swap(true) {
		logging.Op().Warn("dss: redis lock backend unreachable, degrading to local lock table")
		l.lastProbeTime.Store(time.Now())
	}
}

func (l *Locker) maybeProbe(ctx context.Context) {
	last, _ := l.lastProbeTime.Load().(time.Time)
	if time.Since(last) < probeInterval {
		return
	}
	go l.probeAndRecover(ctx)
}

func (l *Locker) probeAndRecover(ctx context.Context) {
	if !l.probeMu.TryLock() {
		return
	}
	defer l.probeMu.Unlock()
	l.lastProbeTime.Store(time.Now())

	if err := l.client.Ping(ctx).Err(); err == nil {
		logging.Op().Info("dss: redis lock backend recovered, resuming distributed locking")
		l.degraded.Store(false)
	}
}

// Degraded reports whether the locker is currently serving from the
// local fallback table.
func (l *Locker) Degraded() bool { return l.degraded.Load() }

// localLockTable is the in-process fallback lock table, grounded on
// the teacher's LocalTokenBucketBackend shape (a plain mutex-guarded
// map, no TTL machinery needed since a degraded daemon is itself the
// failure domain for its own in-process locks).
type localLockTable struct {
	mu    sync.Mutex
	owner map[resource.ID]string
}

func newLocalLockTable() *localLockTable {
	return &localLockTable{owner: make(map[resource.ID]string)}
}

func (t *localLockTable) lock(id resource.ID, owner string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if held, ok := t.owner[id]; ok && held != owner {
		return fmt.Errorf("dss: %s already locked by %q (local fallback)", id.String(), held)
	}
	t.owner[id] = owner
	return nil
}

func (t *localLockTable) unlock(id resource.ID, owner string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if held, ok := t.owner[id]; ok && held == owner {
		delete(t.owner, id)
	}
	return nil
}
