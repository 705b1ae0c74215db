// Package dispatch implements the Dispatcher & Retry Plane (spec.md
// §4.E): the three-queue assignment model (incoming, retry, response)
// sitting above a device table of internal/worker.Worker instances.
//
// Grounded on the teacher's internal/scheduler.Scheduler (a single
// owner goroutine draining a work queue, side effects persisted
// through the store) composed with internal/executor's
// BalancedRemoteInvoker (routes a unit of work across a set of backing
// resources, least-loaded first): here the "backing resources" are
// device workers rather than gRPC endpoints, and "least-loaded" is the
// fair-share class-bitmask popcount rather than an in-flight counter.
package dispatch

import (
	"context"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phobos-lrs/lrs/internal/logging"
	"github.com/phobos-lrs/lrs/internal/metrics"
	"github.com/phobos-lrs/lrs/internal/reqfanout"
	"github.com/phobos-lrs/lrs/internal/resource"
	"github.com/phobos-lrs/lrs/internal/tracing"
	"github.com/phobos-lrs/lrs/internal/worker"
)

// noDeviceRetryBackoff bounds how fast a sub-request that found no free
// device spins back through assignment.
const noDeviceRetryBackoff = 20 * time.Millisecond

// deviceStateReportInterval bounds how often the device-state and
// queue-depth gauges are refreshed; these are cheap point-in-time
// snapshots, not hot-path counters.
const deviceStateReportInterval = 5 * time.Second

// ResponseSink receives a sub-request's terminal outcome in FIFO order,
// per §5's total-order guarantee. A transport built on internal/wire
// implements this to deliver completions back to the client that
// submitted the owning request.
type ResponseSink interface {
	Deliver(sub *resource.SubRequest, status resource.SubStatus, rc int32)
}

// deviceEntry is one device's dispatch-table row: the worker itself
// plus its fair-share class bitmask.
type deviceEntry struct {
	w         *worker.Worker
	classMask atomic.Uint32
}

type retryCause int

const (
	causeMediumCandidatesRemain retryCause = iota
	causeTransientMoveRefused
	causeDeviceShutdown
	causeNoDeviceAvailable
)

func (c retryCause) String() string {
	switch c {
	case causeMediumCandidatesRemain:
		return "medium_candidates_remain"
	case causeTransientMoveRefused:
		return "transient_move_refused"
	case causeDeviceShutdown:
		return "device_shutdown"
	default:
		return "no_device_available"
	}
}

func causeFromWorkerReason(r worker.RetryReason) retryCause {
	switch r {
	case worker.RetryMediumCandidatesRemain:
		return causeMediumCandidatesRemain
	case worker.RetryTransientMoveRefused:
		return causeTransientMoveRefused
	case worker.RetryDeviceShutdown:
		return causeDeviceShutdown
	default:
		return causeNoDeviceAvailable
	}
}

type retryEntry struct {
	sub   *resource.SubRequest
	cause retryCause
}

type responseEntry struct {
	sub    *resource.SubRequest
	status resource.SubStatus
	rc     int32
}

// Dispatcher owns the device table and the three assignment queues. It
// implements worker.Dispatcher, so any worker constructed with a
// *Dispatcher as its dispatcher wires back into this same queue plane.
type Dispatcher struct {
	sink    ResponseSink
	catalog MediaCatalog

	mu      sync.RWMutex
	devices map[resource.ID]*deviceEntry

	binder *binder

	assignMu sync.Mutex
	assigned map[*resource.SubRequest]assignment

	incoming chan *resource.SubRequest
	retry    chan retryEntry
	response chan responseEntry
}

// assignment records which device (and fair-share class bit) a
// submitted sub-request landed on, so Respond can clear that device's
// class bit once the sub-request reaches a terminal status.
type assignment struct {
	device resource.ID
	bit    uint32
}

// New constructs a Dispatcher. catalog may be nil if this daemon never
// serves write_alloc requests (format and read_alloc do not need it).
func New(sink ResponseSink, catalog MediaCatalog) *Dispatcher {
	return &Dispatcher{
		sink:     sink,
		catalog:  catalog,
		devices:  make(map[resource.ID]*deviceEntry),
		binder:   newBinder(),
		assigned: make(map[*resource.SubRequest]assignment),
		incoming: make(chan *resource.SubRequest, 256),
		retry:    make(chan retryEntry, 256),
		response: make(chan responseEntry, 256),
	}
}

// Register adds w to the device table, keyed by its device ID. Safe to
// call while Run is active.
func (d *Dispatcher) Register(w *worker.Worker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[w.ID()] = &deviceEntry{w: w}
}

// Unregister removes a device from the table, e.g. after an
// admin-initiated removal notification (§4.D).
func (d *Dispatcher) Unregister(id resource.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.devices, id)
}

// Submit enqueues sub for assignment.
func (d *Dispatcher) Submit(sub *resource.SubRequest) {
	d.incoming <- sub
}

// SubmitRequest fans req out into its sub-requests (§4.B) and submits
// each for assignment. This is the seam a wire-protocol-terminating
// caller uses once it has decoded a request off the network: decode,
// call SubmitRequest, then read req.Completion as sub-requests land in
// sink.Deliver.
func (d *Dispatcher) SubmitRequest(req *resource.Request) ([]*resource.SubRequest, error) {
	subs, err := reqfanout.Normalize(req)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		d.Submit(sub)
	}
	return subs, nil
}

// Retry implements worker.Dispatcher: a worker handed sub back after a
// non-terminal failure or a shutdown-in-progress (§4.E retry
// semantics).
func (d *Dispatcher) Retry(sub *resource.SubRequest, reason worker.RetryReason) {
	d.releaseAssignment(sub)
	d.retry <- retryEntry{sub: sub, cause: causeFromWorkerReason(reason)}
}

// Respond implements worker.Dispatcher: sub reached status as a
// terminal (or cancel) outcome.
func (d *Dispatcher) Respond(sub *resource.SubRequest, status resource.SubStatus, rc int32) {
	if sub.Medium != nil {
		d.binder.forget(sub)
	}
	d.releaseAssignment(sub)
	d.response <- responseEntry{sub: sub, status: status, rc: rc}
}

func (d *Dispatcher) releaseAssignment(sub *resource.SubRequest) {
	d.assignMu.Lock()
	a, ok := d.assigned[sub]
	if ok {
		delete(d.assigned, sub)
	}
	d.assignMu.Unlock()
	if !ok {
		return
	}

	d.mu.RLock()
	entry := d.devices[a.device]
	d.mu.RUnlock()
	if entry != nil {
		clearClassBit(entry, a.bit)
	}
}

var _ worker.Dispatcher = (*Dispatcher)(nil)

// Run starts the assignment, retry, and response-emitter loops. It
// blocks until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); d.runAssign(ctx) }()
	go func() { defer wg.Done(); d.runRetry(ctx) }()
	go func() { defer wg.Done(); d.runResponse(ctx) }()
	go func() { defer wg.Done(); d.runGaugeReport(ctx) }()
	wg.Wait()
}

// runGaugeReport periodically snapshots device-by-state counts and
// queue depths into the metrics gauges; unlike the counters above,
// these have no single triggering event, so they're sampled instead.
func (d *Dispatcher) runGaugeReport(ctx context.Context) {
	ticker := time.NewTicker(deviceStateReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reportGauges()
		}
	}
}

func (d *Dispatcher) reportGauges() {
	d.mu.RLock()
	counts := make(map[resource.Family]map[resource.OpStatus]int)
	for _, e := range d.devices {
		family := e.w.ID().Family
		if counts[family] == nil {
			counts[family] = make(map[resource.OpStatus]int)
		}
		counts[family][e.w.OpStatus()]++
	}
	d.mu.RUnlock()

	for family, byState := range counts {
		for state, n := range byState {
			metrics.SetDeviceState(string(family), string(state), n)
		}
	}

	metrics.SetDispatchQueueDepth("all", len(d.incoming))
}

func (d *Dispatcher) runAssign(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-d.incoming:
			d.assign(ctx, sub)
		}
	}
}

func (d *Dispatcher) runRetry(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.retry:
			d.handleRetry(ctx, e)
		}
	}
}

func (d *Dispatcher) handleRetry(ctx context.Context, e retryEntry) {
	family := ""
	if e.sub.Medium != nil {
		family = string(e.sub.Medium.Family)
	}
	metrics.RecordRetry(family, e.cause.String())

	switch e.cause {
	case causeMediumCandidatesRemain, causeTransientMoveRefused, causeDeviceShutdown:
		// In every case another device may still be able to serve this
		// sub-request (a different candidate medium, the same medium on
		// a different drive, or any device once the old one finishes
		// tearing down); route it back through ordinary assignment.
		d.assign(ctx, e.sub)
	case causeNoDeviceAvailable:
		select {
		case <-ctx.Done():
		case <-time.After(noDeviceRetryBackoff):
			d.assign(ctx, e.sub)
		}
	}
}

// runResponse drains the response queue strictly in FIFO order into
// the configured sink, matching §5's total-order guarantee.
func (d *Dispatcher) runResponse(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.response:
			d.sink.Deliver(e.sub, e.status, e.rc)
		}
	}
}

// assign binds an unbound read_alloc/write_alloc sub-request to a
// candidate medium if needed, then hands it to the least-loaded
// eligible device. A sub-request that cannot be bound or placed right
// now is parked back on the retry queue; one whose candidate media are
// exhausted is failed (failNoCandidates).
func (d *Dispatcher) assign(ctx context.Context, sub *resource.SubRequest) {
	ctx, span := tracing.StartDispatchSpan(ctx, sub.Owner.ID, sub.Owner.Kind.String())
	defer span.End()

	if sub.Medium == nil {
		bound, exhausted := d.bind(ctx, sub)
		if !bound {
			if exhausted {
				d.failNoCandidates(sub)
			} else {
				d.retry <- retryEntry{sub: sub, cause: causeNoDeviceAvailable}
			}
			return
		}
	}

	entry := d.pickDevice(sub)
	if entry == nil {
		d.retry <- retryEntry{sub: sub, cause: causeNoDeviceAvailable}
		return
	}

	bit := classBit(sub)
	setClassBit(entry, bit)
	if !entry.w.Submit(sub) {
		clearClassBit(entry, bit)
		d.retry <- retryEntry{sub: sub, cause: causeNoDeviceAvailable}
		return
	}

	d.assignMu.Lock()
	d.assigned[sub] = assignment{device: entry.w.ID(), bit: bit}
	d.assignMu.Unlock()
}

// pickDevice returns the Dispatchable, assignment-compatible device
// with the fewest active fair-share classes (original_source/src/lrs/
// lrs_device.h's per-device sub-scheduler bitmask, §4.E.1), the same
// least-loaded-wins rule as the teacher's BalancedRemoteInvoker.leastLoaded,
// substituting bitmask popcount for in-flight request count.
func (d *Dispatcher) pickDevice(sub *resource.SubRequest) *deviceEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var best *deviceEntry
	bestScore := -1
	for _, e := range d.devices {
		if !e.w.Dispatchable() || !e.w.CanTake(sub) {
			continue
		}
		score := bits.OnesCount32(e.classMask.Load())
		if best == nil || score < bestScore {
			best, bestScore = e, score
		}
	}
	return best
}

func (d *Dispatcher) failNoCandidates(sub *resource.SubRequest) {
	last := sub.Owner.Completion.SetStatus(sub.MediumIndex, resource.SubError, -1)
	logging.Op().Warn("sub-request has no remaining candidates", "request", sub.Owner.ID, "index", sub.MediumIndex)
	d.response <- responseEntry{sub: sub, status: resource.SubError, rc: -1}
	if last {
		logging.Op().Info("request terminal on exhausted candidates", "request", sub.Owner.ID)
	}
}

// classBit maps a sub-request's owning request kind to its fair-share
// scheduling class bit.
func classBit(sub *resource.SubRequest) uint32 {
	switch sub.Owner.Kind {
	case resource.KindFormat:
		return 1 << 0
	case resource.KindReadAlloc:
		return 1 << 1
	case resource.KindWriteAlloc:
		return 1 << 2
	case resource.KindRelease:
		return 1 << 3
	default:
		return 0
	}
}

// setClassBit/clearClassBit update a device's fair-share mask with a
// compare-and-swap loop, matching the teacher's atomic-counter update
// style (pool.functionPool's replica counter): written directly, never
// read-modify-write under a lock, so the hot assignment path never
// blocks on a device the worker loop is concurrently touching.
func setClassBit(e *deviceEntry, bit uint32) {
	for {
		old := e.classMask.Load()
		if e.classMask.CompareAndSwap(old, old|bit) {
			return
		}
	}
}

func clearClassBit(e *deviceEntry, bit uint32) {
	for {
		old := e.classMask.Load()
		if e.classMask.CompareAndSwap(old, old&^bit) {
			return
		}
	}
}
