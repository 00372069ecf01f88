// Package gcollect implements the quiescence-based garbage collector: one
// worker goroutine per domain that defers a request's callback until every
// thread that was active when the request was created has either advanced
// past that moment or left the domain, plus a periodic lease-expiration
// sweep running on the same loop.
//
// Grounded directly on original_source/ddsi_gc.c's gcreq_queue_thread,
// threads_vtime_gather_for_wait and threads_vtime_check, translated from an
// OS-thread/vtime-array model to goroutines registering *ThreadState
// handles and an atomic generation counter per handle.
package gcollect

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse-cyclonedds/ddsi-core-go/pkg/logger"
)

// ThreadState is a registered participant in the quiescence protocol: any
// goroutine that walks the RMSG/DEFRAG/REORDER/TKMAP graph must bracket its
// pointer-chasing with Awake/Asleep so the GC can tell when it is safe to
// free something that goroutine might still be holding a reference to
// (spec.md section 5 "Suspension points").
type ThreadState struct {
	vtime  uint32 // odd = awake, even = asleep; a GC waits for it to change
	active int32  // 1 while registered with a Domain, 0 after Deregister
}

func (ts *ThreadState) awake() bool { return atomic.LoadUint32(&ts.vtime)&1 == 1 }

// Awake marks ts as holding pointers into the RMSG-owned graph.
func (ts *ThreadState) Awake() { atomic.AddUint32(&ts.vtime, 1) }

// Asleep marks ts as not holding any such pointer; it is always safe for a
// GC request to proceed once every relevant thread has called Asleep at
// least once since the request was created.
func (ts *ThreadState) Asleep() { atomic.AddUint32(&ts.vtime, 1) }

// Domain owns the registry of ThreadStates and the one GC worker for a
// domain.
type Domain struct {
	log *logger.Entry

	mu      sync.Mutex
	threads []*ThreadState

	qmu       sync.Mutex
	qcond     *sync.Cond
	first     *request
	last      *request
	count     int32
	terminate bool

	leaseCheck   func(now time.Time) (nextDelay time.Duration)
	shortSleep   time.Duration
	wg           sync.WaitGroup
}

type request struct {
	cb       func()
	snapshot []snapshotEntry
	next     *request
}

type snapshotEntry struct {
	ts    *ThreadState
	vtime uint32
}

// New creates and starts a domain's GC worker. leaseCheck is invoked
// periodically (its return value is the delay before the next invocation,
// mirroring ddsi_check_and_handle_lease_expiration's self-paced interval);
// it may be nil.
func New(log *logger.Entry, leaseCheck func(now time.Time) time.Duration) *Domain {
	d := &Domain{log: log, leaseCheck: leaseCheck, shortSleep: time.Millisecond}
	d.qcond = sync.NewCond(&d.qmu)
	d.wg.Add(1)
	go d.run()
	return d
}

// Register adds a new ThreadState to the domain's registry, starting it in
// the asleep state.
func (d *Domain) Register() *ThreadState {
	ts := &ThreadState{active: 1}
	d.mu.Lock()
	d.threads = append(d.threads, ts)
	d.mu.Unlock()
	return ts
}

// Deregister removes ts from the registry (e.g. a receive goroutine is
// shutting down); any in-flight gcreq snapshot still referencing it will
// treat it as having moved on, per threads_vtime_check's "or moved to a
// different domain" clause.
func (d *Domain) Deregister(ts *ThreadState) {
	atomic.StoreInt32(&ts.active, 0)
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, t := range d.threads {
		if t == ts {
			d.threads = append(d.threads[:i], d.threads[i+1:]...)
			return
		}
	}
}

func (d *Domain) snapshotAwakeThreads() []snapshotEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]snapshotEntry, 0, len(d.threads))
	for _, ts := range d.threads {
		if ts.awake() {
			out = append(out, snapshotEntry{ts: ts, vtime: atomic.LoadUint32(&ts.vtime)})
		}
	}
	return out
}

func (e snapshotEntry) advancedOrGone() bool {
	if atomic.LoadInt32(&e.ts.active) == 0 {
		return true
	}
	return atomic.LoadUint32(&e.ts.vtime) != e.vtime
}

// Defer schedules cb to run once every thread awake right now has either
// gone back to sleep (vtime advanced) or left the domain. A request created
// when no threads are awake runs essentially immediately (ddsi_gcreq_new's
// "empty snapshot" case).
func (d *Domain) Defer(cb func()) {
	req := &request{cb: cb, snapshot: d.snapshotAwakeThreads()}
	d.qmu.Lock()
	atomic.AddInt32(&d.count, 1)
	if d.last != nil {
		d.last.next = req
	} else {
		d.first = req
	}
	d.last = req
	d.qcond.Broadcast()
	d.qmu.Unlock()
}

// Drain blocks until every previously-Deferred request has run.
func (d *Domain) Drain() {
	d.qmu.Lock()
	for atomic.LoadInt32(&d.count) != 0 {
		d.qcond.Wait()
	}
	d.qmu.Unlock()
}

// Shutdown posts a terminal no-op request, waits for the queue to quiesce to
// exactly that one outstanding request, then releases the worker goroutine
// (ddsi_gcreq_queue_free's two-step teardown, needed because a plain Drain
// would itself block forever once terminate is observed by the worker).
func (d *Domain) Shutdown() {
	noop := &request{}
	d.qmu.Lock()
	atomic.AddInt32(&d.count, 1)
	for atomic.LoadInt32(&d.count) != 1 {
		d.qcond.Wait()
	}
	d.terminate = true
	if d.last != nil {
		d.last.next = noop
	} else {
		d.first = noop
	}
	d.last = noop
	d.qcond.Broadcast()
	d.qmu.Unlock()
	d.wg.Wait()
}

// run is the GC worker loop. It polls rather than blocking indefinitely on
// the queue's condition variable, because it also has to re-evaluate the
// lease-expiration timer on a schedule independent of request arrival
// (mirrors gcreq_queue_thread's ddsrt_cond_waitfor-with-timeout).
func (d *Domain) run() {
	defer d.wg.Done()
	var pending *request
	nextLeaseCheck := time.Now()

	for {
		d.qmu.Lock()
		if pending == nil && d.first != nil {
			pending = d.first
			d.first = d.first.next
			if d.first == nil {
				d.last = nil
			}
		}
		done := d.terminate && d.first == nil && pending == nil && atomic.LoadInt32(&d.count) == 0
		d.qmu.Unlock()
		if done {
			return
		}

		if d.leaseCheck != nil && !time.Now().Before(nextLeaseCheck) {
			delay := d.leaseCheck(time.Now())
			nextLeaseCheck = time.Now().Add(delay)
		}

		if pending == nil {
			time.Sleep(d.shortSleep)
			continue
		}

		if !allAdvancedOrGone(pending.snapshot) {
			time.Sleep(d.shortSleep)
			continue
		}

		if pending.cb != nil {
			pending.cb()
		}
		d.qmu.Lock()
		atomic.AddInt32(&d.count, -1)
		if atomic.LoadInt32(&d.count) <= 1 {
			d.qcond.Broadcast()
		}
		d.qmu.Unlock()
		pending = nil
	}
}

func allAdvancedOrGone(snap []snapshotEntry) bool {
	for _, e := range snap {
		if !e.advancedOrGone() {
			return false
		}
	}
	return true
}
