// Package dqueue implements the delivery queue: a bounded FIFO carrying
// complete, in-order sample chains from REORDER to the application-facing
// delivery callback, plus control "bubbles" that let the receive path
// inject ordering barriers into that same stream.
//
// Grounded on m-lab-tcp-info/saver/saver.go's MarshalChan worker: a buffered
// channel of Task plus a single consumer goroutine, with the "nil Message
// means close the writer" convention generalized here into dqueue's typed
// bubble kinds.
package dqueue

import (
	"sync"

	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/guid"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/metrics"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/reorder"
)

// BubbleKind distinguishes a real sample entry from a control marker
// injected into the same ordered stream (spec.md section 3.5).
type BubbleKind int

const (
	BubbleSample BubbleKind = iota
	BubbleStop              // tells the worker goroutine to exit after draining
	BubbleCallback          // run an arbitrary func() inline, in queue order
	BubbleRDGuid            // announce a new proxy-writer GUID has started delivering
)

// Entry is one item on the queue: either a delivered sample or a bubble.
type Entry struct {
	Kind     BubbleKind
	Sample   reorder.Sample
	Callback func()
	GUID     guid.GUID
}

// Handler is invoked once per delivered sample, in FIFO order.
type Handler func(reorder.Sample)

// RDGuidHandler is invoked once per BubbleRDGuid entry.
type RDGuidHandler func(guid.GUID)

// DQueue is a bounded FIFO delivery queue with one consumer goroutine.
type DQueue struct {
	name string
	ch   chan Entry
	wg   sync.WaitGroup

	mu         sync.Mutex
	notFull    *sync.Cond
	depth      int
	maxDepth   int
}

// New creates a delivery queue with room for maxDepth entries and starts its
// consumer goroutine, invoking onSample for BubbleSample entries and
// onRDGuid for BubbleRDGuid entries. BubbleCallback entries run their func
// inline; at BubbleStop the goroutine exits, after every entry queued ahead
// of it has been handled.
func New(name string, maxDepth int, onSample Handler, onRDGuid RDGuidHandler) *DQueue {
	q := &DQueue{name: name, ch: make(chan Entry, maxDepth), maxDepth: maxDepth}
	q.notFull = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.run(onSample, onRDGuid)
	return q
}

func (q *DQueue) run(onSample Handler, onRDGuid RDGuidHandler) {
	defer q.wg.Done()
	for e := range q.ch {
		q.mu.Lock()
		q.depth--
		metrics.DQueueDepth.WithLabelValues(q.name).Set(float64(q.depth))
		q.notFull.Signal()
		q.mu.Unlock()

		switch e.Kind {
		case BubbleSample:
			if onSample != nil {
				onSample(e.Sample)
			}
		case BubbleRDGuid:
			if onRDGuid != nil {
				onRDGuid(e.GUID)
			}
		case BubbleCallback:
			if e.Callback != nil {
				e.Callback()
			}
		case BubbleStop:
			return
		}
	}
}

// IsFull reports whether the queue is currently at capacity (dqueue_is_full,
// spec.md section 4.5), used by RECV to decide whether REORDER should treat
// an otherwise-deliverable sample as rejected instead.
func (q *DQueue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth >= q.maxDepth
}

// WaitUntilEmptyIfFull blocks the caller until the queue has drained below
// capacity, giving the receive thread a way to apply backpressure rather
// than dropping reliable data (dqueue_wait_until_empty_if_full).
func (q *DQueue) WaitUntilEmptyIfFull() {
	q.mu.Lock()
	for q.depth >= q.maxDepth {
		q.notFull.Wait()
	}
	q.mu.Unlock()
}

// EnqueueSample pushes one delivered sample. It blocks if the channel buffer
// is momentarily full (the channel send itself provides that backpressure);
// callers that want to avoid blocking should check IsFull first.
func (q *DQueue) EnqueueSample(s reorder.Sample) {
	q.enqueue(Entry{Kind: BubbleSample, Sample: s})
}

// EnqueueRDGuid pushes an RDGUID bubble announcing a new proxy-writer GUID.
func (q *DQueue) EnqueueRDGuid(g guid.GUID) {
	q.enqueue(Entry{Kind: BubbleRDGuid, GUID: g})
}

// EnqueueCallback pushes a callback bubble that runs fn once the queue
// reaches it, preserving ordering relative to samples enqueued before it
// (enqueue_deferred_wakeup in spec.md's terms).
func (q *DQueue) EnqueueCallback(fn func()) {
	q.enqueue(Entry{Kind: BubbleCallback, Callback: fn})
}

func (q *DQueue) enqueue(e Entry) {
	q.mu.Lock()
	q.depth++
	metrics.DQueueDepth.WithLabelValues(q.name).Set(float64(q.depth))
	q.mu.Unlock()
	q.ch <- e
}

// Stop enqueues a STOP bubble and waits for the consumer goroutine to exit.
func (q *DQueue) Stop() {
	q.ch <- Entry{Kind: BubbleStop}
	q.wg.Wait()
	close(q.ch)
}
