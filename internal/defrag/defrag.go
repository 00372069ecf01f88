// Package defrag implements the per-proxy-writer defragmenter: a byte-
// interval tree over a single sample's fragments, keyed by sequence number
// across samples, bounded with a configurable drop policy.
//
// Grounded on original_source/ddsi_radmin.c's defrag_* functions, on
// gvisor's pkg/tcpip/network/fragmentation (the reassembler-per-id shape,
// its high/low eviction watermarks) and on the teacher's SplitPackets map
// in source/protocol/raknet.go (simpler, single-sample-at-a-time version of
// the same idea).
package defrag

import (
	"time"

	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/bitset"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/metrics"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/rmsg"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/seqnum"
)

// Mode selects a per-proxy-writer reassembly discipline. Primary is used
// for the writer's main reliable stream; secondary for the (rare) case of
// reassembling historical data independently for an out-of-sync reader.
type Mode int

const (
	ModePrimary Mode = iota
	ModeSecondary
)

// CapacityPolicy decides what happens when accepting a new sample would
// exceed MaxSamples.
type CapacityPolicy int

const (
	DropNewest CapacityPolicy = iota // reject the incoming sample if it is above every held seq, else evict the highest-seq sample
	DropOldest                       // evict the lowest-seq sample to make room
)

// NackStatus is the result of a NackMap query.
type NackStatus int

const (
	UnknownSample NackStatus = iota
	FragmentsMissing
	AllAdvertisedFragmentsKnown
)

// SampleInfo carries the per-sample metadata that travels alongside the
// fragment chain once the sample completes (timestamp, statusinfo,
// complex-QoS flag — spec.md section 3.3).
type SampleInfo struct {
	Timestamp    time.Time
	StatusInfo   uint32
	ComplexQoS   bool
}

// interval is one maximal, non-overlapping byte range [Min, MaxP1) already
// covered by one or more merged fragments, with its fragments chained
// through RData.Next (spec.md section 3.3).
type interval struct {
	min, maxp1 int
	head, tail *rmsg.RData
	next, prev *interval
}

func (iv *interval) appendChain(r *rmsg.RData) {
	if iv.head == nil {
		iv.head, iv.tail = r, r
		return
	}
	iv.tail.Next = r
	iv.tail = r
}

// prependChain puts r's chain ahead of iv's existing chain (used when a
// fragment arrives that extends an interval downward).
func (iv *interval) prependChain(r *rmsg.RData) {
	if iv.head == nil {
		iv.head, iv.tail = r, r
		return
	}
	// walk r's own chain to its tail so multiple-fragment prepends still work
	t := r
	for t.Next != nil {
		t = t.Next
	}
	t.Next = iv.head
	iv.head = r
}

// record is the per-sample reassembly state: a sorted (by interval.min),
// doubly-linked set of non-overlapping intervals plus a cached pointer to
// the highest one for the common "next fragment extends the tail" path.
type record struct {
	seq      seqnum.SeqNum
	size     int // expected total sample size, once known
	fragSize int
	info     SampleInfo
	head     *interval // lowest interval, always starts with the [0,0) sentinel
	top      *interval // cached highest interval
	started  time.Time
}

func newRecord(seq seqnum.SeqNum, size, fragSize int, info SampleInfo) *record {
	sentinel := &interval{min: 0, maxp1: 0}
	return &record{seq: seq, size: size, fragSize: fragSize, info: info, head: sentinel, top: sentinel, started: time.Now()}
}

func (r *record) complete() bool {
	return r.head == r.top && r.head.min == 0 && r.head.maxp1 == r.size
}

// findPredecessor returns the rightmost interval with min <= at. The
// sentinel [0,0) guarantees this always succeeds.
func (r *record) findPredecessor(at int) *interval {
	var pred *interval
	for iv := r.head; iv != nil; iv = iv.next {
		if iv.min <= at {
			pred = iv
		} else {
			break
		}
	}
	return pred
}

func (r *record) insertAfter(pred, iv *interval) {
	iv.prev = pred
	iv.next = pred.next
	if pred.next != nil {
		pred.next.prev = iv
	}
	pred.next = iv
	if r.top == pred {
		r.top = iv
	}
}

func (r *record) remove(iv *interval) {
	if iv.prev != nil {
		iv.prev.next = iv.next
	} else {
		r.head = iv.next
	}
	if iv.next != nil {
		iv.next.prev = iv.prev
	}
	if r.top == iv {
		r.top = iv.prev
	}
}

// addFragment merges [min,maxp1) with its chain r into the record's
// interval set, following the four cases from spec.md section 4.3.
// Returns true if the fragment was a pure duplicate (already covered).
func (r *record) addFragment(min, maxp1 int, rd *rmsg.RData) (duplicate bool) {
	pred := r.findPredecessor(min)

	// Case (i): predecessor already covers this range entirely.
	if pred != nil && pred.maxp1 >= maxp1 {
		return true
	}

	// Case (ii): fragment extends the predecessor's high end.
	if pred != nil && min <= pred.maxp1 {
		pred.appendChain(rd)
		pred.maxp1 = maxp1
		// try to merge with successors while successor.min <= pred.maxp1
		for pred.next != nil && pred.next.min <= pred.maxp1 {
			succ := pred.next
			if succ.maxp1 > pred.maxp1 {
				pred.maxp1 = succ.maxp1
			}
			// splice succ's chain after pred's
			if pred.tail != nil {
				pred.tail.Next = succ.head
			} else {
				pred.head = succ.head
			}
			if succ.tail != nil {
				pred.tail = succ.tail
			}
			r.remove(succ)
		}
		return false
	}

	// Case (iii): the immediate successor begins at or before maxp1 — prepend.
	succ := successorOf(pred, r.head)
	if succ != nil && succ.min <= maxp1 {
		succ.prependChain(rd)
		if min < succ.min {
			succ.min = min
		}
		return false
	}

	// Case (iv): brand new interval.
	iv := &interval{min: min, maxp1: maxp1}
	iv.appendChain(rd)
	if pred == nil {
		// Can't happen: sentinel always exists at or before min==0, but guard
		// anyway by inserting at the very front.
		iv.next = r.head
		if r.head != nil {
			r.head.prev = iv
		}
		r.head = iv
		return false
	}
	r.insertAfter(pred, iv)
	return false
}

func successorOf(pred, head *interval) *interval {
	if pred == nil {
		return head
	}
	return pred.next
}

// Defrag is the per-proxy-writer defragmenter.
type Defrag struct {
	name       string
	mode       Mode
	policy     CapacityPolicy
	maxSamples int
	samples    map[seqnum.SeqNum]*record
}

// New creates a defragmenter. name is used only to label metrics.
func New(name string, mode Mode, policy CapacityPolicy, maxSamples int) *Defrag {
	return &Defrag{name: name, mode: mode, policy: policy, maxSamples: maxSamples, samples: make(map[seqnum.SeqNum]*record)}
}

// NSamples returns the number of in-progress (incomplete) samples held,
// for the "defrag.n_samples <= defrag.max_samples" capacity invariant.
func (d *Defrag) NSamples() int { return len(d.samples) }

// RSample is what a completed sample looks like leaving DEFRAG: the first
// interval's chain, re-used in place as a reorderer chain element (spec.md
// section 4.3's "key memory invariant").
type RSample struct {
	Seq   seqnum.SeqNum
	Info  SampleInfo
	Chain *rmsg.RData
	Size  int
}

// AddFragment processes one DATAFRAG fragment [min,maxp1) of sample seq
// (whose declared total size is sampleSize, fragment size fragSize). It
// returns a non-nil RSample once the sample becomes complete (a singleton
// interval spanning [0,size)); otherwise it returns nil once the fragment
// has been stored (or silently dropped as a duplicate).
func (d *Defrag) AddFragment(seq seqnum.SeqNum, min, maxp1, sampleSize, fragSize int, rd *rmsg.RData, info SampleInfo) *RSample {
	rec, ok := d.samples[seq]
	if !ok {
		if len(d.samples) >= d.maxSamples {
			if !d.makeRoom(seq) {
				return nil // DROP_NEWEST rejected this sequence number entirely
			}
		}
		rec = newRecord(seq, sampleSize, fragSize, info)
		d.samples[seq] = rec
	}

	rec.addFragment(min, maxp1, rd)

	if rec.complete() {
		delete(d.samples, seq)
		metrics.DefragCompleteLatency.Observe(time.Since(rec.started).Seconds())
		return &RSample{Seq: seq, Info: rec.info, Chain: rec.head.head, Size: rec.size}
	}
	return nil
}

// makeRoom applies the capacity policy when a brand-new sequence number
// would push the sample count past maxSamples. Returns false if the new
// sample should be rejected outright (DROP_NEWEST when seq is the new
// maximum).
func (d *Defrag) makeRoom(seq seqnum.SeqNum) bool {
	switch d.policy {
	case DropNewest:
		maxSeq := d.maxKnownSeq()
		if seq > maxSeq {
			return false
		}
		delete(d.samples, maxSeq)
		return true
	default: // DropOldest
		minSeq := d.minKnownSeq()
		delete(d.samples, minSeq)
		return true
	}
}

func (d *Defrag) maxKnownSeq() seqnum.SeqNum {
	var m seqnum.SeqNum = -1
	for s := range d.samples {
		if s > m {
			m = s
		}
	}
	return m
}

func (d *Defrag) minKnownSeq() seqnum.SeqNum {
	var m seqnum.SeqNum = seqnum.Max
	for s := range d.samples {
		if s < m {
			m = s
		}
	}
	return m
}

// NoteGap drops every in-progress record with from <= seq < to, mirroring
// defrag_notegap: a GAP tells the defragmenter those samples will never
// arrive.
func (d *Defrag) NoteGap(from, to seqnum.SeqNum) {
	for s := range d.samples {
		if s >= from && s < to {
			delete(d.samples, s)
		}
	}
}

// Prune drops every in-progress record below minSeq, used when a proxy
// writer's history horizon advances (defrag_prune).
func (d *Defrag) Prune(minSeq seqnum.SeqNum) {
	for s := range d.samples {
		if s < minSeq {
			delete(d.samples, s)
		}
	}
}

// NackMap produces a fragment-number bitset of holes for sample seq,
// spanning [firstMissing, min(lastKnown, maxFragNum)] clamped to maxSz
// bits (spec.md section 4.3 "Nackmap").
func (d *Defrag) NackMap(seq seqnum.SeqNum, maxFragNum, maxSz int) (NackStatus, *bitset.Bitset) {
	rec, ok := d.samples[seq]
	if !ok {
		return UnknownSample, nil
	}
	fragSize := rec.fragSize
	if fragSize <= 0 {
		return UnknownSample, nil
	}
	totalFrags := (rec.size + fragSize - 1) / fragSize
	lastKnown := totalFrags - 1
	if maxFragNum < lastKnown {
		lastKnown = maxFragNum
	}

	// Walk the intervals, translating byte coverage to fragment coverage.
	covered := make(map[int]bool)
	for iv := rec.head; iv != nil; iv = iv.next {
		f0 := iv.min / fragSize
		f1 := (iv.maxp1 + fragSize - 1) / fragSize
		for f := f0; f < f1; f++ {
			covered[f] = true
		}
	}

	firstMissing := -1
	for f := 0; f <= lastKnown; f++ {
		if !covered[f] {
			firstMissing = f
			break
		}
	}
	if firstMissing < 0 {
		return AllAdvertisedFragmentsKnown, nil
	}

	n := lastKnown - firstMissing + 1
	if n > maxSz {
		n = maxSz
	}
	bs := bitset.New(n)
	for i := 0; i < n; i++ {
		f := firstMissing + i
		if !covered[f] {
			bs.Set(i)
		}
	}
	return FragmentsMissing, bs
}
