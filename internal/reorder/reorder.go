// Package reorder implements the per-proxy-writer (primary) and per-out-of-
// sync-reader (secondary) sample reorderer: a sequence-number interval tree
// over complete samples with gaps, producing contiguous delivery chains.
//
// Grounded on original_source/ddsi_radmin.c's reorder_* functions and on
// glycerine's go-sliding-window/recv.go receive-side ordering state machine
// (NextFrameExpected / ReadyForDelivery), generalized from a single
// sequence counter to the tree-of-intervals shape the spec requires.
package reorder

import (
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/bitset"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/defrag"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/metrics"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/rmsg"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/seqnum"
)

// Mode selects delivery discipline (spec.md section 3.4).
type Mode int

const (
	ModeNormal Mode = iota
	ModeMonotonicallyIncreasing
	ModeAlwaysDeliver
)

// LateAckMode is recorded by New; AcceptSample, Gap and NackMap do not
// consult it, so next_seq is tracked the same way under either value.
type LateAckMode int

const (
	LateAckDefault LateAckMode = iota
	LateAckIgnore
)

// Result is the outcome of AcceptSample/Gap.
type Result int

const (
	ResultTooOld Result = iota
	ResultRejected
	ResultAccepted  // stored, nothing new delivered yet
	ResultDelivered // len(delivered) > 0
)

// Sample is one complete sample as handed to the reorderer, either straight
// from DEFRAG (a completed RSample) or directly from an unfragmented DATA.
type Sample struct {
	Seq   seqnum.SeqNum
	Info  defrag.SampleInfo
	Chain *rmsg.RData
}

// FromDefrag adapts a defragmenter's completed sample to the reorderer's
// input type without introducing a dependency the other way.
func FromDefrag(rs *defrag.RSample) Sample {
	return Sample{Seq: rs.Seq, Info: rs.Info, Chain: rs.Chain}
}

type sampleEntry struct {
	seq  seqnum.SeqNum
	info defrag.SampleInfo
	chain *rmsg.RData
	next *sampleEntry
}

// interval is a maximal, non-overlapping, non-adjacent [min, maxp1) span of
// held sequence numbers (adjacent intervals are always coalesced, spec.md
// section 3.4). headEntry/tailEntry chain the complete samples it holds, in
// ascending seq order.
type interval struct {
	min, maxp1 seqnum.SeqNum
	headEntry, tailEntry *sampleEntry
	count      int
	next, prev *interval
}

func (iv *interval) append(e *sampleEntry) {
	if iv.headEntry == nil {
		iv.headEntry, iv.tailEntry = e, e
	} else {
		iv.tailEntry.next = e
		iv.tailEntry = e
	}
	iv.count++
}

func (iv *interval) prepend(e *sampleEntry) {
	if iv.headEntry == nil {
		iv.headEntry, iv.tailEntry = e, e
	} else {
		e.next = iv.headEntry
		iv.headEntry = e
	}
	iv.count++
}

// Reorder is the per-proxy-writer (or per-out-of-sync-reader) reorderer.
type Reorder struct {
	name       string
	mode       Mode
	lateAck    LateAckMode
	maxSamples int
	nextSeq    seqnum.SeqNum
	head, tail *interval // sorted ascending by min; tail is the highest interval
	nSamples   int
}

// New creates a reorderer with next_seq starting at 1 (the first valid
// sequence number).
func New(name string, mode Mode, maxSamples int, lateAck LateAckMode) *Reorder {
	return &Reorder{name: name, mode: mode, maxSamples: maxSamples, lateAck: lateAck, nextSeq: 1}
}

// NextSeq returns the first undelivered sequence number.
func (r *Reorder) NextSeq() seqnum.SeqNum { return r.nextSeq }

// SetNextSeq forces next_seq, used when a HEARTBEAT or GAP establishes a
// new floor the caller has decided to trust (e.g. late-joiner bootstrap).
func (r *Reorder) SetNextSeq(s seqnum.SeqNum) { r.nextSeq = s }

// NSamples returns the number of complete samples currently held, for the
// "reorder.n_samples <= reorder.max_samples" capacity invariant.
func (r *Reorder) NSamples() int { return r.nSamples }

// WantSample reports whether seq is still of interest (not already
// delivered), used by callers deciding whether to even bother defragmenting
// a fragment whose sample is already known to be too old.
func (r *Reorder) WantSample(seq seqnum.SeqNum) bool {
	if r.mode == ModeAlwaysDeliver {
		return true
	}
	return seq >= r.nextSeq
}

// AcceptSample is reorder_rsample: feed one complete sample in. See
// spec.md section 4.4 for the case analysis this follows line for line.
func (r *Reorder) AcceptSample(s Sample, deliveryQueueFull bool) ([]Sample, Result) {
	seq := s.Seq

	if seq < r.nextSeq && r.mode != ModeAlwaysDeliver {
		return nil, ResultTooOld
	}

	deliverableNow := seq == r.nextSeq || (r.mode == ModeMonotonicallyIncreasing && seq >= r.nextSeq) || r.mode == ModeAlwaysDeliver

	if deliverableNow {
		if deliveryQueueFull {
			return nil, ResultRejected
		}
		delivered := []Sample{s}
		if r.mode == ModeAlwaysDeliver {
			r.nextSeq = seq + 1
			return delivered, ResultDelivered
		}
		r.nextSeq = seq + 1
		delivered = append(delivered, r.drainHeadIfContiguous()...)
		return delivered, ResultDelivered
	}

	// Not deliverable yet: store it in the interval tree.
	e := &sampleEntry{seq: seq, info: s.Info, chain: s.Chain}
	if r.insertEntry(seq, e) {
		return nil, ResultAccepted
	}
	return nil, ResultTooOld // pure duplicate of an already-held sample
}

// drainHeadIfContiguous pulls the head interval into the delivery stream if
// it begins exactly at the new next_seq, advancing next_seq past it, and
// repeats (in case multiple intervals chain together after a gap fill).
func (r *Reorder) drainHeadIfContiguous() []Sample {
	var out []Sample
	for r.head != nil && r.head.min == r.nextSeq {
		iv := r.head
		for e := iv.headEntry; e != nil; e = e.next {
			out = append(out, Sample{Seq: e.seq, Info: e.info, Chain: e.chain})
		}
		r.nextSeq = iv.maxp1
		r.nSamples -= iv.count
		r.unlink(iv)
	}
	return out
}

func (r *Reorder) unlink(iv *interval) {
	if iv.prev != nil {
		iv.prev.next = iv.next
	} else {
		r.head = iv.next
	}
	if iv.next != nil {
		iv.next.prev = iv.prev
	} else {
		r.tail = iv.prev
	}
}

func (r *Reorder) insertAfter(pred, iv *interval) {
	iv.prev = pred
	if pred == nil {
		iv.next = r.head
		if r.head != nil {
			r.head.prev = iv
		}
		r.head = iv
		if r.tail == nil {
			r.tail = iv
		}
		return
	}
	iv.next = pred.next
	if pred.next != nil {
		pred.next.prev = iv
	} else {
		r.tail = iv
	}
	pred.next = iv
}

// insertEntry places one sample entry into the interval tree, following
// cases 3-5 from spec.md section 4.4. Returns false if seq was a pure
// duplicate of an already-stored sample.
func (r *Reorder) insertEntry(seq seqnum.SeqNum, e *sampleEntry) bool {
	// Case 3/4: extend or start the tail.
	if r.tail != nil && r.tail.maxp1 == seq {
		r.tail.append(e)
		r.tail.maxp1 = seq + 1
		r.nSamples++
		r.evictIfOverCapacity()
		return true
	}
	if r.tail == nil || seq > r.tail.maxp1 {
		iv := &interval{min: seq, maxp1: seq + 1}
		iv.append(e)
		r.insertAfter(r.tail, iv)
		r.nSamples++
		r.evictIfOverCapacity()
		return true
	}

	// Case 5: the seq falls somewhere in the middle or before the head.
	var pred *interval
	for iv := r.head; iv != nil; iv = iv.next {
		if iv.min <= seq {
			pred = iv
		} else {
			break
		}
	}

	if pred != nil && seq < pred.maxp1 {
		return false // (a) duplicate, already inside an existing interval
	}
	if pred != nil && seq == pred.maxp1 {
		// (b) append to predecessor; maybe coalesce with successor.
		pred.append(e)
		pred.maxp1 = seq + 1
		r.nSamples++
		if pred.next != nil && pred.next.min == pred.maxp1 {
			succ := pred.next
			if succ.headEntry != nil {
				if pred.tailEntry != nil {
					pred.tailEntry.next = succ.headEntry
				} else {
					pred.headEntry = succ.headEntry
				}
				pred.tailEntry = succ.tailEntry
			}
			pred.maxp1 = succ.maxp1
			pred.count += succ.count
			r.unlink(succ)
		}
		r.evictIfOverCapacity()
		return true
	}

	succ := successorOf(pred, r.head)
	if succ != nil && seq+1 == succ.min {
		// (c) prepend to successor; lowering its key is safe.
		succ.prepend(e)
		succ.min = seq
		r.nSamples++
		r.evictIfOverCapacity()
		return true
	}

	// (d) brand new singleton interval.
	iv := &interval{min: seq, maxp1: seq + 1}
	iv.append(e)
	r.insertAfter(pred, iv)
	r.nSamples++
	r.evictIfOverCapacity()
	return true
}

func successorOf(pred, head *interval) *interval {
	if pred == nil {
		return head
	}
	return pred.next
}

// evictIfOverCapacity removes the highest-seq sample once nSamples exceeds
// maxSamples: a singleton interval's removal deletes the interval; a
// non-singleton interval's removal drops its chain's tail element (spec.md
// section 4.4 "Eviction").
func (r *Reorder) evictIfOverCapacity() {
	if r.nSamples <= r.maxSamples || r.tail == nil {
		return
	}
	iv := r.tail
	if iv.count <= 1 {
		r.unlink(iv)
	} else {
		// drop the tail sample entry from the chain
		var prev *sampleEntry
		for e := iv.headEntry; e != nil; e = e.next {
			if e == iv.tailEntry {
				break
			}
			prev = e
		}
		if prev != nil {
			prev.next = nil
			iv.tailEntry = prev
		}
		iv.count--
		iv.maxp1--
	}
	r.nSamples--
}

// Gap is reorder_gap: a GAP submessage covering [from,to). Touching or
// overlapping intervals are coalesced into one, possibly widened to
// exactly [from,to); if the coalesced interval's min is at or below
// next_seq it is immediately extracted and delivered (spec.md section
// 4.4 "Gaps").
func (r *Reorder) Gap(from, to seqnum.SeqNum) ([]Sample, Result) {
	if to <= from {
		return nil, ResultAccepted
	}
	if to <= r.nextSeq {
		return nil, ResultAccepted // entirely in the past, silently absorbed
	}
	if from < r.nextSeq {
		from = r.nextSeq
	}

	metrics.ReorderGapWidth.Observe(float64(to - from))

	merged := &interval{min: from, maxp1: to}
	var insertPred *interval
	for iv := r.head; iv != nil; {
		next := iv.next
		if iv.maxp1 >= merged.min && iv.min <= merged.maxp1 {
			if iv.min < merged.min {
				merged.min = iv.min
			}
			if iv.maxp1 > merged.maxp1 {
				merged.maxp1 = iv.maxp1
			}
			if iv.headEntry != nil {
				if merged.tailEntry != nil {
					merged.tailEntry.next = iv.headEntry
				} else {
					merged.headEntry = iv.headEntry
				}
				merged.tailEntry = iv.tailEntry
			}
			merged.count += iv.count
			if iv.prev != nil {
				insertPred = iv.prev
			}
			r.unlink(iv)
		} else if iv.min < merged.min {
			insertPred = iv
		}
		iv = next
	}

	if merged.min <= r.nextSeq {
		delivered := make([]Sample, 0, merged.count)
		for e := merged.headEntry; e != nil; e = e.next {
			delivered = append(delivered, Sample{Seq: e.seq, Info: e.info, Chain: e.chain})
		}
		r.nextSeq = merged.maxp1
		r.nSamples -= merged.count
		delivered = append(delivered, r.drainHeadIfContiguous()...)
		if len(delivered) > 0 {
			return delivered, ResultDelivered
		}
		return nil, ResultAccepted
	}

	r.insertAfter(insertPred, merged)
	return nil, ResultAccepted
}

// DupFirst cheaply duplicates a just-accepted sample's metadata (not its
// fragment bytes — those are shared via the RData chain) so it can be fed
// into a secondary, per-out-of-sync-reader reorderer independently (spec.md
// section 4.6 "rsample_dup_first").
func DupFirst(s Sample) Sample {
	return Sample{Seq: s.Seq, Info: s.Info, Chain: s.Chain}
}

// DropUpto discards all held state below seq without delivering it,
// equivalent to treating [oldNextSeq, seq) as an unconditional gap that was
// never going to be satisfied.
func (r *Reorder) DropUpto(seq seqnum.SeqNum) {
	if seq <= r.nextSeq {
		return
	}
	for iv := r.head; iv != nil; {
		next := iv.next
		if iv.maxp1 <= seq {
			r.nSamples -= iv.count
			r.unlink(iv)
		} else if iv.min < seq {
			// partially stale: drop entries below seq from the chain.
			var newHead *sampleEntry
			cnt := 0
			for e := iv.headEntry; e != nil; e = e.next {
				if e.seq >= seq {
					if newHead == nil {
						newHead = e
					}
					cnt++
				}
			}
			iv.headEntry = newHead
			iv.min = seq
			r.nSamples -= iv.count - cnt
			iv.count = cnt
		}
		iv = next
	}
	r.nextSeq = seq
}

// NackMap produces a sequence-number bitset of the sequence numbers in
// [base, maxSeq] the reorderer is still missing, clamped to maxSz bits
// (spec.md section 4.4's reorder_nackmap). With notail set, the scan never
// extends past the highest sequence number the reorderer has actually
// seen (the top of its highest held interval): anything further out
// simply hasn't arrived yet, rather than being known-missing, so nacking
// it would be premature.
func (r *Reorder) NackMap(base, maxSeq seqnum.SeqNum, maxSz int, notail bool) *bitset.Bitset {
	if maxSeq < base {
		return bitset.New(0)
	}
	hi := maxSeq
	if notail {
		if r.tail != nil {
			if r.tail.maxp1-1 < hi {
				hi = r.tail.maxp1 - 1
			}
		} else {
			hi = base - 1
		}
	}
	if hi < base {
		return bitset.New(0)
	}

	n := int(hi-base) + 1
	if n > maxSz {
		n = maxSz
	}
	top := base + seqnum.SeqNum(n) - 1

	covered := make(map[seqnum.SeqNum]bool, n)
	for iv := r.head; iv != nil; iv = iv.next {
		lo, ivTop := iv.min, iv.maxp1-1
		if lo < base {
			lo = base
		}
		if ivTop > top {
			ivTop = top
		}
		for s := lo; s <= ivTop; s++ {
			covered[s] = true
		}
	}

	bs := bitset.New(n)
	for i := 0; i < n; i++ {
		if !covered[base+seqnum.SeqNum(i)] {
			bs.Set(i)
		}
	}
	return bs
}
