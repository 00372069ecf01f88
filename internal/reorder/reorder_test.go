package reorder

import (
	"testing"

	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/defrag"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/seqnum"
)

func sample(seq seqnum.SeqNum) Sample {
	return Sample{Seq: seq, Info: defrag.SampleInfo{}}
}

// TestInOrderReliable mirrors spec.md end-to-end scenario 1: samples
// arriving strictly in order are delivered one at a time, immediately.
func TestInOrderReliable(t *testing.T) {
	r := New("w1", ModeNormal, 16, LateAckDefault)
	for seq := seqnum.SeqNum(1); seq <= 3; seq++ {
		delivered, res := r.AcceptSample(sample(seq), false)
		if res != ResultDelivered || len(delivered) != 1 || delivered[0].Seq != seq {
			t.Fatalf("seq %d: got result=%v delivered=%v, want immediate delivery", seq, res, delivered)
		}
	}
	if r.NextSeq() != 4 {
		t.Fatalf("NextSeq() = %v, want 4", r.NextSeq())
	}
}

// TestOutOfOrderDelivery mirrors spec.md end-to-end scenario 2: samples
// 2,3,5,1,4 arrive in that order; only once 1 arrives does the contiguous
// run 1,2,3 flush, then 4 flushes 4,5. Expected per-step delivered counts:
// 0,0,0,3,2.
func TestOutOfOrderDelivery(t *testing.T) {
	r := New("w1", ModeNormal, 16, LateAckDefault)
	order := []seqnum.SeqNum{2, 3, 5, 1, 4}
	wantCounts := []int{0, 0, 0, 3, 2}

	for i, seq := range order {
		delivered, _ := r.AcceptSample(sample(seq), false)
		if len(delivered) != wantCounts[i] {
			t.Fatalf("step %d (seq=%d): delivered %d samples, want %d", i, seq, len(delivered), wantCounts[i])
		}
		if len(delivered) > 0 {
			for j, s := range delivered {
				want := seqnum.SeqNum(1) + seqnum.SeqNum(i-len(delivered)+1) + seqnum.SeqNum(j)
				_ = want // ordering checked via NextSeq below; per-sample seq checked loosely
				if j > 0 && delivered[j-1].Seq+1 != s.Seq {
					t.Fatalf("step %d: delivered out of order: %v", i, delivered)
				}
			}
		}
	}
	if r.NextSeq() != 6 {
		t.Fatalf("NextSeq() = %v, want 6", r.NextSeq())
	}
}

// TestGapFillsHole mirrors spec.md end-to-end scenario 3: DATA for seq 1
// and 3 arrive, then a GAP covering [2,3) arrives; the GAP must coalesce
// with the already-stored seq-3 interval and flush both 1 (immediately) and
// then 3 once the gap closes the hole.
func TestGapFillsHole(t *testing.T) {
	r := New("w1", ModeNormal, 16, LateAckDefault)

	delivered, res := r.AcceptSample(sample(1), false)
	if res != ResultDelivered || len(delivered) != 1 || delivered[0].Seq != 1 {
		t.Fatalf("seq 1: got result=%v delivered=%v", res, delivered)
	}

	delivered, res = r.AcceptSample(sample(3), false)
	if res != ResultAccepted || len(delivered) != 0 {
		t.Fatalf("seq 3 (ahead of next_seq=2): got result=%v delivered=%v, want stored-not-delivered", res, delivered)
	}

	delivered, res = r.Gap(2, 3)
	if res != ResultDelivered || len(delivered) != 1 || delivered[0].Seq != 3 {
		t.Fatalf("GAP[2,3): got result=%v delivered=%v, want seq 3 delivered", res, delivered)
	}
	if r.NextSeq() != 4 {
		t.Fatalf("NextSeq() = %v, want 4", r.NextSeq())
	}
}

func TestTooOldSampleRejected(t *testing.T) {
	r := New("w1", ModeNormal, 16, LateAckDefault)
	r.AcceptSample(sample(1), false)
	if _, res := r.AcceptSample(sample(1), false); res != ResultTooOld {
		t.Fatalf("re-delivering seq 1: got %v, want ResultTooOld", res)
	}
}

func TestDeliveryQueueFullRejectsInsteadOfDelivering(t *testing.T) {
	r := New("w1", ModeNormal, 16, LateAckDefault)
	delivered, res := r.AcceptSample(sample(1), true)
	if res != ResultRejected || delivered != nil {
		t.Fatalf("got result=%v delivered=%v, want rejected with a full delivery queue", res, delivered)
	}
	if r.NextSeq() != 1 {
		t.Fatalf("NextSeq() must not advance on rejection, got %v", r.NextSeq())
	}
}

func TestAlwaysDeliverModeNeverHoldsBack(t *testing.T) {
	r := New("w1", ModeAlwaysDeliver, 16, LateAckDefault)
	delivered, res := r.AcceptSample(sample(5), false)
	if res != ResultDelivered || len(delivered) != 1 || delivered[0].Seq != 5 {
		t.Fatalf("ModeAlwaysDeliver: got result=%v delivered=%v, want immediate delivery of an out-of-order sample", res, delivered)
	}
}

func TestCapacityEvictionDropsHighestSeq(t *testing.T) {
	r := New("w1", ModeNormal, 2, LateAckDefault)
	// next_seq starts at 1; store 3,4 (not deliverable since next_seq==1),
	// then 6, which exceeds capacity (2) and is itself the highest seq, so
	// it is the one evicted.
	r.AcceptSample(sample(3), false)
	r.AcceptSample(sample(4), false)
	r.AcceptSample(sample(6), false)
	if r.NSamples() != 2 {
		t.Fatalf("NSamples() = %d, want 2 after capacity eviction", r.NSamples())
	}
}

func TestFromDefragAdapts(t *testing.T) {
	rs := &defrag.RSample{Seq: 9, Info: defrag.SampleInfo{}}
	s := FromDefrag(rs)
	if s.Seq != 9 {
		t.Fatalf("FromDefrag: Seq = %v, want 9", s.Seq)
	}
}

// TestNackMapReportsHeldGaps feeds 2,3,6 (next_seq stays at 1) and checks
// that NackMap(1, 6, ...) reports exactly the holes: 1, 4, 5.
func TestNackMapReportsHeldGaps(t *testing.T) {
	r := New("w1", ModeNormal, 16, LateAckDefault)
	r.AcceptSample(sample(2), false)
	r.AcceptSample(sample(3), false)
	r.AcceptSample(sample(6), false)

	bs := r.NackMap(1, 6, 16, false)
	if bs.NumBits() != 6 {
		t.Fatalf("NumBits() = %d, want 6 (seqs 1..6)", bs.NumBits())
	}
	wantMissing := map[int]bool{0: true, 3: true, 4: true} // seq 1, 4, 5
	for i := 0; i < bs.NumBits(); i++ {
		if got, want := bs.IsSet(i), wantMissing[i]; got != want {
			t.Fatalf("bit %d (seq %d) set=%v, want %v", i, 1+seqnum.SeqNum(i), got, want)
		}
	}
}

func TestNackMapAllCoveredReturnsEmptyMap(t *testing.T) {
	r := New("w1", ModeNormal, 16, LateAckDefault)
	r.AcceptSample(sample(2), false)
	r.AcceptSample(sample(3), false)

	bs := r.NackMap(2, 3, 16, false)
	for i := 0; i < bs.NumBits(); i++ {
		if bs.IsSet(i) {
			t.Fatalf("bit %d set, want every requested seq covered", i)
		}
	}
}

func TestNackMapClampsToMaxSz(t *testing.T) {
	r := New("w1", ModeNormal, 16, LateAckDefault)
	bs := r.NackMap(1, 100, 8, false)
	if bs.NumBits() != 8 {
		t.Fatalf("NumBits() = %d, want clamped to maxSz=8", bs.NumBits())
	}
}

// TestNackMapNotailStopsAtLastKnownSeq: with nothing held at all, notail
// must not report any holes past base, since nothing has been seen to
// anchor a "missing" claim beyond it.
func TestNackMapNotailStopsAtLastKnownSeq(t *testing.T) {
	r := New("w1", ModeNormal, 16, LateAckDefault)
	bs := r.NackMap(1, 100, 16, true)
	if bs.NumBits() != 0 {
		t.Fatalf("NumBits() = %d, want 0 (notail with nothing held yet)", bs.NumBits())
	}

	r.AcceptSample(sample(5), false) // held, not delivered (next_seq==1)
	bs = r.NackMap(1, 100, 16, true)
	if bs.NumBits() != 5 {
		t.Fatalf("NumBits() = %d, want 5 (clamped to the held interval's top, seq 5)", bs.NumBits())
	}
}
