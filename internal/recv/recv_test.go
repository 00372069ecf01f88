package recv

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/defrag"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/guid"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/locator"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/rmsg"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/seqnum"
)

func testPool() *rmsg.Pool {
	return rmsg.NewPool("recv-test", 8192, 4096)
}

var testPrefix = guid.Prefix{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}

func u32be(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func seqBytes(s seqnum.SeqNum) []byte {
	hi, lo := s.Wire()
	out := make([]byte, 8)
	binary.BigEndian.PutUint32(out[0:4], uint32(hi))
	binary.BigEndian.PutUint32(out[4:8], lo)
	return out
}

func submsg(id byte, flags byte, body []byte) []byte {
	out := make([]byte, 4+len(body))
	out[0] = id
	out[1] = flags
	binary.BigEndian.PutUint16(out[2:4], uint16(len(body)))
	copy(out[4:], body)
	return out
}

func datagram(prefix guid.Prefix, subs ...[]byte) []byte {
	out := []byte("RTPS")
	out = append(out, 2, 1)    // version
	out = append(out, 1, 21)   // vendor id
	out = append(out, prefix[:]...)
	for _, s := range subs {
		out = append(out, s...)
	}
	return out
}

func dataSubmsg(writerID guid.EntityID, seq seqnum.SeqNum, payload []byte) []byte {
	var body []byte
	body = append(body, 0, 0)          // extraFlags
	body = append(body, u32be(16)[2:]...) // octetsToInlineQos (unused by our parser)
	body = append(body, 0, 0, 0, 0)    // readerID: wildcard
	body = append(body, writerID[:]...)
	body = append(body, seqBytes(seq)...)
	body = append(body, payload...)
	return submsg(idData, flagDataPayload, body)
}

func heartbeatSubmsg(writerID guid.EntityID, firstSN, lastSN seqnum.SeqNum, count int32, final bool) []byte {
	var body []byte
	body = append(body, 0, 0, 0, 0) // readerID
	body = append(body, writerID[:]...)
	body = append(body, seqBytes(firstSN)...)
	body = append(body, seqBytes(lastSN)...)
	body = append(body, u32be(uint32(count))...)
	flags := byte(0)
	if final {
		flags |= 0x02
	}
	return submsg(idHeartbeat, flags, body)
}

func gapSubmsg(writerID guid.EntityID, gapStart, bitmapBase seqnum.SeqNum, numBits uint32, words []uint32) []byte {
	var body []byte
	body = append(body, 0, 0, 0, 0) // readerID
	body = append(body, writerID[:]...)
	body = append(body, seqBytes(gapStart)...)
	body = append(body, seqBytes(bitmapBase)...)
	body = append(body, u32be(numBits)...)
	for _, w := range words {
		body = append(body, u32be(w)...)
	}
	return submsg(idGap, 0, body)
}

func acknackSubmsg(readerID, writerID guid.EntityID, base seqnum.SeqNum, numBits uint32, words []uint32, count int32, final bool) []byte {
	var body []byte
	body = append(body, readerID[:]...)
	body = append(body, writerID[:]...)
	body = append(body, seqBytes(base)...)
	body = append(body, u32be(numBits)...)
	for _, w := range words {
		body = append(body, u32be(w)...)
	}
	body = append(body, u32be(uint32(count))...)
	flags := byte(0)
	if final {
		flags |= 0x02
	}
	return submsg(idAckNack, flags, body)
}

type fakeWriterSide struct {
	mu               sync.Mutex
	retransmitted    []seqnum.SeqNum
	gaps             [][2]seqnum.SeqNum
	removedAckedThru seqnum.SeqNum
	heartbeatsSched  int
	acknacksSched    int
	inCache          map[seqnum.SeqNum]bool
}

func (f *fakeWriterSide) SampleInCache(writerGUID guid.GUID, seq seqnum.SeqNum) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inCache[seq]
}
func (f *fakeWriterSide) RetransmitData(writerGUID, readerGUID guid.GUID, seq seqnum.SeqNum) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retransmitted = append(f.retransmitted, seq)
}
func (f *fakeWriterSide) RetransmitFragment(writerGUID, readerGUID guid.GUID, seq seqnum.SeqNum, frag seqnum.FragNum) {
}
func (f *fakeWriterSide) SendGap(writerGUID, readerGUID guid.GUID, from, to seqnum.SeqNum) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gaps = append(f.gaps, [2]seqnum.SeqNum{from, to})
}
func (f *fakeWriterSide) RemoveAcked(writerGUID, readerGUID guid.GUID, through seqnum.SeqNum) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedAckedThru = through
}
func (f *fakeWriterSide) ScheduleHeartbeat(writerGUID guid.GUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeatsSched++
}
func (f *fakeWriterSide) ScheduleAckNack(readerGUID, writerGUID guid.GUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acknacksSched++
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	buf := append([]byte("XXXX"), make([]byte, 16)...)
	if _, _, err := ParseHeader(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestParseHeaderRejectsShortBuffer(t *testing.T) {
	if _, _, err := ParseHeader([]byte("RTPS")); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestParseHeaderDecodesFields(t *testing.T) {
	buf := datagram(testPrefix)
	hdr, n, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != rtpsHeaderLen {
		t.Fatalf("consumed = %d, want %d", n, rtpsHeaderLen)
	}
	if hdr.GUIDPrefix != testPrefix {
		t.Fatalf("prefix = %v, want %v", hdr.GUIDPrefix, testPrefix)
	}
	if hdr.VersionMajor != 2 || hdr.VersionMinor != 1 {
		t.Fatalf("version = %d.%d, want 2.1", hdr.VersionMajor, hdr.VersionMinor)
	}
}

func TestProcessDatagramRejectsBadMagic(t *testing.T) {
	r := New(guid.Prefix{}, testPool(), nil, nil)
	if err := r.ProcessDatagram(append([]byte("BOGUS"), make([]byte, 20)...), locator.Locator{}); err == nil {
		t.Fatal("expected malformed header error")
	}
}

func TestProcessDatagramDeliversUnfragmentedData(t *testing.T) {
	var got []byte
	var gotSeq seqnum.SeqNum
	r := New(guid.Prefix{}, testPool(), nil, func(wg guid.GUID, seq seqnum.SeqNum, info defrag.SampleInfo, payload []byte) {
		got = append([]byte(nil), payload...)
		gotSeq = seq
	})

	writerID := guid.EntityIDFromU32(0x00010302)
	writerGUID := guid.New(testPrefix, writerID)
	pw := r.NewBestEffortProxyWriter(writerGUID, 16, 4)
	pw.SynchronousDelivery = true
	r.RegisterProxyWriter(pw)

	dg := datagram(testPrefix, dataSubmsg(writerID, 1, []byte("hello")))
	if err := r.ProcessDatagram(dg, locator.Locator{}); err != nil {
		t.Fatalf("ProcessDatagram: %v", err)
	}

	if string(got) != "hello" {
		t.Fatalf("delivered payload = %q, want %q", got, "hello")
	}
	if gotSeq != 1 {
		t.Fatalf("delivered seq = %d, want 1", gotSeq)
	}
}

func TestProcessDatagramReliableWriterGatesOnHeartbeat(t *testing.T) {
	var delivered int
	r := New(guid.Prefix{}, testPool(), nil, func(guid.GUID, seqnum.SeqNum, defrag.SampleInfo, []byte) {
		delivered++
	})

	writerID := guid.EntityIDFromU32(0x00010402)
	writerGUID := guid.New(testPrefix, writerID)
	pw := r.NewReliableProxyWriter(writerGUID, 16, 4)
	pw.SynchronousDelivery = true
	r.RegisterProxyWriter(pw)

	dg := datagram(testPrefix, dataSubmsg(writerID, 1, []byte("early")))
	if err := r.ProcessDatagram(dg, locator.Locator{}); err != nil {
		t.Fatalf("ProcessDatagram: %v", err)
	}
	if delivered != 0 {
		t.Fatalf("delivered = %d before any HEARTBEAT, want 0", delivered)
	}

	hb := datagram(testPrefix, heartbeatSubmsg(writerID, 1, 1, 1, true))
	if err := r.ProcessDatagram(hb, locator.Locator{}); err != nil {
		t.Fatalf("ProcessDatagram heartbeat: %v", err)
	}
	if !pw.HeartbeatSeen {
		t.Fatal("HeartbeatSeen should be true after a HEARTBEAT")
	}

	dg2 := datagram(testPrefix, dataSubmsg(writerID, 1, []byte("late")))
	if err := r.ProcessDatagram(dg2, locator.Locator{}); err != nil {
		t.Fatalf("ProcessDatagram: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("delivered = %d after HEARTBEAT unblocked seq 1, want 1", delivered)
	}
}

func TestHeartbeatSchedulesAckNackUnlessFinal(t *testing.T) {
	ws := &fakeWriterSide{}
	r := New(guid.Prefix{}, testPool(), ws, nil)

	writerID := guid.EntityIDFromU32(0x00010502)
	writerGUID := guid.New(testPrefix, writerID)
	pw := r.NewReliableProxyWriter(writerGUID, 16, 4)
	r.RegisterProxyWriter(pw)

	hb := datagram(testPrefix, heartbeatSubmsg(writerID, 1, 5, 1, false))
	if err := r.ProcessDatagram(hb, locator.Locator{}); err != nil {
		t.Fatalf("ProcessDatagram: %v", err)
	}
	if pw.LastSeq != 5 {
		t.Fatalf("LastSeq = %d, want 5", pw.LastSeq)
	}
	ws.mu.Lock()
	sched := ws.acknacksSched
	ws.mu.Unlock()
	if sched != 1 {
		t.Fatalf("acknacksSched = %d, want 1 (FINAL not set)", sched)
	}
}

func TestGapAdvancesReorderFloor(t *testing.T) {
	var delivered []seqnum.SeqNum
	r := New(guid.Prefix{}, testPool(), nil, func(_ guid.GUID, seq seqnum.SeqNum, _ defrag.SampleInfo, _ []byte) {
		delivered = append(delivered, seq)
	})

	writerID := guid.EntityIDFromU32(0x00010602)
	writerGUID := guid.New(testPrefix, writerID)
	pw := r.NewReliableProxyWriter(writerGUID, 16, 4)
	pw.SynchronousDelivery = true
	pw.HeartbeatSeen = true
	r.RegisterProxyWriter(pw)

	gap := datagram(testPrefix, gapSubmsg(writerID, 1, 4, 0, nil))
	if err := r.ProcessDatagram(gap, locator.Locator{}); err != nil {
		t.Fatalf("ProcessDatagram gap: %v", err)
	}
	if pw.Reorder.NextSeq() != 4 {
		t.Fatalf("reorder next_seq = %d, want 4 after GAP [1,4)", pw.Reorder.NextSeq())
	}

	dg := datagram(testPrefix, dataSubmsg(writerID, 4, []byte("post-gap")))
	if err := r.ProcessDatagram(dg, locator.Locator{}); err != nil {
		t.Fatalf("ProcessDatagram data: %v", err)
	}
	if len(delivered) != 1 || delivered[0] != 4 {
		t.Fatalf("delivered = %v, want [4]", delivered)
	}
}

func TestAckNackMonotonicCountRejectsStaleCount(t *testing.T) {
	ws := &fakeWriterSide{inCache: map[seqnum.SeqNum]bool{}}
	r := New(guid.Prefix{}, testPool(), ws, nil)

	writerID := guid.EntityIDFromU32(0x00010702)
	writerGUID := guid.New(testPrefix, writerID)
	readerID := guid.EntityIDFromU32(0x00020704)
	lw := NewLocalWriter(writerGUID)
	r.RegisterLocalWriter(lw)

	an1 := datagram(testPrefix, acknackSubmsg(readerID, writerID, 5, 0, nil, 2, false))
	if err := r.ProcessDatagram(an1, locator.Locator{}); err != nil {
		t.Fatalf("ProcessDatagram: %v", err)
	}
	ws.mu.Lock()
	firstRemoved := ws.removedAckedThru
	ws.mu.Unlock()
	if firstRemoved != 4 {
		t.Fatalf("removedAckedThru = %d, want 4", firstRemoved)
	}

	// Stale count (1 < 2), sent immediately (well within the silence
	// threshold): must be rejected, leaving bookkeeping untouched.
	an2 := datagram(testPrefix, acknackSubmsg(readerID, writerID, 5, 0, nil, 1, false))
	if err := r.ProcessDatagram(an2, locator.Locator{}); err != nil {
		t.Fatalf("ProcessDatagram: %v", err)
	}
	ws.mu.Lock()
	secondRemoved := ws.removedAckedThru
	ws.mu.Unlock()
	if secondRemoved != 4 {
		t.Fatalf("removedAckedThru changed to %d after a stale ACKNACK count, want unchanged 4", secondRemoved)
	}
}

func TestAckNackRequestsRetransmitForCachedSample(t *testing.T) {
	ws := &fakeWriterSide{inCache: map[seqnum.SeqNum]bool{3: true}}
	r := New(guid.Prefix{}, testPool(), ws, nil)

	writerID := guid.EntityIDFromU32(0x00010802)
	writerGUID := guid.New(testPrefix, writerID)
	readerID := guid.EntityIDFromU32(0x00020804)
	lw := NewLocalWriter(writerGUID)
	r.RegisterLocalWriter(lw)

	an := datagram(testPrefix, acknackSubmsg(readerID, writerID, 3, 1, []uint32{1 << 31}, 1, true))
	if err := r.ProcessDatagram(an, locator.Locator{}); err != nil {
		t.Fatalf("ProcessDatagram: %v", err)
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if len(ws.retransmitted) != 1 || ws.retransmitted[0] != 3 {
		t.Fatalf("retransmitted = %v, want [3]", ws.retransmitted)
	}
}

func TestProcessDatagramIgnoresSecuritySubmessageIDs(t *testing.T) {
	r := New(guid.Prefix{}, testPool(), nil, nil)
	dg := datagram(testPrefix, submsg(idSecPrefix, 0, []byte{1, 2, 3, 4}))
	if err := r.ProcessDatagram(dg, locator.Locator{}); err != nil {
		t.Fatalf("ProcessDatagram: %v", err)
	}
}

func TestProcessDatagramRejectsUnknownReservedSubmessageID(t *testing.T) {
	r := New(guid.Prefix{}, testPool(), nil, nil)
	dg := datagram(testPrefix, submsg(0x7e, 0, []byte{1, 2, 3, 4}))
	if err := r.ProcessDatagram(dg, locator.Locator{}); err != nil {
		t.Fatalf("ProcessDatagram should not itself error on malformed submessage, got %v", err)
	}
}
