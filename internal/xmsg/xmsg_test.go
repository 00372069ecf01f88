package xmsg

import (
	"testing"
	"time"

	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/guid"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/plist"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/rmsg"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/seqnum"
)

func testPool() *rmsg.Pool {
	return rmsg.NewPool("xmsg-test", 4096, 2048)
}

func TestAddTimestampEncodesNTPFixedPoint(t *testing.T) {
	pool := testPool()
	m := New(pool, KindControl)
	ts := time.Date(2026, 1, 1, 0, 0, 1, 500_000_000, time.UTC)
	m.AddTimestamp(ts)

	if got := m.Len(); got != 12 {
		t.Fatalf("Len() after AddTimestamp = %d, want 12 (4 header + 8 body)", got)
	}
	b := m.Bytes()
	if b[0] != 0x09 {
		t.Fatalf("submessage id = %#x, want 0x09 (INFO_TS)", b[0])
	}
}

func TestSetDataReaderIDThenEraseReaderID(t *testing.T) {
	pool := testPool()
	m := New(pool, KindDataRexmit)

	off := m.AppendSerdata([]byte{0, 0, 0, 0}) // placeholder reader-id field
	readerID := guid.EntityIDFromU32(0x01234567)
	m.SetDataReaderID(off, readerID)

	if got := m.Bytes()[off : off+4]; got[0] != 0x01 || got[3] != 0x67 {
		t.Fatalf("reader id bytes = %v, want encoding of %v", got, readerID)
	}
	if m.ReaderIDOff != off {
		t.Fatalf("ReaderIDOff = %d, want %d", m.ReaderIDOff, off)
	}

	m.EraseReaderID()
	for _, b := range m.Bytes()[off : off+4] {
		if b != 0 {
			t.Fatalf("reader id not erased: %v", m.Bytes()[off:off+4])
		}
	}
}

func TestEraseReaderIDNoopWithoutOffset(t *testing.T) {
	pool := testPool()
	m := New(pool, KindData)
	m.EraseReaderID() // must not panic; ReaderIDOff defaults to -1
}

func TestSameRexmitIdentity(t *testing.T) {
	pool := testPool()
	wgGUID := guid.New(guid.Prefix{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, guid.EntityIDFromU32(0x000102c2))

	a := New(pool, KindDataRexmit)
	a.WriterGUID = wgGUID
	a.Seq = seqnum.SeqNum(5)

	b := New(pool, KindDataRexmit)
	b.WriterGUID = wgGUID
	b.Seq = seqnum.SeqNum(5)

	if !a.SameRexmitIdentity(b) {
		t.Fatal("messages with identical writer/seq/frag should be merge candidates")
	}

	c := New(pool, KindDataRexmit)
	c.WriterGUID = wgGUID
	c.Seq = seqnum.SeqNum(6)
	if a.SameRexmitIdentity(c) {
		t.Fatal("messages with different sequence numbers must not be merge candidates")
	}

	d := New(pool, KindData) // not a retransmit at all
	d.WriterGUID = wgGUID
	d.Seq = seqnum.SeqNum(5)
	if a.SameRexmitIdentity(d) {
		t.Fatal("a non-retransmit kind must never be a merge candidate")
	}
}

func TestAppendPlistRoundTripsThroughMsg(t *testing.T) {
	pool := testPool()
	m := New(pool, KindControl)

	p := plist.New()
	p.TopicName = "Square"
	wire := plist.AddToMsg(p, plist.BigEndian, 0, 0, plist.ContextParticipant)

	m.AppendPlist(p, plist.BigEndian, 0, 0, plist.ContextParticipant)
	if len(m.Bytes()) != len(wire) {
		t.Fatalf("AppendPlist wrote %d bytes, want %d", len(m.Bytes()), len(wire))
	}
}

func TestCommitReleasesUncommittedBias(t *testing.T) {
	pool := testPool()
	m := New(pool, KindControl)
	if m.msg.Refcount() != rmsg.UncommittedBias {
		t.Fatalf("refcount before Commit = %d, want %d", m.msg.Refcount(), rmsg.UncommittedBias)
	}
	m.Commit()
	if m.msg.Refcount() != 0 {
		t.Fatalf("refcount after Commit = %d, want 0", m.msg.Refcount())
	}
}
