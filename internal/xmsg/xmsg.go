// Package xmsg implements the transmit message: one RTPS submessage (or a
// small group of them) built on an RMSG-like pool, carrying its own
// destination and the bookkeeping XPACK needs to merge retransmits.
//
// Grounded on original_source/ddsi_xmsg.c's struct nn_xmsg contract (the
// four destination modes, the kind enum, the reader-id-offset retransmit
// bookkeeping) and on rmsg's chunked-pool allocation discipline for the
// "built on an RMSG-like pool" requirement in spec.md section 4.7.
package xmsg

import (
	"encoding/binary"
	"time"

	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/guid"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/locator"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/plist"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/rmsg"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/seqnum"
)

// Kind distinguishes an xmsg's retransmit-merge eligibility (spec.md
// section 3.7).
type Kind int

const (
	KindControl Kind = iota
	KindData
	KindDataRexmit
	KindDataRexmitNoMerge
)

// DestMode is one of the four destination shapes an xmsg may carry.
type DestMode int

const (
	DestUnset DestMode = iota
	DestOne
	DestAll
	DestAllUC
)

// Msg is one outbound RTPS submessage (or small group), addressed and
// ready for XPACK to aggregate.
type Msg struct {
	Kind Kind
	Dest DestMode

	DestOneLocator locator.Locator
	DestSet        locator.AddrSet

	// Retransmit bookkeeping (spec.md section 3.7): set only for
	// KindDataRexmit/KindDataRexmitNoMerge.
	WriterGUID  guid.GUID
	Seq         seqnum.SeqNum
	FragNum     seqnum.FragNum
	HasFragNum  bool
	ReaderIDOff int // byte offset of the reader-id field, -1 if none

	pool   *rmsg.Pool
	msg    *rmsg.RMsg
	buf    []byte // the submessage bytes built so far (header + body)

	next *Msg // xmsg-chain: reverse send order within one writer, for commit
}

// New allocates an xmsg from pool.
func New(pool *rmsg.Pool, kind Kind) *Msg {
	m := rmsg.New(pool)
	return &Msg{Kind: kind, ReaderIDOff: -1, pool: pool, msg: m}
}

// Bytes returns the submessage content built so far.
func (x *Msg) Bytes() []byte { return x.buf }

// Len returns the current submessage length in bytes.
func (x *Msg) Len() int { return len(x.buf) }

// AddTimestamp appends an RTPS INFO_TS submessage header plus the NTP-style
// 32.32 fixed-point timestamp t (spec.md section 4.7's add_timestamp).
func (x *Msg) AddTimestamp(t time.Time) {
	sec := uint32(t.Unix())
	frac := uint32((uint64(t.Nanosecond()) << 32) / 1_000_000_000)
	var hdr [4]byte
	hdr[0] = 0x09 // INFO_TS submessage id
	hdr[1] = 0x01 // flags: little-endian representative bit
	binary.LittleEndian.PutUint16(hdr[2:4], 8)
	x.buf = append(x.buf, hdr[:]...)
	var body [8]byte
	binary.LittleEndian.PutUint32(body[0:4], sec)
	binary.LittleEndian.PutUint32(body[4:8], frac)
	x.buf = append(x.buf, body[:]...)
}

// AppendSerdata appends a caller-serialized payload of len bytes at the
// current write position, returning the offset it was written at (xmsg's
// serdata(xmsg, serdata, off, len, writer) contract, simplified to take
// already-serialized bytes since serialization itself is a topic/type
// concern kept out of this core per spec.md's Non-goals).
func (x *Msg) AppendSerdata(payload []byte) (offset int) {
	offset = len(x.buf)
	x.buf = append(x.buf, payload...)
	return offset
}

// SetDstPRD/SetDstPWR target a single resolved locator (the proxy
// reader/writer's chosen unicast or multicast address); this core does not
// itself own proxy-entity discovery state, so the caller resolves the
// locator (spec.md's discovery Non-goal).
func (x *Msg) SetDstPRD(l locator.Locator) { x.Dest = DestOne; x.DestOneLocator = l }
func (x *Msg) SetDstPWR(l locator.Locator) { x.Dest = DestOne; x.DestOneLocator = l }

// SetDstAddrSet addresses every locator in as.
func (x *Msg) SetDstAddrSet(as locator.AddrSet) { x.Dest = DestAll; x.DestSet = as }

// SetDstAddrSetUnicastOnly addresses only as's unicast locators (ALL_UC).
func (x *Msg) SetDstAddrSetUnicastOnly(as locator.AddrSet) {
	x.Dest = DestAllUC
	x.DestSet = as.UnicastOnly()
}

// SetDataReaderID overwrites the reader entity id at the already-appended
// offset off with id, and records the offset so XPACK can erase/retarget
// it while merging retransmits (spec.md section 3.7).
func (x *Msg) SetDataReaderID(off int, id guid.EntityID) {
	copy(x.buf[off:off+4], id[:])
	x.ReaderIDOff = off
}

// EraseReaderID zeroes the reader-id field (the all-readers wildcard,
// ENTITYID_UNKNOWN), used when XPACK merges two retransmits that share a
// writer/seq/frag but target different readers on the same host.
func (x *Msg) EraseReaderID() {
	if x.ReaderIDOff < 0 {
		return
	}
	copy(x.buf[x.ReaderIDOff:x.ReaderIDOff+4], guid.EntityID{}[:])
}

// AppendPlist serializes p (restricted to pmask/qmask) and appends it,
// including the terminating sentinel (spec.md's addpar*/addpar_sentinel
// folded into one call since plist.AddToMsg already produces a
// sentinel-terminated buffer).
func (x *Msg) AppendPlist(p *plist.Plist, bo plist.ByteOrder, pmask, qmask uint64, ctx plist.ContextKind) {
	x.buf = append(x.buf, plist.AddToMsg(p, bo, pmask, qmask, ctx)...)
}

// Commit releases the xmsg's uncommitted bias once the packer has copied
// (or queued to copy) its bytes into a packet; mirrors rmsg.Commit's
// release-on-last-reference discipline for the underlying pool allocation.
func (x *Msg) Commit() {
	if x.msg != nil {
		x.msg.Commit()
	}
}

// SameRexmitIdentity reports whether x and o are candidates for merging:
// same kind (and that kind allows merging), same writer, same sequence
// number and fragment number (spec.md section 4.7 "Merging retransmits").
func (x *Msg) SameRexmitIdentity(o *Msg) bool {
	if x.Kind != KindDataRexmit || o.Kind != KindDataRexmit {
		return false
	}
	return x.WriterGUID == o.WriterGUID && x.Seq == o.Seq && x.FragNum == o.FragNum && x.HasFragNum == o.HasFragNum
}
