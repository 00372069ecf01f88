package recv

import (
	"sync"
	"time"

	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/bitset"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/defrag"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/dqueue"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/guid"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/locator"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/metrics"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/plist"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/reorder"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/rmsg"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/seqnum"
	"github.com/eclipse-cyclonedds/ddsi-core-go/pkg/logger"
)

// DefaultSilenceThreshold is the "peer must have restarted" grace period
// that lets an out-of-order ACKNACK/HEARTBEAT count through anyway (spec.md
// section 5 "Ordering guarantees").
const DefaultSilenceThreshold = 500 * time.Millisecond

// SampleHandler is invoked once per delivered, in-order, reassembled
// sample.
type SampleHandler func(writerGUID guid.GUID, seq seqnum.SeqNum, info defrag.SampleInfo, payload []byte)

// Receiver is the per-domain submessage dispatcher: header validation, per-
// submessage validation/mutation of the rst snapshot, and routing to
// DEFRAG/REORDER/DQUEUE or to the sending-side ACKNACK/HEARTBEAT/NACKFRAG
// machinery (spec.md section 4.6).
type Receiver struct {
	self     guid.Prefix
	pool     *rmsg.Pool
	ws       WriterSide
	silence  time.Duration
	onSample SampleHandler
	log      *logger.Entry

	mu           sync.Mutex
	proxyWriters map[guid.GUID]*ProxyWriter
	localWriters map[guid.GUID]*LocalWriter
	spdp         *ProxyWriter

	spdpWriterIDs  map[guid.EntityID]bool
	participantIDs map[guid.EntityID]bool // participant-message writer ids (lease not renewed on this path)
}

// New creates a Receiver. self is the local participant's guid prefix, used
// to decide whether a datagram's destination addresses us.
func New(self guid.Prefix, pool *rmsg.Pool, ws WriterSide, onSample SampleHandler) *Receiver {
	return &Receiver{
		self: self, pool: pool, ws: ws, onSample: onSample,
		silence:        DefaultSilenceThreshold,
		proxyWriters:   make(map[guid.GUID]*ProxyWriter),
		localWriters:   make(map[guid.GUID]*LocalWriter),
		spdpWriterIDs:  map[guid.EntityID]bool{guid.EntityIDSPDPBuiltinParticipantWriter: true},
		participantIDs: map[guid.EntityID]bool{guid.EntityIDP2PBuiltinParticipantMessageWriter: true},
		log:            logger.For("recv"),
	}
}

// SetDiscoveryPath installs the domain-global defragmenter/reorderer/dqueue
// that every SPDP DATA is routed to regardless of its writer GUID prefix
// (spec.md section 4.6: "does not require a proxy writer").
func (r *Receiver) SetDiscoveryPath(pw *ProxyWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spdp = pw
}

// RegisterProxyWriter makes pw known to the receiver.
func (r *Receiver) RegisterProxyWriter(pw *ProxyWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proxyWriters[pw.GUID] = pw
}

// RegisterLocalWriter makes lw known to the receiver for ACKNACK/NACKFRAG
// handling.
func (r *Receiver) RegisterLocalWriter(lw *LocalWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localWriters[lw.GUID] = lw
}

func (r *Receiver) proxyWriter(g guid.GUID) (*ProxyWriter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pw, ok := r.proxyWriters[g]
	return pw, ok
}

func (r *Receiver) localWriter(g guid.GUID) (*LocalWriter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lw, ok := r.localWriters[g]
	return lw, ok
}

// ProcessDatagram validates the RTPS header and every submessage of data,
// driving the data and control paths described in spec.md section 4.6. The
// datagram is copied into a freshly allocated RMSG (the receive thread's
// RBP allocation, spec.md section 4.1), committed once processing finishes.
func (r *Receiver) ProcessDatagram(data []byte, src locator.Locator) error {
	hdr, off, err := ParseHeader(data)
	if err != nil {
		r.log.WithField("err", err).Debug("malformed RTPS header, dropping datagram")
		return err
	}

	rm := rmsg.New(r.pool)
	if err := rm.SetSize(len(data)); err != nil {
		rm.Commit()
		return err
	}
	copy(rm.Payload(), data)
	defer rm.Commit()

	rst := &State{
		SrcPrefix: hdr.GUIDPrefix, VendorID: hdr.VendorID,
		VersionMajor: hdr.VersionMajor, VersionMinor: hdr.VersionMinor,
		SrcLocator: src,
	}

	payload := rm.Payload()
	for off < len(payload) {
		if len(payload)-off < submsgHeaderLen {
			r.log.Debug("trailing bytes too short for a submessage header, dropping rest")
			return nil
		}
		sh := subHeader{ID: payload[off], Flags: payload[off+1]}
		sh.OctetsToNextHeader = sh.byteOrder().Uint16(payload[off+2 : off+4])
		bodyOff := off + submsgHeaderLen
		var bodyLen int
		if sh.OctetsToNextHeader == 0 {
			// 0 means "rest of the datagram", valid only for the last submessage.
			bodyLen = len(payload) - bodyOff
		} else {
			bodyLen = int(sh.OctetsToNextHeader)
		}
		if bodyOff+bodyLen > len(payload) {
			r.log.WithField("hex", fmtHex(payload[off:])).Warn("malformed submessage: declared length overruns datagram")
			return nil
		}
		body := payload[bodyOff : bodyOff+bodyLen]
		submsgOff := off

		switch sh.ID {
		case idPad:
			// no-op
		case idData:
			r.handleData(rm, rst, sh, body, submsgOff, bodyOff)
		case idDataFrag:
			r.handleDataFrag(rm, rst, sh, body, submsgOff, bodyOff)
		case idHeartbeat:
			r.handleHeartbeat(rst, sh, body)
		case idGap:
			r.handleGap(rst, sh, body)
		case idAckNack:
			r.handleAckNack(rst, sh, body)
		case idNackFrag:
			r.handleNackFrag(rst, sh, body)
		case idHeartbeatFrag:
			r.handleHeartbeatFrag(rst, sh, body)
		case idInfoTS:
			rst = r.handleInfoTS(rst, sh, body)
		case idInfoSrc:
			rst = r.handleInfoSrc(rst, sh, body)
		case idInfoDst:
			rst = r.handleInfoDst(rst, sh, body)
		case idSecPrefix, idSecBody, idSecPostfix, idSrtpsPrefix, idSrtpsPostfix:
			// Security plugin internals are out of this core's scope
			// (spec.md section 1); the ids are recognized so they are not
			// mistaken for MALFORMED, but their payload is opaque to us.
		default:
			if sh.ID > idMaxReserved {
				// vendor-specific, silently ignored
			} else {
				r.log.WithField("id", sh.ID).Warn("malformed: unknown reserved submessage id")
				return nil
			}
		}

		off = bodyOff + bodyLen
	}
	return nil
}

func fmtHex(b []byte) string {
	const maxBytes = 16
	if len(b) > maxBytes {
		b = b[:maxBytes]
	}
	const hextable = "0123456789abcdef"
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		out = append(out, hextable[c>>4], hextable[c&0xf])
	}
	return string(out)
}

// --- DATA / DATAFRAG -------------------------------------------------------

const (
	flagDataInlineQos = 0x02
	flagDataPayload   = 0x04
	flagDataKey       = 0x08
)

func (r *Receiver) routeProxyWriter(writerID guid.EntityID, rst *State) (pw *ProxyWriter, ok bool) {
	if r.spdpWriterIDs[writerID] || r.participantIDs[writerID] {
		r.mu.Lock()
		pw = r.spdp
		r.mu.Unlock()
		return pw, pw != nil
	}
	return r.proxyWriter(guid.New(rst.SrcPrefix, writerID))
}

func (r *Receiver) handleData(rm *rmsg.RMsg, rst *State, sh subHeader, body []byte, submsgOff, bodyOff int) {
	rr := newReader(body, sh.byteOrder())
	if _, err := rr.u16(); err != nil {
		return
	}
	if _, err := rr.u16(); err != nil { // octetsToInlineQos: redundant, we parse fields in wire order instead
		return
	}
	if _, err := rr.entityID(); err != nil { // readerID: directed DATA isn't filtered at this layer
		return
	}
	writerID, err := rr.entityID()
	if err != nil {
		return
	}
	writerSN, err := rr.seqNum()
	if err != nil || !writerSN.Valid() {
		r.log.WithField("hex", fmtHex(body)).Warn("malformed DATA: missing or invalid writer sequence number")
		return
	}

	info := defrag.SampleInfo{}
	keyhashOff := -1
	if sh.Flags&flagDataInlineQos != 0 {
		qos, n, res := plist.QuickScanWithLen(body[rr.off:], plistByteOrder(sh))
		if res != plist.ResultOK {
			r.log.Warn("malformed DATA: bad inline QoS")
			return
		}
		info.StatusInfo = qos.StatusInfo
		info.ComplexQoS = qos.ComplexQoS
		if qos.HaveKeyHash {
			keyhashOff = bodyOff + rr.off
		}
		rr.off += n
	}

	payloadOff := bodyOff + rr.off
	payload, _ := rr.bytes(rr.remaining())

	pw, ok := r.routeProxyWriter(writerID, rst)
	if !ok || !pw.Alive {
		return
	}
	if pw.Reliable && !pw.HeartbeatSeen {
		return // can't safely admit data before the first heartbeat
	}

	rd := rmsg.NewRData(rm, 0, len(payload), submsgOff, payloadOff, keyhashOff)
	rm.AddRef(1)
	sample := reorder.Sample{Seq: writerSN, Info: info, Chain: rd}
	r.deliver(pw, sample)
}

const (
	flagFragInlineQos = 0x02
	flagFragKey       = 0x04
)

func (r *Receiver) handleDataFrag(rm *rmsg.RMsg, rst *State, sh subHeader, body []byte, submsgOff, bodyOff int) {
	rr := newReader(body, sh.byteOrder())
	if _, err := rr.u16(); err != nil {
		return
	}
	if _, err := rr.u16(); err != nil { // octetsToInlineQos
		return
	}
	if _, err := rr.entityID(); err != nil { // readerID
		return
	}
	writerID, err := rr.entityID()
	if err != nil {
		return
	}
	writerSN, err := rr.seqNum()
	if err != nil || !writerSN.Valid() {
		return
	}
	fragStartWire, err := rr.u32()
	if err != nil {
		return
	}
	fragsInSubmsg, err := rr.u16()
	if err != nil {
		return
	}
	fragSize, err := rr.u16()
	if err != nil || fragSize == 0 {
		r.log.Warn("malformed DATAFRAG: zero fragment size")
		return
	}
	sampleSize, err := rr.u32()
	if err != nil {
		return
	}

	info := defrag.SampleInfo{}
	keyhashOff := -1
	if sh.Flags&flagFragInlineQos != 0 {
		qos, n, res := plist.QuickScanWithLen(body[rr.off:], plistByteOrder(sh))
		if res != plist.ResultOK {
			return
		}
		info.StatusInfo = qos.StatusInfo
		info.ComplexQoS = qos.ComplexQoS
		if qos.HaveKeyHash {
			keyhashOff = bodyOff + rr.off
		}
		rr.off += n
	}

	fragStart := seqnum.FromWireFrag(fragStartWire)
	min := int(fragStart) * int(fragSize)
	maxp1 := min + int(fragsInSubmsg)*int(fragSize)
	if maxp1 > int(sampleSize) {
		maxp1 = int(sampleSize)
	}

	payloadOff := bodyOff + rr.off

	pw, ok := r.routeProxyWriter(writerID, rst)
	if !ok || !pw.Alive {
		return
	}
	if pw.Reliable && !pw.HeartbeatSeen {
		return
	}

	rd := rmsg.NewRData(rm, min, maxp1, submsgOff, payloadOff, keyhashOff)
	rm.AddRef(1)
	if pw.Defrag == nil {
		return
	}
	rs := pw.Defrag.AddFragment(writerSN, min, maxp1, int(sampleSize), int(fragSize), rd, info)
	if rs == nil {
		return
	}
	r.deliver(pw, reorder.FromDefrag(rs))
}

// deliver feeds a completed sample into pw's primary reorderer, delivering
// synchronously or via its DQUEUE, and replicates it to every out-of-sync
// reader's secondary reorderer (spec.md section 4.6 "DATA path").
func (r *Receiver) deliver(pw *ProxyWriter, sample reorder.Sample) {
	full := pw.DQueue != nil && pw.DQueue.IsFull()
	delivered, res := pw.Reorder.AcceptSample(sample, full)
	switch res {
	case reorder.ResultDelivered:
		for _, s := range delivered {
			r.deliverOne(pw, s)
		}
	case reorder.ResultRejected:
		metrics.DiscardedBytes.WithLabelValues("dqueue_full").Add(float64(len(chainBytes(sample.Chain))))
		unrefChain(sample.Chain)
	}

	pw.forEachOutOfSyncReader(func(osr *OutOfSyncReader) {
		dup := reorder.DupFirst(sample)
		if d, r2 := osr.Reorder.AcceptSample(dup, false); r2 == reorder.ResultDelivered {
			for _, s := range d {
				r.deliverOne(pw, s)
			}
		}
	})
}

func (r *Receiver) deliverOne(pw *ProxyWriter, s reorder.Sample) {
	if pw.DQueue != nil && !pw.SynchronousDelivery {
		pw.DQueue.EnqueueSample(s)
		return
	}
	r.invokeSample(pw.GUID, s)
}

// applyGap runs a GAP/HEARTBEAT-implied [from,to) gap against both DEFRAG
// (abandoning any in-progress reassembly it covers) and REORDER, delivering
// anything the gap's closure newly releases.
func (r *Receiver) applyGap(pw *ProxyWriter, from, to seqnum.SeqNum) {
	if pw.Defrag != nil {
		pw.Defrag.NoteGap(from, to)
	}
	delivered, res := pw.Reorder.Gap(from, to)
	if res == reorder.ResultDelivered {
		for _, s := range delivered {
			r.deliverOne(pw, s)
		}
	}
}

func (r *Receiver) invokeSample(writerGUID guid.GUID, s reorder.Sample) {
	if r.onSample != nil {
		r.onSample(writerGUID, s.Seq, s.Info, chainBytes(s.Chain))
	}
	unrefChain(s.Chain)
}

func chainBytes(rd *rmsg.RData) []byte {
	var out []byte
	for c := rd; c != nil; c = c.Next {
		out = append(out, c.Bytes()...)
	}
	return out
}

func unrefChain(rd *rmsg.RData) {
	for c := rd; c != nil; c = c.Next {
		c.Msg.Unref(1)
	}
}

func plistByteOrder(sh subHeader) plist.ByteOrder {
	if sh.littleEndian() {
		return plist.LittleEndian
	}
	return plist.BigEndian
}

// --- HEARTBEAT / GAP --------------------------------------------------------

func (r *Receiver) handleHeartbeat(rst *State, sh subHeader, body []byte) {
	rr := newReader(body, sh.byteOrder())
	if _, err := rr.entityID(); err != nil { // readerID
		return
	}
	writerID, err := rr.entityID()
	if err != nil {
		return
	}
	firstSN, err := rr.seqNum()
	if err != nil {
		return
	}
	lastSN, err := rr.seqNum()
	if err != nil {
		return
	}
	count, err := rr.i32()
	if err != nil {
		return
	}
	final := sh.Flags&0x02 != 0

	pw, ok := r.routeProxyWriter(writerID, rst)
	if !ok {
		return
	}
	if !pw.AcceptHeartbeatCount(count, time.Now(), r.silence) {
		return
	}

	pw.HeartbeatSeen = true
	if lastSN > pw.LastSeq {
		pw.LastSeq = lastSN
	}

	// [1, firstSN) was already purged from the writer's history before this
	// reader matched; those sequence numbers will never arrive.
	if firstSN > 1 {
		r.applyGap(pw, 1, firstSN)
	}

	if !final && r.ws != nil {
		r.ws.ScheduleAckNack(guid.Unknown, pw.GUID)
	}
}

func (r *Receiver) handleGap(rst *State, sh subHeader, body []byte) {
	rr := newReader(body, sh.byteOrder())
	if _, err := rr.entityID(); err != nil { // readerID
		return
	}
	writerID, err := rr.entityID()
	if err != nil {
		return
	}
	gapStart, err := rr.seqNum()
	if err != nil {
		return
	}
	bitmapBase, err := rr.seqNum()
	if err != nil {
		return
	}
	numBits, err := rr.u32()
	if err != nil {
		return
	}
	nWords := (int(numBits) + 31) / 32
	words := make([]uint32, nWords)
	for i := range words {
		w, err := rr.u32()
		if err != nil {
			return
		}
		words[i] = w
	}
	bs := bitset.FromWords(int(numBits), words)

	pw, ok := r.routeProxyWriter(writerID, rst)
	if !ok {
		return
	}

	if bitmapBase > gapStart {
		r.applyGap(pw, gapStart, bitmapBase)
	}
	runStart := -1
	flush := func(endExclusive int) {
		if runStart < 0 {
			return
		}
		from := bitmapBase + seqnum.SeqNum(runStart)
		to := bitmapBase + seqnum.SeqNum(endExclusive)
		r.applyGap(pw, from, to)
		runStart = -1
	}
	for i := 0; i < int(numBits); i++ {
		if bs.IsSet(i) {
			if runStart < 0 {
				runStart = i
			}
		} else {
			flush(i)
		}
	}
	flush(int(numBits))

	if bitmapBase+seqnum.SeqNum(numBits) > pw.LastSeq {
		pw.LastSeq = bitmapBase + seqnum.SeqNum(numBits)
	}
}

// --- ACKNACK / NACKFRAG / HEARTBEATFRAG -------------------------------------

func (r *Receiver) handleAckNack(rst *State, sh subHeader, body []byte) {
	rr := newReader(body, sh.byteOrder())
	readerID, err := rr.entityID()
	if err != nil {
		return
	}
	writerID, err := rr.entityID()
	if err != nil {
		return
	}
	base, err := rr.seqNum()
	if err != nil {
		return
	}
	numBits, err := rr.u32()
	if err != nil {
		return
	}
	nWords := (int(numBits) + 31) / 32
	words := make([]uint32, nWords)
	for i := range words {
		w, err := rr.u32()
		if err != nil {
			return
		}
		words[i] = w
	}
	count, err := rr.i32()
	if err != nil {
		return
	}
	final := sh.Flags&0x02 != 0
	bs := bitset.FromWords(int(numBits), words)

	writerGUID := guid.New(rst.SrcPrefix, writerID)
	lw, ok := r.localWriter(writerGUID)
	if !ok {
		return
	}
	readerGUID := guid.New(rst.SrcPrefix, readerID)
	mr := lw.MatchReader(readerGUID)

	preemptive := base <= 1 && numBits == 0
	if !mr.AcceptAckNackCount(count, preemptive, time.Now(), r.silence) {
		return
	}

	if base > 1 {
		mr.SetAcked(base - 1)
		if r.ws != nil {
			r.ws.RemoveAcked(writerGUID, readerGUID, base-1)
		}
	}

	if numBits > 0 {
		metrics.NumNacksReceived.WithLabelValues(writerGUID.String()).Inc()
	}

	if r.ws != nil {
		bs.Range(func(i int) {
			seq := base + seqnum.SeqNum(i)
			mr.NoteRexmitRequest()
			if r.ws.SampleInCache(writerGUID, seq) {
				r.ws.RetransmitData(writerGUID, readerGUID, seq)
				metrics.RexmitCount.WithLabelValues(writerGUID.String()).Inc()
			} else {
				r.ws.SendGap(writerGUID, readerGUID, seq, seq+1)
				metrics.RexmitLostCount.WithLabelValues(writerGUID.String()).Inc()
			}
		})
	}

	if !final && r.ws != nil {
		r.ws.ScheduleHeartbeat(writerGUID)
	}
}

func (r *Receiver) handleNackFrag(rst *State, sh subHeader, body []byte) {
	rr := newReader(body, sh.byteOrder())
	readerID, err := rr.entityID()
	if err != nil {
		return
	}
	writerID, err := rr.entityID()
	if err != nil {
		return
	}
	seq, err := rr.seqNum()
	if err != nil {
		return
	}
	bitmapBaseWire, err := rr.u32()
	if err != nil {
		return
	}
	numBits, err := rr.u32()
	if err != nil {
		return
	}
	nWords := (int(numBits) + 31) / 32
	words := make([]uint32, nWords)
	for i := range words {
		w, err := rr.u32()
		if err != nil {
			return
		}
		words[i] = w
	}
	if _, err := rr.i32(); err != nil { // count
		return
	}
	bs := bitset.FromWords(int(numBits), words)
	bitmapBase := seqnum.FromWireFrag(bitmapBaseWire)

	writerGUID := guid.New(rst.SrcPrefix, writerID)
	lw, ok := r.localWriter(writerGUID)
	if !ok {
		return
	}
	readerGUID := guid.New(rst.SrcPrefix, readerID)
	mr := lw.MatchReader(readerGUID)

	allSatisfied := true
	if r.ws != nil && r.ws.SampleInCache(writerGUID, seq) {
		bs.Range(func(i int) {
			mr.NoteRexmitRequest()
			frag := bitmapBase + seqnum.FragNum(i)
			r.ws.RetransmitFragment(writerGUID, readerGUID, seq, frag)
			metrics.RexmitCount.WithLabelValues(writerGUID.String()).Inc()
		})
	} else {
		allSatisfied = false
		if r.ws != nil {
			r.ws.SendGap(writerGUID, readerGUID, seq, seq+1)
			metrics.RexmitLostCount.WithLabelValues(writerGUID.String()).Inc()
		}
	}

	if !allSatisfied && r.ws != nil {
		r.ws.ScheduleHeartbeat(writerGUID)
	}
}

func (r *Receiver) handleHeartbeatFrag(rst *State, sh subHeader, body []byte) {
	rr := newReader(body, sh.byteOrder())
	if _, err := rr.entityID(); err != nil { // readerID
		return
	}
	writerID, err := rr.entityID()
	if err != nil {
		return
	}
	seq, err := rr.seqNum()
	if err != nil {
		return
	}
	if _, err := rr.u32(); err != nil { // lastFragmentNum
		return
	}
	if _, err := rr.i32(); err != nil { // count
		return
	}

	pw, ok := r.routeProxyWriter(writerID, rst)
	if !ok || pw.Defrag == nil {
		return
	}
	status, _ := pw.Defrag.NackMap(seq, 1<<30, 0)
	if status == defrag.FragmentsMissing && r.ws != nil {
		r.ws.ScheduleAckNack(guid.Unknown, pw.GUID)
	}
}

// --- INFO_TS / INFO_SRC / INFO_DST ------------------------------------------

func (r *Receiver) handleInfoTS(rst *State, sh subHeader, body []byte) *State {
	if sh.Flags&flagInfoTSInvalid != 0 {
		return rst
	}
	rr := newReader(body, sh.byteOrder())
	sec, err := rr.i32()
	if err != nil {
		return rst
	}
	frac, err := rr.u32()
	if err != nil {
		return rst
	}
	ns := (int64(frac) * 1_000_000_000) >> 32
	next := rst.Clone()
	next.Timestamp = time.Unix(int64(sec), ns)
	next.HaveTimestamp = true
	return next
}

func (r *Receiver) handleInfoSrc(rst *State, sh subHeader, body []byte) *State {
	rr := newReader(body, sh.byteOrder())
	if _, err := rr.u32(); err != nil { // unused
		return rst
	}
	major, err := rr.u8()
	if err != nil {
		return rst
	}
	minor, err := rr.u8()
	if err != nil {
		return rst
	}
	vendor, err := rr.bytes(2)
	if err != nil {
		return rst
	}
	prefix, err := rr.guidPrefix()
	if err != nil {
		return rst
	}
	next := rst.Clone()
	next.SrcPrefix = prefix
	next.VersionMajor, next.VersionMinor = major, minor
	copy(next.VendorID[:], vendor)
	return next
}

func (r *Receiver) handleInfoDst(rst *State, sh subHeader, body []byte) *State {
	rr := newReader(body, sh.byteOrder())
	prefix, err := rr.guidPrefix()
	if err != nil {
		return rst
	}
	next := rst.Clone()
	next.DstPrefix = prefix
	return next
}

// NewReliableProxyWriter wires together a fresh ProxyWriter's
// DEFRAG/REORDER/DQUEUE for a reliable remote writer, routing its DQUEUE's
// deliveries back through r.invokeSample so unref and the SampleHandler
// callback still run on the asynchronous path (used by callers assembling a
// domain, e.g. cmd/ddsiparticipantd).
func (r *Receiver) NewReliableProxyWriter(g guid.GUID, maxSamples, dqueueDepth int) *ProxyWriter {
	df := defrag.New(g.String(), defrag.ModePrimary, defrag.DropOldest, maxSamples)
	ro := reorder.New(g.String(), reorder.ModeNormal, maxSamples, reorder.LateAckDefault)
	dq := dqueue.New(g.String(), dqueueDepth, func(s reorder.Sample) {
		r.invokeSample(g, s)
	}, nil)
	return NewProxyWriter(g, true, df, ro, dq)
}

// NewBestEffortProxyWriter is the unreliable-writer counterpart: no
// HEARTBEAT gating, a monotonically-increasing reorderer (spec.md section
// 3.4's best-effort discipline tolerates drops instead of blocking on gaps).
func (r *Receiver) NewBestEffortProxyWriter(g guid.GUID, maxSamples, dqueueDepth int) *ProxyWriter {
	df := defrag.New(g.String(), defrag.ModePrimary, defrag.DropOldest, maxSamples)
	ro := reorder.New(g.String(), reorder.ModeMonotonicallyIncreasing, maxSamples, reorder.LateAckIgnore)
	dq := dqueue.New(g.String(), dqueueDepth, func(s reorder.Sample) {
		r.invokeSample(g, s)
	}, nil)
	pw := NewProxyWriter(g, false, df, ro, dq)
	pw.HeartbeatSeen = true // best-effort writers never gate DATA on HEARTBEAT
	return pw
}
