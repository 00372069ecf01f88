package recv

import (
	"sync"
	"time"

	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/defrag"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/dqueue"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/guid"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/reorder"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/seqnum"
)

// OutOfSyncReader is one matched reader of a ProxyWriter that is still
// catching up on historical data independently of the writer's primary
// reorderer (spec.md section 4.6's "rsample_dup_first ... independent").
type OutOfSyncReader struct {
	ReaderGUID guid.GUID
	Defrag     *defrag.Defrag
	Reorder    *reorder.Reorder
}

// ProxyWriter is the receive-side state for one remote writer: its
// defragmenter/reorderer/delivery queue, liveliness, and the bookkeeping
// needed to answer HEARTBEAT/GAP/DATA correctly (spec.md section 3.3/3.4).
type ProxyWriter struct {
	GUID          guid.GUID
	Reliable      bool
	Alive         bool
	HeartbeatSeen bool

	LastSeq     seqnum.SeqNum
	LastFragNum seqnum.FragNum

	haveLastHBCount bool
	lastHBCount     int32
	lastHBTime      time.Time

	SynchronousDelivery bool

	Defrag  *defrag.Defrag
	Reorder *reorder.Reorder
	DQueue  *dqueue.DQueue

	mu               sync.Mutex
	outOfSyncReaders map[guid.GUID]*OutOfSyncReader
}

// NewProxyWriter builds the receive-side tracking state for a remote
// writer. dq may be nil when deliveries are always synchronous.
func NewProxyWriter(g guid.GUID, reliable bool, df *defrag.Defrag, ro *reorder.Reorder, dq *dqueue.DQueue) *ProxyWriter {
	return &ProxyWriter{
		GUID: g, Reliable: reliable, Alive: true,
		Defrag: df, Reorder: ro, DQueue: dq,
		outOfSyncReaders: make(map[guid.GUID]*OutOfSyncReader),
	}
}

// AddOutOfSyncReader registers a reader that needs independent historical
// delivery (spec.md section 4.6).
func (pw *ProxyWriter) AddOutOfSyncReader(r *OutOfSyncReader) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	pw.outOfSyncReaders[r.ReaderGUID] = r
}

// RemoveOutOfSyncReader drops a reader once it has caught up.
func (pw *ProxyWriter) RemoveOutOfSyncReader(readerGUID guid.GUID) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	delete(pw.outOfSyncReaders, readerGUID)
}

func (pw *ProxyWriter) forEachOutOfSyncReader(fn func(*OutOfSyncReader)) {
	pw.mu.Lock()
	readers := make([]*OutOfSyncReader, 0, len(pw.outOfSyncReaders))
	for _, r := range pw.outOfSyncReaders {
		readers = append(readers, r)
	}
	pw.mu.Unlock()
	for _, r := range readers {
		fn(r)
	}
}

// AcceptHeartbeatCount applies the strict-monotone-unless-silence rule to an
// incoming HEARTBEAT count, recording it if accepted.
func (pw *ProxyWriter) AcceptHeartbeatCount(count int32, now time.Time, silenceThreshold time.Duration) bool {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	silentFor := now.Sub(pw.lastHBTime)
	if !monotoneOrSilent(pw.haveLastHBCount, pw.lastHBCount, count, silentFor, silenceThreshold) {
		return false
	}
	pw.haveLastHBCount, pw.lastHBCount, pw.lastHBTime = true, count, now
	return true
}

// monotoneOrSilent applies the strict-monotone-unless-silence rule
// shared by HEARTBEAT/ACKNACK counters (spec.md section 5 "Ordering
// guarantees"). silentFor is how long it has been since the last accepted
// count for this direction.
func monotoneOrSilent(have bool, last, got int32, silentFor time.Duration, threshold time.Duration) bool {
	if !have {
		return true
	}
	if got > last {
		return true
	}
	return silentFor >= threshold
}

// MatchedReader is the sending-side state for one remote reader matched to
// a local writer: the ACKNACK/NACKFRAG counters and rexmit throttling
// (spec.md section 4.6 "ACKNACK"/"NACKFRAG").
type MatchedReader struct {
	ReaderGUID guid.GUID

	mu                 sync.Mutex
	haveLastAckCount   bool
	lastAckCount       int32
	lastAckNackTime    time.Time
	rexmitReqCount     int
	acked              seqnum.SeqNum // highest seq this reader has acknowledged
}

// NewMatchedReader creates sending-side bookkeeping for one matched reader.
func NewMatchedReader(readerGUID guid.GUID) *MatchedReader {
	return &MatchedReader{ReaderGUID: readerGUID}
}

// AcceptAckNackCount applies the strict-monotone-unless rule for an
// incoming ACKNACK count, recording it if accepted.
func (mr *MatchedReader) AcceptAckNackCount(count int32, preemptive bool, now time.Time, silenceThreshold time.Duration) bool {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if preemptive {
		mr.haveLastAckCount, mr.lastAckCount, mr.lastAckNackTime = true, count, now
		return true
	}
	silentFor := now.Sub(mr.lastAckNackTime)
	if !monotoneOrSilent(mr.haveLastAckCount, mr.lastAckCount, count, silentFor, silenceThreshold) {
		return false
	}
	mr.haveLastAckCount, mr.lastAckCount, mr.lastAckNackTime = true, count, now
	return true
}

// NoteRexmitRequest bumps the per-reader retransmit-request counter used
// for throttling.
func (mr *MatchedReader) NoteRexmitRequest() int {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.rexmitReqCount++
	return mr.rexmitReqCount
}

// SetAcked records the highest sequence number mr has acknowledged.
func (mr *MatchedReader) SetAcked(seq seqnum.SeqNum) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if seq > mr.acked {
		mr.acked = seq
	}
}

// Acked returns the highest acknowledged sequence number.
func (mr *MatchedReader) Acked() seqnum.SeqNum {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return mr.acked
}

// LocalWriter is the sending-side state a local reliable writer needs RECV
// to drive in response to ACKNACK/NACKFRAG: its matched readers and the
// WriterSide callbacks that perform the actual retransmit/WHC-query work
// (kept external since the history cache's storage policy is out of scope,
// spec.md section 1's Non-goals).
type LocalWriter struct {
	GUID guid.GUID

	mu      sync.Mutex
	readers map[guid.GUID]*MatchedReader
}

// NewLocalWriter creates sending-side tracking for one local writer.
func NewLocalWriter(g guid.GUID) *LocalWriter {
	return &LocalWriter{GUID: g, readers: make(map[guid.GUID]*MatchedReader)}
}

// MatchReader registers (or returns the existing) bookkeeping for readerGUID.
func (lw *LocalWriter) MatchReader(readerGUID guid.GUID) *MatchedReader {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if mr, ok := lw.readers[readerGUID]; ok {
		return mr
	}
	mr := NewMatchedReader(readerGUID)
	lw.readers[readerGUID] = mr
	return mr
}

func (lw *LocalWriter) reader(readerGUID guid.GUID) (*MatchedReader, bool) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	mr, ok := lw.readers[readerGUID]
	return mr, ok
}

// WriterSide performs the actual retransmit / history-cache decisions a
// local reliable writer needs in response to ACKNACK/NACKFRAG. The sample
// history cache's storage policy is explicitly out of this core's scope
// (spec.md section 1); this interface is the contract RECV calls through.
type WriterSide interface {
	// SampleInCache reports whether seq is still held by writerGUID's
	// history cache (so RECV can decide retransmit vs GAP).
	SampleInCache(writerGUID guid.GUID, seq seqnum.SeqNum) bool
	// RetransmitData asks the writer to resend seq to readerGUID (or to
	// every matched reader sharing its host, if readerGUID is the
	// wildcard zero entity id — merging is XPACK's concern).
	RetransmitData(writerGUID, readerGUID guid.GUID, seq seqnum.SeqNum)
	// RetransmitFragment asks the writer to resend one fragment of seq.
	RetransmitFragment(writerGUID, readerGUID guid.GUID, seq seqnum.SeqNum, frag seqnum.FragNum)
	// SendGap asks the writer to emit a GAP for [from,to) to readerGUID,
	// used when an ACKNACK/NACKFRAG references data no longer cached.
	SendGap(writerGUID, readerGUID guid.GUID, from, to seqnum.SeqNum)
	// RemoveAcked tells the writer every sample <= through is acknowledged
	// by readerGUID and may be dropped from the cache once every matched
	// reader has acknowledged it.
	RemoveAcked(writerGUID, readerGUID guid.GUID, through seqnum.SeqNum)
	// ScheduleHeartbeat asks the event system to emit a HEARTBEAT for
	// writerGUID (in response to an ACKNACK/NACKFRAG whose FINAL flag was
	// clear, or an incomplete NACKFRAG/HEARTBEATFRAG response).
	ScheduleHeartbeat(writerGUID guid.GUID)
	// ScheduleAckNack asks the event system to emit an ACKNACK from a
	// local reader in response to a HEARTBEAT/HEARTBEATFRAG.
	ScheduleAckNack(readerGUID, writerGUID guid.GUID)
}
