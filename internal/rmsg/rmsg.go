// Package rmsg implements the received-message memory discipline: a pool of
// large backing buffers (RBP) owned by one receive thread at a time, the
// received-message container (RMSG) suballocated from them, and the
// lightweight received-data descriptor (RDATA) that points into one.
//
// Grounded on original_source/ddsi_radmin.c's rbuf/rmsg/rdata triad and the
// teacher's pool-of-one-owner-thread shape in source/server/server.go
// (one UDPConn, one receive goroutine per listener).
package rmsg

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/metrics"
)

// Bias constants for the two-phase refcount discipline (spec.md section
// 3.2 and "Design notes: reference-counted graphs"). UncommittedBias marks
// "the owning receive thread still holds this"; RDataBiasUnit is added once
// per RDATA provisionally stored in DEFRAG/REORDER and reconciled in bulk
// by Adjust once the caller knows how many places actually kept it.
const (
	UncommittedBias int32 = 1 << 30
	RDataBiasUnit   int32 = 1 << 20
)

// Buffer is one large backing allocation owned by a Pool. Chunks are carved
// out of it by bumping freeOff; chunkRefs counts outstanding chunks so the
// buffer can be returned to the pool's free list exactly once all of them
// have been released.
type Buffer struct {
	data      []byte
	freeOff   int
	chunkRefs int32
}

// Pool (RBP) hands out chunks from a rolling set of backing buffers. Only
// the owning receive thread may allocate from it (New, RMsg.Alloc); any
// thread may release a reference via Unref.
type Pool struct {
	name         string
	bufSize      int
	maxMsgSize   int
	mu           sync.Mutex
	current      *Buffer
	free         []*Buffer
	buffersAlive int
}

// NewPool creates a receive-buffer pool. bufSize is the size of each
// backing allocation; maxMsgSize bounds how large a single RMSG's fixed
// payload region may be (the rest of a chunk is administrative headroom).
func NewPool(name string, bufSize, maxMsgSize int) *Pool {
	if maxMsgSize <= 0 || maxMsgSize > bufSize {
		panic("rmsg: maxMsgSize must be positive and fit within bufSize")
	}
	return &Pool{name: name, bufSize: bufSize, maxMsgSize: maxMsgSize}
}

func (p *Pool) allocBuffer() *Buffer {
	p.buffersAlive++
	metrics.RBPBuffersInUse.WithLabelValues(p.name).Set(float64(p.buffersAlive))
	return &Buffer{data: make([]byte, p.bufSize)}
}

// newChunk carves out up to size bytes from the current (or a fresh)
// buffer. Exhaustion of a single buffer is handled by rolling over to a new
// one; exhaustion of a requested size larger than bufSize is an assertion
// per spec.md section 4.1 ("Failure": allocation exhaustion is an
// assertion — configuration is expected to preclude it).
func (p *Pool) newChunk(size int) *chunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	if size > p.bufSize {
		panic(fmt.Sprintf("rmsg: requested chunk size %d exceeds buffer size %d", size, p.bufSize))
	}
	if p.current == nil || p.current.freeOff+size > len(p.current.data) {
		if len(p.free) > 0 {
			p.current = p.free[len(p.free)-1]
			p.free = p.free[:len(p.free)-1]
			p.current.freeOff = 0
			p.current.chunkRefs = 0
		} else {
			p.current = p.allocBuffer()
		}
	}
	c := &chunk{buf: p.current, start: p.current.freeOff, end: p.current.freeOff + size}
	p.current.freeOff += size
	atomic.AddInt32(&p.current.chunkRefs, 1)
	return c
}

func (p *Pool) releaseBuffer(b *Buffer) {
	if atomic.AddInt32(&b.chunkRefs, -1) != 0 {
		return
	}
	p.mu.Lock()
	p.free = append(p.free, b)
	p.buffersAlive--
	metrics.RBPBuffersInUse.WithLabelValues(p.name).Set(float64(p.buffersAlive))
	p.mu.Unlock()
}

// chunk is one administrative extent within a Buffer; a single RMSG may own
// several as its derived state grows.
type chunk struct {
	buf       *Buffer
	start, end int
	off       int // next free offset within [start,end), relative alloc cursor
}

func (c *chunk) bytes() []byte { return c.buf.data[c.start:c.end] }

func (c *chunk) alloc(n int) ([]byte, bool) {
	if c.off+n > (c.end - c.start) {
		return nil, false
	}
	b := c.bytes()[c.off : c.off+n]
	c.off += n
	return b, true
}

// RMsg is the received-message container: one datagram's payload plus every
// byte of administrative state derived from it, all suballocated from the
// pool's chunks so their lifetime is exactly the RMSG's (spec.md section
// 3.2).
type RMsg struct {
	pool     *Pool
	chunks   []*chunk
	cur      *chunk
	payload  []byte
	size     int
	refcount int32
}

// New allocates a fresh, uncommitted RMSG biased by UncommittedBias: the
// receive thread that calls New is considered to hold it until Commit.
func New(pool *Pool) *RMsg {
	c := pool.newChunk(pool.maxMsgSize)
	m := &RMsg{pool: pool, chunks: []*chunk{c}, cur: c, refcount: UncommittedBias}
	return m
}

// SetSize declares the datagram payload length and reserves it from the
// first chunk.
func (m *RMsg) SetSize(n int) error {
	b, ok := m.cur.alloc(n)
	if !ok {
		return fmt.Errorf("rmsg: payload of %d bytes exceeds chunk capacity", n)
	}
	m.payload = b
	m.size = n
	return nil
}

// Payload returns the datagram bytes.
func (m *RMsg) Payload() []byte { return m.payload }

// Alloc suballocates n administrative bytes from the RMSG's current chunk,
// rolling over to a new chunk from the pool when the current one overflows
// (spec.md section 4.1's "commits the chunk ... allocates a new chunk").
func (m *RMsg) Alloc(n int) []byte {
	if b, ok := m.cur.alloc(n); ok {
		return b
	}
	nc := m.pool.newChunk(m.pool.maxMsgSize)
	m.chunks = append(m.chunks, nc)
	m.cur = nc
	b, ok := nc.alloc(n)
	if !ok {
		panic("rmsg: administrative allocation exceeds a full chunk; configuration should preclude this")
	}
	return b
}

// AddRef adds to the refcount; used when registering a new provisional
// holder (e.g. the RDATA bias before the exact store count is known).
func (m *RMsg) AddRef(n int32) {
	atomic.AddInt32(&m.refcount, n)
}

// Unref releases n units of reference; when the result reaches zero every
// chunk is released back to its owning buffer (spec.md: "freeing is legal
// only at refcount 0, and then releases all chunks").
func (m *RMsg) Unref(n int32) {
	if atomic.AddInt32(&m.refcount, -n) == 0 {
		for _, c := range m.chunks {
			m.pool.releaseBuffer(c.buf)
		}
	}
}

// Refcount returns the current refcount, for tests and invariants.
func (m *RMsg) Refcount() int32 { return atomic.LoadInt32(&m.refcount) }

// Commit subtracts the uncommitted bias, releasing the receive thread's
// claim on the message. If no RDATA references remain either, the message
// is freed immediately.
func (m *RMsg) Commit() {
	m.Unref(UncommittedBias)
}

// RData is a lightweight handle onto a DATA/DATAFRAG submessage within an
// RMsg: a byte range plus the submessage/payload/keyhash offsets, and a
// forward link used to chain fragments belonging to one sample together
// (spec.md section 3.2 / 4.1).
type RData struct {
	Msg        *RMsg
	Min, MaxP1 int // byte range [Min, MaxP1) within the fragment's payload
	SubmsgOff  int
	PayloadOff int
	KeyhashOff int // -1 if absent
	Next       *RData
}

// NewRData creates an RDATA pointing into msg. It does not itself add a
// reference to msg; the caller (DEFRAG/REORDER admin) adds the RDATA bias
// once the descriptor is actually stored, per the "Reference discipline"
// rule in spec.md section 4.1.
func NewRData(msg *RMsg, min, maxp1, submsgOff, payloadOff, keyhashOff int) *RData {
	return &RData{Msg: msg, Min: min, MaxP1: maxp1, SubmsgOff: submsgOff, PayloadOff: payloadOff, KeyhashOff: keyhashOff}
}

// Bytes returns the fragment's payload bytes as seen through this RDATA:
// the span [PayloadOff, PayloadOff+(MaxP1-Min)) within the owning RMSG's
// datagram payload.
func (r *RData) Bytes() []byte {
	n := r.MaxP1 - r.Min
	return r.Msg.Payload()[r.PayloadOff : r.PayloadOff+n]
}
