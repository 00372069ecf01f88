package plist

import (
	"encoding/binary"
	"fmt"
)

// ByteOrder selects the two supported PL_CDR encodings (spec.md section
// 4.2 "Two byte orders are supported").
type ByteOrder int

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

func (bo ByteOrder) impl() binary.ByteOrder {
	if bo == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// reader walks a PL_CDR parameter-list buffer. Byte slices it hands back
// for string/octet-sequence tokens alias the input buffer directly (the
// "fast path... aliases the input buffer" rule from spec.md section 4.2).
type reader struct {
	buf []byte
	off int
	bo  ByteOrder
}

func newReader(buf []byte, bo ByteOrder) *reader { return &reader{buf: buf, bo: bo} }

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) align4() {
	if pad := r.off % 4; pad != 0 {
		r.off += 4 - pad
	}
}

func (r *reader) u8() (uint8, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("plist: truncated reading octet")
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, fmt.Errorf("plist: truncated reading short")
	}
	v := r.bo.impl().Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, fmt.Errorf("plist: truncated reading long")
	}
	v := r.bo.impl().Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

// bytes returns an aliasing slice of n bytes without copying.
func (r *reader) bytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("plist: truncated reading %d raw bytes", n)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// cdrString reads a CDR string: uint32 length (including the trailing NUL),
// then that many bytes, with the NUL stripped. The returned string is a
// copy of those bytes (Go string headers can't alias a []byte without
// unsafe); the field is still tracked via the aliased bitmask, per
// spec.md's aliasing model.
func (r *reader) cdrString() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	if len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b), nil
}

// octetSeq reads a CDR sequence<octet>: uint32 count, then that many bytes,
// aliasing the buffer.
func (r *reader) octetSeq() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	return r.bytes(int(n))
}

// writer builds a PL_CDR buffer.
type writer struct {
	buf []byte
	bo  ByteOrder
}

func newWriter(bo ByteOrder) *writer { return &writer{bo: bo} }

func (w *writer) align4() {
	for len(w.buf)%4 != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) putU8(v uint8) { w.buf = append(w.buf, v) }

func (w *writer) putU16(v uint16) {
	var b [2]byte
	w.bo.impl().PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) putU32(v uint32) {
	var b [4]byte
	w.bo.impl().PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) putI32(v int32) { w.putU32(uint32(v)) }

func (w *writer) putBytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) putString(s string) {
	w.putU32(uint32(len(s) + 1))
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

func (w *writer) putOctetSeq(b []byte) {
	w.putU32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// withHeader writes a {pid,length} header for pid, runs fn to append the
// payload, then backpatches length (padded to a multiple of 4, spec.md
// section 4.2's "length... must be a multiple of 4").
func (w *writer) withHeader(pid PID, fn func()) {
	headerOff := len(w.buf)
	w.putU16(uint16(pid))
	w.putU16(0) // length placeholder
	payloadOff := len(w.buf)
	fn()
	w.align4()
	length := len(w.buf) - payloadOff
	w.bo.impl().PutUint16(w.buf[headerOff+2:headerOff+4], uint16(length))
}
