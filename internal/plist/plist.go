// Package plist implements the parameter-list codec: a table-driven PL_CDR
// (de)serializer for the typed PID/length/value language used by discovery
// and inline QoS, with the aliasing-vs-owning memory discipline, merge/diff
// operations, and context-sensitive validation spec.md section 4.2 and 3.5
// describe.
//
// Grounded on original_source/ddsi_plist.c's table-driven op_*/pid
// dispatch, adapted to Go's "set of five function pointers" variant (each
// pidTable row carries Deser/Ser/Unalias closures) since Go has no portable
// struct-offset bytecode to drive a generic walker.
package plist

import (
	"bytes"
	"fmt"
	"time"

	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/bitset"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/guid"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/locator"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/vendorid"
)

// ContextKind controls the participant-lease-duration <-> liveliness
// transformation and whether QoS parameters are accepted at all (spec.md
// section 3.5).
type ContextKind int

const (
	ContextParticipant ContextKind = iota
	ContextEndpoint
	ContextTopic
	ContextInlineQoS
	ContextQoSDisallowed
)

// Result is the outcome of InitFromMsg, mirroring the C contract's named
// result set (spec.md section 4.2 and section 7's error-kind taxonomy).
type Result int

const (
	ResultOK Result = iota
	ResultBadParameter
	ResultInconsistentPolicy
	ResultUnsupported
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultBadParameter:
		return "BAD_PARAMETER"
	case ResultInconsistentPolicy:
		return "INCONSISTENT_POLICY"
	case ResultUnsupported:
		return "UNSUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// DurabilityService carries the wire's PID_DURABILITY_SERVICE QoS policy:
// the cleanup delay plus the history/resource-limits a durability service
// replays samples with (spec.md section 4.2's inter-field validation names
// this policy's all-zero workaround explicitly).
type DurabilityService struct {
	ServiceCleanupDelay   time.Duration
	HistoryKind           int32
	HistoryDepth          int32
	MaxSamples            int32
	MaxInstances          int32
	MaxSamplesPerInstance int32
}

// allZero reports whether every field is the wire's literal zero value,
// the shape ADLink OpenSplice sent before it implemented this policy
// properly (vendorid.AcceptsAllZeroDurabilityService).
func (d DurabilityService) allZero() bool { return d == (DurabilityService{}) }

// Plist is a parsed parameter list: present/aliased bitmasks plus the union
// of typed fields the table in pid.go knows how to (de)serialize.
type Plist struct {
	Present bitset.Bitset
	Aliased bitset.Bitset

	DomainID                uint32
	TopicName               string
	TypeName                string
	ProtocolVersionMajor    uint8
	ProtocolVersionMinor    uint8
	VendorID                vendorid.VendorID
	LivelinessKind          LivelinessKind
	LivelinessLeaseDuration time.Duration
	DurabilityService       DurabilityService
	UnicastLocators         []locator.Locator
	MulticastLocators       []locator.Locator
	UserData                []byte
	ParticipantGUID         guid.GUID
	EndpointGUID            guid.GUID
	KeyHash                 [16]byte
	StatusInfo              uint32
	DataRepresentation      []int16
	DomainTag               string
}

// New returns an empty plist with both masks sized for the known field set.
func New() *Plist {
	return &Plist{Present: *bitset.New(int(numFields)), Aliased: *bitset.New(int(numFields))}
}

func durationOf(sec int32, nsec uint32) time.Duration {
	return time.Duration(sec)*time.Second + time.Duration(nsec)
}

func splitDuration(d time.Duration) (sec int32, nsec uint32) {
	return int32(d / time.Second), uint32(d % time.Second)
}

func deserGUID(r *reader, out *guid.GUID) error {
	b, err := r.bytes(16)
	if err != nil {
		return err
	}
	g, err := guid.FromBytes(b)
	if err != nil {
		return err
	}
	*out = g
	return nil
}

func serGUID(w *writer, g guid.GUID) { w.putBytes(g.Bytes()) }

// deserLocator reads the fixed 24-byte RTPS Locator_t: {kind:i32, port:u32,
// address:octet[16]}.
func deserLocator(r *reader) (locator.Locator, error) {
	kind, err := r.i32()
	if err != nil {
		return locator.Locator{}, err
	}
	port, err := r.u32()
	if err != nil {
		return locator.Locator{}, err
	}
	addr, err := r.bytes(16)
	if err != nil {
		return locator.Locator{}, err
	}
	var l locator.Locator
	l.Kind = locator.Kind(kind)
	l.Port = port
	copy(l.Address[:], addr)
	return l, nil
}

func serLocator(w *writer, l locator.Locator) {
	w.putI32(int32(l.Kind))
	w.putU32(l.Port)
	w.putBytes(l.Address[:])
}

// InitFromMsg parses a PL_CDR buffer into dest, honoring pmask/qmask
// (fields outside either mask are skipped but not rejected) and context
// (QoS rejected outright under ContextQoSDisallowed, returning
// ResultUnsupported rather than silently dropping the parameter). Unknown
// pids with flagIncompatibleIfUnk set abort parsing with ResultUnsupported;
// any other unknown pid is silently skipped per spec.md's NOT_UNDERSTOOD-
// at-the-submessage-level philosophy applied at the parameter level. sender
// scopes vendor-specific pid lookups to the table built for that vendor id,
// since different vendors reuse the same vendor-specific pid number for
// different meanings.
func InitFromMsg(dest *Plist, buf []byte, bo ByteOrder, pmask, qmask uint64, ctx ContextKind, sender vendorid.VendorID) Result {
	*dest = *New()
	r := newReader(buf, bo)
	for {
		if r.remaining() < 4 {
			return ResultBadParameter
		}
		pidRaw, err := r.u16()
		if err != nil {
			return ResultBadParameter
		}
		pid := PID(pidRaw)
		length, err := r.u16()
		if err != nil {
			return ResultBadParameter
		}
		if pid == PIDSentinel {
			break
		}
		if int(length)%4 != 0 {
			return ResultBadParameter
		}
		if r.remaining() < int(length) {
			return ResultBadParameter
		}
		payloadEnd := r.off + int(length)

		// PID_LIVELINESS and PID_PARTICIPANT_LEASE_DURATION are one policy
		// on the wire (spec.md section 4.2's "Critical rules"): Cyclone's
		// internal liveliness field is written from whichever of the two
		// pids the context allows, and the other is rejected or ignored.
		if pid == PIDParticipantLeaseDuration || pid == PIDLiveliness {
			switch ctx {
			case ContextQoSDisallowed:
				return ResultUnsupported
			case ContextParticipant:
				if pid == PIDLiveliness {
					// Cyclone itself never sends this in PARTICIPANT
					// context; tolerate it from other vendors by ignoring it.
					r.off = payloadEnd
					continue
				}
				sec, err := r.i32()
				if err != nil {
					return ResultBadParameter
				}
				nsec, err := r.u32()
				if err != nil {
					return ResultBadParameter
				}
				dest.LivelinessKind = LivelinessAutomatic
				dest.LivelinessLeaseDuration = durationOf(sec, nsec)
				r.off = payloadEnd
				dest.Present.Set(int(fLiveliness))
				dest.Aliased.Set(int(fLiveliness))
				continue
			default: // ContextEndpoint, ContextTopic, ContextInlineQoS
				if pid == PIDParticipantLeaseDuration {
					r.off = payloadEnd
					continue
				}
				// PID_LIVELINESS: falls through to the generic dispatch
				// below, which reads {kind, sec, nsec} exactly as these
				// contexts expect.
			}
		}

		entry, known := pidEntryForVendor(pid, sender)
		if !known {
			if e, ok := pidByPID[pid]; ok && e.Flags&flagIncompatibleIfUnk != 0 {
				return ResultUnsupported
			}
			r.off = payloadEnd
			continue
		}
		if entry.Flags&flagQoS != 0 && ctx == ContextQoSDisallowed {
			return ResultUnsupported
		}
		mask := pmask
		if entry.Flags&flagQoS != 0 {
			mask = qmask
		}
		if mask != 0 && mask&(1<<uint(entry.Field)) == 0 {
			r.off = payloadEnd
			continue
		}
		if err := entry.Deser(dest, r); err != nil {
			return ResultBadParameter
		}
		r.off = payloadEnd // trust the declared length over token-exact consumption
		dest.Present.Set(int(entry.Field))
		dest.Aliased.Set(int(entry.Field)) // fields holding slices alias buf until Unalias
	}
	return validateInterField(dest, ctx, sender)
}

// validateInterField runs the checks spec.md section 4.2 describes as
// running "after the sentinel" (cross-field, not per-field).
func validateInterField(p *Plist, ctx ContextKind, sender vendorid.VendorID) Result {
	if ctx == ContextParticipant && p.Present.IsSet(int(fLiveliness)) {
		if p.LivelinessLeaseDuration < 0 {
			return ResultInconsistentPolicy
		}
	}
	if p.Present.IsSet(int(fDurabilityService)) {
		if p.DurabilityService.allZero() {
			// Accept-all-zero-durability-service-iff-older-vendor-or-
			// protocol-version (spec.md section 4.2's "Critical rules").
			// Protocol version travels in this same plist when present;
			// absent it, treat the peer as current (no workaround).
			major, minor := 2, 99
			if p.Present.IsSet(int(fProtocolVersion)) {
				major, minor = int(p.ProtocolVersionMajor), int(p.ProtocolVersionMinor)
			}
			if !sender.AcceptsAllZeroDurabilityService(major, minor) {
				return ResultInconsistentPolicy
			}
		} else if p.DurabilityService.ServiceCleanupDelay < 0 {
			return ResultInconsistentPolicy
		}
	}
	return ResultOK
}

// AddToMsg serializes every present field selected by pmask/qmask (0 means
// "all"), in ascending field-index order, terminated by the sentinel. ctx
// picks the wire pid and payload shape for the liveliness/lease-duration
// policy, mirroring InitFromMsg's context-sensitive handling of the same
// pair (spec.md section 4.2's "Critical rules").
func AddToMsg(p *Plist, bo ByteOrder, pmask, qmask uint64, ctx ContextKind) []byte {
	w := newWriter(bo)
	for i := range pidTable {
		e := &pidTable[i]
		if !p.Present.IsSet(int(e.Field)) {
			continue
		}
		mask := pmask
		if e.Flags&flagQoS != 0 {
			mask = qmask
		}
		if mask != 0 && mask&(1<<uint(e.Field)) == 0 {
			continue
		}
		if e.Field == fLiveliness {
			serLivelinessForContext(p, w, ctx)
			continue
		}
		w.withHeader(e.PID, func() { e.Ser(p, w) })
	}
	w.withHeader(PIDSentinel, func() {})
	return w.buf
}

// serLivelinessForContext writes the liveliness/lease-duration policy under
// whichever wire pid ctx calls for, matching InitFromMsg's read side.
func serLivelinessForContext(p *Plist, w *writer, ctx ContextKind) {
	switch ctx {
	case ContextParticipant:
		w.withHeader(PIDParticipantLeaseDuration, func() {
			sec, nsec := splitDuration(p.LivelinessLeaseDuration)
			w.putI32(sec)
			w.putU32(nsec)
		})
	case ContextQoSDisallowed:
		// Nothing legal to emit; the field should never be present here.
	default:
		w.withHeader(PIDLiveliness, func() {
			w.putI32(int32(p.LivelinessKind))
			sec, nsec := splitDuration(p.LivelinessLeaseDuration)
			w.putI32(sec)
			w.putU32(nsec)
		})
	}
}

// Copy makes a deep, fully-owned copy of src (no aliased bits survive).
func Copy(src *Plist) *Plist {
	dst := *src
	dst.UserData = append([]byte(nil), src.UserData...)
	dst.UnicastLocators = append([]locator.Locator(nil), src.UnicastLocators...)
	dst.MulticastLocators = append([]locator.Locator(nil), src.MulticastLocators...)
	dst.DataRepresentation = append([]int16(nil), src.DataRepresentation...)
	dst.Present = *bitset.FromWords(src.Present.NumBits(), src.Present.Words())
	dst.Aliased = *bitset.New(src.Aliased.NumBits()) // a Copy always owns everything
	return &dst
}

// Dup is a synonym for Copy, matching the spec's separate Copy/Dup names
// (the C original distinguishes "copy into caller-provided storage" from
// "allocate a new one"; Go's value semantics make them identical here).
func Dup(src *Plist) *Plist { return Copy(src) }

// Unalias walks every field still marked aliased and makes it own its
// storage, clearing the bit (spec.md section 8's "Unalias contract").
func Unalias(p *Plist) {
	for i := range pidTable {
		e := &pidTable[i]
		if p.Aliased.IsSet(int(e.Field)) {
			if e.Unalias != nil {
				e.Unalias(p)
			}
			p.Aliased.Clear(int(e.Field))
		}
	}
	// Slice-typed fields without a registered Unalias closure still need a
	// defensive copy since they may alias the RMSG's buffer.
	p.UnicastLocators = append([]locator.Locator(nil), p.UnicastLocators...)
	p.MulticastLocators = append([]locator.Locator(nil), p.MulticastLocators...)
	p.DataRepresentation = append([]int16(nil), p.DataRepresentation...)
}

// MergeinMissing copies every field present in src but absent from dst,
// restricted to fields named in mask (0 means "all"), marking the newly
// copied fields aliased (spec.md section 4.2's "bitwise-copies fields then
// flags them aliased"). It never clears a bit already present in dst
// (spec.md section 8's "merge-in-missing neutrality").
func MergeinMissing(dst, src *Plist, mask uint64) {
	for i := range pidTable {
		e := &pidTable[i]
		if mask != 0 && mask&(1<<uint(e.Field)) == 0 {
			continue
		}
		if dst.Present.IsSet(int(e.Field)) || !src.Present.IsSet(int(e.Field)) {
			continue
		}
		copyField(dst, src, e.Field)
		dst.Present.Set(int(e.Field))
		dst.Aliased.Set(int(e.Field))
	}
}

func copyField(dst, src *Plist, f fieldIndex) {
	switch f {
	case fDomainID:
		dst.DomainID = src.DomainID
	case fTopicName:
		dst.TopicName = src.TopicName
	case fTypeName:
		dst.TypeName = src.TypeName
	case fProtocolVersion:
		dst.ProtocolVersionMajor, dst.ProtocolVersionMinor = src.ProtocolVersionMajor, src.ProtocolVersionMinor
	case fVendorID:
		dst.VendorID = src.VendorID
	case fLiveliness:
		dst.LivelinessKind, dst.LivelinessLeaseDuration = src.LivelinessKind, src.LivelinessLeaseDuration
	case fDurabilityService:
		dst.DurabilityService = src.DurabilityService
	case fUnicastLocators:
		dst.UnicastLocators = src.UnicastLocators
	case fMulticastLocators:
		dst.MulticastLocators = src.MulticastLocators
	case fUserData:
		dst.UserData = src.UserData
	case fParticipantGUID:
		dst.ParticipantGUID = src.ParticipantGUID
	case fEndpointGUID:
		dst.EndpointGUID = src.EndpointGUID
	case fKeyHash:
		dst.KeyHash = src.KeyHash
	case fStatusInfo:
		dst.StatusInfo = src.StatusInfo
	case fDataRepresentation:
		dst.DataRepresentation = src.DataRepresentation
	case fDomainTag:
		dst.DomainTag = src.DomainTag
	}
}

// Delta reports the set of field indices present in exactly one of a, b, or
// present in both with unequal serialized value (used by the round-trip
// test oracle and by discovery's incremental-update logic).
func Delta(a, b *Plist, bo ByteOrder) []int {
	var diff []int
	for i := range pidTable {
		e := &pidTable[i]
		ap, bp := a.Present.IsSet(int(e.Field)), b.Present.IsSet(int(e.Field))
		if ap != bp {
			diff = append(diff, int(e.Field))
			continue
		}
		if !ap {
			continue
		}
		wa, wb := newWriter(bo), newWriter(bo)
		e.Ser(a, wa)
		e.Ser(b, wb)
		if !bytes.Equal(wa.buf, wb.buf) {
			diff = append(diff, int(e.Field))
		}
	}
	return diff
}

// Fini clears every field (FiniMask(p, ^uint64(0))).
func Fini(p *Plist) { FiniMask(p, ^uint64(0)) }

// FiniMask clears fields named in mask, releasing owned (non-aliased)
// storage and resetting both present and aliased bits.
func FiniMask(p *Plist, mask uint64) {
	for i := range pidTable {
		e := &pidTable[i]
		if mask&(1<<uint(e.Field)) == 0 {
			continue
		}
		zeroField(p, e.Field)
		p.Present.Clear(int(e.Field))
		p.Aliased.Clear(int(e.Field))
	}
}

func zeroField(p *Plist, f fieldIndex) {
	switch f {
	case fUserData:
		p.UserData = nil
	case fUnicastLocators:
		p.UnicastLocators = nil
	case fMulticastLocators:
		p.MulticastLocators = nil
	case fDataRepresentation:
		p.DataRepresentation = nil
	case fTopicName:
		p.TopicName = ""
	case fTypeName:
		p.TypeName = ""
	case fDomainTag:
		p.DomainTag = ""
	}
}

// Print renders a plist in a stable, human-readable form for diagnostics.
func Print(p *Plist) string {
	var b bytes.Buffer
	for i := range pidTable {
		e := &pidTable[i]
		if !p.Present.IsSet(int(e.Field)) {
			continue
		}
		fmt.Fprintf(&b, "pid=%#04x field=%d aliased=%v\n", e.PID, e.Field, p.Aliased.IsSet(int(e.Field)))
	}
	return b.String()
}

// XQosValid runs the QoS-specific inter-field validation spec.md section
// 4.2 describes ("history vs resource-limits; deadline >= minimum-
// separation..."). It checks one rule only: a non-negative lease duration;
// the durability-service checks live in InitFromMsg's inter-field pass.
func XQosValid(p *Plist) Result {
	if p.Present.IsSet(int(fLiveliness)) && p.LivelinessLeaseDuration < 0 {
		return ResultInconsistentPolicy
	}
	return ResultOK
}
