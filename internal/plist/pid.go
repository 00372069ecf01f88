package plist

import (
	"sync"

	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/vendorid"
)

// PID identifies one parameter-list entry. Values match the RTPS 2.x /
// cyclonedds PID table (spec.md section 6 "Parameter-list format").
type PID uint16

// pidVendorBit marks a PID as vendor-specific (the high nibble convention
// ddsi_plist.c uses): different vendors reuse the same vendor-specific PID
// number for different meanings, so a vendor-specific PID must only be
// looked up in the table for the sender's own vendor id.
const pidVendorBit PID = 0x4000

const (
	PIDPad                       PID = 0x0000
	PIDSentinel                  PID = 0x0001
	PIDParticipantLeaseDuration  PID = 0x0002
	PIDDomainID                  PID = 0x000f
	PIDTopicName                 PID = 0x0005
	PIDTypeName                  PID = 0x0007
	PIDDurabilityService         PID = 0x001e
	PIDProtocolVersion           PID = 0x0015
	PIDVendorID                  PID = 0x0016
	PIDLiveliness                PID = 0x001b
	PIDUnicastLocator            PID = 0x002f
	PIDMulticastLocator          PID = 0x0030
	PIDUserData                  PID = 0x002c
	PIDParticipantGUID           PID = 0x0050
	PIDEndpointGUID              PID = 0x005a
	PIDKeyHash                   PID = 0x0070
	PIDStatusInfo                PID = 0x0071
	PIDDataRepresentation        PID = 0x0073
	PIDDomainTag                 PID = 0x4014 // vendor-specific (Eclipse CycloneDDS range)
)

// LivelinessKind enumerates the bounded-enum carried by PID_LIVELINESS.
type LivelinessKind int32

const (
	LivelinessAutomatic LivelinessKind = iota
	LivelinessManualByParticipant
	LivelinessManualByTopic
)

// Flag bits for a pidEntry (spec.md section 4.2's "flags (QoS? function-
// based? allow-multi?)").
type pidFlag uint8

const (
	flagQoS               pidFlag = 1 << 0
	flagAllowMulti        pidFlag = 1 << 1 // locators: append, don't overwrite
	flagIncompatibleIfUnk pidFlag = 1 << 2
)

// fieldIndex names a bit position in the present/aliased masks. One per
// scalar or aggregate field the table knows about.
type fieldIndex int

const (
	fDomainID fieldIndex = iota
	fTopicName
	fTypeName
	fProtocolVersion
	fVendorID
	fLiveliness
	fDurabilityService
	fUnicastLocators
	fMulticastLocators
	fUserData
	fParticipantGUID
	fEndpointGUID
	fKeyHash
	fStatusInfo
	fDataRepresentation
	fDomainTag
	numFields
)

// pidEntry is one row of the table-driven codec: pid, its flags, the field
// it maps to, and the four operations spec.md's function-pointer variant
// calls for (deser/ser, unalias, and — uniformly derivable for every token
// type we support — fini/equal/print, folded into Deser/Ser/Unalias plus
// the generic present/aliased bit bookkeeping every field shares).
type pidEntry struct {
	PID     PID
	Flags   pidFlag
	Field   fieldIndex
	Vendor  vendorid.VendorID // zero unless PID has pidVendorBit set
	Deser   func(p *Plist, r *reader) error
	Ser     func(p *Plist, w *writer)
	Unalias func(p *Plist)
}

var pidTable = buildPidTable()

var pidByPID map[PID]*pidEntry

func buildPidTable() []pidEntry {
	t := []pidEntry{
		{PID: PIDDomainID, Field: fDomainID,
			Deser: func(p *Plist, r *reader) error { v, err := r.u32(); p.DomainID = v; return err },
			Ser:   func(p *Plist, w *writer) { w.putU32(p.DomainID) },
		},
		{PID: PIDTopicName, Field: fTopicName,
			Deser: func(p *Plist, r *reader) error { s, err := r.cdrString(); p.TopicName = s; return err },
			Ser:   func(p *Plist, w *writer) { w.putString(p.TopicName) },
		},
		{PID: PIDTypeName, Field: fTypeName,
			Deser: func(p *Plist, r *reader) error { s, err := r.cdrString(); p.TypeName = s; return err },
			Ser:   func(p *Plist, w *writer) { w.putString(p.TypeName) },
		},
		{PID: PIDProtocolVersion, Field: fProtocolVersion,
			Deser: func(p *Plist, r *reader) error {
				maj, err := r.u8()
				if err != nil {
					return err
				}
				min, err := r.u8()
				if err != nil {
					return err
				}
				p.ProtocolVersionMajor, p.ProtocolVersionMinor = maj, min
				return nil
			},
			Ser: func(p *Plist, w *writer) {
				w.putU8(p.ProtocolVersionMajor)
				w.putU8(p.ProtocolVersionMinor)
			},
		},
		{PID: PIDVendorID, Field: fVendorID,
			Deser: func(p *Plist, r *reader) error {
				b, err := r.bytes(2)
				if err != nil {
					return err
				}
				p.VendorID[0], p.VendorID[1] = b[0], b[1]
				return nil
			},
			Ser: func(p *Plist, w *writer) { w.putBytes(p.VendorID[:]) },
		},
		{PID: PIDLiveliness, Field: fLiveliness, Flags: flagQoS,
			Deser: func(p *Plist, r *reader) error {
				kind, err := r.i32()
				if err != nil {
					return err
				}
				sec, err := r.i32()
				if err != nil {
					return err
				}
				nsec, err := r.u32()
				if err != nil {
					return err
				}
				p.LivelinessKind = LivelinessKind(kind)
				p.LivelinessLeaseDuration = durationOf(sec, nsec)
				return nil
			},
			Ser: func(p *Plist, w *writer) {
				w.putI32(int32(p.LivelinessKind))
				sec, nsec := splitDuration(p.LivelinessLeaseDuration)
				w.putI32(sec)
				w.putU32(nsec)
			},
		},
		{PID: PIDDurabilityService, Field: fDurabilityService, Flags: flagQoS,
			Deser: func(p *Plist, r *reader) error {
				sec, err := r.i32()
				if err != nil {
					return err
				}
				nsec, err := r.u32()
				if err != nil {
					return err
				}
				kind, err := r.i32()
				if err != nil {
					return err
				}
				depth, err := r.i32()
				if err != nil {
					return err
				}
				maxSamples, err := r.i32()
				if err != nil {
					return err
				}
				maxInstances, err := r.i32()
				if err != nil {
					return err
				}
				maxSamplesPerInstance, err := r.i32()
				if err != nil {
					return err
				}
				p.DurabilityService = DurabilityService{
					ServiceCleanupDelay:   durationOf(sec, nsec),
					HistoryKind:           kind,
					HistoryDepth:          depth,
					MaxSamples:            maxSamples,
					MaxInstances:          maxInstances,
					MaxSamplesPerInstance: maxSamplesPerInstance,
				}
				return nil
			},
			Ser: func(p *Plist, w *writer) {
				sec, nsec := splitDuration(p.DurabilityService.ServiceCleanupDelay)
				w.putI32(sec)
				w.putU32(nsec)
				w.putI32(p.DurabilityService.HistoryKind)
				w.putI32(p.DurabilityService.HistoryDepth)
				w.putI32(p.DurabilityService.MaxSamples)
				w.putI32(p.DurabilityService.MaxInstances)
				w.putI32(p.DurabilityService.MaxSamplesPerInstance)
			},
		},
		{PID: PIDUnicastLocator, Field: fUnicastLocators, Flags: flagAllowMulti,
			Deser: func(p *Plist, r *reader) error {
				loc, err := deserLocator(r)
				if err != nil {
					return err
				}
				p.UnicastLocators = append(p.UnicastLocators, loc)
				return nil
			},
			Ser: func(p *Plist, w *writer) {
				for _, l := range p.UnicastLocators {
					serLocator(w, l)
				}
			},
		},
		{PID: PIDMulticastLocator, Field: fMulticastLocators, Flags: flagAllowMulti,
			Deser: func(p *Plist, r *reader) error {
				loc, err := deserLocator(r)
				if err != nil {
					return err
				}
				p.MulticastLocators = append(p.MulticastLocators, loc)
				return nil
			},
			Ser: func(p *Plist, w *writer) {
				for _, l := range p.MulticastLocators {
					serLocator(w, l)
				}
			},
		},
		{PID: PIDUserData, Field: fUserData, Flags: flagQoS,
			Deser: func(p *Plist, r *reader) error {
				b, err := r.octetSeq()
				p.UserData = b
				return err
			},
			Ser:     func(p *Plist, w *writer) { w.putOctetSeq(p.UserData) },
			Unalias: func(p *Plist) { p.UserData = append([]byte(nil), p.UserData...) },
		},
		{PID: PIDParticipantGUID, Field: fParticipantGUID,
			Deser: func(p *Plist, r *reader) error { return deserGUID(r, &p.ParticipantGUID) },
			Ser:   func(p *Plist, w *writer) { serGUID(w, p.ParticipantGUID) },
		},
		{PID: PIDEndpointGUID, Field: fEndpointGUID,
			Deser: func(p *Plist, r *reader) error { return deserGUID(r, &p.EndpointGUID) },
			Ser:   func(p *Plist, w *writer) { serGUID(w, p.EndpointGUID) },
		},
		{PID: PIDKeyHash, Field: fKeyHash,
			Deser: func(p *Plist, r *reader) error {
				b, err := r.bytes(16)
				if err != nil {
					return err
				}
				copy(p.KeyHash[:], b)
				return nil
			},
			Ser: func(p *Plist, w *writer) { w.putBytes(p.KeyHash[:]) },
		},
		{PID: PIDStatusInfo, Field: fStatusInfo,
			Deser: func(p *Plist, r *reader) error { v, err := r.u32(); p.StatusInfo = v; return err },
			Ser:   func(p *Plist, w *writer) { w.putU32(p.StatusInfo) },
		},
		{PID: PIDDataRepresentation, Field: fDataRepresentation, Flags: flagQoS,
			Deser: func(p *Plist, r *reader) error {
				n, err := r.u32()
				if err != nil {
					return err
				}
				out := make([]int16, n)
				for i := range out {
					v, err := r.u16()
					if err != nil {
						return err
					}
					out[i] = int16(v)
				}
				p.DataRepresentation = out
				return nil
			},
			Ser: func(p *Plist, w *writer) {
				w.putU32(uint32(len(p.DataRepresentation)))
				for _, v := range p.DataRepresentation {
					w.putU16(uint16(v))
				}
			},
		},
		{PID: PIDDomainTag, Field: fDomainTag, Flags: flagIncompatibleIfUnk, Vendor: vendorid.EclipseFoundation,
			Deser: func(p *Plist, r *reader) error { s, err := r.cdrString(); p.DomainTag = s; return err },
			Ser:   func(p *Plist, w *writer) { w.putString(p.DomainTag) },
		},
	}
	return t
}

func init() {
	pidByPID = make(map[PID]*pidEntry, len(pidTable))
	for i := range pidTable {
		pidByPID[pidTable[i].PID] = &pidTable[i]
	}
}

// vendorTables partitions pidTable by vendor id: one map per vendor id that
// owns vendor-specific PIDs, holding that vendor's vendor-specific entries
// plus every common (non-vendor-bit) entry, so a lookup keyed on the
// sender's vendor id never needs a second pass. Built once at first use
// rather than per call (spec.md section 4.2 "Vendor tables"), mirroring
// ddsi_plist.c's construct-at-init-reuse-after shape.
var (
	vendorTablesOnce sync.Once
	vendorTables     map[vendorid.VendorID]map[PID]*pidEntry
)

func buildVendorTables() map[vendorid.VendorID]map[PID]*pidEntry {
	common := make(map[PID]*pidEntry)
	byVendor := make(map[vendorid.VendorID][]*pidEntry)
	for i := range pidTable {
		e := &pidTable[i]
		if e.PID&pidVendorBit == 0 {
			common[e.PID] = e
			continue
		}
		byVendor[e.Vendor] = append(byVendor[e.Vendor], e)
	}
	tables := make(map[vendorid.VendorID]map[PID]*pidEntry, len(byVendor))
	for v, entries := range byVendor {
		t := make(map[PID]*pidEntry, len(common)+len(entries))
		for pid, e := range common {
			t[pid] = e
		}
		for _, e := range entries {
			t[e.PID] = e
		}
		tables[v] = t
	}
	return tables
}

// pidEntryForVendor looks up pid in the table scoped to sender, falling
// back to the common (non-vendor-specific) table for any PID without the
// vendor bit set, and to "unknown" for a vendor-specific PID from a vendor
// this table has no entries for (that PID is then just an opaque unknown
// parameter to us, which is the correct, conservative behavior).
func pidEntryForVendor(pid PID, sender vendorid.VendorID) (*pidEntry, bool) {
	if pid&pidVendorBit == 0 {
		e, ok := pidByPID[pid]
		return e, ok
	}
	vendorTablesOnce.Do(func() { vendorTables = buildVendorTables() })
	t, ok := vendorTables[sender]
	if !ok {
		return nil, false
	}
	e, ok := t[pid]
	return e, ok
}
