// Package guid implements the 16-byte RTPS global unique identifier:
// a 12-byte participant/vendor prefix plus a 4-byte entity id.
package guid

import (
	"encoding/binary"
	"fmt"
)

// Prefix is the 12-byte portion of a GUID shared by every entity owned by
// the same participant.
type Prefix [12]byte

// EntityID is the 4-byte suffix. Its low octet is a kind byte distinguishing
// writer/reader/participant/topic/builtin/user/vendor-specific entities.
type EntityID [4]byte

// GUID is a full 16-byte RTPS identifier.
type GUID struct {
	Prefix   Prefix
	EntityID EntityID
}

// Entity-id kind octets (low byte of EntityID), RTPS 2.x table.
const (
	KindUnknown               = 0x00
	KindParticipant           = 0x01
	KindWriterWithKey         = 0x02
	KindWriterNoKey           = 0x03
	KindReaderNoKey           = 0x04
	KindReaderWithKey         = 0x07
	KindWriterGroup           = 0x08
	KindReaderGroup           = 0x09
	KindBuiltinParticipant    = 0xc1
	KindBuiltinWriterWithKey  = 0xc2
	KindBuiltinWriterNoKey    = 0xc3
	KindBuiltinReaderNoKey    = 0xc4
	KindBuiltinReaderWithKey  = 0xc7
	KindVendorSpecificLowBit  = 0x40 // set in bit 6 for vendor-specific kinds
)

// Unknown is the all-zero GUID, used as a wildcard prefix or sentinel.
var Unknown GUID

// Kind returns the entity-kind octet carried in the low byte of the id.
func (e EntityID) Kind() byte { return e[3] }

// IsBuiltin reports whether the entity kind denotes a builtin (discovery)
// endpoint rather than a user endpoint.
func (e EntityID) IsBuiltin() bool { return e.Kind()&0xc0 == 0xc0 }

// userKind returns the kind octet with the vendor-specific bit cleared for
// non-builtin kinds; builtin kinds (top two bits set) are returned as is.
func (e EntityID) userKind() byte {
	if e.IsBuiltin() {
		return e.Kind()
	}
	return e.Kind() &^ KindVendorSpecificLowBit
}

// IsWriter reports whether the entity kind denotes a writer.
func (e EntityID) IsWriter() bool {
	switch e.userKind() {
	case KindWriterWithKey, KindWriterNoKey, KindBuiltinWriterWithKey, KindBuiltinWriterNoKey:
		return true
	default:
		return false
	}
}

// IsReader reports whether the entity kind denotes a reader.
func (e EntityID) IsReader() bool {
	switch e.userKind() {
	case KindReaderWithKey, KindReaderNoKey, KindBuiltinReaderWithKey, KindBuiltinReaderNoKey:
		return true
	default:
		return false
	}
}

// IsZero reports whether the prefix is the all-zero wildcard prefix.
func (p Prefix) IsZero() bool {
	return p == Prefix{}
}

// New builds a GUID from a prefix and entity id.
func New(p Prefix, e EntityID) GUID {
	return GUID{Prefix: p, EntityID: e}
}

// FromBytes decodes a 16-byte big-endian-on-the-wire GUID.
func FromBytes(b []byte) (GUID, error) {
	if len(b) < 16 {
		return GUID{}, fmt.Errorf("guid: need 16 bytes, got %d", len(b))
	}
	var g GUID
	copy(g.Prefix[:], b[0:12])
	copy(g.EntityID[:], b[12:16])
	return g, nil
}

// Bytes encodes the GUID back to its 16-byte wire form.
func (g GUID) Bytes() []byte {
	out := make([]byte, 16)
	copy(out[0:12], g.Prefix[:])
	copy(out[12:16], g.EntityID[:])
	return out
}

// EntityIDFromU32 builds an EntityID from its big-endian-on-wire uint32 form.
func EntityIDFromU32(v uint32) EntityID {
	var e EntityID
	binary.BigEndian.PutUint32(e[:], v)
	return e
}

// U32 returns the entity id as a big-endian uint32, the form used when the
// id itself needs to be carried as a scalar (e.g. in inline QoS keyhash
// scratch space).
func (e EntityID) U32() uint32 {
	return binary.BigEndian.Uint32(e[:])
}

func (g GUID) String() string {
	return fmt.Sprintf("%x:%x", g.Prefix, g.EntityID)
}

// Well-known builtin entity ids (the subset the receiver needs to special-
// case: SPDP and the participant message writer/reader).
var (
	EntityIDSPDPBuiltinParticipantWriter = EntityIDFromU32(0x000100c2)
	EntityIDSPDPBuiltinParticipantReader = EntityIDFromU32(0x000100c7)
	EntityIDP2PBuiltinParticipantMessageWriter = EntityIDFromU32(0x000200c2)
	EntityIDP2PBuiltinParticipantMessageReader = EntityIDFromU32(0x000200c7)
)
