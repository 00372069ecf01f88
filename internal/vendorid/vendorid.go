// Package vendorid implements the 2-octet RTPS vendor id and the
// compatibility-workaround table keyed on it, grounded on
// original_source/ddsi__vendor.h / ddsi_vendor.c.
package vendorid

import "fmt"

// VendorID identifies the implementation that sent a message.
type VendorID [2]byte

// Unknown is the all-zero "not yet known" vendor id.
var Unknown VendorID

// Well-known vendor ids (the eight the core's workarounds key off).
var (
	EclipseFoundation = VendorID{1, 21} // cyclonedds itself
	RTI                = VendorID{1, 1}
	PrismTech          = VendorID{1, 2} // ADLink OpenSplice (formerly PrismTech)
	ADLinkOpenSplice   = VendorID{1, 2}
	ObjectComputing    = VendorID{1, 7}
	eProsima           = VendorID{1, 0xf}
	RTIMicro           = VendorID{1, 0x10}
	TwinOaks           = VendorID{1, 4}
	GurumNetworks      = VendorID{1, 9}
)

func (v VendorID) String() string {
	return fmt.Sprintf("%d.%d", v[0], v[1])
}

// IsKnown reports whether v is one of the table entries above.
func (v VendorID) IsKnown() bool {
	switch v {
	case EclipseFoundation, RTI, ADLinkOpenSplice, ObjectComputing, eProsima, RTIMicro, TwinOaks, GurumNetworks:
		return true
	default:
		return false
	}
}

// AcceptsPreemptiveACK reports whether non-strict mode should accept a
// zero-length/zero-base reader SN set ("pre-emptive ACK") from this vendor,
// per spec.md section 6 "Vendor compatibility".
func (v VendorID) AcceptsPreemptiveACK() bool {
	switch v {
	case eProsima, RTI, RTIMicro:
		return true
	default:
		return false
	}
}

// AcceptsAllZeroDurabilityService reports whether an all-zero durability-
// service QoS should be tolerated from this vendor, limited to the case
// where the peer additionally announces an older protocol version.
func (v VendorID) AcceptsAllZeroDurabilityService(peerMajor, peerMinor int) bool {
	if v != ADLinkOpenSplice {
		return false
	}
	return peerMajor < 2 || (peerMajor == 2 && peerMinor < 3)
}
