package recv

import (
	"time"

	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/guid"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/locator"
	"github.com/eclipse-cyclonedds/ddsi-core-go/internal/vendorid"
)

// State is the per-datagram receiver-state snapshot (spec.md section 4.6's
// "rst"): source/destination guid prefixes, the peer's protocol version and
// vendor id, the locator the datagram arrived on, and the most recent
// timestamp announced by INFO_TS.
//
// It is copy-on-write: INFO_SRC/INFO_DST clone into a fresh State before
// mutating, so any DATA submessage already stashed against a prior State
// (e.g. inside an out-of-sync reader's queued work) keeps seeing the
// snapshot that was current when it arrived.
type State struct {
	SrcPrefix     guid.Prefix
	DstPrefix     guid.Prefix
	VendorID      vendorid.VendorID
	VersionMajor  uint8
	VersionMinor  uint8
	SrcLocator    locator.Locator
	Timestamp     time.Time
	HaveTimestamp bool
}

// Clone returns a copy for a submessage that is about to mutate the
// snapshot in place.
func (s *State) Clone() *State {
	c := *s
	return &c
}

// ForMe reports whether the datagram's destination prefix addresses self
// (either the wildcard zero prefix, or an exact match).
func (s *State) ForMe(self guid.Prefix) bool {
	return s.DstPrefix.IsZero() || s.DstPrefix == self
}
