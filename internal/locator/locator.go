// Package locator implements the RTPS Locator_t: a transport kind, port and
// 16-byte address, plus the UDPv4 multicast-address-generator extension.
package locator

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Kind selects a transport family. Values match the RTPS spec table.
type Kind int32

const (
	KindInvalid          Kind = -1
	KindReserved         Kind = 0
	KindUDPv4            Kind = 1
	KindUDPv6            Kind = 2
	KindTCPv4            Kind = 4
	KindTCPv6            Kind = 8
	KindSharedMem        Kind = 0x01000000 // vendor pseudo-kind
	KindUDPv4MCGen       Kind = 0x01000100 // vendor: multicast address generator
	KindRawEthernet      Kind = 0x01000200 // vendor: raw-Ethernet
)

// Locator is { kind, port, address[16] }.
type Locator struct {
	Kind    Kind
	Port    uint32
	Address [16]byte
}

// Invalid is the well-known invalid locator (kind = KindInvalid).
var Invalid = Locator{Kind: KindInvalid}

// MCGenParams decodes the UDPv4MCGEN extension payload: a multicast address
// generator described by a base address, a count, and an index used to
// offset the base. The 16-byte Address field for this kind carries, in its
// first 12 bytes, {base:4, count:4, idx:4} big-endian.
type MCGenParams struct {
	Base  [4]byte
	Count uint32
	Idx   uint32
}

// DecodeMCGen extracts the multicast-generator fields from a locator whose
// Kind is KindUDPv4MCGen. Returns an error if count==0 or idx>=count (those
// are malformed per the spec's locator-validation rules).
func DecodeMCGen(l Locator) (MCGenParams, error) {
	if l.Kind != KindUDPv4MCGen {
		return MCGenParams{}, fmt.Errorf("locator: not a UDPv4MCGEN locator")
	}
	var p MCGenParams
	copy(p.Base[:], l.Address[0:4])
	p.Count = binary.BigEndian.Uint32(l.Address[4:8])
	p.Idx = binary.BigEndian.Uint32(l.Address[8:12])
	if p.Count == 0 || p.Idx >= p.Count {
		return MCGenParams{}, fmt.Errorf("locator: bad MCGEN params count=%d idx=%d", p.Count, p.Idx)
	}
	return p, nil
}

// Resolve expands a UDPv4MCGEN locator into the concrete multicast address
// it represents: base address + idx, keeping the original port.
func (p MCGenParams) Resolve(port uint32) Locator {
	var addr [16]byte
	// IPv4-mapped form: last 4 bytes hold the address, base+idx may carry
	// into higher octets exactly like incrementing a big-endian uint32.
	v := binary.BigEndian.Uint32(p.Base[:]) + p.Idx
	var b4 [4]byte
	binary.BigEndian.PutUint32(b4[:], v)
	copy(addr[12:16], b4[:])
	return Locator{Kind: KindUDPv4, Port: port, Address: addr}
}

// FromUDPAddr builds a Locator from a net.UDPAddr, preferring UDPv4 when the
// address has a 4-byte form.
func FromUDPAddr(a *net.UDPAddr) Locator {
	var l Locator
	l.Port = uint32(a.Port)
	if v4 := a.IP.To4(); v4 != nil {
		l.Kind = KindUDPv4
		copy(l.Address[12:16], v4)
		return l
	}
	l.Kind = KindUDPv6
	copy(l.Address[:], a.IP.To16())
	return l
}

// UDPAddr converts a UDPv4/UDPv6 locator back to a net.UDPAddr.
func (l Locator) UDPAddr() (*net.UDPAddr, error) {
	switch l.Kind {
	case KindUDPv4:
		ip := net.IPv4(l.Address[12], l.Address[13], l.Address[14], l.Address[15])
		return &net.UDPAddr{IP: ip, Port: int(l.Port)}, nil
	case KindUDPv6:
		ip := make(net.IP, 16)
		copy(ip, l.Address[:])
		return &net.UDPAddr{IP: ip, Port: int(l.Port)}, nil
	default:
		return nil, fmt.Errorf("locator: kind %d has no UDP address form", l.Kind)
	}
}

// String renders a locator as kind://addr:port, the canonical round-trip
// form used by FromString.
func (l Locator) String() string {
	switch l.Kind {
	case KindUDPv4:
		return fmt.Sprintf("udp4://%d.%d.%d.%d:%d", l.Address[12], l.Address[13], l.Address[14], l.Address[15], l.Port)
	case KindUDPv6:
		ip := net.IP(l.Address[:])
		return fmt.Sprintf("udp6://[%s]:%d", ip.String(), l.Port)
	case KindTCPv4:
		return fmt.Sprintf("tcp4://%d.%d.%d.%d:%d", l.Address[12], l.Address[13], l.Address[14], l.Address[15], l.Port)
	case KindTCPv6:
		ip := net.IP(l.Address[:])
		return fmt.Sprintf("tcp6://[%s]:%d", ip.String(), l.Port)
	case KindInvalid:
		return "invalid://"
	default:
		return fmt.Sprintf("kind%d://", l.Kind)
	}
}

// FromString parses the canonical form produced by String. Round-trips for
// every supported kind (the "locator parsing idempotence" testable
// property in spec.md section 8).
func FromString(s string) (Locator, error) {
	var scheme string
	for i := 0; i < len(s); i++ {
		if s[i] == ':' && i+2 < len(s) && s[i+1] == '/' && s[i+2] == '/' {
			scheme = s[:i]
			s = s[i+3:]
			break
		}
	}
	switch scheme {
	case "invalid":
		return Invalid, nil
	case "udp4", "tcp4":
		host, port, err := net.SplitHostPort(s)
		if err != nil {
			return Locator{}, err
		}
		ip := net.ParseIP(host).To4()
		if ip == nil {
			return Locator{}, fmt.Errorf("locator: bad ipv4 %q", host)
		}
		var p uint32
		if _, err := fmt.Sscanf(port, "%d", &p); err != nil {
			return Locator{}, err
		}
		l := Locator{Port: p}
		copy(l.Address[12:16], ip)
		if scheme == "udp4" {
			l.Kind = KindUDPv4
		} else {
			l.Kind = KindTCPv4
		}
		return l, nil
	case "udp6", "tcp6":
		host := s
		if s[0] == '[' {
			idx := indexByte(s, ']')
			if idx < 0 {
				return Locator{}, fmt.Errorf("locator: bad ipv6 literal %q", s)
			}
			host = s[1:idx]
			s = s[idx+2:] // skip "]:"
		}
		var p uint32
		if _, err := fmt.Sscanf(s, "%d", &p); err != nil {
			return Locator{}, err
		}
		ip := net.ParseIP(host).To16()
		if ip == nil {
			return Locator{}, fmt.Errorf("locator: bad ipv6 %q", host)
		}
		l := Locator{Port: p}
		copy(l.Address[:], ip)
		if scheme == "udp6" {
			l.Kind = KindUDPv6
		} else {
			l.Kind = KindTCPv6
		}
		return l, nil
	default:
		return Locator{}, fmt.Errorf("locator: unsupported scheme %q", scheme)
	}
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// AddrSet is an unordered collection of locators reached via unicast and
// multicast, the destination carried by an XMSG in ALL/ALL_UC mode.
type AddrSet struct {
	Unicast   []Locator
	Multicast []Locator
}

// AddUnicast appends l if not already present.
func (as *AddrSet) AddUnicast(l Locator) {
	for _, e := range as.Unicast {
		if e == l {
			return
		}
	}
	as.Unicast = append(as.Unicast, l)
}

// AddMulticast appends l if not already present.
func (as *AddrSet) AddMulticast(l Locator) {
	for _, e := range as.Multicast {
		if e == l {
			return
		}
	}
	as.Multicast = append(as.Multicast, l)
}

// UnicastOnly returns the unicast-only view used by ALL_UC destination mode.
func (as *AddrSet) UnicastOnly() AddrSet {
	return AddrSet{Unicast: as.Unicast}
}

// Empty reports whether the set carries no locators at all.
func (as *AddrSet) Empty() bool {
	return len(as.Unicast) == 0 && len(as.Multicast) == 0
}
