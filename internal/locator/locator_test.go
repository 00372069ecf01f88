package locator

import "testing"

// TestParsingIdempotence is spec.md section 8's "locator parsing
// idempotence" invariant: String() followed by FromString() must reproduce
// the original locator exactly, for every supported kind.
func TestParsingIdempotence(t *testing.T) {
	cases := []Locator{
		Invalid,
		{Kind: KindUDPv4, Port: 7400, Address: [16]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 239, 255, 0, 1}},
		{Kind: KindTCPv4, Port: 7401, Address: [16]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 10, 0, 0, 1}},
		{Kind: KindUDPv6, Port: 7400, Address: [16]byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}},
		{Kind: KindTCPv6, Port: 7401, Address: [16]byte{0xfe, 0x80, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}},
	}
	for _, want := range cases {
		s := want.String()
		got, err := FromString(s)
		if err != nil {
			t.Errorf("FromString(%q): %v", s, err)
			continue
		}
		if got != want {
			t.Errorf("FromString(String()) round-trip mismatch: got %+v, want %+v (via %q)", got, want, s)
		}
	}
}

func TestMCGenDecodeAndResolve(t *testing.T) {
	var addr [16]byte
	copy(addr[0:4], []byte{239, 255, 0, 0})
	addr[7] = 4 // count = 4
	addr[11] = 2 // idx = 2
	l := Locator{Kind: KindUDPv4MCGen, Port: 7400, Address: addr}

	p, err := DecodeMCGen(l)
	if err != nil {
		t.Fatalf("DecodeMCGen: %v", err)
	}
	if p.Count != 4 || p.Idx != 2 {
		t.Fatalf("DecodeMCGen = %+v, want Count=4 Idx=2", p)
	}

	resolved := p.Resolve(7400)
	if resolved.Kind != KindUDPv4 {
		t.Fatalf("Resolve().Kind = %v, want KindUDPv4", resolved.Kind)
	}
	want := [4]byte{239, 255, 0, 2}
	for i := range want {
		if resolved.Address[12+i] != want[i] {
			t.Fatalf("Resolve().Address = %v, want last 4 bytes %v", resolved.Address[12:], want)
		}
	}
}

func TestDecodeMCGenRejectsMalformedParams(t *testing.T) {
	var addr [16]byte
	addr[11] = 0 // idx 0
	addr[7] = 0  // count 0 -> invalid
	l := Locator{Kind: KindUDPv4MCGen, Address: addr}
	if _, err := DecodeMCGen(l); err == nil {
		t.Error("DecodeMCGen with count=0: want error, got nil")
	}
}

func TestAddrSetDedup(t *testing.T) {
	var as AddrSet
	l := Locator{Kind: KindUDPv4, Port: 7400}
	as.AddUnicast(l)
	as.AddUnicast(l)
	if len(as.Unicast) != 1 {
		t.Fatalf("AddUnicast: len = %d, want 1 after adding the same locator twice", len(as.Unicast))
	}
	if as.Empty() {
		t.Fatal("Empty() = true after adding a locator")
	}
}
