package seqnum

import "testing"

func TestWireRoundTrip(t *testing.T) {
	cases := []SeqNum{1, 2, Max, 0x1_0000_0001, 1 << 40}
	for _, s := range cases {
		high, low := s.Wire()
		got := FromWire(high, low)
		if got != s {
			t.Errorf("FromWire(s.Wire()) = %v, want %v", got, s)
		}
	}
}

func TestValid(t *testing.T) {
	if Unknown.Valid() {
		t.Error("Unknown.Valid() = true, want false")
	}
	if SeqNum(-1).Valid() {
		t.Error("negative SeqNum.Valid() = true, want false")
	}
	if !SeqNum(1).Valid() {
		t.Error("SeqNum(1).Valid() = false, want true")
	}
}

func TestFragNumWireRoundTrip(t *testing.T) {
	for internal := FragNum(0); internal < 10; internal++ {
		wire := internal.Wire()
		if wire != uint32(internal)+1 {
			t.Errorf("Wire() = %d, want %d", wire, internal+1)
		}
		if got := FromWireFrag(wire); got != internal {
			t.Errorf("FromWireFrag(Wire()) = %v, want %v", got, internal)
		}
	}
}

func TestFromWireFragZeroIsSentinel(t *testing.T) {
	if got := FromWireFrag(0); got != 0 {
		t.Errorf("FromWireFrag(0) = %v, want 0", got)
	}
}
