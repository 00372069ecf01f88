package guid

import "testing"

func TestBytesRoundTrip(t *testing.T) {
	want := GUID{Prefix: Prefix{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, EntityID: EntityIDFromU32(0x000100c2)}
	got, err := FromBytes(want.Bytes())
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if got != want {
		t.Errorf("FromBytes(Bytes()) = %v, want %v", got, want)
	}
}

func TestFromBytesShortInput(t *testing.T) {
	if _, err := FromBytes(make([]byte, 10)); err == nil {
		t.Error("FromBytes with 10 bytes: want error, got nil")
	}
}

func TestEntityKindClassification(t *testing.T) {
	w := EntityIDFromU32(0x000100c2) // SPDP builtin participant writer
	if !w.IsWriter() || !w.IsBuiltin() {
		t.Errorf("SPDP writer id: IsWriter=%v IsBuiltin=%v, want true,true", w.IsWriter(), w.IsBuiltin())
	}
	r := EntityIDFromU32(0x000100c7)
	if !r.IsReader() || !r.IsBuiltin() {
		t.Errorf("SPDP reader id: IsReader=%v IsBuiltin=%v, want true,true", r.IsReader(), r.IsBuiltin())
	}
}

func TestPrefixIsZero(t *testing.T) {
	var p Prefix
	if !p.IsZero() {
		t.Error("zero-value Prefix.IsZero() = false, want true")
	}
	p[0] = 1
	if p.IsZero() {
		t.Error("non-zero Prefix.IsZero() = true, want false")
	}
}

func TestEntityIDU32RoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 0xdeadbeef, 0x000200c7} {
		if got := EntityIDFromU32(v).U32(); got != v {
			t.Errorf("EntityIDFromU32(%#x).U32() = %#x", v, got)
		}
	}
}
