package bitset

import "testing"

func TestSetIsSetBounds(t *testing.T) {
	b := New(10)
	for i := -1; i < 12; i++ {
		b.Set(i)
		want := i >= 0 && i < 10
		if got := b.IsSet(i); got != want {
			t.Errorf("IsSet(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestClear(t *testing.T) {
	b := New(8)
	b.Set(3)
	if !b.IsSet(3) {
		t.Fatalf("expected bit 3 set")
	}
	b.Clear(3)
	if b.IsSet(3) {
		t.Fatalf("expected bit 3 clear after Clear")
	}
}

func TestCountAndRange(t *testing.T) {
	b := New(16)
	want := []int{0, 5, 15}
	for _, i := range want {
		b.Set(i)
	}
	if got := b.Count(); got != len(want) {
		t.Errorf("Count() = %d, want %d", got, len(want))
	}
	var got []int
	b.Range(func(i int) { got = append(got, i) })
	if len(got) != len(want) {
		t.Fatalf("Range produced %d bits, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Range()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMSBFirstWordLayout(t *testing.T) {
	b := New(32)
	b.Set(0)
	if b.Words()[0] != 1<<31 {
		t.Errorf("Words()[0] = %#x, want bit 0 to land at the MSB (%#x)", b.Words()[0], uint32(1)<<31)
	}
}
