package vendorid

import "testing"

func TestIsKnown(t *testing.T) {
	if !EclipseFoundation.IsKnown() {
		t.Error("EclipseFoundation.IsKnown() = false, want true")
	}
	if Unknown.IsKnown() {
		t.Error("Unknown.IsKnown() = true, want false")
	}
	if (VendorID{9, 9}).IsKnown() {
		t.Error("unregistered VendorID.IsKnown() = true, want false")
	}
}

func TestAcceptsPreemptiveACK(t *testing.T) {
	for _, v := range []VendorID{eProsima, RTI, RTIMicro} {
		if !v.AcceptsPreemptiveACK() {
			t.Errorf("%v.AcceptsPreemptiveACK() = false, want true", v)
		}
	}
	if EclipseFoundation.AcceptsPreemptiveACK() {
		t.Error("EclipseFoundation.AcceptsPreemptiveACK() = true, want false")
	}
}

func TestAcceptsAllZeroDurabilityService(t *testing.T) {
	if !ADLinkOpenSplice.AcceptsAllZeroDurabilityService(2, 2) {
		t.Error("ADLinkOpenSplice v2.2 should accept all-zero durability service")
	}
	if ADLinkOpenSplice.AcceptsAllZeroDurabilityService(2, 3) {
		t.Error("ADLinkOpenSplice v2.3 should not get the workaround")
	}
	if RTI.AcceptsAllZeroDurabilityService(2, 0) {
		t.Error("workaround is ADLinkOpenSplice-specific, RTI must not get it")
	}
}

func TestStringFormat(t *testing.T) {
	if got, want := RTI.String(), "1.1"; got != want {
		t.Errorf("RTI.String() = %q, want %q", got, want)
	}
}
