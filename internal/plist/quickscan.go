package plist

// QuickScanResult is the cheap summary quickscan extracts from an inline-QoS
// region without fully parsing it (spec.md section 4.2's "quickscan" and
// section 4.5's "calling plist-quickscan over the inline-QoS region").
type QuickScanResult struct {
	HaveKeyHash  bool
	KeyHash      [16]byte
	HaveStatus   bool
	StatusInfo   uint32
	ComplexQoS   bool // true if any other recognized parameter was present
}

// QuickScan walks buf just far enough to pull out PID_KEY_HASH and
// PID_STATUSINFO, setting ComplexQoS if it saw any other known pid (a
// signal to the caller that a full InitFromMsg pass is warranted later).
func QuickScan(buf []byte, bo ByteOrder) (QuickScanResult, Result) {
	out, _, res := QuickScanWithLen(buf, bo)
	return out, res
}

// QuickScanWithLen is QuickScan plus the number of bytes consumed (through
// and including the terminating sentinel), letting a caller that embedded
// this inline-QoS region inside a larger submessage (RECV's DATA/DATAFRAG
// handling) find where the serialized payload that follows it begins.
func QuickScanWithLen(buf []byte, bo ByteOrder) (QuickScanResult, int, Result) {
	var out QuickScanResult
	r := newReader(buf, bo)
	for {
		if r.remaining() < 4 {
			return out, 0, ResultBadParameter
		}
		pidRaw, err := r.u16()
		if err != nil {
			return out, 0, ResultBadParameter
		}
		pid := PID(pidRaw)
		length, err := r.u16()
		if err != nil {
			return out, 0, ResultBadParameter
		}
		if pid == PIDSentinel {
			break
		}
		if int(length)%4 != 0 || r.remaining() < int(length) {
			return out, 0, ResultBadParameter
		}
		payloadEnd := r.off + int(length)
		switch pid {
		case PIDKeyHash:
			if length >= 16 {
				b, _ := r.bytes(16)
				copy(out.KeyHash[:], b)
				out.HaveKeyHash = true
			}
		case PIDStatusInfo:
			if length >= 4 {
				v, _ := r.u32()
				out.StatusInfo = v
				out.HaveStatus = true
			}
		default:
			if _, known := pidByPID[pid]; known {
				out.ComplexQoS = true
			}
		}
		r.off = payloadEnd
	}
	return out, r.off, ResultOK
}

// FindParamChecking locates the first occurrence of pid in buf without
// parsing or even validating any other parameter, returning its raw
// payload bytes (aliasing buf) and whether it was found.
func FindParamChecking(buf []byte, bo ByteOrder, pid PID) ([]byte, bool, Result) {
	r := newReader(buf, bo)
	for {
		if r.remaining() < 4 {
			return nil, false, ResultBadParameter
		}
		gotPidRaw, err := r.u16()
		if err != nil {
			return nil, false, ResultBadParameter
		}
		gotPid := PID(gotPidRaw)
		length, err := r.u16()
		if err != nil {
			return nil, false, ResultBadParameter
		}
		if gotPid == PIDSentinel {
			return nil, false, ResultOK
		}
		if int(length)%4 != 0 || r.remaining() < int(length) {
			return nil, false, ResultBadParameter
		}
		if gotPid == pid {
			b, err := r.bytes(int(length))
			if err != nil {
				return nil, false, ResultBadParameter
			}
			return b, true, ResultOK
		}
		r.off += int(length)
	}
}
