// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package grpcprotos // import "github.com/orbit-profiler/orbit/grpcprotos"

import "github.com/orbit-profiler/orbit/internal/wire"

// CallstackType classifies how a callstack was obtained.
type CallstackType int32

const (
	CallstackComplete                          CallstackType = 0
	CallstackDwarfUnwindingError               CallstackType = 1
	CallstackFramePointerUnwindingError        CallstackType = 2
	CallstackInUprobes                         CallstackType = 3
	CallstackPatchingFailed                    CallstackType = 4
	CallstackStackTopForDwarfUnwindingTooSmall CallstackType = 5
	CallstackStackTopDwarfUnwindingError       CallstackType = 6
	CallstackInUserSpaceInstrumentation        CallstackType = 7

	// CallstackFilteredByMajorityOutermostFrame is only ever assigned on the client.
	CallstackFilteredByMajorityOutermostFrame CallstackType = 8
)

// IsComplete reports whether the unwinder reached the outermost frame.
func (t CallstackType) IsComplete() bool {
	return t == CallstackComplete
}

func (t CallstackType) String() string {
	switch t {
	case CallstackComplete:
		return "Complete"
	case CallstackDwarfUnwindingError:
		return "DWARF unwinding error"
	case CallstackFramePointerUnwindingError:
		return "Frame pointer unwinding error"
	case CallstackInUprobes:
		return "Callstack inside uprobes (kernel)"
	case CallstackPatchingFailed:
		return "Callstack patching failed"
	case CallstackStackTopForDwarfUnwindingTooSmall:
		return "Collected raw stack is too small"
	case CallstackStackTopDwarfUnwindingError:
		return "DWARF unwinding error in the innermost frame"
	case CallstackInUserSpaceInstrumentation:
		return "Callstack inside user-space instrumentation"
	case CallstackFilteredByMajorityOutermostFrame:
		return "Unknown unwinding error"
	default:
		return "Unknown callstack type"
	}
}

// Callstack is a list of program counters, innermost frame first.
type Callstack struct {
	Pcs  []uint64
	Type CallstackType
}

func (m *Callstack) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.PackedUint64(1, m.Pcs)
	e.Int32(2, int32(m.Type))
	return e.B
}

func (m *Callstack) Marshal() ([]byte, error) { return marshal(m) }

func (m *Callstack) Unmarshal(b []byte) error {
	*m = Callstack{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.Pcs = d.PackedUint64(m.Pcs)
		case 2:
			m.Type = CallstackType(d.Int32())
		default:
			d.Skip()
		}
	}
	return d.Err()
}
