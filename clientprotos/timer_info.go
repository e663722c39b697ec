// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clientprotos // import "github.com/orbit-profiler/orbit/clientprotos"

import "github.com/orbit-profiler/orbit/internal/wire"

// TimerType tells which track a timer belongs to.
type TimerType int32

const (
	TimerNone          TimerType = 0
	TimerCoreActivity  TimerType = 1
	TimerGpuActivity   TimerType = 2
	TimerFunctionCall  TimerType = 3
	TimerIntrospection TimerType = 4
)

func (t TimerType) String() string {
	switch t {
	case TimerNone:
		return "none"
	case TimerCoreActivity:
		return "core activity"
	case TimerGpuActivity:
		return "gpu activity"
	case TimerFunctionCall:
		return "function call"
	case TimerIntrospection:
		return "introspection"
	default:
		return "unknown"
	}
}

// TimerInfo is a duration-bearing record. Start never exceeds End.
//
// For function calls UserData[0] holds the return value. For GPU activity UserData[0] is the
// key of the queue stage name and UserData[1] the key of the timeline name.
type TimerInfo struct {
	Start           uint64
	End             uint64
	ProcessID       int32
	ThreadID        int32
	Depth           uint32
	Type            TimerType
	FunctionAddress uint64
	UserData        [2]uint64
	Processor       int32
}

// Duration returns the length of the timer in nanoseconds.
func (m *TimerInfo) Duration() uint64 {
	return m.End - m.Start
}

func (m *TimerInfo) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Uint64(1, m.Start)
	e.Uint64(2, m.End)
	e.Int32(3, m.ProcessID)
	e.Int32(4, m.ThreadID)
	e.Uint32(5, m.Depth)
	e.Int32(6, int32(m.Type))
	e.Uint64(7, m.FunctionAddress)
	e.Uint64(8, m.UserData[0])
	e.Uint64(9, m.UserData[1])
	e.Int32(10, m.Processor)
	return e.B
}

func (m *TimerInfo) Marshal() ([]byte, error) { return marshal(m) }

func (m *TimerInfo) Unmarshal(b []byte) error {
	*m = TimerInfo{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.Start = d.Uint64()
		case 2:
			m.End = d.Uint64()
		case 3:
			m.ProcessID = d.Int32()
		case 4:
			m.ThreadID = d.Int32()
		case 5:
			m.Depth = d.Uint32()
		case 6:
			m.Type = TimerType(d.Int32())
		case 7:
			m.FunctionAddress = d.Uint64()
		case 8:
			m.UserData[0] = d.Uint64()
		case 9:
			m.UserData[1] = d.Uint64()
		case 10:
			m.Processor = d.Int32()
		default:
			d.Skip()
		}
	}
	return d.Err()
}
