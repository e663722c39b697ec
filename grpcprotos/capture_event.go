// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package grpcprotos // import "github.com/orbit-profiler/orbit/grpcprotos"

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/orbit-profiler/orbit/internal/wire"
)

// Event is one case of the CaptureEvent oneof.
type Event interface {
	wire.Appender
	eventField() protowire.Number
}

// UnknownEvent stands for a CaptureEvent whose oneof was not set, or set to a case this
// client does not know.
type UnknownEvent struct{}

// CaptureEvent wraps exactly one Event. Event is never nil after Unmarshal.
type CaptureEvent struct {
	Event Event
}

func (m *CaptureEvent) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	if m.Event != nil {
		if num := m.Event.eventField(); num != 0 {
			e.Message(num, m.Event)
		}
	}
	return e.B
}

func (m *CaptureEvent) Marshal() ([]byte, error) { return marshal(m) }

func (m *CaptureEvent) Unmarshal(b []byte) error {
	*m = CaptureEvent{}
	d := wire.NewDecoder(b)
	for d.Next() {
		var event interface {
			Event
			wire.Message
		}
		switch d.Field() {
		case 1:
			event = &SchedulingSlice{}
		case 2:
			event = &InternedCallstack{}
		case 3:
			event = &CallstackSample{}
		case 4:
			event = &FunctionCall{}
		case 5:
			event = &InternedString{}
		case 6:
			event = &GpuJob{}
		case 7:
			event = &ThreadName{}
		case 8:
			event = &AddressInfo{}
		case 9:
			event = &InternedTracepointInfo{}
		case 10:
			event = &TracepointEvent{}
		default:
			d.Skip()
			continue
		}
		// The last oneof member on the wire wins.
		d.Message(event)
		m.Event = event
	}
	if m.Event == nil {
		m.Event = &UnknownEvent{}
	}
	return d.Err()
}

func (*UnknownEvent) eventField() protowire.Number           { return 0 }
func (*SchedulingSlice) eventField() protowire.Number        { return 1 }
func (*InternedCallstack) eventField() protowire.Number      { return 2 }
func (*CallstackSample) eventField() protowire.Number        { return 3 }
func (*FunctionCall) eventField() protowire.Number           { return 4 }
func (*InternedString) eventField() protowire.Number         { return 5 }
func (*GpuJob) eventField() protowire.Number                 { return 6 }
func (*ThreadName) eventField() protowire.Number             { return 7 }
func (*AddressInfo) eventField() protowire.Number            { return 8 }
func (*InternedTracepointInfo) eventField() protowire.Number { return 9 }
func (*TracepointEvent) eventField() protowire.Number        { return 10 }

func (*UnknownEvent) AppendTo(b []byte) []byte { return b }

// StringRef is the oneof of an inline string and the key of an interned string.
type StringRef struct {
	Value string
	Key   uint64
	ByKey bool
}

// InlineString references a string carried in the event itself.
func InlineString(s string) StringRef {
	return StringRef{Value: s}
}

// StringKey references a string announced earlier through InternedString.
func StringKey(key uint64) StringRef {
	return StringRef{Key: key, ByKey: true}
}

func (r StringRef) encode(e *wire.Encoder, inline, key protowire.Number) {
	if r.ByKey {
		e.Uint64Always(key, r.Key)
	} else {
		e.String(inline, r.Value)
	}
}

// SchedulingSlice is the time a thread spent on a core.
type SchedulingSlice struct {
	PID            int32
	TID            int32
	Core           int32
	InTimestampNs  uint64
	OutTimestampNs uint64
}

func (m *SchedulingSlice) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Int32(1, m.PID)
	e.Int32(2, m.TID)
	e.Int32(3, m.Core)
	e.Uint64(4, m.InTimestampNs)
	e.Uint64(5, m.OutTimestampNs)
	return e.B
}

func (m *SchedulingSlice) Marshal() ([]byte, error) { return marshal(m) }

func (m *SchedulingSlice) Unmarshal(b []byte) error {
	*m = SchedulingSlice{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.PID = d.Int32()
		case 2:
			m.TID = d.Int32()
		case 3:
			m.Core = d.Int32()
		case 4:
			m.InTimestampNs = d.Uint64()
		case 5:
			m.OutTimestampNs = d.Uint64()
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// InternedCallstack defines a callstack that later samples reference by key.
type InternedCallstack struct {
	Key    uint64
	Intern Callstack
}

func (m *InternedCallstack) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Uint64(1, m.Key)
	e.Message(2, &m.Intern)
	return e.B
}

func (m *InternedCallstack) Marshal() ([]byte, error) { return marshal(m) }

func (m *InternedCallstack) Unmarshal(b []byte) error {
	*m = InternedCallstack{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.Key = d.Uint64()
		case 2:
			d.Message(&m.Intern)
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// CallstackSample carries its callstack either inline or by key. Callstack is nil when the
// sample references an interned callstack.
type CallstackSample struct {
	PID          int32
	TID          int32
	TimestampNs  uint64
	Callstack    *Callstack
	CallstackKey uint64
}

func (m *CallstackSample) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Int32(1, m.PID)
	e.Int32(2, m.TID)
	e.Uint64(3, m.TimestampNs)
	if m.Callstack != nil {
		e.Message(4, m.Callstack)
	} else {
		e.Uint64Always(5, m.CallstackKey)
	}
	return e.B
}

func (m *CallstackSample) Marshal() ([]byte, error) { return marshal(m) }

func (m *CallstackSample) Unmarshal(b []byte) error {
	*m = CallstackSample{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.PID = d.Int32()
		case 2:
			m.TID = d.Int32()
		case 3:
			m.TimestampNs = d.Uint64()
		case 4:
			m.Callstack = &Callstack{}
			d.Message(m.Callstack)
		case 5:
			m.Callstack = nil
			m.CallstackKey = d.Uint64()
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// FunctionCall is one invocation of an instrumented function.
type FunctionCall struct {
	PID              int32
	TID              int32
	AbsoluteAddress  uint64
	BeginTimestampNs uint64
	EndTimestampNs   uint64
	Depth            int32
	ReturnValue      uint64
}

func (m *FunctionCall) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Int32(1, m.PID)
	e.Int32(2, m.TID)
	e.Uint64(3, m.AbsoluteAddress)
	e.Uint64(4, m.BeginTimestampNs)
	e.Uint64(5, m.EndTimestampNs)
	e.Int32(6, m.Depth)
	e.Uint64(7, m.ReturnValue)
	return e.B
}

func (m *FunctionCall) Marshal() ([]byte, error) { return marshal(m) }

func (m *FunctionCall) Unmarshal(b []byte) error {
	*m = FunctionCall{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.PID = d.Int32()
		case 2:
			m.TID = d.Int32()
		case 3:
			m.AbsoluteAddress = d.Uint64()
		case 4:
			m.BeginTimestampNs = d.Uint64()
		case 5:
			m.EndTimestampNs = d.Uint64()
		case 6:
			m.Depth = d.Int32()
		case 7:
			m.ReturnValue = d.Uint64()
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// InternedString defines a string that later events reference by key.
type InternedString struct {
	Key    uint64
	Intern string
}

func (m *InternedString) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Uint64(1, m.Key)
	e.String(2, m.Intern)
	return e.B
}

func (m *InternedString) Marshal() ([]byte, error) { return marshal(m) }

func (m *InternedString) Unmarshal(b []byte) error {
	*m = InternedString{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.Key = d.Uint64()
		case 2:
			m.Intern = d.String()
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// GpuJob carries the four driver timestamps of one job submitted to a GPU timeline.
type GpuJob struct {
	PID                     int32
	TID                     int32
	Context                 uint32
	Seqno                   uint32
	Depth                   int32
	Timeline                StringRef
	AmdgpuCsIoctlTimeNs     uint64
	AmdgpuSchedRunJobTimeNs uint64
	GpuHardwareStartTimeNs  uint64
	DmaFenceSignaledTimeNs  uint64
}

func (m *GpuJob) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Int32(1, m.PID)
	e.Int32(2, m.TID)
	e.Uint32(3, m.Context)
	e.Uint32(4, m.Seqno)
	e.Int32(5, m.Depth)
	m.Timeline.encode(&e, 6, 7)
	e.Uint64(8, m.AmdgpuCsIoctlTimeNs)
	e.Uint64(9, m.AmdgpuSchedRunJobTimeNs)
	e.Uint64(10, m.GpuHardwareStartTimeNs)
	e.Uint64(11, m.DmaFenceSignaledTimeNs)
	return e.B
}

func (m *GpuJob) Marshal() ([]byte, error) { return marshal(m) }

func (m *GpuJob) Unmarshal(b []byte) error {
	*m = GpuJob{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.PID = d.Int32()
		case 2:
			m.TID = d.Int32()
		case 3:
			m.Context = d.Uint32()
		case 4:
			m.Seqno = d.Uint32()
		case 5:
			m.Depth = d.Int32()
		case 6:
			m.Timeline = InlineString(d.String())
		case 7:
			m.Timeline = StringKey(d.Uint64())
		case 8:
			m.AmdgpuCsIoctlTimeNs = d.Uint64()
		case 9:
			m.AmdgpuSchedRunJobTimeNs = d.Uint64()
		case 10:
			m.GpuHardwareStartTimeNs = d.Uint64()
		case 11:
			m.DmaFenceSignaledTimeNs = d.Uint64()
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// ThreadName reports the name of a thread at a point in time.
type ThreadName struct {
	PID         int32
	TID         int32
	Name        string
	TimestampNs uint64
}

func (m *ThreadName) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Int32(1, m.PID)
	e.Int32(2, m.TID)
	e.String(3, m.Name)
	e.Uint64(4, m.TimestampNs)
	return e.B
}

func (m *ThreadName) Marshal() ([]byte, error) { return marshal(m) }

func (m *ThreadName) Unmarshal(b []byte) error {
	*m = ThreadName{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.PID = d.Int32()
		case 2:
			m.TID = d.Int32()
		case 3:
			m.Name = d.String()
		case 4:
			m.TimestampNs = d.Uint64()
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// AddressInfo annotates a program counter the service resolved on the target.
type AddressInfo struct {
	AbsoluteAddress  uint64
	FunctionName     StringRef
	OffsetInFunction uint64
	MapName          StringRef
}

func (m *AddressInfo) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Uint64(1, m.AbsoluteAddress)
	m.FunctionName.encode(&e, 2, 3)
	e.Uint64(4, m.OffsetInFunction)
	m.MapName.encode(&e, 5, 6)
	return e.B
}

func (m *AddressInfo) Marshal() ([]byte, error) { return marshal(m) }

func (m *AddressInfo) Unmarshal(b []byte) error {
	*m = AddressInfo{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.AbsoluteAddress = d.Uint64()
		case 2:
			m.FunctionName = InlineString(d.String())
		case 3:
			m.FunctionName = StringKey(d.Uint64())
		case 4:
			m.OffsetInFunction = d.Uint64()
		case 5:
			m.MapName = InlineString(d.String())
		case 6:
			m.MapName = StringKey(d.Uint64())
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// InternedTracepointInfo defines a tracepoint that later events reference by key.
type InternedTracepointInfo struct {
	Key    uint64
	Intern TracepointInfo
}

func (m *InternedTracepointInfo) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Uint64(1, m.Key)
	e.Message(2, &m.Intern)
	return e.B
}

func (m *InternedTracepointInfo) Marshal() ([]byte, error) { return marshal(m) }

func (m *InternedTracepointInfo) Unmarshal(b []byte) error {
	*m = InternedTracepointInfo{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.Key = d.Uint64()
		case 2:
			d.Message(&m.Intern)
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// TracepointEvent is one hit of a selected tracepoint. TracepointInfo is nil when the event
// references an interned tracepoint.
type TracepointEvent struct {
	PID               int32
	TID               int32
	TimestampNs       uint64
	CPU               int32
	TracepointInfo    *TracepointInfo
	TracepointInfoKey uint64
}

func (m *TracepointEvent) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Int32(1, m.PID)
	e.Int32(2, m.TID)
	e.Uint64(3, m.TimestampNs)
	e.Int32(4, m.CPU)
	if m.TracepointInfo != nil {
		e.Message(5, m.TracepointInfo)
	} else {
		e.Uint64Always(6, m.TracepointInfoKey)
	}
	return e.B
}

func (m *TracepointEvent) Marshal() ([]byte, error) { return marshal(m) }

func (m *TracepointEvent) Unmarshal(b []byte) error {
	*m = TracepointEvent{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.PID = d.Int32()
		case 2:
			m.TID = d.Int32()
		case 3:
			m.TimestampNs = d.Uint64()
		case 4:
			m.CPU = d.Int32()
		case 5:
			m.TracepointInfo = &TracepointInfo{}
			d.Message(m.TracepointInfo)
		case 6:
			m.TracepointInfo = nil
			m.TracepointInfoKey = d.Uint64()
		default:
			d.Skip()
		}
	}
	return d.Err()
}
