// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clientprotos // import "github.com/orbit-profiler/orbit/clientprotos"

import (
	"github.com/orbit-profiler/orbit/grpcprotos"
	"github.com/orbit-profiler/orbit/internal/wire"
)

// CaptureHeader opens every capture file.
type CaptureHeader struct {
	Version string
}

func (m *CaptureHeader) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.String(1, m.Version)
	return e.B
}

func (m *CaptureHeader) Marshal() ([]byte, error) { return marshal(m) }

func (m *CaptureHeader) Unmarshal(b []byte) error {
	*m = CaptureHeader{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.Version = d.String()
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// FunctionInfo describes a function symbol. Address is relative to the ELF file, callers add
// the module's mapping start and remove LoadBias to get the absolute address.
type FunctionInfo struct {
	Name                string
	PrettyName          string
	LoadedModulePath    string
	Address             uint64
	LoadBias            uint64
	Size                uint64
	File                string
	Line                uint32
	LoadedModuleBuildID string
}

func (m *FunctionInfo) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.String(1, m.Name)
	e.String(2, m.PrettyName)
	e.String(3, m.LoadedModulePath)
	e.Uint64(4, m.Address)
	e.Uint64(5, m.LoadBias)
	e.Uint64(6, m.Size)
	e.String(7, m.File)
	e.Uint32(8, m.Line)
	e.String(9, m.LoadedModuleBuildID)
	return e.B
}

func (m *FunctionInfo) Marshal() ([]byte, error) { return marshal(m) }

func (m *FunctionInfo) Unmarshal(b []byte) error {
	*m = FunctionInfo{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.Name = d.String()
		case 2:
			m.PrettyName = d.String()
		case 3:
			m.LoadedModulePath = d.String()
		case 4:
			m.Address = d.Uint64()
		case 5:
			m.LoadBias = d.Uint64()
		case 6:
			m.Size = d.Uint64()
		case 7:
			m.File = d.String()
		case 8:
			m.Line = d.Uint32()
		case 9:
			m.LoadedModuleBuildID = d.String()
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// LinuxAddressInfo annotates a raw program counter that is not backed by a known symbol.
type LinuxAddressInfo struct {
	AbsoluteAddress  uint64
	ModulePath       string
	FunctionName     string
	OffsetInFunction uint64
}

func (m *LinuxAddressInfo) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Uint64(1, m.AbsoluteAddress)
	e.String(2, m.ModulePath)
	e.String(3, m.FunctionName)
	e.Uint64(4, m.OffsetInFunction)
	return e.B
}

func (m *LinuxAddressInfo) Marshal() ([]byte, error) { return marshal(m) }

func (m *LinuxAddressInfo) Unmarshal(b []byte) error {
	*m = LinuxAddressInfo{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.AbsoluteAddress = d.Uint64()
		case 2:
			m.ModulePath = d.String()
		case 3:
			m.FunctionName = d.String()
		case 4:
			m.OffsetInFunction = d.Uint64()
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// CallstackInfo stores a unique callstack under its id.
type CallstackInfo struct {
	ID     uint64
	Frames []uint64
	Type   grpcprotos.CallstackType
}

func (m *CallstackInfo) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Uint64(1, m.ID)
	e.PackedUint64(2, m.Frames)
	e.Int32(3, int32(m.Type))
	return e.B
}

func (m *CallstackInfo) Marshal() ([]byte, error) { return marshal(m) }

func (m *CallstackInfo) Unmarshal(b []byte) error {
	*m = CallstackInfo{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.ID = d.Uint64()
		case 2:
			m.Frames = d.PackedUint64(m.Frames)
		case 3:
			m.Type = grpcprotos.CallstackType(d.Int32())
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// CallstackEvent is one sample of a thread, referencing its callstack by id.
type CallstackEvent struct {
	Time        uint64
	CallstackID uint64
	ThreadID    int32
}

func (m *CallstackEvent) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Uint64(1, m.Time)
	e.Uint64(2, m.CallstackID)
	e.Int32(3, m.ThreadID)
	return e.B
}

func (m *CallstackEvent) Marshal() ([]byte, error) { return marshal(m) }

func (m *CallstackEvent) Unmarshal(b []byte) error {
	*m = CallstackEvent{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.Time = d.Uint64()
		case 2:
			m.CallstackID = d.Uint64()
		case 3:
			m.ThreadID = d.Int32()
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// TracepointEventInfo is one hit of a tracepoint, referencing its info by key.
type TracepointEventInfo struct {
	PID               int32
	TID               int32
	Time              uint64
	CPU               int32
	TracepointInfoKey uint64
}

func (m *TracepointEventInfo) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Int32(1, m.PID)
	e.Int32(2, m.TID)
	e.Uint64(3, m.Time)
	e.Int32(4, m.CPU)
	e.Uint64(5, m.TracepointInfoKey)
	return e.B
}

func (m *TracepointEventInfo) Marshal() ([]byte, error) { return marshal(m) }

func (m *TracepointEventInfo) Unmarshal(b []byte) error {
	*m = TracepointEventInfo{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.PID = d.Int32()
		case 2:
			m.TID = d.Int32()
		case 3:
			m.Time = d.Uint64()
		case 4:
			m.CPU = d.Int32()
		case 5:
			m.TracepointInfoKey = d.Uint64()
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// TracepointInfoEntry associates a tracepoint with the key events reference it by.
type TracepointInfoEntry struct {
	Key  uint64
	Info grpcprotos.TracepointInfo
}

func (m *TracepointInfoEntry) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Uint64(1, m.Key)
	e.Message(2, &m.Info)
	return e.B
}

func (m *TracepointInfoEntry) Marshal() ([]byte, error) { return marshal(m) }

func (m *TracepointInfoEntry) Unmarshal(b []byte) error {
	*m = TracepointInfoEntry{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.Key = d.Uint64()
		case 2:
			d.Message(&m.Info)
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// ThreadNameEntry is one entry of the thread_names map.
type ThreadNameEntry struct {
	TID  int32
	Name string
}

func (m *ThreadNameEntry) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Int32Always(1, m.TID)
	e.StringAlways(2, m.Name)
	return e.B
}

func (m *ThreadNameEntry) Marshal() ([]byte, error) { return marshal(m) }

func (m *ThreadNameEntry) Unmarshal(b []byte) error {
	*m = ThreadNameEntry{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.TID = d.Int32()
		case 2:
			m.Name = d.String()
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// KeyAndString is one entry of the key_to_string map.
type KeyAndString struct {
	Key   uint64
	Value string
}

func (m *KeyAndString) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Uint64Always(1, m.Key)
	e.StringAlways(2, m.Value)
	return e.B
}

func (m *KeyAndString) Marshal() ([]byte, error) { return marshal(m) }

func (m *KeyAndString) Unmarshal(b []byte) error {
	*m = KeyAndString{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.Key = d.Uint64()
		case 2:
			m.Value = d.String()
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// CaptureInfo aggregates everything about a capture except its timers. The map fields of
// the file format are kept as entry lists so iteration follows the order they were written.
type CaptureInfo struct {
	ProcessID            int32
	ProcessName          string
	SelectedFunctions    []FunctionInfo
	AddressInfos         []LinuxAddressInfo
	ThreadNames          []ThreadNameEntry
	KeyToString          []KeyAndString
	Callstacks           []CallstackInfo
	CallstackEvents      []CallstackEvent
	SelectedTracepoints  []grpcprotos.TracepointInfo
	TracepointInfos      []TracepointInfoEntry
	TracepointEventInfos []TracepointEventInfo
}

func (m *CaptureInfo) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Int32(1, m.ProcessID)
	e.String(2, m.ProcessName)
	for i := range m.SelectedFunctions {
		e.Message(3, &m.SelectedFunctions[i])
	}
	for i := range m.AddressInfos {
		e.Message(4, &m.AddressInfos[i])
	}
	for i := range m.ThreadNames {
		e.Message(5, &m.ThreadNames[i])
	}
	for i := range m.KeyToString {
		e.Message(6, &m.KeyToString[i])
	}
	for i := range m.Callstacks {
		e.Message(7, &m.Callstacks[i])
	}
	for i := range m.CallstackEvents {
		e.Message(8, &m.CallstackEvents[i])
	}
	for i := range m.SelectedTracepoints {
		e.Message(9, &m.SelectedTracepoints[i])
	}
	for i := range m.TracepointInfos {
		e.Message(10, &m.TracepointInfos[i])
	}
	for i := range m.TracepointEventInfos {
		e.Message(11, &m.TracepointEventInfos[i])
	}
	return e.B
}

func (m *CaptureInfo) Marshal() ([]byte, error) { return marshal(m) }

func (m *CaptureInfo) Unmarshal(b []byte) error {
	*m = CaptureInfo{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.ProcessID = d.Int32()
		case 2:
			m.ProcessName = d.String()
		case 3:
			m.SelectedFunctions = appendMessage(d, m.SelectedFunctions)
		case 4:
			m.AddressInfos = appendMessage(d, m.AddressInfos)
		case 5:
			m.ThreadNames = appendMessage(d, m.ThreadNames)
		case 6:
			m.KeyToString = appendMessage(d, m.KeyToString)
		case 7:
			m.Callstacks = appendMessage(d, m.Callstacks)
		case 8:
			m.CallstackEvents = appendMessage(d, m.CallstackEvents)
		case 9:
			m.SelectedTracepoints = appendMessage(d, m.SelectedTracepoints)
		case 10:
			m.TracepointInfos = appendMessage(d, m.TracepointInfos)
		case 11:
			m.TracepointEventInfos = appendMessage(d, m.TracepointEventInfos)
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// appendMessage decodes the current field into a new element of dst.
func appendMessage[T any, PT interface {
	*T
	wire.Message
}](d *wire.Decoder, dst []T) []T {
	var v T
	d.Message(PT(&v))
	return append(dst, v)
}
