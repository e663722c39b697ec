// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package grpcprotos // import "github.com/orbit-profiler/orbit/grpcprotos"

import "github.com/orbit-profiler/orbit/internal/wire"

// CaptureServiceName and CaptureMethod identify the bidirectional capture RPC.
const (
	CaptureServiceName = "orbit_grpc_protos.CaptureService"
	CaptureMethod      = "/" + CaptureServiceName + "/Capture"
)

// CaptureRequest is the single message a client writes to start a capture.
type CaptureRequest struct {
	CaptureOptions *CaptureOptions
}

func (m *CaptureRequest) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	if m.CaptureOptions != nil {
		e.Message(1, m.CaptureOptions)
	}
	return e.B
}

func (m *CaptureRequest) Marshal() ([]byte, error) { return marshal(m) }

func (m *CaptureRequest) Unmarshal(b []byte) error {
	*m = CaptureRequest{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.CaptureOptions = &CaptureOptions{}
			d.Message(m.CaptureOptions)
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// CaptureOptions selects what the service traces in the target process.
type CaptureOptions struct {
	PID                    int32
	InstrumentedFunctions  []InstrumentedFunction
	TraceContextSwitches   bool
	SamplesPerSecond       uint32
	TraceGpuDriver         bool
	InstrumentedTracepoint []TracepointInfo
}

func (m *CaptureOptions) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.Int32(1, m.PID)
	for i := range m.InstrumentedFunctions {
		e.Message(2, &m.InstrumentedFunctions[i])
	}
	e.Bool(3, m.TraceContextSwitches)
	e.Uint32(4, m.SamplesPerSecond)
	e.Bool(5, m.TraceGpuDriver)
	for i := range m.InstrumentedTracepoint {
		e.Message(6, &m.InstrumentedTracepoint[i])
	}
	return e.B
}

func (m *CaptureOptions) Marshal() ([]byte, error) { return marshal(m) }

func (m *CaptureOptions) Unmarshal(b []byte) error {
	*m = CaptureOptions{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.PID = d.Int32()
		case 2:
			var fn InstrumentedFunction
			d.Message(&fn)
			m.InstrumentedFunctions = append(m.InstrumentedFunctions, fn)
		case 3:
			m.TraceContextSwitches = d.Bool()
		case 4:
			m.SamplesPerSecond = d.Uint32()
		case 5:
			m.TraceGpuDriver = d.Bool()
		case 6:
			var tp TracepointInfo
			d.Message(&tp)
			m.InstrumentedTracepoint = append(m.InstrumentedTracepoint, tp)
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// InstrumentedFunction is a function the service should hook with entry and exit probes.
type InstrumentedFunction struct {
	FilePath        string
	FileOffset      uint64
	AbsoluteAddress uint64
	FunctionName    string
}

func (m *InstrumentedFunction) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.String(1, m.FilePath)
	e.Uint64(2, m.FileOffset)
	e.Uint64(3, m.AbsoluteAddress)
	e.String(4, m.FunctionName)
	return e.B
}

func (m *InstrumentedFunction) Marshal() ([]byte, error) { return marshal(m) }

func (m *InstrumentedFunction) Unmarshal(b []byte) error {
	*m = InstrumentedFunction{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.FilePath = d.String()
		case 2:
			m.FileOffset = d.Uint64()
		case 3:
			m.AbsoluteAddress = d.Uint64()
		case 4:
			m.FunctionName = d.String()
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// TracepointInfo names a kernel tracepoint.
type TracepointInfo struct {
	Category string
	Name     string
}

func (m *TracepointInfo) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	e.String(1, m.Category)
	e.String(2, m.Name)
	return e.B
}

func (m *TracepointInfo) Marshal() ([]byte, error) { return marshal(m) }

func (m *TracepointInfo) Unmarshal(b []byte) error {
	*m = TracepointInfo{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			m.Category = d.String()
		case 2:
			m.Name = d.String()
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// CaptureResponse is a batch of events sent by the service.
type CaptureResponse struct {
	CaptureEvents []*CaptureEvent
}

func (m *CaptureResponse) AppendTo(b []byte) []byte {
	e := wire.Encoder{B: b}
	for _, event := range m.CaptureEvents {
		e.Message(1, event)
	}
	return e.B
}

func (m *CaptureResponse) Marshal() ([]byte, error) { return marshal(m) }

func (m *CaptureResponse) Unmarshal(b []byte) error {
	*m = CaptureResponse{}
	d := wire.NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			event := &CaptureEvent{}
			d.Message(event)
			m.CaptureEvents = append(m.CaptureEvents, event)
		default:
			d.Skip()
		}
	}
	return d.Err()
}
