// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package captureclient_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit-profiler/orbit/captureclient"
	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/grpcprotos"
	"github.com/orbit-profiler/orbit/libpf"
	"github.com/orbit-profiler/orbit/testutils"
)

func newProcessor() (*captureclient.CaptureEventProcessor, *testutils.RecordingListener) {
	listener := &testutils.RecordingListener{}
	return captureclient.NewCaptureEventProcessor(listener), listener
}

func process(p *captureclient.CaptureEventProcessor, events ...grpcprotos.Event) {
	for _, event := range events {
		p.ProcessEvent(&grpcprotos.CaptureEvent{Event: event})
	}
}

func TestProcessSchedulingSlice(t *testing.T) {
	p, listener := newProcessor()
	process(p, &grpcprotos.SchedulingSlice{
		PID: 14, TID: 24, Core: 3, InTimestampNs: 100, OutTimestampNs: 150,
	})

	assert.Equal(t, []clientprotos.TimerInfo{{
		Start:     100,
		End:       150,
		ProcessID: 14,
		ThreadID:  24,
		Processor: 3,
		Depth:     3,
		Type:      clientprotos.TimerCoreActivity,
	}}, testutils.Values[clientprotos.TimerInfo](listener, testutils.OnTimer))
}

func TestProcessCallstackSample(t *testing.T) {
	p, listener := newProcessor()
	frames := []uint64{0x11, 0x12, 0x13}
	id := clientdata.CallstackID(frames, grpcprotos.CallstackComplete)

	process(p,
		&grpcprotos.CallstackSample{PID: 1, TID: 2, TimestampNs: 100,
			Callstack: &grpcprotos.Callstack{Pcs: frames}},
		&grpcprotos.CallstackSample{PID: 1, TID: 3, TimestampNs: 200,
			Callstack: &grpcprotos.Callstack{Pcs: frames}},
	)

	assert.Equal(t, []string{
		testutils.OnUniqueCallStack, testutils.OnCallstackEvent, testutils.OnCallstackEvent,
	}, listener.Methods())
	assert.Equal(t, []clientdata.CallStack{{ID: id, Frames: frames}},
		testutils.Values[clientdata.CallStack](listener, testutils.OnUniqueCallStack))
	assert.Equal(t, []clientprotos.CallstackEvent{
		{Time: 100, CallstackID: id, ThreadID: 2},
		{Time: 200, CallstackID: id, ThreadID: 3},
	}, testutils.Values[clientprotos.CallstackEvent](listener, testutils.OnCallstackEvent))
}

func TestProcessCallstackSampleTypes(t *testing.T) {
	p, listener := newProcessor()
	frames := []uint64{0x11, 0x12}
	complete := clientdata.CallstackID(frames, grpcprotos.CallstackComplete)
	broken := clientdata.CallstackID(frames, grpcprotos.CallstackDwarfUnwindingError)
	require.NotEqual(t, complete, broken)

	process(p,
		&grpcprotos.CallstackSample{TID: 2, TimestampNs: 100,
			Callstack: &grpcprotos.Callstack{Pcs: frames}},
		&grpcprotos.CallstackSample{TID: 2, TimestampNs: 200,
			Callstack: &grpcprotos.Callstack{Pcs: frames,
				Type: grpcprotos.CallstackDwarfUnwindingError}},
		&grpcprotos.CallstackSample{TID: 2, TimestampNs: 300,
			Callstack: &grpcprotos.Callstack{Pcs: frames}},
	)

	assert.Equal(t, []clientdata.CallStack{
		{ID: complete, Frames: frames},
		{ID: broken, Frames: frames, Type: grpcprotos.CallstackDwarfUnwindingError},
	}, testutils.Values[clientdata.CallStack](listener, testutils.OnUniqueCallStack))
	assert.Equal(t, []clientprotos.CallstackEvent{
		{Time: 100, CallstackID: complete, ThreadID: 2},
		{Time: 200, CallstackID: broken, ThreadID: 2},
		{Time: 300, CallstackID: complete, ThreadID: 2},
	}, testutils.Values[clientprotos.CallstackEvent](listener, testutils.OnCallstackEvent))
	testutils.AssertDefinitionsBeforeUse(t, listener)
}

func TestProcessInternedCallstack(t *testing.T) {
	p, listener := newProcessor()
	frames := []uint64{0x21, 0x22}
	id := clientdata.CallstackID(frames, grpcprotos.CallstackDwarfUnwindingError)

	process(p,
		&grpcprotos.InternedCallstack{Key: 7, Intern: grpcprotos.Callstack{Pcs: frames,
			Type: grpcprotos.CallstackDwarfUnwindingError}},
		&grpcprotos.CallstackSample{TID: 2, TimestampNs: 100, CallstackKey: 7},
		// Unknown key, dropped.
		&grpcprotos.CallstackSample{TID: 2, TimestampNs: 101, CallstackKey: 8},
	)
	assert.Equal(t, []string{testutils.OnUniqueCallStack, testutils.OnCallstackEvent},
		listener.Methods())
	assert.Equal(t, []clientdata.CallStack{{ID: id, Frames: frames,
		Type: grpcprotos.CallstackDwarfUnwindingError}},
		testutils.Values[clientdata.CallStack](listener, testutils.OnUniqueCallStack))
	assert.Equal(t, uint64(1), p.Stats().InternMisses)

	// Redefining the key replaces the callstack.
	other := []uint64{0x31}
	process(p,
		&grpcprotos.InternedCallstack{Key: 7, Intern: grpcprotos.Callstack{Pcs: other}},
		&grpcprotos.CallstackSample{TID: 2, TimestampNs: 102, CallstackKey: 7},
	)
	assert.Equal(t, uint64(1), p.Stats().InternOverwrites)
	events := testutils.Values[clientprotos.CallstackEvent](listener, testutils.OnCallstackEvent)
	require.Len(t, events, 2)
	assert.Equal(t, clientdata.CallstackID(other, grpcprotos.CallstackComplete),
		events[1].CallstackID)
	testutils.AssertDefinitionsBeforeUse(t, listener)
}

func TestProcessFunctionCall(t *testing.T) {
	p, listener := newProcessor()
	process(p, &grpcprotos.FunctionCall{
		PID:              10,
		TID:              11,
		AbsoluteAddress:  0x4000,
		BeginTimestampNs: 1000,
		EndTimestampNs:   2000,
		Depth:            3,
		ReturnValue:      42,
	})

	assert.Equal(t, []clientprotos.TimerInfo{{
		Start:           1000,
		End:             2000,
		ProcessID:       10,
		ThreadID:        11,
		Depth:           3,
		Type:            clientprotos.TimerFunctionCall,
		FunctionAddress: 0x4000,
		UserData:        [2]uint64{42, 0},
		Processor:       -1,
	}}, testutils.Values[clientprotos.TimerInfo](listener, testutils.OnTimer))
}

func TestProcessGpuJob(t *testing.T) {
	p, listener := newProcessor()
	job := &grpcprotos.GpuJob{
		PID:                     1,
		TID:                     2,
		Depth:                   3,
		Timeline:                grpcprotos.InlineString("timeline"),
		AmdgpuCsIoctlTimeNs:     10,
		AmdgpuSchedRunJobTimeNs: 20,
		GpuHardwareStartTimeNs:  30,
		DmaFenceSignaledTimeNs:  40,
	}
	process(p, job)

	assert.Equal(t, []string{
		testutils.OnKeyAndString,
		testutils.OnKeyAndString, testutils.OnTimer,
		testutils.OnKeyAndString, testutils.OnTimer,
		testutils.OnKeyAndString, testutils.OnTimer,
	}, listener.Methods())
	assert.Equal(t, []testutils.KeyAndString{
		{Key: libpf.HashString("timeline"), String: "timeline"},
		{Key: libpf.HashString(captureclient.GpuSwQueue), String: "sw queue"},
		{Key: libpf.HashString(captureclient.GpuHwQueue), String: "hw queue"},
		{Key: libpf.HashString(captureclient.GpuHwExecution), String: "hw execution"},
	}, testutils.Values[testutils.KeyAndString](listener, testutils.OnKeyAndString))

	timelineKey := libpf.HashString("timeline")
	timer := func(start, end uint64, name string) clientprotos.TimerInfo {
		return clientprotos.TimerInfo{
			Start:     start,
			End:       end,
			ProcessID: 1,
			ThreadID:  2,
			Depth:     3,
			Type:      clientprotos.TimerGpuActivity,
			UserData:  [2]uint64{libpf.HashString(name), timelineKey},
			Processor: -1,
		}
	}
	want := []clientprotos.TimerInfo{
		timer(10, 20, "sw queue"),
		timer(20, 30, "hw queue"),
		timer(30, 40, "hw execution"),
	}
	assert.Equal(t, want, testutils.Values[clientprotos.TimerInfo](listener, testutils.OnTimer))

	// The same timeline by key does not announce any string again.
	process(p,
		&grpcprotos.InternedString{Key: 99, Intern: "timeline"},
		&grpcprotos.GpuJob{PID: 1, TID: 2, Depth: 3, Timeline: grpcprotos.StringKey(99),
			AmdgpuCsIoctlTimeNs: 10, AmdgpuSchedRunJobTimeNs: 20,
			GpuHardwareStartTimeNs: 30, DmaFenceSignaledTimeNs: 40},
		// Unknown key, dropped.
		&grpcprotos.GpuJob{Timeline: grpcprotos.StringKey(100)},
	)
	assert.Equal(t, 4, listener.Count(testutils.OnKeyAndString))
	assert.Equal(t, append(want, want...),
		testutils.Values[clientprotos.TimerInfo](listener, testutils.OnTimer))
	assert.Equal(t, uint64(1), p.Stats().InternMisses)
	testutils.AssertDefinitionsBeforeUse(t, listener)
}

func TestProcessThreadName(t *testing.T) {
	p, listener := newProcessor()
	process(p, &grpcprotos.ThreadName{PID: 1, TID: 2, Name: "thread", TimestampNs: 3})
	assert.Equal(t, []testutils.ThreadName{{TID: 2, Name: "thread"}},
		testutils.Values[testutils.ThreadName](listener, testutils.OnThreadName))
}

func TestProcessAddressInfo(t *testing.T) {
	p, listener := newProcessor()
	process(p,
		&grpcprotos.InternedString{Key: 1, Intern: "foo"},
		&grpcprotos.InternedString{Key: 2, Intern: "/path/to/lib.so"},
		&grpcprotos.AddressInfo{
			AbsoluteAddress:  0x1234,
			FunctionName:     grpcprotos.StringKey(1),
			OffsetInFunction: 0x34,
			MapName:          grpcprotos.StringKey(2),
		},
		&grpcprotos.AddressInfo{
			AbsoluteAddress: 0x5678,
			FunctionName:    grpcprotos.InlineString("bar"),
			MapName:         grpcprotos.InlineString("/path/to/bin"),
		},
		// Unknown map name key, dropped.
		&grpcprotos.AddressInfo{
			FunctionName: grpcprotos.StringKey(1),
			MapName:      grpcprotos.StringKey(3),
		},
	)

	assert.Equal(t, []clientprotos.LinuxAddressInfo{
		{AbsoluteAddress: 0x1234, ModulePath: "/path/to/lib.so", FunctionName: "foo",
			OffsetInFunction: 0x34},
		{AbsoluteAddress: 0x5678, ModulePath: "/path/to/bin", FunctionName: "bar"},
	}, testutils.Values[clientprotos.LinuxAddressInfo](listener, testutils.OnAddressInfo))
	assert.Equal(t, uint64(1), p.Stats().InternMisses)
	assert.Zero(t, listener.Count(testutils.OnKeyAndString))
}

func TestProcessTracepoints(t *testing.T) {
	p, listener := newProcessor()
	sched := grpcprotos.TracepointInfo{Category: "sched", Name: "sched_switch"}
	irq := grpcprotos.TracepointInfo{Category: "irq", Name: "irq_handler_entry"}

	process(p,
		&grpcprotos.InternedTracepointInfo{Key: 5, Intern: sched},
		&grpcprotos.TracepointEvent{PID: 1, TID: 2, TimestampNs: 100, CPU: 3,
			TracepointInfoKey: 5},
		&grpcprotos.TracepointEvent{PID: 1, TID: 2, TimestampNs: 200, CPU: 0,
			TracepointInfo: &irq},
		&grpcprotos.TracepointEvent{PID: 1, TID: 2, TimestampNs: 300, CPU: 1,
			TracepointInfo: &irq},
		// Unknown key, dropped.
		&grpcprotos.TracepointEvent{TracepointInfoKey: 6},
	)

	irqKey := captureclient.TracepointKey(irq)
	assert.Equal(t, []testutils.TracepointInfo{{Key: 5, Info: sched}, {Key: irqKey, Info: irq}},
		testutils.Values[testutils.TracepointInfo](listener, testutils.OnUniqueTracepointInfo))
	assert.Equal(t, []clientprotos.TracepointEventInfo{
		{PID: 1, TID: 2, Time: 100, CPU: 3, TracepointInfoKey: 5},
		{PID: 1, TID: 2, Time: 200, CPU: 0, TracepointInfoKey: irqKey},
		{PID: 1, TID: 2, Time: 300, CPU: 1, TracepointInfoKey: irqKey},
	}, testutils.Values[clientprotos.TracepointEventInfo](listener, testutils.OnTracepointEvent))
	assert.Equal(t, uint64(1), p.Stats().InternMisses)
	testutils.AssertDefinitionsBeforeUse(t, listener)
}

func TestProcessUnknownEvent(t *testing.T) {
	p, listener := newProcessor()
	p.ProcessEvent(&grpcprotos.CaptureEvent{Event: &grpcprotos.UnknownEvent{}})
	p.ProcessEvent(&grpcprotos.CaptureEvent{})

	assert.Empty(t, listener.Calls())
	assert.Equal(t, captureclient.ProcessorStats{EventsProcessed: 2, InvalidEvents: 2}, p.Stats())

	p.ReportMetrics()
	assert.Equal(t, captureclient.ProcessorStats{}, p.Stats())
}
