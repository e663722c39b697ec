// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package captureclient // import "github.com/orbit-profiler/orbit/captureclient"

import (
	"slices"

	log "github.com/sirupsen/logrus"

	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/grpcprotos"
	"github.com/orbit-profiler/orbit/internpool"
	"github.com/orbit-profiler/orbit/libpf"
	"github.com/orbit-profiler/orbit/metrics"
)

// Names of the three timers emitted for every GPU job.
const (
	GpuSwQueue     = "sw queue"
	GpuHwQueue     = "hw queue"
	GpuHwExecution = "hw execution"
)

// ProcessorStats counts what a CaptureEventProcessor did.
type ProcessorStats struct {
	EventsProcessed  uint64
	InternMisses     uint64
	InternOverwrites uint64
	InvalidEvents    uint64
}

// CaptureEventProcessor turns the events of one capture stream into CaptureListener
// callbacks. It is not safe for concurrent use.
type CaptureEventProcessor struct {
	listener CaptureListener

	callstackPool  *internpool.Pool[grpcprotos.Callstack]
	stringPool     *internpool.Pool[string]
	tracepointPool *internpool.Pool[grpcprotos.TracepointInfo]

	// Hashes already announced to the listener.
	callstacksSeen  libpf.Set[uint64]
	stringsSeen     libpf.Set[uint64]
	tracepointsSeen libpf.Set[uint64]

	stats ProcessorStats
}

func equalCallstacks(a, b grpcprotos.Callstack) bool {
	return a.Type == b.Type && slices.Equal(a.Pcs, b.Pcs)
}

var equalTracepoints = internpool.Equal[grpcprotos.TracepointInfo]

// NewCaptureEventProcessor returns a processor reporting to listener.
func NewCaptureEventProcessor(listener CaptureListener) *CaptureEventProcessor {
	return &CaptureEventProcessor{
		listener:        listener,
		callstackPool:   internpool.New("InternedCallstack", equalCallstacks),
		stringPool:      internpool.New("InternedString", internpool.Equal[string]),
		tracepointPool:  internpool.New("InternedTracepointInfo", equalTracepoints),
		callstacksSeen:  libpf.Set[uint64]{},
		stringsSeen:     libpf.Set[uint64]{},
		tracepointsSeen: libpf.Set[uint64]{},
	}
}

// Stats returns the counters accumulated so far.
func (p *CaptureEventProcessor) Stats() ProcessorStats {
	return p.stats
}

// ReportMetrics hands the accumulated counters to the metrics package and resets them.
func (p *CaptureEventProcessor) ReportMetrics() {
	metrics.AddSlice([]metrics.Metric{
		{ID: metrics.IDCaptureEventsProcessed, Value: metrics.MetricValue(p.stats.EventsProcessed)},
		{ID: metrics.IDCaptureInternMisses, Value: metrics.MetricValue(p.stats.InternMisses)},
		{ID: metrics.IDCaptureInternOverwrites,
			Value: metrics.MetricValue(p.stats.InternOverwrites)},
		{ID: metrics.IDCaptureInvalidEvents, Value: metrics.MetricValue(p.stats.InvalidEvents)},
	})
	p.stats = ProcessorStats{}
}

// ProcessEvents processes events in order.
func (p *CaptureEventProcessor) ProcessEvents(events []*grpcprotos.CaptureEvent) {
	for _, event := range events {
		p.ProcessEvent(event)
	}
}

// ProcessEvent dispatches one event. Malformed events are logged and dropped.
func (p *CaptureEventProcessor) ProcessEvent(event *grpcprotos.CaptureEvent) {
	p.stats.EventsProcessed++

	switch ev := event.Event.(type) {
	case *grpcprotos.SchedulingSlice:
		p.processSchedulingSlice(ev)
	case *grpcprotos.InternedCallstack:
		p.processInternedCallstack(ev)
	case *grpcprotos.CallstackSample:
		p.processCallstackSample(ev)
	case *grpcprotos.FunctionCall:
		p.processFunctionCall(ev)
	case *grpcprotos.InternedString:
		p.processInternedString(ev)
	case *grpcprotos.GpuJob:
		p.processGpuJob(ev)
	case *grpcprotos.ThreadName:
		p.listener.OnThreadName(ev.TID, ev.Name)
	case *grpcprotos.AddressInfo:
		p.processAddressInfo(ev)
	case *grpcprotos.InternedTracepointInfo:
		p.processInternedTracepointInfo(ev)
	case *grpcprotos.TracepointEvent:
		p.processTracepointEvent(ev)
	default:
		p.stats.InvalidEvents++
		log.Errorf("CaptureEvent without a known event read from the capture stream (%T)",
			event.Event)
	}
}

func (p *CaptureEventProcessor) processSchedulingSlice(slice *grpcprotos.SchedulingSlice) {
	p.listener.OnTimer(clientprotos.TimerInfo{
		Start:     slice.InTimestampNs,
		End:       slice.OutTimestampNs,
		ProcessID: slice.PID,
		ThreadID:  slice.TID,
		Processor: slice.Core,
		Depth:     uint32(slice.Core),
		Type:      clientprotos.TimerCoreActivity,
	})
}

func (p *CaptureEventProcessor) processInternedCallstack(ev *grpcprotos.InternedCallstack) {
	if p.callstackPool.Insert(ev.Key, ev.Intern) {
		p.stats.InternOverwrites++
	}
}

func (p *CaptureEventProcessor) processCallstackSample(sample *grpcprotos.CallstackSample) {
	var callstack grpcprotos.Callstack
	if sample.Callstack != nil {
		callstack = *sample.Callstack
	} else {
		var ok bool
		if callstack, ok = p.callstackPool.Get(sample.CallstackKey); !ok {
			p.stats.InternMisses++
			log.Errorf("CallstackSample references unknown callstack key %#x",
				sample.CallstackKey)
			return
		}
	}

	id := clientdata.CallstackID(callstack.Pcs, callstack.Type)
	if p.callstacksSeen.Add(id) {
		p.listener.OnUniqueCallStack(clientdata.CallStack{
			ID:     id,
			Frames: slices.Clone(callstack.Pcs),
			Type:   callstack.Type,
		})
	}
	p.listener.OnCallstackEvent(clientprotos.CallstackEvent{
		Time:        sample.TimestampNs,
		CallstackID: id,
		ThreadID:    sample.TID,
	})
}

func (p *CaptureEventProcessor) processFunctionCall(call *grpcprotos.FunctionCall) {
	p.listener.OnTimer(clientprotos.TimerInfo{
		Start:           call.BeginTimestampNs,
		End:             call.EndTimestampNs,
		ProcessID:       call.PID,
		ThreadID:        call.TID,
		Depth:           uint32(call.Depth),
		Type:            clientprotos.TimerFunctionCall,
		FunctionAddress: call.AbsoluteAddress,
		UserData:        [2]uint64{call.ReturnValue, 0},
		Processor:       -1,
	})
}

func (p *CaptureEventProcessor) processInternedString(ev *grpcprotos.InternedString) {
	if p.stringPool.Insert(ev.Key, ev.Intern) {
		p.stats.InternOverwrites++
	}
}

// resolveString returns the string a reference points to.
func (p *CaptureEventProcessor) resolveString(ref grpcprotos.StringRef) (string, bool) {
	if !ref.ByKey {
		return ref.Value, true
	}
	str, ok := p.stringPool.Get(ref.Key)
	if !ok {
		p.stats.InternMisses++
		log.Errorf("Event references unknown string key %#x", ref.Key)
	}
	return str, ok
}

// announceString returns the hash of str, announcing it on first use.
func (p *CaptureEventProcessor) announceString(str string) uint64 {
	key := libpf.HashString(str)
	if p.stringsSeen.Add(key) {
		p.listener.OnKeyAndString(key, str)
	}
	return key
}

func (p *CaptureEventProcessor) processGpuJob(job *grpcprotos.GpuJob) {
	timeline, ok := p.resolveString(job.Timeline)
	if !ok {
		return
	}
	timelineKey := p.announceString(timeline)

	spans := []struct {
		name       string
		start, end uint64
	}{
		{GpuSwQueue, job.AmdgpuCsIoctlTimeNs, job.AmdgpuSchedRunJobTimeNs},
		{GpuHwQueue, job.AmdgpuSchedRunJobTimeNs, job.GpuHardwareStartTimeNs},
		{GpuHwExecution, job.GpuHardwareStartTimeNs, job.DmaFenceSignaledTimeNs},
	}
	for _, span := range spans {
		p.listener.OnTimer(clientprotos.TimerInfo{
			Start:     span.start,
			End:       span.end,
			ProcessID: job.PID,
			ThreadID:  job.TID,
			Depth:     uint32(job.Depth),
			Type:      clientprotos.TimerGpuActivity,
			UserData:  [2]uint64{p.announceString(span.name), timelineKey},
			Processor: -1,
		})
	}
}

func (p *CaptureEventProcessor) processAddressInfo(info *grpcprotos.AddressInfo) {
	functionName, ok := p.resolveString(info.FunctionName)
	if !ok {
		return
	}
	mapName, ok := p.resolveString(info.MapName)
	if !ok {
		return
	}
	p.listener.OnAddressInfo(clientprotos.LinuxAddressInfo{
		AbsoluteAddress:  info.AbsoluteAddress,
		ModulePath:       mapName,
		FunctionName:     functionName,
		OffsetInFunction: info.OffsetInFunction,
	})
}

func (p *CaptureEventProcessor) processInternedTracepointInfo(
	ev *grpcprotos.InternedTracepointInfo) {
	if p.tracepointPool.Insert(ev.Key, ev.Intern) {
		p.stats.InternOverwrites++
	}
	p.tracepointsSeen.Add(ev.Key)
	p.listener.OnUniqueTracepointInfo(ev.Key, ev.Intern)
}

// TracepointKey is the key under which an inline tracepoint is announced.
func TracepointKey(info grpcprotos.TracepointInfo) uint64 {
	return libpf.HashString(info.Category + ":" + info.Name)
}

func (p *CaptureEventProcessor) processTracepointEvent(ev *grpcprotos.TracepointEvent) {
	key := ev.TracepointInfoKey
	if ev.TracepointInfo != nil {
		key = TracepointKey(*ev.TracepointInfo)
		if p.tracepointsSeen.Add(key) {
			p.listener.OnUniqueTracepointInfo(key, *ev.TracepointInfo)
		}
	} else if _, ok := p.tracepointPool.Get(key); !ok {
		p.stats.InternMisses++
		log.Errorf("TracepointEvent references unknown tracepoint key %#x", key)
		return
	}

	p.listener.OnTracepointEvent(clientprotos.TracepointEventInfo{
		PID:               ev.PID,
		TID:               ev.TID,
		Time:              ev.TimestampNs,
		CPU:               ev.CPU,
		TracepointInfoKey: key,
	})
}
