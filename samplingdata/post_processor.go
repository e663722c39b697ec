// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package samplingdata // import "github.com/orbit-profiler/orbit/samplingdata"

import (
	"cmp"
	"slices"

	log "github.com/sirupsen/logrus"

	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/libpf"
)

// Options control CreatePostProcessedSamplingData.
type Options struct {
	// GenerateSummary adds the data over all threads under AllThreadsTID.
	GenerateSummary bool
	// Resolver maps frames to functions. A resolver with DefaultAddressCacheSize is
	// created when nil.
	Resolver *AddressResolver
}

type resolvedKey struct {
	hash uint64
	typ  clientdata.CallstackType
}

type postProcessor struct {
	callstackData *clientdata.CallstackData
	capture       Capture
	resolver      *AddressResolver
	opts          Options

	data        *PostProcessedSamplingData
	resolvedIDs map[resolvedKey]uint64
	// functions caches the distinct function addresses of each resolved callstack.
	functions map[uint64][]uint64
}

// CreatePostProcessedSamplingData aggregates all callstack events of callstackData. Events
// whose callstack is unknown are skipped. Events with an unwind error count towards the
// samples and unwinding errors of their thread and towards the unwind errors of their
// innermost function, but not towards inclusive or exclusive counts.
func CreatePostProcessedSamplingData(callstackData *clientdata.CallstackData, capture Capture,
	opts Options) (*PostProcessedSamplingData, error) {
	resolver := opts.Resolver
	if resolver == nil {
		var err error
		resolver, err = NewAddressResolver(capture, DefaultAddressCacheSize)
		if err != nil {
			return nil, err
		}
	}

	p := &postProcessor{
		callstackData: callstackData,
		capture:       capture,
		resolver:      resolver,
		opts:          opts,
		data: &PostProcessedSamplingData{
			threads:            map[int32]*ThreadSampleData{},
			resolvedCallstacks: map[uint64]clientdata.CallStack{},
			originalToResolved: map[uint64]uint64{},
			functionCallstacks: map[uint64]libpf.Set[uint64]{},
		},
		resolvedIDs: map[resolvedKey]uint64{},
		functions:   map[uint64][]uint64{},
	}

	skipped := 0
	callstackData.ForEachCallstackEvent(func(event clientprotos.CallstackEvent) {
		cs, ok := callstackData.GetCallstack(event.CallstackID)
		if !ok {
			skipped++
			return
		}
		p.addEvent(event, cs)
	})
	if skipped > 0 {
		log.Warnf("Skipped %d callstack events with unknown callstack", skipped)
	}

	for _, thread := range p.data.threads {
		p.fillSampledFunctions(thread)
	}
	return p.data, nil
}

func (p *postProcessor) threadsOf(tid int32) []*ThreadSampleData {
	threads := make([]*ThreadSampleData, 0, 2)
	threads = append(threads, p.thread(tid))
	if p.opts.GenerateSummary {
		threads = append(threads, p.thread(AllThreadsTID))
	}
	return threads
}

func (p *postProcessor) thread(tid int32) *ThreadSampleData {
	thread, ok := p.data.threads[tid]
	if !ok {
		thread = newThreadSampleData(tid)
		p.data.threads[tid] = thread
	}
	return thread
}

func (p *postProcessor) addEvent(event clientprotos.CallstackEvent, cs clientdata.CallStack) {
	resolved := p.resolve(cs)

	for _, thread := range p.threadsOf(event.ThreadID) {
		thread.SamplesCount++
		thread.SampledCallstackIDToEvents[cs.ID] =
			append(thread.SampledCallstackIDToEvents[cs.ID], event)

		innermost, hasFrames := resolved.InnermostFrame()
		if !cs.IsComplete() {
			thread.UnwindingErrorsCount++
			if hasFrames {
				thread.ResolvedAddressToErrorCount[innermost]++
			}
			continue
		}

		for _, frame := range libpf.SliceToSet(cs.Frames).ToSlice() {
			thread.SampledAddressToCount[frame]++
		}
		for _, function := range p.functions[resolved.ID] {
			thread.ResolvedAddressToCount[function]++
		}
		if hasFrames {
			thread.ResolvedAddressToExclusiveCount[innermost]++
		}
	}
}

// resolve maps every frame of cs to its function address. Callstacks equal after resolution
// share the resolved id, which is the id of the first of them seen.
func (p *postProcessor) resolve(cs clientdata.CallStack) clientdata.CallStack {
	if resolvedID, ok := p.data.originalToResolved[cs.ID]; ok {
		return p.data.resolvedCallstacks[resolvedID]
	}

	frames := make([]uint64, len(cs.Frames))
	for i, frame := range cs.Frames {
		frames[i] = p.resolver.FunctionAddress(frame)
	}
	key := resolvedKey{hash: libpf.HashFrames(frames), typ: cs.Type}
	resolvedID, ok := p.resolvedIDs[key]
	if !ok {
		resolvedID = cs.ID
		p.resolvedIDs[key] = resolvedID
		p.data.resolvedCallstacks[resolvedID] = clientdata.CallStack{
			ID:     resolvedID,
			Frames: frames,
			Type:   cs.Type,
		}
		p.functions[resolvedID] = libpf.SliceToSet(frames).ToSlice()
	}
	p.data.originalToResolved[cs.ID] = resolvedID

	for _, function := range p.functions[resolvedID] {
		ids, ok := p.data.functionCallstacks[function]
		if !ok {
			ids = libpf.Set[uint64]{}
			p.data.functionCallstacks[function] = ids
		}
		ids.Add(cs.ID)
	}
	return p.data.resolvedCallstacks[resolvedID]
}

func percentOf(count, total uint32) float32 {
	if total == 0 {
		return 0
	}
	return 100 * float32(count) / float32(total)
}

func (p *postProcessor) fillSampledFunctions(thread *ThreadSampleData) {
	addresses := libpf.Set[uint64]{}
	for address := range thread.ResolvedAddressToCount {
		addresses.Add(address)
	}
	for address := range thread.ResolvedAddressToErrorCount {
		addresses.Add(address)
	}

	functions := make([]SampledFunction, 0, len(addresses))
	for address := range addresses {
		inclusive := thread.ResolvedAddressToCount[address]
		exclusive := thread.ResolvedAddressToExclusiveCount[address]
		unwindErrors := thread.ResolvedAddressToErrorCount[address]
		functions = append(functions, SampledFunction{
			Name:                p.capture.GetFunctionNameByAddress(address),
			ModulePath:          p.capture.GetModulePathByAddress(address),
			AbsoluteAddress:     address,
			Inclusive:           inclusive,
			InclusivePercent:    percentOf(inclusive, thread.SamplesCount),
			Exclusive:           exclusive,
			ExclusivePercent:    percentOf(exclusive, thread.SamplesCount),
			UnwindErrors:        unwindErrors,
			UnwindErrorsPercent: percentOf(unwindErrors, thread.SamplesCount),
		})
	}
	slices.SortFunc(functions, func(a, b SampledFunction) int {
		return cmp.Or(cmp.Compare(b.Inclusive, a.Inclusive),
			cmp.Compare(a.AbsoluteAddress, b.AbsoluteAddress))
	})
	thread.SampledFunctions = functions
}
