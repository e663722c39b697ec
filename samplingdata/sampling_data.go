// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package samplingdata // import "github.com/orbit-profiler/orbit/samplingdata"

import (
	"cmp"
	"slices"

	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/libpf"
)

// AllThreadsTID is the thread id of the summary over all threads.
const AllThreadsTID int32 = -1

// SampledFunction is one row of the sampling report of a thread.
type SampledFunction struct {
	Name            string
	ModulePath      string
	AbsoluteAddress uint64
	// Inclusive counts the samples with the function anywhere on the stack, Exclusive the
	// samples with the function as innermost frame. Both only count complete callstacks.
	Inclusive           uint32
	InclusivePercent    float32
	Exclusive           uint32
	ExclusivePercent    float32
	UnwindErrors        uint32
	UnwindErrorsPercent float32
}

// ThreadSampleData holds the sampling statistics of one thread, or of all threads for
// AllThreadsTID.
type ThreadSampleData struct {
	ThreadID             int32
	SamplesCount         uint32
	UnwindingErrorsCount uint32

	// SampledCallstackIDToEvents groups the sample events by their original callstack id.
	SampledCallstackIDToEvents map[uint64][]clientprotos.CallstackEvent
	// SampledAddressToCount counts, per raw instruction address, the samples containing it.
	SampledAddressToCount map[uint64]uint32
	// The Resolved maps are keyed by function address.
	ResolvedAddressToCount          map[uint64]uint32
	ResolvedAddressToExclusiveCount map[uint64]uint32
	ResolvedAddressToErrorCount     map[uint64]uint32

	// SampledFunctions is sorted by descending inclusive count.
	SampledFunctions []SampledFunction
}

func newThreadSampleData(tid int32) *ThreadSampleData {
	return &ThreadSampleData{
		ThreadID:                        tid,
		SampledCallstackIDToEvents:      map[uint64][]clientprotos.CallstackEvent{},
		SampledAddressToCount:           map[uint64]uint32{},
		ResolvedAddressToCount:          map[uint64]uint32{},
		ResolvedAddressToExclusiveCount: map[uint64]uint32{},
		ResolvedAddressToErrorCount:     map[uint64]uint32{},
	}
}

// PostProcessedSamplingData is the result of CreatePostProcessedSamplingData. It is not
// modified after creation.
type PostProcessedSamplingData struct {
	threads map[int32]*ThreadSampleData
	// resolvedCallstacks holds callstacks whose frames are function addresses.
	resolvedCallstacks map[uint64]clientdata.CallStack
	originalToResolved map[uint64]uint64
	functionCallstacks map[uint64]libpf.Set[uint64]
}

// GetThreadSampleData returns the data of all threads. The summary comes first, then the
// threads by descending sample count and ascending id.
func (d *PostProcessedSamplingData) GetThreadSampleData() []*ThreadSampleData {
	threads := make([]*ThreadSampleData, 0, len(d.threads))
	for _, thread := range d.threads {
		threads = append(threads, thread)
	}
	slices.SortFunc(threads, func(a, b *ThreadSampleData) int {
		switch {
		case a.ThreadID == AllThreadsTID:
			return -1
		case b.ThreadID == AllThreadsTID:
			return 1
		}
		return cmp.Or(cmp.Compare(b.SamplesCount, a.SamplesCount),
			cmp.Compare(a.ThreadID, b.ThreadID))
	})
	return threads
}

// GetThreadSampleDataByTID returns the data of tid, or nil if it has no samples.
func (d *PostProcessedSamplingData) GetThreadSampleDataByTID(tid int32) *ThreadSampleData {
	return d.threads[tid]
}

// GetSummary returns the data over all threads, or nil if it was not generated.
func (d *PostProcessedSamplingData) GetSummary() *ThreadSampleData {
	return d.threads[AllThreadsTID]
}

// GetResolvedCallstack returns the resolved callstack of the original callstack id.
func (d *PostProcessedSamplingData) GetResolvedCallstack(originalID uint64) (clientdata.CallStack,
	bool) {
	resolvedID, ok := d.originalToResolved[originalID]
	if !ok {
		return clientdata.CallStack{}, false
	}
	cs, ok := d.resolvedCallstacks[resolvedID]
	return cs, ok
}

// GetResolvedCallstackID returns the id shared by all callstacks equal to originalID after
// resolution.
func (d *PostProcessedSamplingData) GetResolvedCallstackID(originalID uint64) (uint64, bool) {
	resolvedID, ok := d.originalToResolved[originalID]
	return resolvedID, ok
}

// GetCallstackIDsOfFunction returns the original ids of the callstacks containing the
// function, sorted.
func (d *PostProcessedSamplingData) GetCallstackIDsOfFunction(functionAddress uint64) []uint64 {
	ids := d.functionCallstacks[functionAddress].ToSlice()
	slices.Sort(ids)
	return ids
}

// GetCountOfFunction returns the inclusive count of the function over all threads.
func (d *PostProcessedSamplingData) GetCountOfFunction(functionAddress uint64) uint32 {
	var count uint32
	for tid, thread := range d.threads {
		if tid == AllThreadsTID {
			continue
		}
		count += thread.ResolvedAddressToCount[functionAddress]
	}
	return count
}

// GetCallstackCount returns the number of samples of the original callstack id in thread.
func (t *ThreadSampleData) GetCallstackCount(callstackID uint64) int {
	return len(t.SampledCallstackIDToEvents[callstackID])
}
