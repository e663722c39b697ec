// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package samplingdata // import "github.com/orbit-profiler/orbit/samplingdata"

import (
	"cmp"
	"io"
	"slices"

	"github.com/google/pprof/profile"
)

// ThreadIDLabel is the numeric label carrying the thread id of a pprof sample.
const ThreadIDLabel = "thread_id"

// ToPprof converts the complete callstacks of all threads into a pprof profile with one
// sample per thread and resolved callstack. Locations are function addresses. A
// samplesPerSecond of zero leaves the period unset.
func ToPprof(data *PostProcessedSamplingData, capture Capture,
	samplesPerSecond float64) (*profile.Profile, error) {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "samples", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
	}
	if samplesPerSecond > 0 {
		p.Period = int64(1e9 / samplesPerSecond)
	}

	mappings := map[string]*profile.Mapping{}
	getMapping := func(path string) *profile.Mapping {
		if m, ok := mappings[path]; ok {
			return m
		}
		m := &profile.Mapping{ID: uint64(len(p.Mapping) + 1), File: path}
		mappings[path] = m
		p.Mapping = append(p.Mapping, m)
		return m
	}

	locations := map[uint64]*profile.Location{}
	getLocation := func(address uint64) *profile.Location {
		if loc, ok := locations[address]; ok {
			return loc
		}
		fn := &profile.Function{
			ID:   uint64(len(p.Function) + 1),
			Name: capture.GetFunctionNameByAddress(address),
		}
		fn.SystemName = fn.Name
		p.Function = append(p.Function, fn)
		loc := &profile.Location{
			ID:      uint64(len(p.Location) + 1),
			Mapping: getMapping(capture.GetModulePathByAddress(address)),
			Address: address,
			Line:    []profile.Line{{Function: fn}},
		}
		locations[address] = loc
		p.Location = append(p.Location, loc)
		return loc
	}

	for _, thread := range data.GetThreadSampleData() {
		if thread.ThreadID == AllThreadsTID {
			continue
		}
		counts := map[uint64]int64{}
		for originalID, events := range thread.SampledCallstackIDToEvents {
			resolvedID, ok := data.GetResolvedCallstackID(originalID)
			if !ok {
				continue
			}
			counts[resolvedID] += int64(len(events))
		}
		resolvedIDs := make([]uint64, 0, len(counts))
		for id := range counts {
			resolvedIDs = append(resolvedIDs, id)
		}
		slices.SortFunc(resolvedIDs, func(a, b uint64) int {
			return cmp.Or(cmp.Compare(counts[b], counts[a]), cmp.Compare(a, b))
		})

		for _, id := range resolvedIDs {
			cs := data.resolvedCallstacks[id]
			if !cs.IsComplete() || len(cs.Frames) == 0 {
				continue
			}
			sample := &profile.Sample{
				Location: make([]*profile.Location, 0, len(cs.Frames)),
				Value:    []int64{counts[id]},
				NumLabel: map[string][]int64{ThreadIDLabel: {int64(thread.ThreadID)}},
			}
			for _, frame := range cs.Frames {
				sample.Location = append(sample.Location, getLocation(frame))
			}
			p.Sample = append(p.Sample, sample)
		}
	}

	if err := p.CheckValid(); err != nil {
		return nil, err
	}
	return p, nil
}

// WritePprof writes the gzipped pprof encoding of ToPprof to w.
func WritePprof(w io.Writer, data *PostProcessedSamplingData, capture Capture,
	samplesPerSecond float64) error {
	p, err := ToPprof(data, capture, samplesPerSecond)
	if err != nil {
		return err
	}
	return p.Write(w)
}
