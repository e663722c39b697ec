// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clientdata // import "github.com/orbit-profiler/orbit/clientdata"

import (
	"math"
	"slices"
	"sort"

	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/grpcprotos"
	"github.com/orbit-profiler/orbit/libpf"
	"github.com/orbit-profiler/orbit/libpf/xsync"
)

// MajorityOutermostFrameThreshold is the share of a thread's complete callstacks that must
// end in the same frame before the other complete callstacks of that thread are considered
// broken.
const MajorityOutermostFrameThreshold = 0.6

type callstacks struct {
	unique map[uint64]*CallStack
	// order keeps ids in insertion order.
	order []uint64
	// eventsByTid holds the events of each thread sorted by time.
	eventsByTid map[int32][]clientprotos.CallstackEvent
	eventCount  int
	minTime     uint64
	maxTime     uint64
}

// CallstackData stores the unique callstacks of a capture and the sample events referencing
// them. It is safe for concurrent use. Iteration callbacks run on a snapshot and may call
// back into the CallstackData.
type CallstackData struct {
	data xsync.RWMutex[callstacks]
}

func NewCallstackData() *CallstackData {
	return &CallstackData{
		data: xsync.NewRWMutex(callstacks{
			unique:      map[uint64]*CallStack{},
			eventsByTid: map[int32][]clientprotos.CallstackEvent{},
			minTime:     math.MaxUint64,
		}),
	}
}

// AddUniqueCallstack stores cs under its id. A later callstack with the same id replaces
// the earlier one.
func (c *CallstackData) AddUniqueCallstack(cs CallStack) {
	data := c.data.WLock()
	defer c.data.WUnlock(&data)

	if _, ok := data.unique[cs.ID]; !ok {
		data.order = append(data.order, cs.ID)
	}
	data.unique[cs.ID] = &cs
}

// AddCallstackEvent records a sample. Events of a thread may arrive out of time order.
func (c *CallstackData) AddCallstackEvent(event clientprotos.CallstackEvent) {
	data := c.data.WLock()
	defer c.data.WUnlock(&data)

	events := data.eventsByTid[event.ThreadID]
	if n := len(events); n == 0 || events[n-1].Time <= event.Time {
		events = append(events, event)
	} else {
		idx := sort.Search(n, func(i int) bool { return events[i].Time > event.Time })
		events = slices.Insert(events, idx, event)
	}
	data.eventsByTid[event.ThreadID] = events
	data.eventCount++
	data.minTime = min(data.minTime, event.Time)
	data.maxTime = max(data.maxTime, event.Time)
}

// GetCallstack returns a copy of the callstack with the given id.
func (c *CallstackData) GetCallstack(id uint64) (CallStack, bool) {
	data := c.data.RLock()
	defer c.data.RUnlock(&data)

	cs, ok := data.unique[id]
	if !ok {
		return CallStack{}, false
	}
	return *cs, true
}

func (c *CallstackData) HasCallstack(id uint64) bool {
	_, ok := c.GetCallstack(id)
	return ok
}

func (c *CallstackData) GetUniqueCallstacksCount() int {
	data := c.data.RLock()
	defer c.data.RUnlock(&data)
	return len(data.unique)
}

func (c *CallstackData) GetCallstackEventsCount() int {
	data := c.data.RLock()
	defer c.data.RUnlock(&data)
	return data.eventCount
}

func (c *CallstackData) GetCallstackEventsOfTidCount(tid int32) int {
	data := c.data.RLock()
	defer c.data.RUnlock(&data)
	return len(data.eventsByTid[tid])
}

// GetMinTime and GetMaxTime return the time span of all events. Without events GetMinTime
// returns math.MaxUint64 and GetMaxTime 0.
func (c *CallstackData) GetMinTime() uint64 {
	data := c.data.RLock()
	defer c.data.RUnlock(&data)
	return data.minTime
}

func (c *CallstackData) GetMaxTime() uint64 {
	data := c.data.RLock()
	defer c.data.RUnlock(&data)
	return data.maxTime
}

// ThreadIDs returns the threads that have events, ascending.
func (c *CallstackData) ThreadIDs() []int32 {
	data := c.data.RLock()
	defer c.data.RUnlock(&data)
	return libpf.SortedKeys(data.eventsByTid)
}

// GetCallstackEventsOfTidInTimeRange returns the events of tid with begin <= time < end,
// ordered by time.
func (c *CallstackData) GetCallstackEventsOfTidInTimeRange(tid int32,
	begin, end uint64) []clientprotos.CallstackEvent {
	data := c.data.RLock()
	defer c.data.RUnlock(&data)
	return eventsInRange(data.eventsByTid[tid], begin, end)
}

// GetCallstackEventsInTimeRange returns the events of all threads with begin <= time < end,
// ordered by time.
func (c *CallstackData) GetCallstackEventsInTimeRange(begin,
	end uint64) []clientprotos.CallstackEvent {
	data := c.data.RLock()
	defer c.data.RUnlock(&data)

	var result []clientprotos.CallstackEvent
	for _, events := range data.eventsByTid {
		result = append(result, eventsInRange(events, begin, end)...)
	}
	slices.SortStableFunc(result, func(a, b clientprotos.CallstackEvent) int {
		if a.Time != b.Time {
			if a.Time < b.Time {
				return -1
			}
			return 1
		}
		return int(a.ThreadID) - int(b.ThreadID)
	})
	return result
}

func eventsInRange(events []clientprotos.CallstackEvent,
	begin, end uint64) []clientprotos.CallstackEvent {
	lo := sort.Search(len(events), func(i int) bool { return events[i].Time >= begin })
	hi := sort.Search(len(events), func(i int) bool { return events[i].Time >= end })
	if lo >= hi {
		return nil
	}
	return append([]clientprotos.CallstackEvent(nil), events[lo:hi]...)
}

// ForEachCallstackEvent calls fn for every event, thread by thread in ascending thread id
// and by time within a thread.
func (c *CallstackData) ForEachCallstackEvent(fn func(clientprotos.CallstackEvent)) {
	for _, tid := range c.ThreadIDs() {
		c.ForEachCallstackEventOfTid(tid, fn)
	}
}

// ForEachCallstackEventOfTid calls fn for every event of tid by time.
func (c *CallstackData) ForEachCallstackEventOfTid(tid int32,
	fn func(clientprotos.CallstackEvent)) {
	for _, event := range c.GetCallstackEventsOfTidInTimeRange(tid, 0, math.MaxUint64) {
		fn(event)
	}
}

// ForEachUniqueCallstack calls fn for every unique callstack in insertion order.
func (c *CallstackData) ForEachUniqueCallstack(fn func(CallStack)) {
	data := c.data.RLock()
	snapshot := make([]CallStack, 0, len(data.order))
	for _, id := range data.order {
		snapshot = append(snapshot, *data.unique[id])
	}
	c.data.RUnlock(&data)

	for _, cs := range snapshot {
		fn(cs)
	}
}

// UpdateCallstackTypeBasedOnMajorityStart looks at the complete callstacks of every thread.
// When at least MajorityOutermostFrameThreshold of them end in the same frame, the complete
// callstacks of that thread ending elsewhere are retyped to
// CallstackFilteredByMajorityOutermostFrame: the unwinder most likely stopped early without
// noticing. functionsToStopUnwindingAt maps function start addresses to sizes; callstacks
// ending in those functions are neither counted nor retyped.
func (c *CallstackData) UpdateCallstackTypeBasedOnMajorityStart(
	functionsToStopUnwindingAt map[uint64]uint64) {
	data := c.data.WLock()
	defer c.data.WUnlock(&data)

	endsInStopFunction := func(frame uint64) bool {
		for start, size := range functionsToStopUnwindingAt {
			if frame >= start && frame < start+size {
				return true
			}
		}
		return false
	}

	toFilter := libpf.Set[uint64]{}
	for _, events := range data.eventsByTid {
		countByOutermost := map[uint64]int{}
		var completeIDs []uint64
		total := 0
		for _, event := range events {
			cs, ok := data.unique[event.CallstackID]
			if !ok || !cs.IsComplete() {
				continue
			}
			outermost, ok := cs.OutermostFrame()
			if !ok || endsInStopFunction(outermost) {
				continue
			}
			countByOutermost[outermost]++
			completeIDs = append(completeIDs, cs.ID)
			total++
		}
		if total == 0 {
			continue
		}

		var majorityFrame uint64
		majorityCount := 0
		for frame, count := range countByOutermost {
			if count > majorityCount {
				majorityFrame, majorityCount = frame, count
			}
		}
		if float64(majorityCount) < MajorityOutermostFrameThreshold*float64(total) {
			continue
		}

		for _, id := range completeIDs {
			if outermost, _ := data.unique[id].OutermostFrame(); outermost != majorityFrame {
				toFilter[id] = libpf.Void{}
			}
		}
	}

	for id := range toFilter {
		data.unique[id].Type = grpcprotos.CallstackFilteredByMajorityOutermostFrame
	}
}
