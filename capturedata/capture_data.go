// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package capturedata holds the model of one capture and keeps it up to date from a
// tracing buffer.
package capturedata // import "github.com/orbit-profiler/orbit/capturedata"

import (
	"cmp"
	"slices"

	"github.com/orbit-profiler/orbit/captureclient"
	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/grpcprotos"
	"github.com/orbit-profiler/orbit/libpf"
	"github.com/orbit-profiler/orbit/libpf/xsync"
)

// FunctionStats aggregates the calls recorded for one instrumented function.
type FunctionStats struct {
	Count       uint64
	TotalTimeNs uint64
	MinNs       uint64
	MaxNs       uint64
}

// AverageNs returns the mean call duration, or 0 without calls.
func (s FunctionStats) AverageNs() uint64 {
	if s.Count == 0 {
		return 0
	}
	return s.TotalTimeNs / s.Count
}

func (s *FunctionStats) update(durationNs uint64) {
	if s.Count == 0 || durationNs < s.MinNs {
		s.MinNs = durationNs
	}
	s.MaxNs = max(s.MaxNs, durationNs)
	s.Count++
	s.TotalTimeNs += durationNs
}

// orderedMap is a map remembering the order in which keys were first added.
type orderedMap[K comparable, V any] struct {
	values map[K]V
	order  []K
}

func newOrderedMap[K comparable, V any]() orderedMap[K, V] {
	return orderedMap[K, V]{values: map[K]V{}}
}

func (m *orderedMap[K, V]) put(key K, value V) {
	if _, ok := m.values[key]; !ok {
		m.order = append(m.order, key)
	}
	m.values[key] = value
}

type model struct {
	addressInfos orderedMap[uint64, clientprotos.LinuxAddressInfo]
	// functionInfos indexes the first address info of each function by function start.
	functionInfos    map[uint64]clientprotos.LinuxAddressInfo
	threadNames      orderedMap[int32, string]
	strings          orderedMap[uint64, string]
	tracepointInfos  orderedMap[uint64, grpcprotos.TracepointInfo]
	tracepointEvents []clientprotos.TracepointEventInfo
	timers           []clientprotos.TimerInfo
	functionStats    map[uint64]*FunctionStats
}

// CaptureData is the model of one capture. It is safe for concurrent use.
type CaptureData struct {
	processID           int32
	processName         string
	process             *clientdata.ProcessData
	moduleManager       *clientdata.ModuleManager
	selectedFunctions   map[uint64]clientprotos.FunctionInfo
	selectedTracepoints libpf.Set[grpcprotos.TracepointInfo]
	callstackData       *clientdata.CallstackData

	model xsync.RWMutex[model]
}

// New returns an empty model for the capture described by started. moduleManager may be
// nil, in which case functions are only named from address infos.
func New(started captureclient.CaptureStarted,
	moduleManager *clientdata.ModuleManager) *CaptureData {
	process := started.Process
	if process == nil {
		process = clientdata.NewProcessDataFromInfo(clientdata.ProcessInfo{
			PID:  started.ProcessID,
			Name: started.ProcessName,
		})
	}
	selectedFunctions := started.SelectedFunctions
	if selectedFunctions == nil {
		selectedFunctions = map[uint64]clientprotos.FunctionInfo{}
	}
	selectedTracepoints := started.SelectedTracepoints
	if selectedTracepoints == nil {
		selectedTracepoints = libpf.Set[grpcprotos.TracepointInfo]{}
	}
	return &CaptureData{
		processID:           started.ProcessID,
		processName:         started.ProcessName,
		process:             process,
		moduleManager:       moduleManager,
		selectedFunctions:   selectedFunctions,
		selectedTracepoints: selectedTracepoints,
		callstackData:       clientdata.NewCallstackData(),
		model: xsync.NewRWMutex(model{
			addressInfos:    newOrderedMap[uint64, clientprotos.LinuxAddressInfo](),
			threadNames:     newOrderedMap[int32, string](),
			strings:         newOrderedMap[uint64, string](),
			tracepointInfos: newOrderedMap[uint64, grpcprotos.TracepointInfo](),
			functionInfos:   map[uint64]clientprotos.LinuxAddressInfo{},
			functionStats:   map[uint64]*FunctionStats{},
		}),
	}
}

func (d *CaptureData) ProcessID() int32                         { return d.processID }
func (d *CaptureData) ProcessName() string                      { return d.processName }
func (d *CaptureData) Process() *clientdata.ProcessData         { return d.process }
func (d *CaptureData) ModuleManager() *clientdata.ModuleManager { return d.moduleManager }
func (d *CaptureData) CallstackData() *clientdata.CallstackData { return d.callstackData }

// SelectedFunctions returns the instrumented functions keyed by absolute address. The
// map must not be modified.
func (d *CaptureData) SelectedFunctions() map[uint64]clientprotos.FunctionInfo {
	return d.selectedFunctions
}

// SelectedTracepoints returns the tracepoints the capture was started with.
func (d *CaptureData) SelectedTracepoints() libpf.Set[grpcprotos.TracepointInfo] {
	return d.selectedTracepoints
}

func (d *CaptureData) AddAddressInfo(info clientprotos.LinuxAddressInfo) {
	m := d.model.WLock()
	defer d.model.WUnlock(&m)
	m.addressInfos.put(info.AbsoluteAddress, info)
	if info.OffsetInFunction <= info.AbsoluteAddress {
		functionAddress := info.AbsoluteAddress - info.OffsetInFunction
		if _, ok := m.functionInfos[functionAddress]; !ok {
			m.functionInfos[functionAddress] = info
		}
	}
}

// GetAddressInfo returns the address info recorded for absoluteAddress.
func (d *CaptureData) GetAddressInfo(absoluteAddress uint64) (clientprotos.LinuxAddressInfo,
	bool) {
	m := d.model.RLock()
	defer d.model.RUnlock(&m)
	info, ok := m.addressInfos.values[absoluteAddress]
	return info, ok
}

// infoForName returns the address info at absoluteAddress, or the one of a function
// starting there.
func (d *CaptureData) infoForName(absoluteAddress uint64) (clientprotos.LinuxAddressInfo, bool) {
	m := d.model.RLock()
	defer d.model.RUnlock(&m)
	if info, ok := m.addressInfos.values[absoluteAddress]; ok {
		return info, true
	}
	info, ok := m.functionInfos[absoluteAddress]
	return info, ok
}

func (d *CaptureData) AddThreadName(tid int32, name string) {
	m := d.model.WLock()
	defer d.model.WUnlock(&m)
	m.threadNames.put(tid, name)
}

// GetThreadName returns the last name reported for tid, or "" if none was.
func (d *CaptureData) GetThreadName(tid int32) string {
	m := d.model.RLock()
	defer d.model.RUnlock(&m)
	return m.threadNames.values[tid]
}

func (d *CaptureData) AddKeyAndString(key uint64, str string) {
	m := d.model.WLock()
	defer d.model.WUnlock(&m)
	m.strings.put(key, str)
}

// GetString returns the string announced under key.
func (d *CaptureData) GetString(key uint64) (string, bool) {
	m := d.model.RLock()
	defer d.model.RUnlock(&m)
	str, ok := m.strings.values[key]
	return str, ok
}

func (d *CaptureData) AddTracepointInfo(key uint64, info grpcprotos.TracepointInfo) {
	m := d.model.WLock()
	defer d.model.WUnlock(&m)
	m.tracepointInfos.put(key, info)
}

// GetTracepointInfo returns the tracepoint announced under key.
func (d *CaptureData) GetTracepointInfo(key uint64) (grpcprotos.TracepointInfo, bool) {
	m := d.model.RLock()
	defer d.model.RUnlock(&m)
	info, ok := m.tracepointInfos.values[key]
	return info, ok
}

func (d *CaptureData) AddTracepointEvent(event clientprotos.TracepointEventInfo) {
	m := d.model.WLock()
	defer d.model.WUnlock(&m)
	m.tracepointEvents = append(m.tracepointEvents, event)
}

// TracepointEvents returns a copy of the tracepoint events in arrival order.
func (d *CaptureData) TracepointEvents() []clientprotos.TracepointEventInfo {
	m := d.model.RLock()
	defer d.model.RUnlock(&m)
	return slices.Clone(m.tracepointEvents)
}

// AddTimer stores timer. Function call timers also update the stats of their function.
func (d *CaptureData) AddTimer(timer clientprotos.TimerInfo) {
	m := d.model.WLock()
	defer d.model.WUnlock(&m)
	m.timers = append(m.timers, timer)

	if timer.Type != clientprotos.TimerFunctionCall {
		return
	}
	stats, ok := m.functionStats[timer.FunctionAddress]
	if !ok {
		stats = &FunctionStats{}
		m.functionStats[timer.FunctionAddress] = stats
	}
	stats.update(timer.Duration())
}

// Timers returns a copy of the timers in arrival order.
func (d *CaptureData) Timers() []clientprotos.TimerInfo {
	m := d.model.RLock()
	defer d.model.RUnlock(&m)
	return slices.Clone(m.timers)
}

// TimerCount returns the number of stored timers.
func (d *CaptureData) TimerCount() int {
	m := d.model.RLock()
	defer d.model.RUnlock(&m)
	return len(m.timers)
}

// GetFunctionStats returns the call statistics of the function at absoluteAddress.
func (d *CaptureData) GetFunctionStats(absoluteAddress uint64) FunctionStats {
	m := d.model.RLock()
	defer d.model.RUnlock(&m)
	if stats, ok := m.functionStats[absoluteAddress]; ok {
		return *stats
	}
	return FunctionStats{}
}

// GetFunctionNameByAddress names the function covering absoluteAddress from the loaded
// module symbols, then from the address infos, then falls back to
// clientdata.UnknownFunctionName.
func (d *CaptureData) GetFunctionNameByAddress(absoluteAddress uint64) string {
	if d.moduleManager != nil {
		fn := clientdata.FindFunctionByAddress(d.process, d.moduleManager, absoluteAddress, false)
		if fn != nil {
			return clientdata.FunctionDisplayName(fn)
		}
	}
	if info, ok := d.infoForName(absoluteAddress); ok && info.FunctionName != "" {
		return info.FunctionName
	}
	return clientdata.UnknownFunctionName
}

// GetModulePathByAddress returns the module containing absoluteAddress, from the memory
// map or the address infos.
func (d *CaptureData) GetModulePathByAddress(absoluteAddress uint64) string {
	path := clientdata.GetModulePathByAddress(d.process, absoluteAddress)
	if path != clientdata.UnknownFunctionName {
		return path
	}
	if info, ok := d.infoForName(absoluteAddress); ok && info.ModulePath != "" {
		return info.ModulePath
	}
	return clientdata.UnknownFunctionName
}

// ToCaptureInfo snapshots the model for saving. Records keep the order in which they were
// first added.
func (d *CaptureData) ToCaptureInfo() *clientprotos.CaptureInfo {
	info := &clientprotos.CaptureInfo{
		ProcessID:   d.processID,
		ProcessName: d.processName,
	}
	for _, address := range libpf.SortedKeys(d.selectedFunctions) {
		info.SelectedFunctions = append(info.SelectedFunctions, d.selectedFunctions[address])
	}
	info.SelectedTracepoints = d.selectedTracepoints.ToSlice()
	slices.SortFunc(info.SelectedTracepoints, func(a, b grpcprotos.TracepointInfo) int {
		return cmp.Or(cmp.Compare(a.Category, b.Category), cmp.Compare(a.Name, b.Name))
	})

	d.callstackData.ForEachUniqueCallstack(func(cs clientdata.CallStack) {
		info.Callstacks = append(info.Callstacks, cs.ToCallstackInfo())
	})
	d.callstackData.ForEachCallstackEvent(func(event clientprotos.CallstackEvent) {
		info.CallstackEvents = append(info.CallstackEvents, event)
	})

	m := d.model.RLock()
	defer d.model.RUnlock(&m)
	for _, address := range m.addressInfos.order {
		info.AddressInfos = append(info.AddressInfos, m.addressInfos.values[address])
	}
	for _, tid := range m.threadNames.order {
		info.ThreadNames = append(info.ThreadNames,
			clientprotos.ThreadNameEntry{TID: tid, Name: m.threadNames.values[tid]})
	}
	for _, key := range m.strings.order {
		info.KeyToString = append(info.KeyToString,
			clientprotos.KeyAndString{Key: key, Value: m.strings.values[key]})
	}
	for _, key := range m.tracepointInfos.order {
		info.TracepointInfos = append(info.TracepointInfos,
			clientprotos.TracepointInfoEntry{Key: key, Info: m.tracepointInfos.values[key]})
	}
	info.TracepointEventInfos = slices.Clone(m.tracepointEvents)
	return info
}
