// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutils provides a recording CaptureListener shared by the tests of the
// capture pipeline.
package testutils // import "github.com/orbit-profiler/orbit/testutils"

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orbit-profiler/orbit/captureclient"
	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/grpcprotos"
)

// Method names recorded by RecordingListener.
const (
	OnCaptureStarted       = "OnCaptureStarted"
	OnCaptureComplete      = "OnCaptureComplete"
	OnCaptureCancelled     = "OnCaptureCancelled"
	OnCaptureFailed        = "OnCaptureFailed"
	OnTimer                = "OnTimer"
	OnKeyAndString         = "OnKeyAndString"
	OnUniqueCallStack      = "OnUniqueCallStack"
	OnCallstackEvent       = "OnCallstackEvent"
	OnThreadName           = "OnThreadName"
	OnAddressInfo          = "OnAddressInfo"
	OnUniqueTracepointInfo = "OnUniqueTracepointInfo"
	OnTracepointEvent      = "OnTracepointEvent"
)

// Call is one recorded callback. Value holds the argument, or a KeyAndString,
// ThreadName or TracepointInfo for callbacks with two arguments.
type Call struct {
	Method string
	Value  any
}

// ThreadName is the value recorded for OnThreadName.
type ThreadName struct {
	TID  int32
	Name string
}

// KeyAndString is the value recorded for OnKeyAndString.
type KeyAndString struct {
	Key    uint64
	String string
}

// TracepointInfo is the value recorded for OnUniqueTracepointInfo.
type TracepointInfo struct {
	Key  uint64
	Info grpcprotos.TracepointInfo
}

// RecordingListener records every callback in order. It is safe for concurrent use.
type RecordingListener struct {
	mu    sync.Mutex
	calls []Call

	// OnStarted, if set, runs inside OnCaptureStarted.
	OnStarted func(captureclient.CaptureStarted)
	// OnTimerHook, if set, runs inside OnTimer.
	OnTimerHook func(clientprotos.TimerInfo)
}

var _ captureclient.CaptureListener = (*RecordingListener)(nil)

func (l *RecordingListener) record(method string, value any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, Call{Method: method, Value: value})
}

// Calls returns a copy of the recorded callbacks.
func (l *RecordingListener) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

// Methods returns the names of the recorded callbacks.
func (l *RecordingListener) Methods() []string {
	calls := l.Calls()
	methods := make([]string, 0, len(calls))
	for _, call := range calls {
		methods = append(methods, call.Method)
	}
	return methods
}

// Count returns how often method was called.
func (l *RecordingListener) Count(method string) int {
	n := 0
	for _, call := range l.Calls() {
		if call.Method == method {
			n++
		}
	}
	return n
}

// Values returns the values recorded for method, converted to T.
func Values[T any](l *RecordingListener, method string) []T {
	var values []T
	for _, call := range l.Calls() {
		if call.Method == method {
			values = append(values, call.Value.(T))
		}
	}
	return values
}

func (l *RecordingListener) OnCaptureStarted(started captureclient.CaptureStarted) {
	l.record(OnCaptureStarted, started)
	if l.OnStarted != nil {
		l.OnStarted(started)
	}
}

func (l *RecordingListener) OnCaptureComplete()        { l.record(OnCaptureComplete, nil) }
func (l *RecordingListener) OnCaptureCancelled()       { l.record(OnCaptureCancelled, nil) }
func (l *RecordingListener) OnCaptureFailed(err error) { l.record(OnCaptureFailed, err) }

func (l *RecordingListener) OnTimer(timer clientprotos.TimerInfo) {
	l.record(OnTimer, timer)
	if l.OnTimerHook != nil {
		l.OnTimerHook(timer)
	}
}

func (l *RecordingListener) OnKeyAndString(key uint64, str string) {
	l.record(OnKeyAndString, KeyAndString{Key: key, String: str})
}

func (l *RecordingListener) OnUniqueCallStack(callstack clientdata.CallStack) {
	l.record(OnUniqueCallStack, callstack)
}

func (l *RecordingListener) OnCallstackEvent(event clientprotos.CallstackEvent) {
	l.record(OnCallstackEvent, event)
}

func (l *RecordingListener) OnThreadName(tid int32, name string) {
	l.record(OnThreadName, ThreadName{TID: tid, Name: name})
}

func (l *RecordingListener) OnAddressInfo(info clientprotos.LinuxAddressInfo) {
	l.record(OnAddressInfo, info)
}

func (l *RecordingListener) OnUniqueTracepointInfo(key uint64, info grpcprotos.TracepointInfo) {
	l.record(OnUniqueTracepointInfo, TracepointInfo{Key: key, Info: info})
}

func (l *RecordingListener) OnTracepointEvent(event clientprotos.TracepointEventInfo) {
	l.record(OnTracepointEvent, event)
}

// AssertDefinitionsBeforeUse checks that every callstack id and GPU timer string key was
// announced before the first record using it, and that tracepoint events only use
// announced tracepoints.
func AssertDefinitionsBeforeUse(t *testing.T, l *RecordingListener) {
	t.Helper()

	callstacks := map[uint64]bool{}
	strings := map[uint64]bool{}
	tracepoints := map[uint64]bool{}
	for i, call := range l.Calls() {
		switch v := call.Value.(type) {
		case clientdata.CallStack:
			callstacks[v.ID] = true
		case KeyAndString:
			strings[v.Key] = true
		case TracepointInfo:
			tracepoints[v.Key] = true
		case clientprotos.CallstackEvent:
			assert.True(t, callstacks[v.CallstackID],
				"call %d: callstack %#x used before definition", i, v.CallstackID)
		case clientprotos.TimerInfo:
			if v.Type != clientprotos.TimerGpuActivity {
				continue
			}
			for _, key := range v.UserData {
				assert.True(t, strings[key], "call %d: string %#x used before definition", i, key)
			}
		case clientprotos.TracepointEventInfo:
			assert.True(t, tracepoints[v.TracepointInfoKey],
				"call %d: tracepoint %#x used before definition", i, v.TracepointInfoKey)
		}
	}
}
