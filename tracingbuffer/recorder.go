// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package tracingbuffer // import "github.com/orbit-profiler/orbit/tracingbuffer"

import (
	"github.com/orbit-profiler/orbit/captureclient"
	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/grpcprotos"
)

// Lifecycle receives the capture lifecycle callbacks, which are not buffered.
type Lifecycle interface {
	OnCaptureStarted(started captureclient.CaptureStarted)
	OnCaptureComplete()
	OnCaptureCancelled()
	OnCaptureFailed(err error)
}

// Recorder is a CaptureListener that records every data callback into a TracingBuffer
// and forwards lifecycle callbacks to a Lifecycle.
type Recorder struct {
	buffer    *TracingBuffer
	lifecycle Lifecycle
}

var _ captureclient.CaptureListener = (*Recorder)(nil)

// NewRecorder returns a Recorder writing into buffer. lifecycle may be nil.
func NewRecorder(buffer *TracingBuffer, lifecycle Lifecycle) *Recorder {
	return &Recorder{buffer: buffer, lifecycle: lifecycle}
}

// Buffer returns the buffer records are written into.
func (r *Recorder) Buffer() *TracingBuffer {
	return r.buffer
}

func (r *Recorder) OnCaptureStarted(started captureclient.CaptureStarted) {
	if r.lifecycle != nil {
		r.lifecycle.OnCaptureStarted(started)
	}
}

func (r *Recorder) OnCaptureComplete() {
	if r.lifecycle != nil {
		r.lifecycle.OnCaptureComplete()
	}
}

func (r *Recorder) OnCaptureCancelled() {
	if r.lifecycle != nil {
		r.lifecycle.OnCaptureCancelled()
	}
}

func (r *Recorder) OnCaptureFailed(err error) {
	if r.lifecycle != nil {
		r.lifecycle.OnCaptureFailed(err)
	}
}

func (r *Recorder) OnTimer(timer clientprotos.TimerInfo) {
	r.buffer.Timers.Record(timer)
}

func (r *Recorder) OnKeyAndString(key uint64, str string) {
	r.buffer.KeysAndStrings.Record(clientprotos.KeyAndString{Key: key, Value: str})
}

func (r *Recorder) OnUniqueCallStack(callstack clientdata.CallStack) {
	r.buffer.Callstacks.Record(callstack)
}

func (r *Recorder) OnCallstackEvent(event clientprotos.CallstackEvent) {
	r.buffer.CallstackEvents.Record(event)
}

func (r *Recorder) OnThreadName(tid int32, name string) {
	r.buffer.ThreadNames.Record(clientprotos.ThreadNameEntry{TID: tid, Name: name})
}

func (r *Recorder) OnAddressInfo(info clientprotos.LinuxAddressInfo) {
	r.buffer.AddressInfos.Record(info)
}

func (r *Recorder) OnUniqueTracepointInfo(key uint64, info grpcprotos.TracepointInfo) {
	r.buffer.TracepointInfos.Record(clientprotos.TracepointInfoEntry{Key: key, Info: info})
}

func (r *Recorder) OnTracepointEvent(event clientprotos.TracepointEventInfo) {
	r.buffer.TracepointEvents.Record(event)
}
