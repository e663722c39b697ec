// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package captureclient // import "github.com/orbit-profiler/orbit/captureclient"

import (
	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/grpcprotos"
	"github.com/orbit-profiler/orbit/libpf"
)

// CaptureStarted describes the capture announced by OnCaptureStarted.
type CaptureStarted struct {
	ProcessID   int32
	ProcessName string
	// Process is the model of the captured process. It is never nil.
	Process *clientdata.ProcessData
	// SelectedFunctions is keyed by absolute address.
	SelectedFunctions   map[uint64]clientprotos.FunctionInfo
	SelectedTracepoints libpf.Set[grpcprotos.TracepointInfo]
}

// CaptureListener receives the records of one capture, live or loaded from a file.
//
// A capture starts with OnCaptureStarted and ends with exactly one of OnCaptureComplete,
// OnCaptureCancelled or OnCaptureFailed. In between, every callstack id is announced with
// OnUniqueCallStack before the first OnCallstackEvent referencing it, and every string key
// is announced with OnKeyAndString before the first record referencing it.
type CaptureListener interface {
	OnCaptureStarted(started CaptureStarted)
	OnCaptureComplete()
	OnCaptureCancelled()
	OnCaptureFailed(err error)

	OnTimer(timer clientprotos.TimerInfo)
	OnKeyAndString(key uint64, str string)
	OnUniqueCallStack(callstack clientdata.CallStack)
	OnCallstackEvent(event clientprotos.CallstackEvent)
	OnThreadName(tid int32, name string)
	OnAddressInfo(info clientprotos.LinuxAddressInfo)
	OnUniqueTracepointInfo(key uint64, info grpcprotos.TracepointInfo)
	OnTracepointEvent(event clientprotos.TracepointEventInfo)
}
