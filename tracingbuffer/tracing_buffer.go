// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package tracingbuffer // import "github.com/orbit-profiler/orbit/tracingbuffer"

import (
	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/clientprotos"
)

// TracingBuffer holds one Buffer per record kind. Each kind is locked on its own, so
// records of different kinds may be drained in a different order than they were
// recorded.
type TracingBuffer struct {
	Timers           Buffer[clientprotos.TimerInfo]
	Callstacks       Buffer[clientdata.CallStack]
	CallstackEvents  Buffer[clientprotos.CallstackEvent]
	AddressInfos     Buffer[clientprotos.LinuxAddressInfo]
	KeysAndStrings   Buffer[clientprotos.KeyAndString]
	ThreadNames      Buffer[clientprotos.ThreadNameEntry]
	TracepointInfos  Buffer[clientprotos.TracepointInfoEntry]
	TracepointEvents Buffer[clientprotos.TracepointEventInfo]
}

// Reset clears every buffer.
func (tb *TracingBuffer) Reset() {
	tb.Timers.Reset()
	tb.Callstacks.Reset()
	tb.CallstackEvents.Reset()
	tb.AddressInfos.Reset()
	tb.KeysAndStrings.Reset()
	tb.ThreadNames.Reset()
	tb.TracepointInfos.Reset()
	tb.TracepointEvents.Reset()
}

// Len returns the number of records buffered over all kinds.
func (tb *TracingBuffer) Len() int {
	return tb.Timers.Len() + tb.Callstacks.Len() + tb.CallstackEvents.Len() +
		tb.AddressInfos.Len() + tb.KeysAndStrings.Len() + tb.ThreadNames.Len() +
		tb.TracepointInfos.Len() + tb.TracepointEvents.Len()
}
