// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics // import "github.com/orbit-profiler/orbit/metrics"

// Metric IDs mirror the entries of metrics.json. Only append.
const (
	// Leave out the 0 value. It's an indication of not explicitly initialized variables.
	IDInvalid = 0

	// Number of capture events dispatched to the listener
	IDCaptureEventsProcessed = 1

	// Number of CaptureResponse messages read from the gRPC stream
	IDCaptureResponsesReceived = 2

	// Number of events dropped because they reference an unknown intern key
	IDCaptureInternMisses = 3

	// Number of intern keys redefined with different content
	IDCaptureInternOverwrites = 4

	// Number of events without a known variant
	IDCaptureInvalidEvents = 5

	// Number of captures whose stream finished with a non-OK status
	IDCaptureFinishErrors = 6

	// Number of timers written to capture files
	IDCaptureFileTimersSaved = 7

	// Number of timers replayed from capture files
	IDCaptureFileTimersLoaded = 8

	// Number of records moved from the tracing buffer into the capture model
	IDTracingBufferRecordsDrained = 9

	// Number of records left in the tracing buffer after a drain cycle
	IDTracingBufferPending = 10

	// max number of ID values, keep this as *last entry*
	IDMax = 11
)
