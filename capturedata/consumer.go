// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package capturedata // import "github.com/orbit-profiler/orbit/capturedata"

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/orbit-profiler/orbit/captureclient"
	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/metrics"
	"github.com/orbit-profiler/orbit/periodiccaller"
	"github.com/orbit-profiler/orbit/tracingbuffer"
)

// ErrCaptureCancelled is the result of a capture that was cancelled.
var ErrCaptureCancelled = errors.New("capture cancelled")

// Consumer builds a CaptureData from the records of a tracing buffer. The producer side
// is the Listener, which records data into the buffer and creates the CaptureData when
// the capture starts. Records are moved into the model by Drain, called periodically
// between Start and Flush.
type Consumer struct {
	buffer        *tracingbuffer.TracingBuffer
	moduleManager *clientdata.ModuleManager
	recorder      *tracingbuffer.Recorder

	data atomic.Pointer[CaptureData]

	// drainMu serializes drain cycles.
	drainMu sync.Mutex
	// Scratch slices reused across drain cycles.
	timers           []clientprotos.TimerInfo
	callstackEvents  []clientprotos.CallstackEvent
	addressInfos     []clientprotos.LinuxAddressInfo
	threadNames      []clientprotos.ThreadNameEntry
	tracepointEvents []clientprotos.TracepointEventInfo
	callstacks       []clientdata.CallStack
	keysAndStrings   []clientprotos.KeyAndString
	tracepointInfos  []clientprotos.TracepointInfoEntry

	once   sync.Once
	done   chan struct{}
	result error
}

// NewConsumer returns a consumer of buffer. moduleManager is handed to the CaptureData.
func NewConsumer(buffer *tracingbuffer.TracingBuffer,
	moduleManager *clientdata.ModuleManager) *Consumer {
	c := &Consumer{
		buffer:        buffer,
		moduleManager: moduleManager,
		done:          make(chan struct{}),
	}
	c.recorder = tracingbuffer.NewRecorder(buffer, c)
	return c
}

// Listener returns the CaptureListener feeding this consumer.
func (c *Consumer) Listener() captureclient.CaptureListener {
	return c.recorder
}

// Data returns the model, or nil before the capture started.
func (c *Consumer) Data() *CaptureData {
	return c.data.Load()
}

// Done is closed once the capture reached its terminal state.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Result returns nil for a completed capture, ErrCaptureCancelled or the failure. It
// must only be called after Done is closed.
func (c *Consumer) Result() error {
	return c.result
}

func (c *Consumer) OnCaptureStarted(started captureclient.CaptureStarted) {
	log.Infof("Capture of process %d (%s) started", started.ProcessID, started.ProcessName)
	c.data.Store(New(started, c.moduleManager))
}

func (c *Consumer) OnCaptureComplete()  { c.finish(nil) }
func (c *Consumer) OnCaptureCancelled() { c.finish(ErrCaptureCancelled) }

func (c *Consumer) OnCaptureFailed(err error) {
	c.finish(err)
}

func (c *Consumer) finish(err error) {
	c.once.Do(func() {
		c.result = err
		close(c.done)
	})
}

// Start drains the buffer every interval until the returned function is called.
func (c *Consumer) Start(ctx context.Context, interval time.Duration) func() {
	return periodiccaller.Start(ctx, interval, func() { c.Drain() })
}

// Flush drains whatever is left in the buffer. It is called after the producers stopped.
func (c *Consumer) Flush() int {
	return c.Drain()
}

// Drain runs one drain cycle and returns the number of records applied. Records that
// arrive before the capture started stay buffered.
//
// The kinds referencing other records are read before the kinds defining them and
// applied after them. As producers record a definition before its dependents, every
// dependent applied in a cycle has its definition applied in this or an earlier cycle.
func (c *Consumer) Drain() int {
	data := c.data.Load()
	if data == nil {
		return 0
	}

	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	hasTimers := c.buffer.Timers.ReadAll(&c.timers)
	hasCallstackEvents := c.buffer.CallstackEvents.ReadAll(&c.callstackEvents)
	hasAddressInfos := c.buffer.AddressInfos.ReadAll(&c.addressInfos)
	hasThreadNames := c.buffer.ThreadNames.ReadAll(&c.threadNames)
	hasTracepointEvents := c.buffer.TracepointEvents.ReadAll(&c.tracepointEvents)

	hasCallstacks := c.buffer.Callstacks.ReadAll(&c.callstacks)
	hasKeysAndStrings := c.buffer.KeysAndStrings.ReadAll(&c.keysAndStrings)
	hasTracepointInfos := c.buffer.TracepointInfos.ReadAll(&c.tracepointInfos)

	drained := 0
	if hasCallstacks {
		for _, cs := range c.callstacks {
			data.CallstackData().AddUniqueCallstack(cs)
		}
		drained += len(c.callstacks)
	}
	if hasKeysAndStrings {
		for _, entry := range c.keysAndStrings {
			data.AddKeyAndString(entry.Key, entry.Value)
		}
		drained += len(c.keysAndStrings)
	}
	if hasTracepointInfos {
		for _, entry := range c.tracepointInfos {
			data.AddTracepointInfo(entry.Key, entry.Info)
		}
		drained += len(c.tracepointInfos)
	}

	if hasTimers {
		for _, timer := range c.timers {
			data.AddTimer(timer)
		}
		drained += len(c.timers)
	}
	if hasCallstackEvents {
		for _, event := range c.callstackEvents {
			if !data.CallstackData().HasCallstack(event.CallstackID) {
				log.Warnf("Callstack event at %d references unknown callstack %#x",
					event.Time, event.CallstackID)
			}
			data.CallstackData().AddCallstackEvent(event)
		}
		drained += len(c.callstackEvents)
	}
	if hasAddressInfos {
		for _, info := range c.addressInfos {
			data.AddAddressInfo(info)
		}
		drained += len(c.addressInfos)
	}
	if hasThreadNames {
		for _, entry := range c.threadNames {
			data.AddThreadName(entry.TID, entry.Name)
		}
		drained += len(c.threadNames)
	}
	if hasTracepointEvents {
		for _, event := range c.tracepointEvents {
			data.AddTracepointEvent(event)
		}
		drained += len(c.tracepointEvents)
	}

	metrics.AddSlice([]metrics.Metric{
		{ID: metrics.IDTracingBufferRecordsDrained, Value: metrics.MetricValue(drained)},
		{ID: metrics.IDTracingBufferPending, Value: metrics.MetricValue(c.buffer.Len())},
	})
	return drained
}
