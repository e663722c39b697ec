// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package captureclient_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/orbit-profiler/orbit/captureclient"
	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/grpcprotos"
	"github.com/orbit-profiler/orbit/libpf"
	"github.com/orbit-profiler/orbit/testutils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testOptions() captureclient.Options {
	return captureclient.Options{
		Process: clientdata.NewProcessDataFromInfo(clientdata.ProcessInfo{
			PID:  42,
			Name: "target",
		}),
		SamplesPerSecond: 1000,
	}
}

func slice(core int32, in, out uint64) *grpcprotos.SchedulingSlice {
	return &grpcprotos.SchedulingSlice{PID: 42, TID: 43, Core: core,
		InTimestampNs: in, OutTimestampNs: out}
}

func TestCaptureComplete(t *testing.T) {
	service, conn := testutils.StartFakeCaptureService(t, func(stream grpc.ServerStream) error {
		return testutils.SendEvents(stream,
			slice(1, 10, 20),
			&grpcprotos.CallstackSample{PID: 42, TID: 43, TimestampNs: 15,
				Callstack: &grpcprotos.Callstack{Pcs: []uint64{0x10, 0x20}}},
		)
	})
	listener := &testutils.RecordingListener{}
	client := captureclient.New(conn, listener)

	require.NoError(t, client.Capture(context.Background(), testOptions()))

	assert.Equal(t, []string{
		testutils.OnCaptureStarted,
		testutils.OnTimer,
		testutils.OnUniqueCallStack,
		testutils.OnCallstackEvent,
		testutils.OnCaptureComplete,
	}, listener.Methods())
	assert.Equal(t, captureclient.StateStopped, client.State())

	started := testutils.Values[captureclient.CaptureStarted](listener,
		testutils.OnCaptureStarted)
	require.Len(t, started, 1)
	assert.Equal(t, int32(42), started[0].ProcessID)
	assert.Equal(t, "target", started[0].ProcessName)

	requests := service.ReceivedRequests()
	require.Len(t, requests, 1)
	require.NotNil(t, requests[0].CaptureOptions)
	assert.Equal(t, int32(42), requests[0].CaptureOptions.PID)
	assert.Equal(t, uint32(1000), requests[0].CaptureOptions.SamplesPerSecond)
}

func TestStopCaptureDrainsInFlightEvents(t *testing.T) {
	_, conn := testutils.StartFakeCaptureService(t, func(stream grpc.ServerStream) error {
		if err := testutils.SendEvents(stream, slice(0, 10, 20)); err != nil {
			return err
		}
		if err := testutils.WaitForHalfClose(stream); err != nil {
			return err
		}
		return testutils.SendEvents(stream, slice(1, 30, 40))
	})
	listener := &testutils.RecordingListener{}
	client := captureclient.New(conn, listener)

	var stopped []bool
	listener.OnTimerHook = func(clientprotos.TimerInfo) {
		stopped = append(stopped, client.StopCapture())
	}

	require.NoError(t, client.Capture(context.Background(), testOptions()))

	// The second StopCapture finds the capture already stopping.
	assert.Equal(t, []bool{true, false}, stopped)
	assert.Equal(t, []string{
		testutils.OnCaptureStarted,
		testutils.OnTimer,
		testutils.OnTimer,
		testutils.OnCaptureComplete,
	}, listener.Methods())
}

func TestAbortCapture(t *testing.T) {
	_, conn := testutils.StartFakeCaptureService(t, func(stream grpc.ServerStream) error {
		if err := testutils.SendEvents(stream, slice(0, 10, 20)); err != nil {
			return err
		}
		<-stream.Context().Done()
		return stream.Context().Err()
	})
	listener := &testutils.RecordingListener{}
	client := captureclient.New(conn, listener)
	listener.OnTimerHook = func(clientprotos.TimerInfo) {
		assert.True(t, client.AbortCapture())
	}

	require.NoError(t, client.Capture(context.Background(), testOptions()))

	assert.Equal(t, []string{
		testutils.OnCaptureStarted,
		testutils.OnTimer,
		testutils.OnCaptureCancelled,
	}, listener.Methods())
	assert.False(t, client.AbortCapture())
	assert.False(t, client.StopCapture())
}

func TestCaptureFailed(t *testing.T) {
	_, conn := testutils.StartFakeCaptureService(t, func(grpc.ServerStream) error {
		return status.Error(codes.Internal, "tracing failed")
	})
	listener := &testutils.RecordingListener{}
	client := captureclient.New(conn, listener)

	err := client.Capture(context.Background(), testOptions())
	require.ErrorIs(t, err, captureclient.ErrFinishFailed)
	assert.Contains(t, err.Error(), "tracing failed")

	assert.Equal(t, []string{testutils.OnCaptureStarted, testutils.OnCaptureFailed},
		listener.Methods())
	failures := testutils.Values[error](listener, testutils.OnCaptureFailed)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], captureclient.ErrFinishFailed)
}

func TestCaptureAlreadyRunning(t *testing.T) {
	_, conn := testutils.StartFakeCaptureService(t, func(grpc.ServerStream) error {
		return nil
	})
	listener := &testutils.RecordingListener{}
	client := captureclient.New(conn, listener)

	var nested error
	listener.OnStarted = func(captureclient.CaptureStarted) {
		assert.Equal(t, captureclient.StateStarted, client.State())
		nested = client.Capture(context.Background(), testOptions())
	}

	require.NoError(t, client.Capture(context.Background(), testOptions()))
	require.ErrorIs(t, nested, captureclient.ErrCaptureRunning)
	assert.Equal(t, []string{testutils.OnCaptureStarted, testutils.OnCaptureComplete},
		listener.Methods())
}

// closeSendFailingConn opens streams whose half-close fails. RecvMsg blocks until the stream
// context is cancelled.
type closeSendFailingConn struct{}

func (closeSendFailingConn) Invoke(context.Context, string, any, any, ...grpc.CallOption) error {
	return errors.New("not supported")
}

func (closeSendFailingConn) NewStream(ctx context.Context, _ *grpc.StreamDesc, _ string,
	_ ...grpc.CallOption) (grpc.ClientStream, error) {
	return &closeSendFailingStream{ctx: ctx}, nil
}

type closeSendFailingStream struct {
	grpc.ClientStream
	ctx context.Context
}

func (s *closeSendFailingStream) SendMsg(any) error { return nil }

func (s *closeSendFailingStream) CloseSend() error {
	return errors.New("transport is closing")
}

func (s *closeSendFailingStream) RecvMsg(any) error {
	<-s.ctx.Done()
	return status.FromContextError(s.ctx.Err()).Err()
}

func TestStopCaptureCloseSendFails(t *testing.T) {
	listener := &testutils.RecordingListener{}
	client := captureclient.New(closeSendFailingConn{}, listener)

	stopped := false
	listener.OnStarted = func(captureclient.CaptureStarted) {
		stopped = client.StopCapture()
	}

	require.NoError(t, client.Capture(context.Background(), testOptions()))
	assert.True(t, stopped)
	assert.Equal(t, []string{testutils.OnCaptureStarted, testutils.OnCaptureComplete},
		listener.Methods())
	assert.Equal(t, captureclient.StateStopped, client.State())
}

func TestStopWithoutCapture(t *testing.T) {
	client := captureclient.New(nil, &testutils.RecordingListener{})
	assert.False(t, client.StopCapture())
	assert.False(t, client.AbortCapture())
	assert.Equal(t, "stopped", client.State().String())
}

func TestNewCaptureRequest(t *testing.T) {
	opts := testOptions()
	opts.TraceContextSwitches = true
	opts.TraceGpuDriver = true
	opts.SelectedFunctions = map[uint64]clientprotos.FunctionInfo{
		0x7200: {Name: "b", LoadedModulePath: "/lib/b.so", Address: 0x1300, LoadBias: 0x100},
		0x7100: {Name: "a", LoadedModulePath: "/bin/a", Address: 0x1100},
	}
	opts.SelectedTracepoints = libpf.Set[grpcprotos.TracepointInfo]{}
	for _, name := range []string{"sched:sched_wakeup", "irq:irq_handler_exit",
		"sched:sched_switch"} {
		category, event, _ := strings.Cut(name, ":")
		opts.SelectedTracepoints.Add(grpcprotos.TracepointInfo{Category: category, Name: event})
	}

	request := captureclient.NewCaptureRequest(opts)
	assert.Equal(t, &grpcprotos.CaptureRequest{CaptureOptions: &grpcprotos.CaptureOptions{
		PID: 42,
		InstrumentedFunctions: []grpcprotos.InstrumentedFunction{
			{FilePath: "/bin/a", FileOffset: 0x1100, AbsoluteAddress: 0x7100, FunctionName: "a"},
			{FilePath: "/lib/b.so", FileOffset: 0x1200, AbsoluteAddress: 0x7200,
				FunctionName: "b"},
		},
		TraceContextSwitches: true,
		SamplesPerSecond:     1000,
		TraceGpuDriver:       true,
		InstrumentedTracepoint: []grpcprotos.TracepointInfo{
			{Category: "irq", Name: "irq_handler_exit"},
			{Category: "sched", Name: "sched_switch"},
			{Category: "sched", Name: "sched_wakeup"},
		},
	}}, request)

	empty := captureclient.NewCaptureRequest(testOptions())
	assert.Nil(t, empty.CaptureOptions.InstrumentedTracepoint)
	assert.Nil(t, empty.CaptureOptions.InstrumentedFunctions)
}
