// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package captureclient // import "github.com/orbit-profiler/orbit/captureclient"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/grpcprotos"
	"github.com/orbit-profiler/orbit/libpf"
	"github.com/orbit-profiler/orbit/libpf/xsync"
	"github.com/orbit-profiler/orbit/metrics"
)

var (
	// ErrCaptureRunning is returned by Capture while another capture is in progress.
	ErrCaptureRunning = errors.New("a capture is already running")
	// ErrStreamOpenFailed is returned when the capture stream cannot be opened.
	ErrStreamOpenFailed = errors.New("unable to open capture stream")
	// ErrStreamWriteFailed is returned when the capture request cannot be sent.
	ErrStreamWriteFailed = errors.New("error sending capture request")
	// ErrFinishFailed is returned when the service ends the stream with a non-OK status.
	ErrFinishFailed = errors.New("capture finished with an error")
)

// State is the lifecycle state of a CaptureClient.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateStarted
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options selects what a capture records.
type Options struct {
	// Process is the process to capture. Its PID is sent to the service. Required.
	Process *clientdata.ProcessData
	// SelectedFunctions to instrument, keyed by absolute address.
	SelectedFunctions    map[uint64]clientprotos.FunctionInfo
	SelectedTracepoints  libpf.Set[grpcprotos.TracepointInfo]
	TraceContextSwitches bool
	SamplesPerSecond     uint32
	TraceGpuDriver       bool
}

type captureState struct {
	state  State
	stream grpc.ClientStream
	cancel context.CancelFunc
	// aborted is set by AbortCapture, closeFailed when StopCapture could not half-close.
	aborted     bool
	closeFailed bool
}

// CaptureClient owns at most one capture stream at a time.
type CaptureClient struct {
	conn     grpc.ClientConnInterface
	listener CaptureListener
	state    xsync.Mutex[captureState]
}

// New returns a client that opens capture streams on conn and reports to listener.
func New(conn grpc.ClientConnInterface, listener CaptureListener) *CaptureClient {
	return &CaptureClient{
		conn:     conn,
		listener: listener,
		state:    xsync.NewMutex(captureState{}),
	}
}

// State returns the current lifecycle state.
func (c *CaptureClient) State() State {
	state := c.state.Lock()
	defer c.state.Unlock(&state)
	return state.state
}

var captureStreamDesc = grpc.StreamDesc{
	StreamName:    "Capture",
	ServerStreams: true,
	ClientStreams: true,
}

// NewCaptureRequest translates opts into the request sent to the capture service.
// Instrumented functions are ordered by absolute address.
func NewCaptureRequest(opts Options) *grpcprotos.CaptureRequest {
	captureOptions := &grpcprotos.CaptureOptions{
		PID:                  opts.Process.PID(),
		TraceContextSwitches: opts.TraceContextSwitches,
		SamplesPerSecond:     opts.SamplesPerSecond,
		TraceGpuDriver:       opts.TraceGpuDriver,
	}
	for _, address := range libpf.SortedKeys(opts.SelectedFunctions) {
		fn := opts.SelectedFunctions[address]
		captureOptions.InstrumentedFunctions = append(captureOptions.InstrumentedFunctions,
			grpcprotos.InstrumentedFunction{
				FilePath:        fn.LoadedModulePath,
				FileOffset:      fn.Address - fn.LoadBias,
				AbsoluteAddress: address,
				FunctionName:    fn.Name,
			})
	}
	if len(opts.SelectedTracepoints) > 0 {
		tracepoints := opts.SelectedTracepoints.ToSlice()
		sort.Slice(tracepoints, func(i, j int) bool {
			if tracepoints[i].Category != tracepoints[j].Category {
				return tracepoints[i].Category < tracepoints[j].Category
			}
			return tracepoints[i].Name < tracepoints[j].Name
		})
		captureOptions.InstrumentedTracepoint = tracepoints
	}
	return &grpcprotos.CaptureRequest{CaptureOptions: captureOptions}
}

// Capture runs a capture until the service closes the stream. It blocks and must not be
// called while another capture is running. The listener sees OnCaptureStarted once the
// request is sent and then exactly one terminal callback. The returned error is the one
// passed to OnCaptureFailed, if any.
func (c *CaptureClient) Capture(ctx context.Context, opts Options) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := c.state.Lock()
	if state.state != StateStopped {
		current := state.state
		c.state.Unlock(&state)
		return fmt.Errorf("%w (state %v)", ErrCaptureRunning, current)
	}
	*state = captureState{state: StateStarting, cancel: cancel}
	c.state.Unlock(&state)

	err := c.capture(streamCtx, opts)

	state = c.state.Lock()
	*state = captureState{state: StateStopped}
	c.state.Unlock(&state)
	return err
}

func (c *CaptureClient) capture(ctx context.Context, opts Options) error {
	stream, err := c.conn.NewStream(ctx, &captureStreamDesc, grpcprotos.CaptureMethod,
		grpc.ForceCodec(grpcprotos.Codec{}))
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrStreamOpenFailed, err)
		log.Error(err)
		c.listener.OnCaptureFailed(err)
		return err
	}

	if err = stream.SendMsg(NewCaptureRequest(opts)); err != nil {
		err = fmt.Errorf("%w: %v", ErrStreamWriteFailed, err)
		log.Error(err)
		c.listener.OnCaptureFailed(err)
		return err
	}
	log.Debugf("Sent CaptureRequest for pid %d", opts.Process.PID())

	state := c.state.Lock()
	state.state = StateStarted
	state.stream = stream
	c.state.Unlock(&state)

	c.listener.OnCaptureStarted(CaptureStarted{
		ProcessID:           opts.Process.PID(),
		ProcessName:         opts.Process.Name(),
		Process:             opts.Process,
		SelectedFunctions:   opts.SelectedFunctions,
		SelectedTracepoints: opts.SelectedTracepoints,
	})

	processor := NewCaptureEventProcessor(c.listener)
	defer processor.ReportMetrics()

	var responses metrics.MetricValue
	defer func() { metrics.Add(metrics.IDCaptureResponsesReceived, responses) }()
	for {
		response := &grpcprotos.CaptureResponse{}
		if err = stream.RecvMsg(response); err != nil {
			break
		}
		responses++
		processor.ProcessEvents(response.CaptureEvents)
	}
	return c.finishCapture(err)
}

// finishCapture maps the error that ended the read loop to the terminal callback.
func (c *CaptureClient) finishCapture(recvErr error) error {
	state := c.state.Lock()
	aborted, closeFailed := state.aborted, state.closeFailed
	state.state = StateStopping
	state.stream = nil
	c.state.Unlock(&state)

	canceled := status.Code(recvErr) == codes.Canceled
	// A failed half-close cancels the stream itself. That cancel deliberately ends the
	// capture as complete rather than failed, keeping the events received so far.
	if errors.Is(recvErr, io.EOF) || (closeFailed && !aborted && canceled) {
		log.Info("Capture finished")
		c.listener.OnCaptureComplete()
		return nil
	}
	if aborted && canceled {
		log.Info("Capture aborted")
		c.listener.OnCaptureCancelled()
		return nil
	}

	metrics.Add(metrics.IDCaptureFinishErrors, 1)
	err := fmt.Errorf("%w: %v", ErrFinishFailed, status.Convert(recvErr).Message())
	log.Errorf("Finishing capture: %v", err)
	c.listener.OnCaptureFailed(err)
	return err
}

// StopCapture asks the service to end the running capture by half-closing the stream.
// Events that are still in flight are processed before Capture returns. It reports
// whether a capture was stopped.
func (c *CaptureClient) StopCapture() bool {
	state := c.state.Lock()
	defer c.state.Unlock(&state)

	if state.state != StateStarted {
		return false
	}
	state.state = StateStopping
	if err := state.stream.CloseSend(); err != nil {
		// The stream is already gone, stop reading from it.
		log.Warnf("Closing capture stream: %v", err)
		state.closeFailed = true
		state.cancel()
	}
	return true
}

// AbortCapture cancels the running capture without waiting for the service. The listener
// sees OnCaptureCancelled. It reports whether a capture was aborted.
func (c *CaptureClient) AbortCapture() bool {
	state := c.state.Lock()
	defer c.state.Unlock(&state)

	if state.state != StateStarted && state.state != StateStopping {
		return false
	}
	state.state = StateStopping
	state.aborted = true
	state.cancel()
	return true
}
