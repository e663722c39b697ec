// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/orbit-profiler/orbit/internal/controller"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/orbit-profiler/orbit/captureclient"
	"github.com/orbit-profiler/orbit/capturedata"
	"github.com/orbit-profiler/orbit/capturefile"
	"github.com/orbit-profiler/orbit/capturestore"
	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/tracingbuffer"
)

const (
	defaultMaxRPCMsgSize     = 32 * MiB
	defaultConnectionTimeout = 10 * time.Second
	defaultStopTimeout       = 10 * time.Second
	stopRetryInterval        = 10 * time.Millisecond
)

// ErrNotStarted is returned when the capture service never accepted the capture.
var ErrNotStarted = errors.New("capture did not start")

// Result describes a finished capture.
type Result struct {
	Data *capturedata.CaptureData
	// OutputPath is the saved capture file, empty if nothing was saved.
	OutputPath string
	// UploadURL is the location of the uploaded file, empty if it was not uploaded.
	UploadURL string
}

// Controller is an instance that runs, manages and stops a capture.
type Controller struct {
	config       *Config
	conn         grpc.ClientConnInterface
	storeFactory StoreFactory
}

// New creates a new controller
func New(cfg *Config, opts ...Option) *Controller {
	c := &Controller{
		config:       cfg,
		storeFactory: capturestore.NewFromDefaultConfig,
	}
	for _, opt := range opts {
		c = opt.applyOption(c)
	}
	return c
}

func (c *Controller) dialConfig() *captureclient.DialConfig {
	cfg := &captureclient.DialConfig{
		Address:           c.config.ServiceAddr,
		DisableTLS:        c.config.DisableTLS,
		MaxRPCMsgSize:     c.config.MaxRPCMsgSize,
		ConnectionTimeout: c.config.ConnectionTimeout,
		MaxRetries:        uint32(c.config.MaxRetries),
	}
	if cfg.MaxRPCMsgSize <= 0 {
		cfg.MaxRPCMsgSize = defaultMaxRPCMsgSize
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = defaultConnectionTimeout
	}
	return cfg
}

func (c *Controller) captureOptions() (captureclient.Options, error) {
	functions, err := c.config.SelectedFunctions()
	if err != nil {
		return captureclient.Options{}, err
	}
	tracepoints, err := c.config.SelectedTracepoints()
	if err != nil {
		return captureclient.Options{}, err
	}
	return captureclient.Options{
		Process: clientdata.NewProcessDataFromInfo(clientdata.ProcessInfo{
			PID:  int32(c.config.PID),
			Name: c.config.ProcessName,
		}),
		SelectedFunctions:    functions,
		SelectedTracepoints:  tracepoints,
		TraceContextSwitches: c.config.TraceContextSwitches,
		SamplesPerSecond:     uint32(c.config.SamplesPerSecond),
		TraceGpuDriver:       c.config.TraceGpuDriver,
	}, nil
}

// Run captures until the configured duration elapsed, ctx is done or the service ends the
// capture. Cancelling ctx stops the capture gracefully: events still in flight are
// received before the capture file is written. The capture file is saved and uploaded as
// configured, also when the capture failed after it started.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	if err := c.config.Validate(); err != nil {
		return nil, NewErrorWithExitCode(err, ExitParseError)
	}
	opts, err := c.captureOptions()
	if err != nil {
		return nil, NewErrorWithExitCode(err, ExitParseError)
	}

	conn := c.conn
	if conn == nil {
		clientConn, err := captureclient.Dial(ctx, c.dialConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to capture service %s: %w",
				c.config.ServiceAddr, err)
		}
		defer clientConn.Close()
		conn = clientConn
	}

	// The capture outlives ctx so that a stop request can drain the stream.
	captureCtx, cancelCapture := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelCapture()

	consumer := capturedata.NewConsumer(&tracingbuffer.TracingBuffer{},
		clientdata.NewModuleManager())
	stopDraining := consumer.Start(captureCtx, c.config.DrainInterval)
	client := captureclient.New(conn, consumer.Listener())
	captureDone := make(chan struct{})

	g := errgroup.Group{}
	g.Go(func() error {
		defer close(captureDone)
		return client.Capture(captureCtx, opts)
	})
	g.Go(func() error {
		c.stopCapture(ctx, client, captureDone)
		return nil
	})
	captureErr := g.Wait()
	stopDraining()
	consumer.Flush()

	data := consumer.Data()
	if data == nil {
		if captureErr == nil {
			captureErr = ErrNotStarted
		}
		return nil, NewErrorWithExitCode(captureErr, ExitFailure)
	}
	log.Infof("Captured %d timers and %d callstack samples of %s",
		data.TimerCount(), data.CallstackData().GetCallstackEventsCount(),
		processLabel(data))

	result := &Result{Data: data}
	if err = c.save(captureCtx, result); err != nil {
		return result, NewErrorWithExitCode(err, ExitFailure)
	}

	switch err = consumer.Result(); {
	case err == nil:
		return result, nil
	case errors.Is(err, capturedata.ErrCaptureCancelled):
		return result, NewErrorWithExitCode(err, ExitCaptureCanceled)
	default:
		return result, NewErrorWithExitCode(err, ExitCaptureFailed)
	}
}

// stopCapture asks the service to end the capture once it ran for the configured
// duration or ctx is done. The capture is aborted when the service does not end it within
// the stop timeout.
func (c *Controller) stopCapture(ctx context.Context, client *captureclient.CaptureClient,
	captureDone <-chan struct{}) {
	var timeout <-chan time.Time
	if c.config.Duration > 0 {
		timer := time.NewTimer(c.config.Duration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-captureDone:
		return
	case <-timeout:
		log.Infof("Capture duration of %v reached", c.config.Duration)
	case <-ctx.Done():
		log.Info("Stopping capture")
	}
	// A capture that is still starting cannot be stopped yet.
	for !client.StopCapture() && client.State() != captureclient.StateStopping {
		select {
		case <-captureDone:
			return
		case <-time.After(stopRetryInterval):
		}
	}

	stopTimeout := c.config.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-captureDone:
	case <-timer.C:
		log.Warnf("Capture service did not finish the capture within %v, aborting",
			stopTimeout)
		client.AbortCapture()
		<-captureDone
	}
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func processLabel(data *capturedata.CaptureData) string {
	if name := data.ProcessName(); name != "" {
		return fmt.Sprintf("%s [%d]", name, data.ProcessID())
	}
	return fmt.Sprintf("[%d]", data.ProcessID())
}

// uploadFileName names the local file of an upload after the process and a fresh id.
func uploadFileName(data *capturedata.CaptureData) string {
	name := unsafeFileChars.ReplaceAllString(data.ProcessName(), "_")
	if name == "" {
		name = fmt.Sprintf("pid%d", data.ProcessID())
	}
	return fmt.Sprintf("%s_%s%s", name, uuid.NewString(), capturestore.FileExtension)
}

func (c *Controller) save(ctx context.Context, result *Result) error {
	outputPath := c.config.OutputPath
	if outputPath == "" && c.config.UploadURL == "" {
		return nil
	}
	if outputPath == "" {
		temp, err := os.MkdirTemp("", "orbit-capture")
		if err != nil {
			return err
		}
		defer os.RemoveAll(temp)
		outputPath = filepath.Join(temp, uploadFileName(result.Data))
	} else {
		result.OutputPath = outputPath
	}

	data := result.Data
	err := capturefile.SaveFile(outputPath, data.ToCaptureInfo(), data.Timers(),
		capturefile.Options{Compress: c.config.Compress})
	if err != nil {
		return fmt.Errorf("failed to save capture: %w", err)
	}

	if c.config.UploadURL == "" {
		return nil
	}
	bucket, key, err := uploadLocation(c.config.UploadURL)
	if err != nil {
		return err
	}
	store, err := c.storeFactory(ctx, bucket)
	if err != nil {
		return err
	}
	if err = store.Upload(ctx, key, outputPath); err != nil {
		return err
	}
	result.UploadURL = store.URL(key)
	return nil
}

// uploadLocation splits the upload URL. A URL ending in a slash names a prefix below
// which a fresh key is generated.
func uploadLocation(location string) (bucket, key string, err error) {
	if strings.HasSuffix(location, "/") {
		location += capturestore.NewKey("")
	}
	return capturestore.ParseURL(location)
}
