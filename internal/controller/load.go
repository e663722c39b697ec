// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/orbit-profiler/orbit/internal/controller"

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/orbit-profiler/orbit/capturedata"
	"github.com/orbit-profiler/orbit/capturefile"
	"github.com/orbit-profiler/orbit/capturestore"
	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/tracingbuffer"
)

// Load reads the capture at location, a local path or an s3:// URL, into a CaptureData.
// Cancelling ctx stops loading; the data loaded until then is returned together with
// capturedata.ErrCaptureCancelled.
func (c *Controller) Load(ctx context.Context, location string) (*capturedata.CaptureData,
	error) {
	consumer := capturedata.NewConsumer(&tracingbuffer.TracingBuffer{},
		clientdata.NewModuleManager())

	var cancel atomic.Bool
	stop := context.AfterFunc(ctx, func() { cancel.Store(true) })
	defer stop()

	var err error
	if capturestore.IsURL(location) {
		err = c.loadObject(ctx, location, consumer, &cancel)
	} else {
		err = capturefile.Load(location, consumer.Listener(), &cancel)
	}
	consumer.Flush()

	data := consumer.Data()
	if data == nil {
		return nil, NewErrorWithExitCode(err, ExitFailure)
	}
	if err = consumer.Result(); err != nil {
		code := ExitFailure
		if errors.Is(err, capturedata.ErrCaptureCancelled) {
			code = ExitCaptureCanceled
		}
		return data, NewErrorWithExitCode(err, code)
	}
	return data, nil
}

func (c *Controller) loadObject(ctx context.Context, location string,
	consumer *capturedata.Consumer, cancel *atomic.Bool) error {
	bucket, key, err := capturestore.ParseURL(location)
	if err != nil {
		consumer.Listener().OnCaptureFailed(err)
		return err
	}
	store, err := c.storeFactory(ctx, bucket)
	if err != nil {
		consumer.Listener().OnCaptureFailed(err)
		return err
	}
	object, err := store.Open(ctx, key)
	if err != nil {
		err = fmt.Errorf("%w %s: %v", capturefile.ErrStreamOpen, location, err)
		consumer.Listener().OnCaptureFailed(err)
		return err
	}
	defer object.Close()
	return capturefile.LoadStream(object, location, consumer.Listener(), cancel)
}
