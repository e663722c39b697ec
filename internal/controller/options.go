// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/orbit-profiler/orbit/internal/controller"

import (
	"context"

	"google.golang.org/grpc"

	"github.com/orbit-profiler/orbit/capturestore"
)

// StoreFactory returns the capture store of a bucket.
type StoreFactory func(ctx context.Context, bucket string) (*capturestore.Store, error)

type Option interface {
	applyOption(*Controller) *Controller
}
type controllerOptionFunc func(*Controller) *Controller

func (f controllerOptionFunc) applyOption(c *Controller) *Controller {
	return f(c)
}

// WithConnection makes the controller use conn instead of dialing the capture service.
// The connection is not closed by the controller.
func WithConnection(conn grpc.ClientConnInterface) Option {
	return controllerOptionFunc(func(c *Controller) *Controller {
		c.conn = conn
		return c
	})
}

// WithStoreFactory sets how capture stores are created.
// This defaults to [capturestore.NewFromDefaultConfig].
func WithStoreFactory(factory StoreFactory) Option {
	return controllerOptionFunc(func(c *Controller) *Controller {
		c.storeFactory = factory
		return c
	})
}
