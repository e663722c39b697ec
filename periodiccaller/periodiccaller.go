// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package periodiccaller allows periodic calls of functions.
package periodiccaller // import "github.com/orbit-profiler/orbit/periodiccaller"

import (
	"context"
	"sync"
	"time"
)

// Start calls callback every interval until ctx is canceled or the returned function is
// called. The returned function waits for a running callback to return, so no callback
// runs once it returned.
func Start(ctx context.Context, interval time.Duration, callback func()) func() {
	return StartWithManualTrigger(ctx, interval, nil, func(bool) { callback() })
}

// StartWithManualTrigger is like Start, but a receive on trigger also calls callback
// immediately, with manualTrigger set. trigger may be nil.
func StartWithManualTrigger(ctx context.Context, interval time.Duration,
	trigger <-chan struct{}, callback func(manualTrigger bool)) func() {
	ctx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				callback(false)
			case <-trigger:
				callback(true)
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}
