// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package captureclient runs live captures against a capture service and turns the
// streamed events into CaptureListener callbacks.
package captureclient // import "github.com/orbit-profiler/orbit/captureclient"
