// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package samplingdata aggregates the callstack samples of a capture per thread: sample
// counts per callstack, and inclusive, exclusive and unwind-error counts per function.
// Frames are resolved to the start address of their function first, so samples at
// different instructions of one function count for the same function.
package samplingdata // import "github.com/orbit-profiler/orbit/samplingdata"
