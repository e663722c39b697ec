// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package clientdata implements the client side model of a profiled process: its memory
// map, the symbols of its modules and the callstacks sampled during a capture.
package clientdata // import "github.com/orbit-profiler/orbit/clientdata"
