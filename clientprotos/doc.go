// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package clientprotos holds the model records a capture is made of. The same messages are
// delivered to capture listeners and stored in capture files.
package clientprotos // import "github.com/orbit-profiler/orbit/clientprotos"

import "github.com/orbit-profiler/orbit/internal/wire"

func marshal(m wire.Appender) ([]byte, error) {
	return m.AppendTo(nil), nil
}
