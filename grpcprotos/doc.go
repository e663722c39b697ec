// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package grpcprotos holds the messages exchanged with the capture service. Messages are
// encoded by hand and stay wire compatible with the protobuf definitions of the service.
package grpcprotos // import "github.com/orbit-profiler/orbit/grpcprotos"

import "github.com/orbit-profiler/orbit/internal/wire"

func marshal(m wire.Appender) ([]byte, error) {
	return m.AppendTo(nil), nil
}
