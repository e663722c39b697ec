// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package grpcprotos // import "github.com/orbit-profiler/orbit/grpcprotos"

import (
	"fmt"

	"github.com/orbit-profiler/orbit/internal/wire"
)

// Codec lets gRPC carry the messages of this package. It registers under the "proto" name
// so the content-subtype on the wire is the one the capture service expects.
type Codec struct{}

func (Codec) Name() string {
	return "proto"
}

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wire.Message)
	if !ok {
		return nil, fmt.Errorf("cannot marshal %T", v)
	}
	return m.Marshal()
}

func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wire.Message)
	if !ok {
		return fmt.Errorf("cannot unmarshal into %T", v)
	}
	return m.Unmarshal(data)
}
