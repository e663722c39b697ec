// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clientdata // import "github.com/orbit-profiler/orbit/clientdata"

import (
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/grpcprotos"
	"github.com/orbit-profiler/orbit/libpf"
)

// CallstackType classifies how a callstack was obtained. Everything but
// grpcprotos.CallstackComplete is an unwind error.
type CallstackType = grpcprotos.CallstackType

// CallStack is an immutable list of program counters, innermost frame first, identified by
// ID.
type CallStack struct {
	ID     uint64
	Frames []uint64
	Type   CallstackType
}

// CallstackID is the id of the callstack made of frames and typ.
func CallstackID(frames []uint64, typ CallstackType) uint64 {
	return libpf.HashCallstack(frames, int32(typ))
}

// NewCallStack builds a callstack whose id is the content hash of its frames and type.
func NewCallStack(frames []uint64, typ CallstackType) CallStack {
	return CallStack{ID: CallstackID(frames, typ), Frames: frames, Type: typ}
}

// CallStackFromInfo rebuilds a callstack stored in a capture file, keeping the stored id.
func CallStackFromInfo(info *clientprotos.CallstackInfo) CallStack {
	return CallStack{ID: info.ID, Frames: info.Frames, Type: info.Type}
}

// ToCallstackInfo converts the callstack into its file representation.
func (cs CallStack) ToCallstackInfo() clientprotos.CallstackInfo {
	return clientprotos.CallstackInfo{ID: cs.ID, Frames: cs.Frames, Type: cs.Type}
}

func (cs CallStack) IsComplete() bool {
	return cs.Type.IsComplete()
}

// InnermostFrame returns the frame that was executing when the sample was taken.
func (cs CallStack) InnermostFrame() (uint64, bool) {
	if len(cs.Frames) == 0 {
		return 0, false
	}
	return cs.Frames[0], true
}

// OutermostFrame returns the frame the unwinder stopped at.
func (cs CallStack) OutermostFrame() (uint64, bool) {
	if len(cs.Frames) == 0 {
		return 0, false
	}
	return cs.Frames[len(cs.Frames)-1], true
}
