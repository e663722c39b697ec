// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package calltree // import "github.com/orbit-profiler/orbit/calltree"

import (
	"slices"

	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/samplingdata"
)

// Capture names the functions and threads of a capture.
type Capture interface {
	GetFunctionNameByAddress(absoluteAddress uint64) string
	GetModulePathByAddress(absoluteAddress uint64) string
	GetThreadName(tid int32) string
}

// sample is a resolved callstack with the events sampling it.
type sample struct {
	callstack clientdata.CallStack
	events    []clientprotos.CallstackEvent
}

// samplesOf returns the samples of thread ordered by original callstack id.
func samplesOf(data *samplingdata.PostProcessedSamplingData,
	thread *samplingdata.ThreadSampleData) []sample {
	ids := make([]uint64, 0, len(thread.SampledCallstackIDToEvents))
	for id := range thread.SampledCallstackIDToEvents {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	samples := make([]sample, 0, len(ids))
	for _, id := range ids {
		cs, ok := data.GetResolvedCallstack(id)
		if !ok || len(cs.Frames) == 0 {
			continue
		}
		samples = append(samples, sample{
			callstack: cs,
			events:    thread.SampledCallstackIDToEvents[id],
		})
	}
	return samples
}

// addUnwindError files s under the unwind errors node of parent, keeping only its
// innermost frame.
func addUnwindError(parent *CallTreeNode, s sample, capture Capture) {
	umbrella := parent.unwindErrors()
	umbrella.addSamples(s.events)
	typeNode := umbrella.errorTypeChild(s.callstack.Type)
	typeNode.addSamples(s.events)
	function := typeNode.functionChild(s.callstack.Frames[0], capture)
	function.addSamples(s.events)
	function.addExclusive(s.events)
}

// NewTopDownView builds a tree of root, then one node per thread, then the outermost
// frame of each callstack down to the innermost one. The summary over all threads is not
// part of the tree.
func NewTopDownView(data *samplingdata.PostProcessedSamplingData,
	capture Capture) *CallTreeNode {
	root := newNode(KindRoot, nil)
	for _, thread := range data.GetThreadSampleData() {
		if thread.ThreadID == samplingdata.AllThreadsTID {
			continue
		}
		threadNode := root.threadChild(thread.ThreadID, capture.GetThreadName(thread.ThreadID))
		for _, s := range samplesOf(data, thread) {
			root.addSamples(s.events)
			threadNode.addSamples(s.events)
			if !s.callstack.IsComplete() {
				addUnwindError(threadNode, s, capture)
				continue
			}
			node := threadNode
			for _, frame := range slices.Backward(s.callstack.Frames) {
				node = node.functionChild(frame, capture)
				node.addSamples(s.events)
			}
			node.addExclusive(s.events)
		}
	}
	return root
}

// NewBottomUpView builds a tree of root, then the innermost frame of each callstack up to
// the outermost one, merging all threads.
func NewBottomUpView(data *samplingdata.PostProcessedSamplingData,
	capture Capture) *CallTreeNode {
	root := newNode(KindRoot, nil)
	for _, thread := range data.GetThreadSampleData() {
		if thread.ThreadID == samplingdata.AllThreadsTID {
			continue
		}
		for _, s := range samplesOf(data, thread) {
			root.addSamples(s.events)
			if !s.callstack.IsComplete() {
				addUnwindError(root, s, capture)
				continue
			}
			node := root
			for _, frame := range s.callstack.Frames {
				node = node.functionChild(frame, capture)
				node.addSamples(s.events)
			}
			node.addExclusive(s.events)
		}
	}
	return root
}

// Walk calls fn for node and its descendants in display order, depth first. Children of a
// node are skipped when fn returns false for it.
func Walk(node *CallTreeNode, fn func(node *CallTreeNode, depth int) bool) {
	walk(node, 0, fn)
}

func walk(node *CallTreeNode, depth int, fn func(node *CallTreeNode, depth int) bool) {
	if !fn(node, depth) {
		return
	}
	for _, child := range node.Children() {
		walk(child, depth+1, fn)
	}
}
