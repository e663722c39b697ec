// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package calltree_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit-profiler/orbit/calltree"
	"github.com/orbit-profiler/orbit/captureclient"
	"github.com/orbit-profiler/orbit/capturedata"
	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/grpcprotos"
	"github.com/orbit-profiler/orbit/samplingdata"
)

const (
	mainAddress uint64 = 0x1000
	fooAddress  uint64 = 0x2000
	barAddress  uint64 = 0x3000
	tid         int32  = 42
	otherTID    int32  = 43
)

// newTestCapture knows main, foo and bar from address infos one byte into each function.
func newTestCapture() *capturedata.CaptureData {
	capture := capturedata.New(captureclient.CaptureStarted{ProcessID: 1}, nil)
	for address, name := range map[uint64]string{
		mainAddress: "main",
		fooAddress:  "foo",
		barAddress:  "bar",
	} {
		capture.AddAddressInfo(clientprotos.LinuxAddressInfo{
			AbsoluteAddress:  address + 1,
			FunctionName:     name,
			ModulePath:       "/bin/app",
			OffsetInFunction: 1,
		})
	}
	capture.AddThreadName(tid, "worker")
	return capture
}

func addSamples(capture *capturedata.CaptureData, thread int32, count int,
	cs clientdata.CallStack) {
	capture.CallstackData().AddUniqueCallstack(cs)
	for i := range count {
		capture.CallstackData().AddCallstackEvent(clientprotos.CallstackEvent{
			Time:        uint64(i),
			CallstackID: cs.ID,
			ThreadID:    thread,
		})
	}
}

// buildSamples records on tid: 2x foo <- main, 1x main, 1x bar <- foo <- main and one
// frame pointer unwinding error in bar. otherTID has 1x foo <- main.
func buildSamples(t *testing.T) (*samplingdata.PostProcessedSamplingData,
	*capturedata.CaptureData) {
	t.Helper()
	capture := newTestCapture()
	complete := grpcprotos.CallstackComplete
	addSamples(capture, tid, 2,
		clientdata.NewCallStack([]uint64{fooAddress + 1, mainAddress + 1}, complete))
	addSamples(capture, tid, 1, clientdata.NewCallStack([]uint64{mainAddress + 1}, complete))
	addSamples(capture, tid, 1, clientdata.NewCallStack(
		[]uint64{barAddress + 1, fooAddress + 1, mainAddress + 1}, complete))
	addSamples(capture, tid, 1, clientdata.NewCallStack(
		[]uint64{barAddress + 1, 0xdead}, grpcprotos.CallstackFramePointerUnwindingError))
	addSamples(capture, otherTID, 1,
		clientdata.NewCallStack([]uint64{fooAddress + 1, mainAddress + 1}, complete))

	data, err := samplingdata.CreatePostProcessedSamplingData(capture.CallstackData(), capture,
		samplingdata.Options{GenerateSummary: true})
	require.NoError(t, err)
	return data, capture
}

// requireConsistent checks that each node counts its children and exclusive samples.
func requireConsistent(t *testing.T, root *calltree.CallTreeNode) {
	t.Helper()
	calltree.Walk(root, func(node *calltree.CallTreeNode, _ int) bool {
		sum := node.ExclusiveCount()
		for _, child := range node.Children() {
			require.Same(t, node, child.Parent())
			sum += child.SampleCount()
		}
		require.Equal(t, node.SampleCount(), sum, node.DisplayName())
		return true
	})
}

func TestTopDownView(t *testing.T) {
	data, capture := buildSamples(t)
	root := calltree.NewTopDownView(data, capture)
	requireConsistent(t, root)

	assert.Equal(t, calltree.KindRoot, root.Kind())
	assert.Equal(t, uint64(6), root.SampleCount())
	assert.InDelta(t, 100, root.GetPercentOfParent(), 0.001)

	threads := root.Children()
	require.Len(t, threads, 2)
	worker := threads[0]
	assert.Equal(t, calltree.KindThread, worker.Kind())
	assert.Equal(t, "worker [42]", worker.DisplayName())
	assert.Equal(t, uint64(5), worker.SampleCount())
	assert.Equal(t, "[43]", threads[1].DisplayName())

	workerChildren := worker.Children()
	require.Len(t, workerChildren, 2)
	main := workerChildren[0]
	assert.Equal(t, "main", main.FunctionName())
	assert.Equal(t, mainAddress, main.FunctionAddress())
	assert.Equal(t, "/bin/app", main.ModulePath())
	assert.Equal(t, uint64(4), main.SampleCount())
	assert.Equal(t, uint64(1), main.ExclusiveCount())
	assert.InDelta(t, 80, main.GetPercentOfParent(), 0.001)
	assert.InDelta(t, 80, main.GetInclusivePercent(worker.SampleCount()), 0.001)
	assert.InDelta(t, 20, main.GetExclusivePercent(worker.SampleCount()), 0.001)

	foo := main.Children()[0]
	assert.Equal(t, "foo", foo.FunctionName())
	assert.Equal(t, uint64(3), foo.SampleCount())
	assert.Equal(t, uint64(2), foo.ExclusiveCount())
	require.Len(t, foo.Children(), 1)
	assert.Equal(t, "bar", foo.Children()[0].FunctionName())

	umbrella := workerChildren[1]
	assert.Equal(t, calltree.KindUnwindErrors, umbrella.Kind())
	assert.Equal(t, calltree.UnwindErrorsName, umbrella.DisplayName())
	assert.Equal(t, uint64(1), umbrella.SampleCount())
	assert.InDelta(t, 20, umbrella.GetPercentOfParent(), 0.001)

	require.Len(t, umbrella.Children(), 1)
	errorType := umbrella.Children()[0]
	assert.Equal(t, calltree.KindUnwindErrorType, errorType.Kind())
	assert.Equal(t, grpcprotos.CallstackFramePointerUnwindingError, errorType.CallstackType())
	assert.Equal(t, grpcprotos.CallstackFramePointerUnwindingError.String(),
		errorType.DisplayName())
	assert.Len(t, errorType.CallstackEvents(), 1)

	require.Len(t, errorType.Children(), 1)
	innermost := errorType.Children()[0]
	assert.Equal(t, "bar", innermost.FunctionName())
	assert.Equal(t, uint64(1), innermost.ExclusiveCount())
	assert.Empty(t, innermost.Children())

	assert.Len(t, root.CallstackEvents(), 6)
}

func TestBottomUpView(t *testing.T) {
	data, capture := buildSamples(t)
	root := calltree.NewBottomUpView(data, capture)
	requireConsistent(t, root)

	assert.Equal(t, uint64(6), root.SampleCount())
	children := root.Children()
	require.Len(t, children, 4)

	// Innermost frames by descending count, then the unwind errors.
	foo := children[0]
	assert.Equal(t, "foo", foo.FunctionName())
	assert.Equal(t, uint64(3), foo.SampleCount())
	assert.Zero(t, foo.ExclusiveCount())
	require.Len(t, foo.Children(), 1)
	assert.Equal(t, "main", foo.Children()[0].FunctionName())
	assert.Equal(t, uint64(3), foo.Children()[0].ExclusiveCount())

	assert.Equal(t, "main", children[1].FunctionName())
	assert.Equal(t, uint64(1), children[1].SampleCount())
	assert.Equal(t, "bar", children[2].FunctionName())
	assert.Equal(t, []string{"foo"}, names(children[2].Children()))
	assert.Equal(t, calltree.KindUnwindErrors, children[3].Kind())
	assert.Equal(t, uint64(1), children[3].SampleCount())
}

func names(nodes []*calltree.CallTreeNode) []string {
	result := make([]string, 0, len(nodes))
	for _, node := range nodes {
		result = append(result, node.FunctionName())
	}
	return result
}

func TestEmptyView(t *testing.T) {
	capture := newTestCapture()
	data, err := samplingdata.CreatePostProcessedSamplingData(capture.CallstackData(), capture,
		samplingdata.Options{})
	require.NoError(t, err)

	root := calltree.NewTopDownView(data, capture)
	assert.Zero(t, root.SampleCount())
	assert.Empty(t, root.Children())
	assert.Zero(t, root.GetInclusivePercent(0))
	assert.InDelta(t, 100, root.GetPercentOfParent(), 0.001)
}

func TestWalkSkipsChildren(t *testing.T) {
	data, capture := buildSamples(t)
	root := calltree.NewTopDownView(data, capture)

	var visited []calltree.NodeKind
	calltree.Walk(root, func(node *calltree.CallTreeNode, depth int) bool {
		visited = append(visited, node.Kind())
		return depth < 1
	})
	assert.Equal(t, []calltree.NodeKind{calltree.KindRoot, calltree.KindThread,
		calltree.KindThread}, visited)
}
