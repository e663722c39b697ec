// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package calltree // import "github.com/orbit-profiler/orbit/calltree"

import (
	"cmp"
	"fmt"
	"slices"

	"golang.org/x/exp/constraints"

	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/libpf/xsync"
)

// NodeKind tells what a CallTreeNode stands for.
type NodeKind uint8

const (
	KindRoot NodeKind = iota
	KindThread
	KindFunction
	KindUnwindErrors
	KindUnwindErrorType
)

func (k NodeKind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindThread:
		return "thread"
	case KindFunction:
		return "function"
	case KindUnwindErrors:
		return "unwind errors"
	case KindUnwindErrorType:
		return "unwind error type"
	default:
		return fmt.Sprintf("unknown node kind %d", uint8(k))
	}
}

// UnwindErrorsName is the display name of the unwind errors node.
const UnwindErrorsName = "[Unwind errors]"

type childrenCache struct {
	nodes []*CallTreeNode
	valid bool
}

// CallTreeNode is a node of a call tree. Nodes are only modified while a view is built;
// reading a finished tree from several goroutines is safe.
type CallTreeNode struct {
	kind   NodeKind
	parent *CallTreeNode

	threadID        int32
	threadName      string
	functionAddress uint64
	functionName    string
	modulePath      string
	callstackType   clientdata.CallstackType

	sampleCount     uint64
	exclusiveEvents []clientprotos.CallstackEvent

	threadChildren    map[int32]*CallTreeNode
	functionChildren  map[uint64]*CallTreeNode
	errorTypeChildren map[clientdata.CallstackType]*CallTreeNode
	unwindErrorsChild *CallTreeNode

	cache xsync.Mutex[childrenCache]
}

func newNode(kind NodeKind, parent *CallTreeNode) *CallTreeNode {
	return &CallTreeNode{kind: kind, parent: parent}
}

func (n *CallTreeNode) Kind() NodeKind                          { return n.kind }
func (n *CallTreeNode) Parent() *CallTreeNode                   { return n.parent }
func (n *CallTreeNode) ThreadID() int32                         { return n.threadID }
func (n *CallTreeNode) ThreadName() string                      { return n.threadName }
func (n *CallTreeNode) FunctionAddress() uint64                 { return n.functionAddress }
func (n *CallTreeNode) FunctionName() string                    { return n.functionName }
func (n *CallTreeNode) ModulePath() string                      { return n.modulePath }
func (n *CallTreeNode) CallstackType() clientdata.CallstackType { return n.callstackType }
func (n *CallTreeNode) SampleCount() uint64                     { return n.sampleCount }

// ExclusiveCallstackEvents returns the samples whose path ends at this node.
func (n *CallTreeNode) ExclusiveCallstackEvents() []clientprotos.CallstackEvent {
	return n.exclusiveEvents
}

func (n *CallTreeNode) ExclusiveCount() uint64 {
	return uint64(len(n.exclusiveEvents))
}

// CallstackEvents returns the samples of the subtree of this node.
func (n *CallTreeNode) CallstackEvents() []clientprotos.CallstackEvent {
	events := slices.Clone(n.exclusiveEvents)
	for _, child := range n.Children() {
		events = append(events, child.CallstackEvents()...)
	}
	return events
}

// DisplayName names the node the way a tree widget shows it.
func (n *CallTreeNode) DisplayName() string {
	switch n.kind {
	case KindThread:
		if n.threadName == "" {
			return fmt.Sprintf("[%d]", n.threadID)
		}
		return fmt.Sprintf("%s [%d]", n.threadName, n.threadID)
	case KindFunction:
		return n.functionName
	case KindUnwindErrors:
		return UnwindErrorsName
	case KindUnwindErrorType:
		return n.callstackType.String()
	default:
		return ""
	}
}

// Children returns the children in display order: threads, then functions, then unwind
// error types, each by descending sample count, then the unwind errors node. The slice is
// shared between calls and must not be modified.
func (n *CallTreeNode) Children() []*CallTreeNode {
	cache := n.cache.Lock()
	defer n.cache.Unlock(&cache)
	if cache.valid {
		return cache.nodes
	}

	nodes := make([]*CallTreeNode, 0, n.ChildCount())
	nodes = appendSorted(nodes, n.threadChildren, func(a, b *CallTreeNode) int {
		return cmp.Compare(a.threadID, b.threadID)
	})
	nodes = appendSorted(nodes, n.functionChildren, func(a, b *CallTreeNode) int {
		return cmp.Compare(a.functionAddress, b.functionAddress)
	})
	nodes = appendSorted(nodes, n.errorTypeChildren, func(a, b *CallTreeNode) int {
		return cmp.Compare(a.callstackType, b.callstackType)
	})
	if n.unwindErrorsChild != nil {
		nodes = append(nodes, n.unwindErrorsChild)
	}
	cache.nodes = nodes
	cache.valid = true
	return nodes
}

func appendSorted[K comparable](nodes []*CallTreeNode, children map[K]*CallTreeNode,
	tieBreak func(a, b *CallTreeNode) int) []*CallTreeNode {
	start := len(nodes)
	for _, child := range children {
		nodes = append(nodes, child)
	}
	slices.SortFunc(nodes[start:], func(a, b *CallTreeNode) int {
		return cmp.Or(cmp.Compare(b.sampleCount, a.sampleCount), tieBreak(a, b))
	})
	return nodes
}

func (n *CallTreeNode) ChildCount() int {
	count := len(n.threadChildren) + len(n.functionChildren) + len(n.errorTypeChildren)
	if n.unwindErrorsChild != nil {
		count++
	}
	return count
}

func (n *CallTreeNode) invalidateChildren() {
	cache := n.cache.Lock()
	cache.nodes = nil
	cache.valid = false
	n.cache.Unlock(&cache)
}

// GetInclusivePercent returns the share of total samples in the subtree of this node.
func (n *CallTreeNode) GetInclusivePercent(total uint64) float32 {
	return percent(n.sampleCount, total)
}

// GetExclusivePercent returns the share of total samples ending at this node.
func (n *CallTreeNode) GetExclusivePercent(total uint64) float32 {
	return percent(n.ExclusiveCount(), total)
}

// GetPercentOfParent returns the share of the samples of the parent in this node. The root
// is 100 percent of itself.
func (n *CallTreeNode) GetPercentOfParent() float32 {
	if n.parent == nil {
		return 100
	}
	return percent(n.sampleCount, n.parent.sampleCount)
}

func percent[T constraints.Integer](part, total T) float32 {
	if total == 0 {
		return 0
	}
	return 100 * float32(part) / float32(total)
}

func (n *CallTreeNode) addSamples(events []clientprotos.CallstackEvent) {
	n.sampleCount += uint64(len(events))
}

func (n *CallTreeNode) addExclusive(events []clientprotos.CallstackEvent) {
	n.exclusiveEvents = append(n.exclusiveEvents, events...)
}

func (n *CallTreeNode) threadChild(tid int32, name string) *CallTreeNode {
	if child, ok := n.threadChildren[tid]; ok {
		return child
	}
	if n.threadChildren == nil {
		n.threadChildren = map[int32]*CallTreeNode{}
	}
	child := newNode(KindThread, n)
	child.threadID = tid
	child.threadName = name
	n.threadChildren[tid] = child
	n.invalidateChildren()
	return child
}

func (n *CallTreeNode) functionChild(address uint64, capture Capture) *CallTreeNode {
	if child, ok := n.functionChildren[address]; ok {
		return child
	}
	if n.functionChildren == nil {
		n.functionChildren = map[uint64]*CallTreeNode{}
	}
	child := newNode(KindFunction, n)
	child.functionAddress = address
	child.functionName = capture.GetFunctionNameByAddress(address)
	child.modulePath = capture.GetModulePathByAddress(address)
	n.functionChildren[address] = child
	n.invalidateChildren()
	return child
}

func (n *CallTreeNode) unwindErrors() *CallTreeNode {
	if n.unwindErrorsChild == nil {
		n.unwindErrorsChild = newNode(KindUnwindErrors, n)
		n.invalidateChildren()
	}
	return n.unwindErrorsChild
}

func (n *CallTreeNode) errorTypeChild(typ clientdata.CallstackType) *CallTreeNode {
	if child, ok := n.errorTypeChildren[typ]; ok {
		return child
	}
	if n.errorTypeChildren == nil {
		n.errorTypeChildren = map[clientdata.CallstackType]*CallTreeNode{}
	}
	child := newNode(KindUnwindErrorType, n)
	child.callstackType = typ
	n.errorTypeChildren[typ] = child
	n.invalidateChildren()
	return child
}
