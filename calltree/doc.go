// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package calltree builds top-down and bottom-up call trees from post-processed samples.
//
// Every node counts the samples of its subtree: the sample count of a node is the sum of
// the counts of its children plus the number of its exclusive callstack events, the
// samples whose path ends at the node. Callstacks with an unwind error are kept apart under
// an unwind errors node with one child per callstack type, holding only the innermost
// frame of each affected callstack.
package calltree // import "github.com/orbit-profiler/orbit/calltree"
