// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/orbit-profiler/orbit/internal/controller"

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/orbit-profiler/orbit/calltree"
	"github.com/orbit-profiler/orbit/capturedata"
	"github.com/orbit-profiler/orbit/samplingdata"
)

// ReportOptions selects what WriteReport prints.
type ReportOptions struct {
	// TopFunctions is the number of sampled functions listed per thread.
	TopFunctions int
	// TreeDepth limits the printed call tree levels. Zero omits the tree.
	TreeDepth int
	BottomUp  bool
}

// WriteReport prints the sampling statistics of data followed by its call tree.
func WriteReport(w io.Writer, data *capturedata.CaptureData, opts ReportOptions) error {
	sampling, err := samplingdata.CreatePostProcessedSamplingData(data.CallstackData(), data,
		samplingdata.Options{GenerateSummary: true})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Process %s: %d timers, %d callstack samples\n", processLabel(data),
		data.TimerCount(), data.CallstackData().GetCallstackEventsCount())
	for _, thread := range sampling.GetThreadSampleData() {
		name := "All threads"
		if thread.ThreadID != samplingdata.AllThreadsTID {
			name = fmt.Sprintf("%s [%d]", data.GetThreadName(thread.ThreadID),
				thread.ThreadID)
		}
		fmt.Fprintf(tw, "\n%s: %d samples, %d unwinding errors\n", strings.TrimSpace(name),
			thread.SamplesCount, thread.UnwindingErrorsCount)
		fmt.Fprintln(tw, "Inclusive\t%\tExclusive\t%\t Function\t")
		functions := thread.SampledFunctions
		if opts.TopFunctions > 0 && len(functions) > opts.TopFunctions {
			functions = functions[:opts.TopFunctions]
		}
		for _, fn := range functions {
			fmt.Fprintf(tw, "%d\t%.2f\t%d\t%.2f\t %s\t\n", fn.Inclusive, fn.InclusivePercent,
				fn.Exclusive, fn.ExclusivePercent, fn.Name)
		}
	}
	if err = tw.Flush(); err != nil {
		return err
	}

	if opts.TreeDepth <= 0 {
		return nil
	}
	root := calltree.NewTopDownView(sampling, data)
	title := "Top-down"
	if opts.BottomUp {
		root = calltree.NewBottomUpView(sampling, data)
		title = "Bottom-up"
	}
	fmt.Fprintf(w, "\n%s view (%d samples)\n", title, root.SampleCount())
	total := root.SampleCount()
	calltree.Walk(root, func(node *calltree.CallTreeNode, depth int) bool {
		if node == root {
			return true
		}
		fmt.Fprintf(w, "%s%6.2f%% %s\n", strings.Repeat("  ", depth-1),
			node.GetInclusivePercent(total), node.DisplayName())
		return depth < opts.TreeDepth
	})
	return nil
}
