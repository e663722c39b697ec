// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/peterbourgon/ff/v3"

	"github.com/orbit-profiler/orbit/internal/controller"
)

const (
	// Default values for CLI flags
	defaultArgServiceAddr       = "127.0.0.1:44765"
	defaultArgMaxRPCMsgSize     = 32 * controller.MiB
	defaultArgConnectionTimeout = 10 * time.Second
	defaultArgMaxRetries        = 5
	defaultArgSamplesPerSecond  = 1000
	defaultArgDrainInterval     = 100 * time.Millisecond
	defaultArgStopTimeout       = 10 * time.Second
	defaultArgTopFunctions      = 20
	defaultArgTreeDepth         = 4

	envVarPrefix = "ORBIT"
)

// Help strings for command line arguments
var (
	serviceAddrHelp       = "The capture service address in the format of host:port."
	disableTLSHelp        = "Disable encryption for data in transit."
	maxRPCMsgSizeHelp     = "Maximum size in bytes of a message received from the service."
	connectionTimeoutHelp = "Time to wait for the connection to the capture service."
	maxRetriesHelp        = "Maximum number of retries of a failed connection attempt."
	pidHelp               = "PID of the process to capture."
	processNameHelp       = "Name of the captured process, used for the default file name."
	functionHelp          = "Function to instrument, as ADDRESS=NAME[@MODULE[+OFFSET]]. " +
		"ADDRESS is the absolute address in the process, OFFSET the address in the module. " +
		"May be repeated."
	tracepointHelp       = "Tracepoint to record, as CATEGORY:NAME. May be repeated."
	samplesPerSecondHelp = fmt.Sprintf("Set the frequency (in Hz) of callstack sampling. "+
		"0 disables sampling, the maximum is %d.", controller.MaxSamplesPerSecond)
	contextSwitchesHelp = "Record the scheduling slices of the process."
	gpuDriverHelp       = "Record the GPU jobs submitted by the process."
	durationHelp        = "Stop the capture after this duration. " +
		"0 captures until interrupted or until the service ends the capture."
	drainIntervalHelp = "Interval at which recorded events are moved into the capture model."
	stopTimeoutHelp   = "Time the service gets to end the capture before it is aborted."
	outputHelp        = "Path of the capture file. Defaults to no file unless -upload is set."
	zstdHelp          = "Compress the capture file with zstd."
	uploadHelp        = "Upload the capture file to s3://BUCKET/KEY. A KEY ending in / " +
		"is a prefix below which a fresh name is generated."
	verboseModeHelp = "Enable verbose logging and debugging capabilities."
	configHelp      = "Path of a configuration file with one flag per line."
	topHelp         = "Number of sampled functions listed per thread."
	depthHelp       = "Number of call tree levels printed. 0 omits the call tree."
	bottomUpHelp    = "Print the bottom-up instead of the top-down call tree."
	pprofRateHelp   = "Sampling frequency (in Hz) of the capture, sets the profile period."
)

// ffOptions is how every subcommand reads flags besides the command line.
func ffOptions() []ff.Option {
	return []ff.Option{
		ff.WithEnvVarPrefix(envVarPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		// This will ignore configuration file (only) options that the current version
		// does not recognize.
		ff.WithIgnoreUndefined(true),
		ff.WithAllowMissingConfigFile(true),
	}
}

func registerCommonFlags(fs *flag.FlagSet, verbose *bool) {
	fs.String("config", "", configHelp)
	fs.BoolVar(verbose, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(verbose, "verbose", false, verboseModeHelp)
}

func newCaptureFlagSet(args *controller.Config) *flag.FlagSet {
	fs := flag.NewFlagSet("capture", flag.ContinueOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.StringVar(&args.ServiceAddr, "addr", defaultArgServiceAddr, serviceAddrHelp)

	fs.DurationVar(&args.ConnectionTimeout, "connection-timeout", defaultArgConnectionTimeout,
		connectionTimeoutHelp)
	fs.BoolVar(&args.TraceContextSwitches, "context-switches", false, contextSwitchesHelp)

	fs.BoolVar(&args.DisableTLS, "disable-tls", false, disableTLSHelp)
	fs.DurationVar(&args.DrainInterval, "drain-interval", defaultArgDrainInterval,
		drainIntervalHelp)
	fs.DurationVar(&args.Duration, "duration", 0, durationHelp)

	fs.Var(&args.Functions, "function", functionHelp)

	fs.BoolVar(&args.TraceGpuDriver, "gpu-driver", false, gpuDriverHelp)

	fs.UintVar(&args.MaxRetries, "max-retries", defaultArgMaxRetries, maxRetriesHelp)
	fs.IntVar(&args.MaxRPCMsgSize, "max-rpc-msg-size", defaultArgMaxRPCMsgSize,
		maxRPCMsgSizeHelp)

	fs.StringVar(&args.OutputPath, "o", "", outputHelp)

	fs.IntVar(&args.PID, "pid", 0, pidHelp)
	fs.StringVar(&args.ProcessName, "process-name", "", processNameHelp)

	fs.UintVar(&args.SamplesPerSecond, "samples-per-second", defaultArgSamplesPerSecond,
		samplesPerSecondHelp)
	fs.DurationVar(&args.StopTimeout, "stop-timeout", defaultArgStopTimeout, stopTimeoutHelp)

	fs.Var(&args.Tracepoints, "tracepoint", tracepointHelp)

	fs.StringVar(&args.UploadURL, "upload", "", uploadHelp)

	fs.BoolVar(&args.Compress, "zstd", false, zstdHelp)

	registerCommonFlags(fs, &args.VerboseMode)

	args.Fs = fs
	return fs
}
