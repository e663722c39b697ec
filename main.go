// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// orbit-capture records captures of a process from an Orbit capture service and inspects
// saved capture files.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/orbit-profiler/orbit/internal/controller"
	"github.com/orbit-profiler/orbit/samplingdata"
	"github.com/orbit-profiler/orbit/vc"
)

const exitSuccess = 0

func main() {
	os.Exit(mainWithExitCode(os.Args[1:]))
}

func mainWithExitCode(args []string) int {
	log.SetReportCaller(false)
	log.SetFormatter(&log.TextFormatter{})

	// Context to stop a running capture gracefully.
	mainCtx, mainCancel := signal.NotifyContext(context.Background(),
		unix.SIGINT, unix.SIGTERM)
	defer mainCancel()

	root := newRootCmd()
	if err := root.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		log.Errorf("Failure to parse arguments: %v", err)
		return controller.ExitParseError
	}
	return exitCode(root.Run(mainCtx))
}

// exitCode maps the result of a command to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	if errors.Is(err, flag.ErrHelp) {
		return controller.ExitParseError
	}
	log.Error(err)
	var exitErr controller.ErrorWithExitCode
	if errors.As(err, &exitErr) {
		return exitErr.Code()
	}
	return controller.ExitFailure
}

func newRootCmd() *ffcli.Command {
	var version bool
	fs := flag.NewFlagSet("orbit-capture", flag.ContinueOnError)
	fs.BoolVar(&version, "version", false, "Show version.")

	return &ffcli.Command{
		Name:       "orbit-capture",
		ShortUsage: "orbit-capture <subcommand> [flags]",
		ShortHelp:  "Record and inspect Orbit captures",
		FlagSet:    fs,
		Subcommands: []*ffcli.Command{
			newCaptureCmd(),
			newLoadCmd(),
			newPprofCmd(),
		},
		Exec: func(context.Context, []string) error {
			if version {
				fmt.Printf("%s\n", vc.Version())
				return nil
			}
			return flag.ErrHelp
		},
	}
}

func setupLogging(cfg *controller.Config) {
	if !cfg.VerboseMode {
		return
	}
	log.SetLevel(log.DebugLevel)
	// Dump the arguments in debug mode.
	cfg.Dump()
}

func newCaptureCmd() *ffcli.Command {
	cfg := &controller.Config{}
	return &ffcli.Command{
		Name:       "capture",
		ShortUsage: "capture -pid PID [flags]",
		ShortHelp:  "Record a capture of a process",
		FlagSet:    newCaptureFlagSet(cfg),
		Options:    ffOptions(),
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 0 {
				return controller.NewErrorWithExitCode(
					fmt.Errorf("unexpected arguments %q", args), controller.ExitParseError)
			}
			setupLogging(cfg)
			log.Infof("Starting orbit-capture %s (revision %s, build timestamp %s)",
				vc.Version(), vc.Revision(), vc.BuildTimestamp())

			result, err := controller.New(cfg).Run(ctx)
			if result != nil {
				if result.OutputPath != "" {
					log.Infof("Capture saved to %s", result.OutputPath)
				}
				if result.UploadURL != "" {
					log.Infof("Capture uploaded to %s", result.UploadURL)
				}
			}
			return err
		},
	}
}

type loadCmd struct {
	cfg      controller.Config
	opts     controller.ReportOptions
	location string
}

func newLoadCmd() *ffcli.Command {
	cmd := &loadCmd{}
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	fs.IntVar(&cmd.opts.TopFunctions, "top", defaultArgTopFunctions, topHelp)
	fs.IntVar(&cmd.opts.TreeDepth, "depth", defaultArgTreeDepth, depthHelp)
	fs.BoolVar(&cmd.opts.BottomUp, "bottom-up", false, bottomUpHelp)
	registerCommonFlags(fs, &cmd.cfg.VerboseMode)
	cmd.cfg.Fs = fs

	return &ffcli.Command{
		Name:       "load",
		ShortUsage: "load [flags] FILE|s3://BUCKET/KEY",
		ShortHelp:  "Print the sampling report of a capture file",
		FlagSet:    fs,
		Options:    ffOptions(),
		Exec:       cmd.exec,
	}
}

func (cmd *loadCmd) exec(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return controller.NewErrorWithExitCode(
			errors.New("please specify exactly one capture file"), controller.ExitParseError)
	}
	setupLogging(&cmd.cfg)

	data, err := controller.New(&cmd.cfg).Load(ctx, args[0])
	if err != nil {
		return err
	}
	return controller.WriteReport(os.Stdout, data, cmd.opts)
}

type pprofCmd struct {
	cfg              controller.Config
	samplesPerSecond float64
}

func newPprofCmd() *ffcli.Command {
	cmd := &pprofCmd{}
	fs := flag.NewFlagSet("pprof", flag.ContinueOnError)
	fs.Float64Var(&cmd.samplesPerSecond, "samples-per-second", defaultArgSamplesPerSecond,
		pprofRateHelp)
	registerCommonFlags(fs, &cmd.cfg.VerboseMode)
	cmd.cfg.Fs = fs

	return &ffcli.Command{
		Name:       "pprof",
		ShortUsage: "pprof [flags] FILE|s3://BUCKET/KEY OUT",
		ShortHelp:  "Convert the callstack samples of a capture file to a pprof profile",
		FlagSet:    fs,
		Options:    ffOptions(),
		Exec:       cmd.exec,
	}
}

func (cmd *pprofCmd) exec(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return controller.NewErrorWithExitCode(
			errors.New("please specify the capture file and the output file"),
			controller.ExitParseError)
	}
	setupLogging(&cmd.cfg)

	data, err := controller.New(&cmd.cfg).Load(ctx, args[0])
	if err != nil {
		return err
	}
	sampling, err := samplingdata.CreatePostProcessedSamplingData(data.CallstackData(), data,
		samplingdata.Options{})
	if err != nil {
		return err
	}

	out, err := os.Create(args[1])
	if err != nil {
		return err
	}
	if err = samplingdata.WritePprof(out, sampling, data, cmd.samplesPerSecond); err != nil {
		_ = out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	log.Infof("Profile of %d samples written to %s",
		data.CallstackData().GetCallstackEventsCount(), args[1])
	return nil
}
