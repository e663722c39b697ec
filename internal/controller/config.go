// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/orbit-profiler/orbit/internal/controller"

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/orbit-profiler/orbit/capturestore"
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/grpcprotos"
	"github.com/orbit-profiler/orbit/libpf"
)

const MiB = 1 << 20

// MaxSamplesPerSecond bounds the sampling frequency requested from the service.
const MaxSamplesPerSecond = 10000

var errInvalidConfig = errors.New("invalid configuration")

// StringList is a flag.Value collecting every occurrence of a repeated flag.
type StringList []string

func (l *StringList) String() string {
	return strings.Join(*l, ",")
}

func (l *StringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

// Config holds the settings of a live capture.
type Config struct {
	ServiceAddr       string
	DisableTLS        bool
	MaxRPCMsgSize     int
	ConnectionTimeout time.Duration
	MaxRetries        uint

	PID                  int
	ProcessName          string
	Functions            StringList
	Tracepoints          StringList
	SamplesPerSecond     uint
	TraceContextSwitches bool
	TraceGpuDriver       bool

	Duration      time.Duration
	DrainInterval time.Duration
	StopTimeout   time.Duration

	OutputPath string
	Compress   bool
	UploadURL  string

	VerboseMode bool

	Fs *flag.FlagSet
}

// Dump visits all flag sets, and dumps them all to debug
// Used for verbose mode logging.
func (cfg *Config) Dump() {
	if cfg.Fs == nil {
		return
	}
	log.Debug("Config:")
	cfg.Fs.VisitAll(func(f *flag.Flag) {
		log.Debug(fmt.Sprintf("%s: %v", f.Name, f.Value))
	})
}

// Validate runs validations on the provided configuration, and returns errors
// if invalid values were provided.
func (cfg *Config) Validate() error {
	if cfg.ServiceAddr == "" {
		return fmt.Errorf("%w: missing capture service address", errInvalidConfig)
	}
	if cfg.PID <= 0 {
		return fmt.Errorf("%w: invalid pid %d", errInvalidConfig, cfg.PID)
	}
	if cfg.SamplesPerSecond > MaxSamplesPerSecond {
		return fmt.Errorf("%w: samples per second must be at most %d, got %d",
			errInvalidConfig, MaxSamplesPerSecond, cfg.SamplesPerSecond)
	}
	if cfg.Duration < 0 {
		return fmt.Errorf("%w: negative capture duration %v", errInvalidConfig, cfg.Duration)
	}
	if cfg.DrainInterval <= 0 {
		return fmt.Errorf("%w: drain interval must be positive", errInvalidConfig)
	}
	if _, err := cfg.SelectedFunctions(); err != nil {
		return err
	}
	if _, err := cfg.SelectedTracepoints(); err != nil {
		return err
	}
	if cfg.UploadURL != "" && !capturestore.IsURL(cfg.UploadURL) {
		return fmt.Errorf("%w: upload location %q is not an %s:// URL", errInvalidConfig,
			cfg.UploadURL, capturestore.URLScheme)
	}
	return nil
}

// SelectedFunctions parses the -function values. A value has the form
// ADDRESS=NAME[@MODULE[+OFFSET]]: the absolute address to instrument, the function name,
// and the module with the ELF address of the function in it. OFFSET defaults to ADDRESS.
func (cfg *Config) SelectedFunctions() (map[uint64]clientprotos.FunctionInfo, error) {
	functions := make(map[uint64]clientprotos.FunctionInfo, len(cfg.Functions))
	for _, value := range cfg.Functions {
		address, rest, ok := strings.Cut(value, "=")
		if !ok || rest == "" {
			return nil, fmt.Errorf("%w: function %q is not ADDRESS=NAME", errInvalidConfig,
				value)
		}
		absolute, err := strconv.ParseUint(address, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: function %q: %v", errInvalidConfig, value, err)
		}
		fn := clientprotos.FunctionInfo{Address: absolute}
		fn.Name, fn.LoadedModulePath, _ = strings.Cut(rest, "@")
		if module, offset, ok := strings.Cut(fn.LoadedModulePath, "+"); ok {
			fn.LoadedModulePath = module
			if fn.Address, err = strconv.ParseUint(offset, 0, 64); err != nil {
				return nil, fmt.Errorf("%w: function %q: %v", errInvalidConfig, value, err)
			}
		}
		fn.PrettyName = fn.Name
		functions[absolute] = fn
	}
	return functions, nil
}

// SelectedTracepoints parses the -tracepoint values of the form CATEGORY:NAME.
func (cfg *Config) SelectedTracepoints() (libpf.Set[grpcprotos.TracepointInfo], error) {
	tracepoints := make(libpf.Set[grpcprotos.TracepointInfo], len(cfg.Tracepoints))
	for _, value := range cfg.Tracepoints {
		category, name, ok := strings.Cut(value, ":")
		if !ok || category == "" || name == "" {
			return nil, fmt.Errorf("%w: tracepoint %q is not CATEGORY:NAME", errInvalidConfig,
				value)
		}
		tracepoints.Add(grpcprotos.TracepointInfo{Category: category, Name: name})
	}
	return tracepoints, nil
}
