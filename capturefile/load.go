// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package capturefile // import "github.com/orbit-profiler/orbit/capturefile"

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
	"golang.org/x/mod/semver"

	"github.com/orbit-profiler/orbit/captureclient"
	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/grpcprotos"
	"github.com/orbit-profiler/orbit/libpf"
	"github.com/orbit-profiler/orbit/metrics"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Load replays the capture file at path into listener. See LoadStream.
func Load(path string, listener captureclient.CaptureListener, cancel *atomic.Bool) error {
	file, err := os.Open(path)
	if err != nil {
		err = fmt.Errorf("%w %q: %v", ErrStreamOpen, path, err)
		log.Error(err)
		listener.OnCaptureFailed(err)
		return err
	}
	defer file.Close()
	return LoadStream(file, path, listener, cancel)
}

// LoadStream replays the capture read from r into listener. name identifies the stream in
// messages. A zstd compressed stream is decompressed transparently.
//
// The listener sees OnCaptureStarted once header and CaptureInfo are accepted, then the
// recorded data, then exactly one of OnCaptureComplete, OnCaptureCancelled or
// OnCaptureFailed. A failure before the capture started only yields OnCaptureFailed.
// cancel, if not nil, is polled before every timer. The returned error is the one passed
// to OnCaptureFailed, if any.
func LoadStream(r io.Reader, name string, listener captureclient.CaptureListener,
	cancel *atomic.Bool) error {
	fail := func(err error) error {
		log.Errorf("Loading capture from %s: %v", name, err)
		listener.OnCaptureFailed(err)
		return err
	}

	in, closeInput, err := openContainer(r)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrHeaderInvalid, err))
	}
	defer closeInput()

	var buf []byte
	header := &clientprotos.CaptureHeader{}
	if err = readRecord(in, header, &buf); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrHeaderInvalid, err))
	}
	if err = checkVersion(header.Version); err != nil {
		return fail(err)
	}

	info := &clientprotos.CaptureInfo{}
	if err = readRecord(in, info, &buf); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrCaptureInfoInvalid, err))
	}
	LoadCaptureInfo(info, listener)

	var timers metrics.MetricValue
	defer func() { metrics.Add(metrics.IDCaptureFileTimersLoaded, timers) }()
	for {
		if cancel != nil && cancel.Load() {
			log.Infof("Loading capture from %s cancelled", name)
			listener.OnCaptureCancelled()
			return nil
		}

		// The end of the file, even inside a size prefix, ends the timer stream.
		var size int
		size, err = readSize(in)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				log.Warnf("Ignoring partial timer size at the end of %s", name)
			}
			log.Infof("Loaded %d timers from %s", timers, name)
			listener.OnCaptureComplete()
			return nil
		}
		if err != nil {
			return fail(fmt.Errorf("error reading timer %d: %w", timers, err))
		}

		timer := clientprotos.TimerInfo{}
		if err = readBody(in, size, &timer, &buf); err != nil {
			return fail(fmt.Errorf("error reading timer %d: %w", timers, err))
		}
		timers++
		listener.OnTimer(timer)
	}
}

// openContainer returns a reader over the records in r, unwrapping a zstd frame.
func openContainer(r io.Reader) (io.Reader, func(), error) {
	in := bufio.NewReader(r)
	magic, err := in.Peek(len(zstdMagic))
	if err != nil || !bytes.Equal(magic, zstdMagic) {
		// Short streams are left to the record reader to report.
		return in, func() {}, nil
	}

	decoder, err := zstd.NewReader(in)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create zstd decoder: %v", err)
	}
	return bufio.NewReader(decoder), decoder.Close, nil
}

func checkVersion(version string) error {
	if version == "" {
		return fmt.Errorf("%w: capture file has no version", ErrHeaderInvalid)
	}
	if version == RequiredCaptureVersion {
		return nil
	}

	relation := "unsupported"
	have, want := "v"+version, "v"+RequiredCaptureVersion
	if semver.IsValid(have) {
		if semver.Compare(have, want) < 0 {
			relation = "older"
		} else {
			relation = "newer"
		}
	}
	return fmt.Errorf("%w: the capture was saved with version %s, which is %s than the "+
		"supported version %s", ErrVersionMismatch, version, relation, RequiredCaptureVersion)
}

// LoadCaptureInfo announces the content of info to listener: OnCaptureStarted, then
// address infos, thread names, strings, unique callstacks, callstack events, tracepoint
// infos and tracepoint events, each in the order stored. Callstack ids are taken as
// stored.
func LoadCaptureInfo(info *clientprotos.CaptureInfo, listener captureclient.CaptureListener) {
	selectedFunctions := make(map[uint64]clientprotos.FunctionInfo, len(info.SelectedFunctions))
	for _, fn := range info.SelectedFunctions {
		selectedFunctions[fn.Address] = fn
	}
	selectedTracepoints := libpf.Set[grpcprotos.TracepointInfo]{}
	for _, tracepoint := range info.SelectedTracepoints {
		selectedTracepoints.Add(tracepoint)
	}

	process := clientdata.NewProcessDataFromInfo(clientdata.ProcessInfo{
		PID:  info.ProcessID,
		Name: info.ProcessName,
	})

	listener.OnCaptureStarted(captureclient.CaptureStarted{
		ProcessID:           info.ProcessID,
		ProcessName:         info.ProcessName,
		Process:             process,
		SelectedFunctions:   selectedFunctions,
		SelectedTracepoints: selectedTracepoints,
	})

	for _, addressInfo := range info.AddressInfos {
		listener.OnAddressInfo(addressInfo)
	}
	for _, threadName := range info.ThreadNames {
		listener.OnThreadName(threadName.TID, threadName.Name)
	}
	for _, entry := range info.KeyToString {
		listener.OnKeyAndString(entry.Key, entry.Value)
	}
	for i := range info.Callstacks {
		listener.OnUniqueCallStack(clientdata.CallStackFromInfo(&info.Callstacks[i]))
	}
	for _, event := range info.CallstackEvents {
		listener.OnCallstackEvent(event)
	}
	for _, entry := range info.TracepointInfos {
		listener.OnUniqueTracepointInfo(entry.Key, entry.Info)
	}
	for _, event := range info.TracepointEventInfos {
		listener.OnTracepointEvent(event)
	}
}
