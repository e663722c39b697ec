// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package capturefile

import (
	"bytes"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit-profiler/orbit/captureclient"
	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/grpcprotos"
	"github.com/orbit-profiler/orbit/libpf"
	"github.com/orbit-profiler/orbit/testutils"
)

func headerOnly(t *testing.T, version string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, writeRecord(&buf, &clientprotos.CaptureHeader{Version: version}))
	return &buf
}

// assertFailedOnly checks that loading ended in OnCaptureFailed before the capture started.
func assertFailedOnly(t *testing.T, listener *testutils.RecordingListener, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, []string{testutils.OnCaptureFailed}, listener.Methods())
	failures := testutils.Values[error](listener, testutils.OnCaptureFailed)
	require.Len(t, failures, 1)
	assert.Equal(t, err, failures[0])
}

func TestLoadFileNotExists(t *testing.T) {
	listener := &testutils.RecordingListener{}
	err := Load(filepath.Join(t.TempDir(), "not_existing_test_file"), listener, nil)
	assertFailedOnly(t, listener, err)
	assert.ErrorIs(t, err, ErrStreamOpen)
}

func TestLoadEmptyStream(t *testing.T) {
	listener := &testutils.RecordingListener{}
	err := LoadStream(&bytes.Buffer{}, "empty", listener, nil)
	assertFailedOnly(t, listener, err)
	assert.ErrorIs(t, err, ErrHeaderInvalid)
}

func TestLoadNoVersion(t *testing.T) {
	listener := &testutils.RecordingListener{}
	err := LoadStream(headerOnly(t, ""), "no version", listener, nil)
	assertFailedOnly(t, listener, err)
	assert.ErrorIs(t, err, ErrHeaderInvalid)
	assert.Contains(t, err.Error(), "no version")
}

func TestLoadOtherVersion(t *testing.T) {
	tests := map[string]struct {
		version  string
		relation string
	}{
		"older":   {version: "1.51", relation: "older"},
		"newer":   {version: "1.60", relation: "newer"},
		"garbage": {version: "next", relation: "unsupported"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			listener := &testutils.RecordingListener{}
			err := LoadStream(headerOnly(t, tc.version), name, listener, nil)
			assertFailedOnly(t, listener, err)
			assert.ErrorIs(t, err, ErrVersionMismatch)
			assert.Contains(t, err.Error(), tc.version)
			assert.Contains(t, err.Error(), tc.relation)
		})
	}
}

func TestLoadNoCaptureInfo(t *testing.T) {
	listener := &testutils.RecordingListener{}
	err := LoadStream(headerOnly(t, RequiredCaptureVersion), "no info", listener, nil)
	assertFailedOnly(t, listener, err)
	assert.ErrorIs(t, err, ErrCaptureInfoInvalid)
}

// testCaptureInfo returns a CaptureInfo populating every field once. The callstack id is
// not the content hash of its frames.
func testCaptureInfo() *clientprotos.CaptureInfo {
	return &clientprotos.CaptureInfo{
		ProcessID:   42,
		ProcessName: "target",
		SelectedFunctions: []clientprotos.FunctionInfo{
			{Name: "foo", Address: 0x1230, Size: 0x10, LoadedModulePath: "/bin/target"},
		},
		AddressInfos: []clientprotos.LinuxAddressInfo{
			{AbsoluteAddress: 0x1234, FunctionName: "foo", OffsetInFunction: 4,
				ModulePath: "/bin/target"},
		},
		ThreadNames: []clientprotos.ThreadNameEntry{{TID: 43, Name: "main"}},
		KeyToString: []clientprotos.KeyAndString{{Key: 7, Value: "timeline"}},
		Callstacks: []clientprotos.CallstackInfo{
			{ID: 0xabc, Frames: []uint64{0x1234, 0x5678}},
		},
		CallstackEvents: []clientprotos.CallstackEvent{
			{Time: 100, CallstackID: 0xabc, ThreadID: 43},
		},
		SelectedTracepoints: []grpcprotos.TracepointInfo{{Category: "sched", Name: "sched_switch"}},
		TracepointInfos: []clientprotos.TracepointInfoEntry{
			{Key: 9, Info: grpcprotos.TracepointInfo{Category: "sched", Name: "sched_switch"}},
		},
		TracepointEventInfos: []clientprotos.TracepointEventInfo{
			{PID: 42, TID: 43, Time: 150, CPU: 1, TracepointInfoKey: 9},
		},
	}
}

func testTimers(n int) []clientprotos.TimerInfo {
	timers := make([]clientprotos.TimerInfo, 0, n)
	for i := range n {
		timers = append(timers, clientprotos.TimerInfo{
			Start:     uint64(100 * i),
			End:       uint64(100*i + 50),
			ProcessID: 42,
			ThreadID:  43,
			Type:      clientprotos.TimerFunctionCall,
			Processor: -1,
		})
	}
	return timers
}

func TestLoadCaptureInfo(t *testing.T) {
	listener := &testutils.RecordingListener{}
	info := testCaptureInfo()
	LoadCaptureInfo(info, listener)

	assert.Equal(t, []string{
		testutils.OnCaptureStarted,
		testutils.OnAddressInfo,
		testutils.OnThreadName,
		testutils.OnKeyAndString,
		testutils.OnUniqueCallStack,
		testutils.OnCallstackEvent,
		testutils.OnUniqueTracepointInfo,
		testutils.OnTracepointEvent,
	}, listener.Methods())

	started := testutils.Values[captureclient.CaptureStarted](listener,
		testutils.OnCaptureStarted)[0]
	assert.Equal(t, int32(42), started.ProcessID)
	assert.Equal(t, "target", started.ProcessName)
	require.NotNil(t, started.Process)
	assert.Equal(t, int32(42), started.Process.PID())
	assert.Equal(t, map[uint64]clientprotos.FunctionInfo{0x1230: info.SelectedFunctions[0]},
		started.SelectedFunctions)
	assert.True(t, started.SelectedTracepoints.Has(info.SelectedTracepoints[0]))

	assert.Equal(t, []clientdata.CallStack{{ID: 0xabc, Frames: []uint64{0x1234, 0x5678}}},
		testutils.Values[clientdata.CallStack](listener, testutils.OnUniqueCallStack))
	assert.Equal(t, []testutils.ThreadName{{TID: 43, Name: "main"}},
		testutils.Values[testutils.ThreadName](listener, testutils.OnThreadName))
	assert.Equal(t, []testutils.KeyAndString{{Key: 7, String: "timeline"}},
		testutils.Values[testutils.KeyAndString](listener, testutils.OnKeyAndString))
	assert.Equal(t, info.TracepointEventInfos,
		testutils.Values[clientprotos.TracepointEventInfo](listener, testutils.OnTracepointEvent))
	testutils.AssertDefinitionsBeforeUse(t, listener)
}

func TestLoadCaptureInfoScenarios(t *testing.T) {
	fooFunction := clientprotos.FunctionInfo{Name: "foo", PrettyName: "void foo()", Address: 21,
		Size: 12}
	addressInfos := []clientprotos.LinuxAddressInfo{
		{FunctionName: "foo", ModulePath: "/path", OffsetInFunction: 0, AbsoluteAddress: 123},
		{FunctionName: "bar", ModulePath: "/path", OffsetInFunction: 0, AbsoluteAddress: 123},
	}
	cs1 := []uint64{1, 2, 3}
	cs2 := []uint64{4, 5}
	h1, h2 := libpf.HashFrames(cs1), libpf.HashFrames(cs2)
	callstackEvents := []clientprotos.CallstackEvent{
		{ThreadID: 1, Time: 1, CallstackID: h1},
		{ThreadID: 1, Time: 2, CallstackID: h1},
		{ThreadID: 2, Time: 3, CallstackID: h1},
	}
	timers := []clientprotos.TimerInfo{
		{Start: 0, End: 1, ProcessID: 42},
		{Start: 3, End: 5, ProcessID: 2},
	}

	tests := map[string]struct {
		info   *clientprotos.CaptureInfo
		timers []clientprotos.TimerInfo
		check  func(t *testing.T, listener *testutils.RecordingListener)
	}{
		"selected functions keyed by address": {
			info: &clientprotos.CaptureInfo{
				ProcessID:         42,
				ProcessName:       "process",
				SelectedFunctions: []clientprotos.FunctionInfo{fooFunction},
			},
			check: func(t *testing.T, listener *testutils.RecordingListener) {
				assert.Equal(t, []string{testutils.OnCaptureStarted, testutils.OnCaptureComplete},
					listener.Methods())
				started := testutils.Values[captureclient.CaptureStarted](listener,
					testutils.OnCaptureStarted)[0]
				assert.Equal(t, int32(42), started.ProcessID)
				assert.Equal(t, "process", started.ProcessName)
				assert.NotNil(t, started.Process)
				assert.Equal(t, map[uint64]clientprotos.FunctionInfo{21: fooFunction},
					started.SelectedFunctions)
				assert.Empty(t, started.SelectedTracepoints)
			},
		},
		"address infos": {
			info: &clientprotos.CaptureInfo{AddressInfos: addressInfos},
			check: func(t *testing.T, listener *testutils.RecordingListener) {
				assert.Equal(t, addressInfos, testutils.Values[clientprotos.LinuxAddressInfo](
					listener, testutils.OnAddressInfo))
			},
		},
		"thread names": {
			info: &clientprotos.CaptureInfo{ThreadNames: []clientprotos.ThreadNameEntry{
				{TID: 1, Name: "thread_a"},
				{TID: 2, Name: "thread_b"},
			}},
			check: func(t *testing.T, listener *testutils.RecordingListener) {
				assert.Equal(t, []testutils.ThreadName{
					{TID: 1, Name: "thread_a"},
					{TID: 2, Name: "thread_b"},
				}, testutils.Values[testutils.ThreadName](listener, testutils.OnThreadName))
			},
		},
		"key and string": {
			info: &clientprotos.CaptureInfo{KeyToString: []clientprotos.KeyAndString{
				{Key: 1, Value: "string_a"},
				{Key: 2, Value: "string_b"},
			}},
			check: func(t *testing.T, listener *testutils.RecordingListener) {
				assert.Equal(t, []testutils.KeyAndString{
					{Key: 1, String: "string_a"},
					{Key: 2, String: "string_b"},
				}, testutils.Values[testutils.KeyAndString](listener, testutils.OnKeyAndString))
			},
		},
		"callstacks before their events": {
			info: &clientprotos.CaptureInfo{
				Callstacks: []clientprotos.CallstackInfo{
					{ID: h1, Frames: cs1},
					{ID: h2, Frames: cs2},
				},
				CallstackEvents: callstackEvents,
			},
			check: func(t *testing.T, listener *testutils.RecordingListener) {
				assert.Equal(t, []clientdata.CallStack{
					{ID: h1, Frames: cs1},
					{ID: h2, Frames: cs2},
				}, testutils.Values[clientdata.CallStack](listener, testutils.OnUniqueCallStack))
				assert.Equal(t, callstackEvents, testutils.Values[clientprotos.CallstackEvent](
					listener, testutils.OnCallstackEvent))
				testutils.AssertDefinitionsBeforeUse(t, listener)
			},
		},
		"timers": {
			info:   &clientprotos.CaptureInfo{},
			timers: timers,
			check: func(t *testing.T, listener *testutils.RecordingListener) {
				assert.Equal(t, []string{
					testutils.OnCaptureStarted,
					testutils.OnTimer,
					testutils.OnTimer,
					testutils.OnCaptureComplete,
				}, listener.Methods())
				assert.Equal(t, timers,
					testutils.Values[clientprotos.TimerInfo](listener, testutils.OnTimer))
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Save(&buf, tc.info, tc.timers, Options{}))

			listener := &testutils.RecordingListener{}
			require.NoError(t, LoadStream(&buf, name, listener, nil))
			assert.Equal(t, 1, listener.Count(testutils.OnCaptureStarted))
			assert.Equal(t, 1, listener.Count(testutils.OnCaptureComplete))
			tc.check(t, listener)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	for name, opts := range map[string]Options{
		"plain": {},
		"zstd":  {Compress: true},
	} {
		t.Run(name, func(t *testing.T) {
			info := testCaptureInfo()
			timers := testTimers(3)
			path := filepath.Join(t.TempDir(), "capture.orbit")
			require.NoError(t, SaveFile(path, info, timers, opts))

			listener := &testutils.RecordingListener{}
			require.NoError(t, Load(path, listener, &atomic.Bool{}))

			methods := listener.Methods()
			require.NotEmpty(t, methods)
			assert.Equal(t, testutils.OnCaptureStarted, methods[0])
			assert.Equal(t, testutils.OnCaptureComplete, methods[len(methods)-1])
			assert.Equal(t, timers,
				testutils.Values[clientprotos.TimerInfo](listener, testutils.OnTimer))
			assert.Equal(t, info.CallstackEvents,
				testutils.Values[clientprotos.CallstackEvent](listener, testutils.OnCallstackEvent))
		})
	}
}

func TestCompressedFileStartsWithZstdMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Save(&buf, testCaptureInfo(), testTimers(1), Options{Compress: true}))
	assert.Equal(t, zstdMagic, buf.Bytes()[:len(zstdMagic)])

	var plain bytes.Buffer
	require.NoError(t, Save(&plain, testCaptureInfo(), testTimers(1), Options{}))
	assert.NotEqual(t, zstdMagic, plain.Bytes()[:len(zstdMagic)])
}

func TestLoadNoTimers(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Save(&buf, &clientprotos.CaptureInfo{}, nil, Options{}))

	listener := &testutils.RecordingListener{}
	require.NoError(t, LoadStream(&buf, "no timers", listener, nil))
	assert.Equal(t, []string{testutils.OnCaptureStarted, testutils.OnCaptureComplete},
		listener.Methods())
}

func TestLoadTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Save(&buf, &clientprotos.CaptureInfo{}, testTimers(3), Options{}))
	full := buf.Bytes()

	listener := &testutils.RecordingListener{}
	// The last timer body is cut short.
	err := LoadStream(bytes.NewReader(full[:len(full)-2]), "truncated", listener, nil)
	require.ErrorIs(t, err, ErrTruncated)

	methods := listener.Methods()
	assert.Equal(t, testutils.OnCaptureStarted, methods[0])
	assert.Equal(t, testutils.OnCaptureFailed, methods[len(methods)-1])
	assert.Equal(t, 2, listener.Count(testutils.OnTimer))
	assert.Zero(t, listener.Count(testutils.OnCaptureComplete))
}

func TestLoadPartialTimerSize(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Save(&buf, &clientprotos.CaptureInfo{}, testTimers(2), Options{}))

	for name, tail := range map[string][]byte{
		"one byte":    {0x10},
		"two bytes":   {0x10, 0x00},
		"three bytes": {0x10, 0x00, 0x00},
	} {
		t.Run(name, func(t *testing.T) {
			data := append(bytes.Clone(buf.Bytes()), tail...)
			listener := &testutils.RecordingListener{}
			require.NoError(t, LoadStream(bytes.NewReader(data), name, listener, nil))

			assert.Equal(t, []string{
				testutils.OnCaptureStarted,
				testutils.OnTimer,
				testutils.OnTimer,
				testutils.OnCaptureComplete,
			}, listener.Methods())
		})
	}
}

func TestLoadPartialHeaderSize(t *testing.T) {
	listener := &testutils.RecordingListener{}
	err := LoadStream(bytes.NewReader([]byte{0x10, 0x00}), "partial", listener, nil)
	assertFailedOnly(t, listener, err)
	assert.ErrorIs(t, err, ErrHeaderInvalid)
}

// allocatedBytes returns the number of bytes allocated while running f.
func allocatedBytes(f func()) uint64 {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	f()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

func TestReadRecordSizeLimit(t *testing.T) {
	tests := map[string]struct {
		data []byte
	}{
		"above limit":    {data: []byte{0xff, 0xff, 0xff, 0x7f, 0x01, 0x02}},
		"negative":       {data: []byte{0xff, 0xff, 0xff, 0xff, 0x01, 0x02}},
		"below limit":    {data: []byte{0xff, 0xff, 0xff, 0x3f, 0x01, 0x02}},
		"short of chunk": {data: []byte{0x00, 0x00, 0x01, 0x00, 0x01, 0x02}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var buf []byte
			var err error
			allocated := allocatedBytes(func() {
				err = readRecord(bytes.NewReader(tc.data), &clientprotos.TimerInfo{}, &buf)
			})
			require.ErrorIs(t, err, ErrTruncated)
			assert.Less(t, allocated, uint64(8*readChunkSize))
		})
	}
}

func TestReadRecordAcrossChunks(t *testing.T) {
	info := &clientprotos.CaptureInfo{ProcessName: strings.Repeat("x", 3*readChunkSize+5)}
	var buf bytes.Buffer
	require.NoError(t, writeRecord(&buf, info))

	var scratch []byte
	loaded := &clientprotos.CaptureInfo{}
	require.NoError(t, readRecord(&buf, loaded, &scratch))
	assert.Equal(t, info.ProcessName, loaded.ProcessName)
}

func TestLoadCancelled(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Save(&buf, testCaptureInfo(), testTimers(5), Options{}))

	var cancel atomic.Bool
	listener := &testutils.RecordingListener{}
	listener.OnTimerHook = func(clientprotos.TimerInfo) {
		cancel.Store(true)
	}
	require.NoError(t, LoadStream(&buf, "cancelled", listener, &cancel))

	assert.Equal(t, 1, listener.Count(testutils.OnTimer))
	methods := listener.Methods()
	assert.Equal(t, testutils.OnCaptureCancelled, methods[len(methods)-1])
	assert.Zero(t, listener.Count(testutils.OnCaptureComplete))
}

func TestLoadCancelledBeforeStart(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Save(&buf, &clientprotos.CaptureInfo{}, testTimers(5), Options{}))

	var cancel atomic.Bool
	cancel.Store(true)
	listener := &testutils.RecordingListener{}
	require.NoError(t, LoadStream(&buf, "cancelled early", listener, &cancel))

	assert.Equal(t, []string{testutils.OnCaptureStarted, testutils.OnCaptureCancelled},
		listener.Methods())
}
