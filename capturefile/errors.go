// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package capturefile // import "github.com/orbit-profiler/orbit/capturefile"

import "errors"

var (
	// ErrStreamOpen is reported when the capture file cannot be opened.
	ErrStreamOpen = errors.New("error opening the file for reading")
	// ErrHeaderInvalid is reported when the header cannot be read or carries no version.
	ErrHeaderInvalid = errors.New("invalid capture header")
	// ErrVersionMismatch is reported for files written by an unsupported version.
	ErrVersionMismatch = errors.New("unsupported capture version")
	// ErrCaptureInfoInvalid is reported when the CaptureInfo block cannot be read.
	ErrCaptureInfoInvalid = errors.New("error reading capture info")
	// ErrTruncated is reported when the file ends inside a record.
	ErrTruncated = errors.New("capture file is truncated")
)
