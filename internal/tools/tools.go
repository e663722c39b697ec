// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build tools
// +build tools

package tools // import "github.com/orbit-profiler/orbit/internal/tools"

import (
	_ "github.com/jcchavezs/porto/cmd/porto"
)
