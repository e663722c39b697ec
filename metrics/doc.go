// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

/*
Package metrics counts what happens in the capture pipeline and reports it through OTel
metric instruments.

Definitions live in metrics.json and are mirrored by the IDs in ids.go. Each definition is
turned into an Int64Counter or Int64Gauge of the global meter provider, so the counts stay
no-ops unless the host installs a provider:

	metrics.Add(metrics.IDCaptureInternMisses, 1)
*/
package metrics // import "github.com/orbit-profiler/orbit/metrics"
