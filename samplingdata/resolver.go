// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package samplingdata // import "github.com/orbit-profiler/orbit/samplingdata"

import (
	"github.com/elastic/go-freelru"

	"github.com/orbit-profiler/orbit/clientdata"
	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/libpf"
)

// DefaultAddressCacheSize is the number of resolved addresses an AddressResolver keeps.
const DefaultAddressCacheSize = 16384

// Capture is the part of the capture model the post-processor reads.
type Capture interface {
	Process() *clientdata.ProcessData
	ModuleManager() *clientdata.ModuleManager
	GetAddressInfo(absoluteAddress uint64) (clientprotos.LinuxAddressInfo, bool)
	GetFunctionNameByAddress(absoluteAddress uint64) string
	GetModulePathByAddress(absoluteAddress uint64) string
}

// AddressResolver maps instruction addresses to the absolute address of the function
// containing them. Results are cached, so Purge must be called when module symbols are
// loaded. It is safe for concurrent use.
type AddressResolver struct {
	capture Capture
	cache   *freelru.SyncedLRU[uint64, uint64]
}

// NewAddressResolver returns a resolver over capture keeping up to size addresses.
func NewAddressResolver(capture Capture, size uint32) (*AddressResolver, error) {
	cache, err := freelru.NewSynced[uint64, uint64](size, libpf.HashUint64)
	if err != nil {
		return nil, err
	}
	return &AddressResolver{capture: capture, cache: cache}, nil
}

// FunctionAddress returns the start of the function containing absoluteAddress. The
// function is looked up in the loaded module symbols, then in the address infos of the
// capture. An address that cannot be resolved stands for its own function.
func (r *AddressResolver) FunctionAddress(absoluteAddress uint64) uint64 {
	if functionAddress, ok := r.cache.Get(absoluteAddress); ok {
		return functionAddress
	}
	functionAddress := r.resolve(absoluteAddress)
	r.cache.Add(absoluteAddress, functionAddress)
	return functionAddress
}

func (r *AddressResolver) resolve(absoluteAddress uint64) uint64 {
	process := r.capture.Process()
	if modules := r.capture.ModuleManager(); modules != nil && process != nil {
		fn := clientdata.FindFunctionByAddress(process, modules, absoluteAddress, false)
		if fn != nil {
			if mapping, err := process.FindModuleByAddress(absoluteAddress); err == nil {
				return clientdata.FunctionAbsoluteAddress(fn, mapping.Start)
			}
		}
	}
	if info, ok := r.capture.GetAddressInfo(absoluteAddress); ok &&
		info.OffsetInFunction <= absoluteAddress {
		return absoluteAddress - info.OffsetInFunction
	}
	return absoluteAddress
}

// Purge drops all cached resolutions.
func (r *AddressResolver) Purge() {
	r.cache.Purge()
}
