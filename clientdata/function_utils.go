// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clientdata // import "github.com/orbit-profiler/orbit/clientdata"

import (
	"github.com/orbit-profiler/orbit/clientprotos"
)

// UnknownFunctionName is reported for addresses that do not resolve to a function.
const UnknownFunctionName = "[unknown]"

// ElfAddressOf translates an absolute address inside the mapping into an ELF virtual
// address of module.
func ElfAddressOf(absoluteAddress uint64, mapping ModuleInMemory, module *ModuleData) uint64 {
	return absoluteAddress - mapping.Start + module.LoadBias()
}

// FunctionAbsoluteAddress returns where fn starts in a process that mapped its module at
// moduleStart.
func FunctionAbsoluteAddress(fn *clientprotos.FunctionInfo, moduleStart uint64) uint64 {
	return fn.Address - fn.LoadBias + moduleStart
}

// FunctionDisplayName returns the pretty name of fn, falling back to its mangled name.
func FunctionDisplayName(fn *clientprotos.FunctionInfo) string {
	if fn.PrettyName != "" {
		return fn.PrettyName
	}
	return fn.Name
}

// FindFunctionByAddress resolves an absolute address of process to the function covering
// it, or nil when the module is not mapped, unknown or not loaded.
func FindFunctionByAddress(process *ProcessData, modules *ModuleManager,
	absoluteAddress uint64, isExact bool) *clientprotos.FunctionInfo {
	mapping, err := process.FindModuleByAddress(absoluteAddress)
	if err != nil {
		return nil
	}
	module := modules.GetModuleByModuleInMemory(mapping)
	if module == nil || !module.IsLoaded() {
		return nil
	}
	return module.FindFunctionByOffset(ElfAddressOf(absoluteAddress, mapping, module), isExact)
}

// GetFunctionNameByAddress returns the display name of the function covering
// absoluteAddress or UnknownFunctionName.
func GetFunctionNameByAddress(process *ProcessData, modules *ModuleManager,
	absoluteAddress uint64) string {
	fn := FindFunctionByAddress(process, modules, absoluteAddress, false)
	if fn == nil {
		return UnknownFunctionName
	}
	return FunctionDisplayName(fn)
}

// GetModulePathByAddress returns the file backing the mapping that contains absoluteAddress
// or UnknownFunctionName.
func GetModulePathByAddress(process *ProcessData, absoluteAddress uint64) string {
	mapping, err := process.FindModuleByAddress(absoluteAddress)
	if err != nil {
		return UnknownFunctionName
	}
	return mapping.FilePath
}
