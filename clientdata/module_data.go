// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clientdata // import "github.com/orbit-profiler/orbit/clientdata"

import (
	"sort"

	"github.com/ianlancetaylor/demangle"

	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/libpf/xsync"
)

// SymbolInfo is one symbol of a module's symbol table. Address is an ELF virtual address.
type SymbolInfo struct {
	Name          string
	DemangledName string
	Address       uint64
	Size          uint64
}

type moduleSymbols struct {
	info   ModuleInfo
	loaded bool
	// functions is sorted by ascending Address.
	functions []*clientprotos.FunctionInfo
}

// ModuleData holds the metadata and, once loaded, the symbols of one module.
type ModuleData struct {
	state xsync.RWMutex[moduleSymbols]
}

// NewModuleData returns an unloaded module.
func NewModuleData(info ModuleInfo) *ModuleData {
	return &ModuleData{state: xsync.NewRWMutex(moduleSymbols{info: info})}
}

func (m *ModuleData) read() moduleSymbols {
	state := m.state.RLock()
	defer m.state.RUnlock(&state)
	return *state
}

func (m *ModuleData) Name() string     { return m.read().info.Name }
func (m *ModuleData) FilePath() string { return m.read().info.FilePath }
func (m *ModuleData) FileSize() uint64 { return m.read().info.FileSize }
func (m *ModuleData) BuildID() string  { return m.read().info.BuildID }
func (m *ModuleData) LoadBias() uint64 { return m.read().info.LoadBias }
func (m *ModuleData) IsLoaded() bool   { return m.read().loaded }

// Identifier returns the key of the module in a ModuleManager.
func (m *ModuleData) Identifier() ModuleIdentifier {
	info := m.read().info
	return ModuleIdentifier{FilePath: info.FilePath, BuildID: info.BuildID}
}

// AddSymbols replaces the functions of the module and marks it loaded. Symbols without a
// demangled name get one from the Itanium demangler.
func (m *ModuleData) AddSymbols(symbols []SymbolInfo) {
	state := m.state.WLock()
	defer m.state.WUnlock(&state)

	functions := make([]*clientprotos.FunctionInfo, 0, len(symbols))
	for _, symbol := range symbols {
		prettyName := symbol.DemangledName
		if prettyName == "" {
			prettyName = demangle.Filter(symbol.Name)
		}
		functions = append(functions, &clientprotos.FunctionInfo{
			Name:                symbol.Name,
			PrettyName:          prettyName,
			LoadedModulePath:    state.info.FilePath,
			LoadedModuleBuildID: state.info.BuildID,
			Address:             symbol.Address,
			LoadBias:            state.info.LoadBias,
			Size:                symbol.Size,
		})
	}
	sort.SliceStable(functions, func(i, j int) bool {
		return functions[i].Address < functions[j].Address
	})

	state.functions = functions
	state.loaded = true
}

// updateIfChangedAndUnload applies info and drops symbols when the metadata differs. It
// reports whether loaded symbols were dropped.
func (m *ModuleData) updateIfChangedAndUnload(info ModuleInfo) bool {
	state := m.state.WLock()
	defer m.state.WUnlock(&state)

	// Address ranges describe a mapping, not the module.
	info.AddressStart, info.AddressEnd = 0, 0
	if state.info == info {
		return false
	}
	state.info = info
	if !state.loaded {
		return false
	}
	state.loaded = false
	state.functions = nil
	return true
}

// FindFunctionByOffset returns the function covering offset, an ELF virtual address. With
// isExact only a function starting exactly at offset matches.
func (m *ModuleData) FindFunctionByOffset(offset uint64, isExact bool) *clientprotos.FunctionInfo {
	state := m.state.RLock()
	defer m.state.RUnlock(&state)

	functions := state.functions
	// Index of the first function starting above offset.
	idx := sort.Search(len(functions), func(i int) bool {
		return functions[i].Address > offset
	})
	if idx == 0 {
		return nil
	}
	fn := functions[idx-1]
	if isExact {
		if fn.Address != offset {
			return nil
		}
		return fn
	}
	if offset >= fn.Address+fn.Size {
		return nil
	}
	return fn
}

// GetFunctions returns the functions of a loaded module, sorted by address.
func (m *ModuleData) GetFunctions() []*clientprotos.FunctionInfo {
	state := m.state.RLock()
	defer m.state.RUnlock(&state)
	return append([]*clientprotos.FunctionInfo(nil), state.functions...)
}
