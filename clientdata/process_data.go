// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clientdata // import "github.com/orbit-profiler/orbit/clientdata"

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/orbit-profiler/orbit/libpf"
	"github.com/orbit-profiler/orbit/libpf/xsync"
)

var (
	// ErrNoModulesLoaded is returned by FindModuleByAddress when the memory map is empty.
	ErrNoModulesLoaded = errors.New("unable to find module for address: no modules loaded")
	// ErrNoModuleAtAddress is returned by FindModuleByAddress when no module covers
	// the address.
	ErrNoModuleAtAddress = errors.New(
		"unable to find module for address: no module loaded at this address")
)

// ModuleInfo describes a module as reported by the target: where it is mapped and which
// file backs it.
type ModuleInfo struct {
	Name         string
	FilePath     string
	FileSize     uint64
	BuildID      string
	LoadBias     uint64
	AddressStart uint64
	AddressEnd   uint64
}

// ModuleIdentifier is the key under which module symbols are looked up.
type ModuleIdentifier struct {
	FilePath string
	BuildID  string
}

// ModuleInMemory is one mapping of a module. The End address is part of the mapping.
type ModuleInMemory struct {
	Start    uint64
	End      uint64
	FilePath string
	BuildID  string
}

// Contains reports whether address lies within [Start, End].
func (m ModuleInMemory) Contains(address uint64) bool {
	return address >= m.Start && address <= m.End
}

// FormattedAddressRange renders the mapping as zero-padded hex, e.g.
// "[0000000000004000 - 0000000000004100]".
func (m ModuleInMemory) FormattedAddressRange() string {
	return fmt.Sprintf("[%016x - %016x]", m.Start, m.End)
}

// ProcessInfo holds the static attributes of a process.
type ProcessInfo struct {
	PID         int32
	Name        string
	CPUUsage    float64
	FullPath    string
	CommandLine string
	Is64Bit     bool
}

type memoryMapEntry struct {
	module ModuleInMemory
	// seq orders entries by the time they were mapped.
	seq uint64
}

// memoryMap keeps entries sorted by ascending start address.
type memoryMap struct {
	entries []memoryMapEntry
	nextSeq uint64
}

func (mm *memoryMap) search(start uint64) (int, bool) {
	idx := sort.Search(len(mm.entries), func(i int) bool {
		return mm.entries[i].module.Start >= start
	})
	return idx, idx < len(mm.entries) && mm.entries[idx].module.Start == start
}

func (mm *memoryMap) upsert(module ModuleInMemory) {
	entry := memoryMapEntry{module: module, seq: mm.nextSeq}
	mm.nextSeq++
	idx, found := mm.search(module.Start)
	if found {
		mm.entries[idx] = entry
		return
	}
	mm.entries = slices.Insert(mm.entries, idx, entry)
}

// ProcessData is the client side view of a profiled process. The memory map may be updated
// while other goroutines look up addresses.
type ProcessData struct {
	info      xsync.RWMutex[ProcessInfo]
	memoryMap xsync.RWMutex[memoryMap]
}

// NewProcessData returns a process with no modules and a pid of -1.
func NewProcessData() *ProcessData {
	return NewProcessDataFromInfo(ProcessInfo{PID: -1})
}

// NewProcessDataFromInfo returns a process with the given attributes and no modules.
func NewProcessDataFromInfo(info ProcessInfo) *ProcessData {
	return &ProcessData{
		info: xsync.NewRWMutex(info),
	}
}

// Info returns a copy of the process attributes.
func (p *ProcessData) Info() ProcessInfo {
	info := p.info.RLock()
	defer p.info.RUnlock(&info)
	return *info
}

// SetProcessInfo replaces the process attributes and keeps the memory map.
func (p *ProcessData) SetProcessInfo(newInfo ProcessInfo) {
	info := p.info.WLock()
	defer p.info.WUnlock(&info)
	*info = newInfo
}

func (p *ProcessData) PID() int32 {
	return p.Info().PID
}

func (p *ProcessData) Name() string {
	return p.Info().Name
}

// UpdateModuleInfos replaces the memory map with the given modules. Two modules sharing a
// start address are a programming error and cause a panic.
func (p *ProcessData) UpdateModuleInfos(modules []ModuleInfo) {
	var fresh memoryMap
	for _, info := range modules {
		if _, found := fresh.search(info.AddressStart); found {
			panic(fmt.Sprintf("duplicate module start address %#x (%s)",
				info.AddressStart, info.FilePath))
		}
		fresh.upsert(moduleInMemoryFromInfo(info))
	}

	mm := p.memoryMap.WLock()
	defer p.memoryMap.WUnlock(&mm)
	*mm = fresh
}

// AddOrUpdateModuleInfo maps a module at its start address. A module mapped at another
// start before keeps that mapping; a module mapped at the same start is replaced.
func (p *ProcessData) AddOrUpdateModuleInfo(info ModuleInfo) {
	mm := p.memoryMap.WLock()
	defer p.memoryMap.WUnlock(&mm)
	mm.upsert(moduleInMemoryFromInfo(info))
}

func moduleInMemoryFromInfo(info ModuleInfo) ModuleInMemory {
	return ModuleInMemory{
		Start:    info.AddressStart,
		End:      info.AddressEnd,
		FilePath: info.FilePath,
		BuildID:  info.BuildID,
	}
}

// GetMemoryMapCopy returns the memory map keyed by start address.
func (p *ProcessData) GetMemoryMapCopy() map[uint64]ModuleInMemory {
	mm := p.memoryMap.RLock()
	defer p.memoryMap.RUnlock(&mm)

	result := make(map[uint64]ModuleInMemory, len(mm.entries))
	for _, entry := range mm.entries {
		result[entry.module.Start] = entry.module
	}
	return result
}

// FindModuleByAddress returns the module whose mapping contains address. The returned error
// wraps ErrNoModulesLoaded or ErrNoModuleAtAddress.
func (p *ProcessData) FindModuleByAddress(address uint64) (ModuleInMemory, error) {
	mm := p.memoryMap.RLock()
	defer p.memoryMap.RUnlock(&mm)

	if len(mm.entries) == 0 {
		return ModuleInMemory{}, fmt.Errorf("%#x: %w", address, ErrNoModulesLoaded)
	}

	// Index of the first module starting above address.
	idx := sort.Search(len(mm.entries), func(i int) bool {
		return mm.entries[i].module.Start > address
	})
	if idx == 0 {
		return ModuleInMemory{}, fmt.Errorf("%#x: %w", address, ErrNoModuleAtAddress)
	}
	module := mm.entries[idx-1].module
	if !module.Contains(address) {
		return ModuleInMemory{}, fmt.Errorf("%#x: %w", address, ErrNoModuleAtAddress)
	}
	return module, nil
}

// IsModuleLoadedByProcess reports whether any mapping is backed by path.
func (p *ProcessData) IsModuleLoadedByProcess(path string) bool {
	mm := p.memoryMap.RLock()
	defer p.memoryMap.RUnlock(&mm)

	for _, entry := range mm.entries {
		if entry.module.FilePath == path {
			return true
		}
	}
	return false
}

// IsModuleDataLoadedByProcess reports whether module is mapped, matching both its path and
// its build id.
func (p *ProcessData) IsModuleDataLoadedByProcess(module *ModuleData) bool {
	id := module.Identifier()

	mm := p.memoryMap.RLock()
	defer p.memoryMap.RUnlock(&mm)

	for _, entry := range mm.entries {
		if entry.module.FilePath == id.FilePath && entry.module.BuildID == id.BuildID {
			return true
		}
	}
	return false
}

// GetModuleBaseAddresses returns the start of every mapping of the given module, ascending.
func (p *ProcessData) GetModuleBaseAddresses(path, buildID string) []uint64 {
	mm := p.memoryMap.RLock()
	defer p.memoryMap.RUnlock(&mm)

	var result []uint64
	for _, entry := range mm.entries {
		if entry.module.FilePath == path && entry.module.BuildID == buildID {
			result = append(result, entry.module.Start)
		}
	}
	return result
}

// FindModuleBuildIdsByPath returns the distinct build ids mapped at path, in the order they
// were first mapped.
func (p *ProcessData) FindModuleBuildIdsByPath(path string) []string {
	mm := p.memoryMap.RLock()
	defer p.memoryMap.RUnlock(&mm)

	matches := make([]memoryMapEntry, 0)
	for _, entry := range mm.entries {
		if entry.module.FilePath == path {
			matches = append(matches, entry)
		}
	}
	slices.SortStableFunc(matches, func(a, b memoryMapEntry) int {
		return cmp.Compare(a.seq, b.seq)
	})

	buildIDs := make([]string, 0, len(matches))
	seen := libpf.Set[string]{}
	for _, entry := range matches {
		if seen.Add(entry.module.BuildID) {
			buildIDs = append(buildIDs, entry.module.BuildID)
		}
	}
	return buildIDs
}

// GetUniqueModuleIdentifiers returns every distinct (path, build id) pair that is mapped.
func (p *ProcessData) GetUniqueModuleIdentifiers() []ModuleIdentifier {
	mm := p.memoryMap.RLock()
	defer p.memoryMap.RUnlock(&mm)

	seen := libpf.Set[ModuleIdentifier]{}
	var result []ModuleIdentifier
	for _, entry := range mm.entries {
		id := ModuleIdentifier{FilePath: entry.module.FilePath, BuildID: entry.module.BuildID}
		if seen.Add(id) {
			result = append(result, id)
		}
	}
	return result
}
