// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package clientdata // import "github.com/orbit-profiler/orbit/clientdata"

import (
	"github.com/orbit-profiler/orbit/libpf/xsync"
)

// ModuleManager owns the ModuleData of every module seen in any process.
type ModuleManager struct {
	modules xsync.RWMutex[map[ModuleIdentifier]*ModuleData]
}

func NewModuleManager() *ModuleManager {
	return &ModuleManager{
		modules: xsync.NewRWMutex(map[ModuleIdentifier]*ModuleData{}),
	}
}

// AddOrUpdateModules registers new modules and updates the metadata of known ones. The
// modules whose symbols had to be dropped because their metadata changed are returned.
func (mm *ModuleManager) AddOrUpdateModules(infos []ModuleInfo) []*ModuleData {
	modules := mm.modules.WLock()
	defer mm.modules.WUnlock(&modules)

	var unloaded []*ModuleData
	for _, info := range infos {
		id := ModuleIdentifier{FilePath: info.FilePath, BuildID: info.BuildID}
		module, ok := (*modules)[id]
		if !ok {
			info.AddressStart, info.AddressEnd = 0, 0
			(*modules)[id] = NewModuleData(info)
			continue
		}
		if module.updateIfChangedAndUnload(info) {
			unloaded = append(unloaded, module)
		}
	}
	return unloaded
}

// GetModuleByPathAndBuildID returns the module or nil if it is unknown.
func (mm *ModuleManager) GetModuleByPathAndBuildID(path, buildID string) *ModuleData {
	modules := mm.modules.RLock()
	defer mm.modules.RUnlock(&modules)
	return (*modules)[ModuleIdentifier{FilePath: path, BuildID: buildID}]
}

// GetModuleByModuleInMemory returns the module backing a mapping, or nil.
func (mm *ModuleManager) GetModuleByModuleInMemory(module ModuleInMemory) *ModuleData {
	return mm.GetModuleByPathAndBuildID(module.FilePath, module.BuildID)
}

// GetAllModuleData returns every registered module in no particular order.
func (mm *ModuleManager) GetAllModuleData() []*ModuleData {
	modules := mm.modules.RLock()
	defer mm.modules.RUnlock(&modules)

	result := make([]*ModuleData, 0, len(*modules))
	for _, module := range *modules {
		result = append(result, module)
	}
	return result
}
