/*
Copyright (c) 2023 PaddlePaddle Authors. All Rights Reserve.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package pool

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/mitchellh/mapstructure"
	pkgerrors "github.com/pkg/errors"

	"github.com/cloudpool/resourcebroker/pkg/common/config"
	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/model"
)

const (
	codeDigestLength = 16
	// KeyVaultSkuName is the only vault tier pools hand out
	KeyVaultSkuName = "standard"
)

// PoolDimensions is the dimension tuple of a pool definition besides type and location
type PoolDimensions struct {
	SkuName         string `mapstructure:"skuName"`
	ImageFamilyName string `mapstructure:"imageFamilyName"`
	ImageName       string `mapstructure:"imageName"`
	ComputeOS       string `mapstructure:"computeOS,omitempty"`
	StorageSizeInGB string `mapstructure:"storageSizeInGB,omitempty"`
}

func (d PoolDimensions) ToMap() (model.Map, error) {
	m := map[string]string{}
	if err := mapstructure.Decode(d, &m); err != nil {
		return nil, pkgerrors.Wrap(err, "encode pool dimensions failed")
	}
	return model.Map(m), nil
}

func DimensionsFromMap(m model.Map) (PoolDimensions, error) {
	var d PoolDimensions
	if err := mapstructure.Decode(map[string]string(m), &d); err != nil {
		return d, pkgerrors.Wrap(err, "decode pool dimensions failed")
	}
	return d, nil
}

// StorageSize returns the share size dimension, 0 when absent
func (d PoolDimensions) StorageSize() int {
	size, err := strconv.Atoi(d.StorageSizeInGB)
	if err != nil {
		return 0
	}
	return size
}

// PoolTarget is the pool level one logical sku asks for in one location
type PoolTarget struct {
	Type       schema.ResourceType
	Location   string
	Dimensions PoolDimensions
	LogicalSku string
	Level      int
}

// DefinitionCode identifies the pool of a dimension tuple, equal tuples always get equal codes
func DefinitionCode(resourceType schema.ResourceType, location string, dims model.Map) string {
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(string(resourceType))
	b.WriteString("|" + strings.ToLower(location))
	for _, k := range keys {
		b.WriteString("|" + k + "=" + dims[k])
	}
	digest := strings.ReplaceAll(uuid.NewSHA1(uuid.NameSpaceOID, []byte(b.String())).String(), "-", "")
	return fmt.Sprintf("%s-%s", strings.ToLower(string(resourceType)), digest[:codeDigestLength])
}

// FlattenCatalog expands every enabled logical sku into one compute target per location,
// plus one storage target when the sku carries storage and one key vault target when it pools vaults
func FlattenCatalog(catalog *config.Catalog) ([]PoolTarget, error) {
	var targets []PoolTarget
	for _, sku := range catalog.Skus() {
		if !sku.Enabled {
			continue
		}
		image, err := catalog.CurrentImage(sku.ImageFamily)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "sku %s", sku.Name)
		}
		compute := PoolDimensions{
			SkuName:         sku.ComputeSkuName,
			ImageFamilyName: sku.ImageFamily,
			ImageName:       image.Name,
			ComputeOS:       sku.ComputeOS,
		}
		var storage *PoolDimensions
		if sku.HasStorage() {
			storageImage, err := catalog.CurrentImage(sku.StorageImageFamily)
			if err != nil {
				return nil, pkgerrors.Wrapf(err, "sku %s", sku.Name)
			}
			storage = &PoolDimensions{
				SkuName:         sku.StorageSkuName,
				ImageFamilyName: sku.StorageImageFamily,
				ImageName:       storageImage.Name,
				StorageSizeInGB: strconv.Itoa(sku.StorageSizeInGB),
			}
		}
		for _, location := range sku.Locations {
			targets = append(targets, PoolTarget{
				Type:       schema.TypeComputeVM,
				Location:   location,
				Dimensions: compute,
				LogicalSku: sku.Name,
				Level:      sku.PoolLevel,
			})
			if storage != nil {
				targets = append(targets, PoolTarget{
					Type:       schema.TypeStorageFileShare,
					Location:   location,
					Dimensions: *storage,
					LogicalSku: sku.Name,
					Level:      sku.PoolLevel,
				})
			}
			if sku.KeyVault {
				targets = append(targets, PoolTarget{
					Type:       schema.TypeKeyVault,
					Location:   location,
					Dimensions: PoolDimensions{SkuName: KeyVaultSkuName},
					LogicalSku: sku.Name,
					Level:      sku.PoolLevel,
				})
			}
		}
	}
	return targets, nil
}

// PoolDefinition is a computed pool before it is published
type PoolDefinition struct {
	Code                string
	VersionCode         string
	Type                schema.ResourceType
	Location            string
	Dimensions          model.Map
	LogicalSkus         model.StringList
	TargetCount         int
	OverrideTargetCount *int
	OverrideIsEnabled   *bool
}

// GroupTargets sums the levels of targets sharing a definition, ordered by code
func GroupTargets(targets []PoolTarget) ([]PoolDefinition, error) {
	groups := treemap.NewWithStringComparator()
	for _, t := range targets {
		dims, err := t.Dimensions.ToMap()
		if err != nil {
			return nil, err
		}
		code := DefinitionCode(t.Type, t.Location, dims)
		if value, found := groups.Get(code); found {
			def := value.(*PoolDefinition)
			def.TargetCount += t.Level
			if !def.LogicalSkus.Contains(t.LogicalSku) {
				def.LogicalSkus = append(def.LogicalSkus, t.LogicalSku)
				sort.Strings(def.LogicalSkus)
			}
			continue
		}
		groups.Put(code, &PoolDefinition{
			Code:        code,
			VersionCode: t.Dimensions.ImageName,
			Type:        t.Type,
			Location:    t.Location,
			Dimensions:  dims,
			LogicalSkus: model.StringList{t.LogicalSku},
			TargetCount: t.Level,
		})
	}
	definitions := make([]PoolDefinition, 0, groups.Size())
	for _, value := range groups.Values() {
		definitions = append(definitions, *value.(*PoolDefinition))
	}
	return definitions, nil
}

// MergeOverrides applies operator settings by pool code. A pool without a setting has its
// override cleared, so removing a setting takes effect in the next cycle.
func MergeOverrides(definitions []PoolDefinition, settings []model.PoolSetting) []PoolDefinition {
	byCode := make(map[string]model.PoolSetting, len(settings))
	for _, s := range settings {
		byCode[s.PoolCode] = s
	}
	merged := make([]PoolDefinition, 0, len(definitions))
	for _, def := range definitions {
		def.OverrideTargetCount, def.OverrideIsEnabled = nil, nil
		if s, ok := byCode[def.Code]; ok {
			if s.TargetCount != nil {
				count := *s.TargetCount
				def.OverrideTargetCount = &count
			}
			if s.IsEnabled != nil {
				enabled := *s.IsEnabled
				def.OverrideIsEnabled = &enabled
			}
		}
		merged = append(merged, def)
	}
	return merged
}

// ToResourcePools converts definitions into the rows the scaling handler persists
func ToResourcePools(definitions []PoolDefinition) ([]model.ResourcePool, error) {
	pools := make([]model.ResourcePool, 0, len(definitions))
	for _, def := range definitions {
		var rp model.ResourcePool
		if err := copier.Copy(&rp, &def); err != nil {
			return nil, pkgerrors.Wrapf(err, "copy pool definition %s failed", def.Code)
		}
		pools = append(pools, rp)
	}
	return pools, nil
}

// ResolveDefinition finds the pool a logical sku maps to in a location
func ResolveDefinition(catalog *config.Catalog, skuName, location string, resourceType schema.ResourceType) (*PoolDefinition, error) {
	sku, ok := catalog.Sku(skuName)
	if !ok || !sku.Enabled {
		return nil, errors.ResourceNotFoundError("sku " + skuName)
	}
	targets, err := FlattenCatalog(catalog)
	if err != nil {
		return nil, err
	}
	var matched []PoolTarget
	for _, t := range targets {
		if t.LogicalSku == sku.Name && t.Type == resourceType && strings.EqualFold(t.Location, location) {
			matched = append(matched, t)
		}
	}
	if len(matched) == 0 {
		return nil, errors.LocationNotAvailableError(sku.Name, location)
	}
	definitions, err := GroupTargets(matched)
	if err != nil {
		return nil, err
	}
	def := definitions[0]
	def.LogicalSkus = model.StringList{sku.Name}
	return &def, nil
}
