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
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpool/resourcebroker/pkg/common/config"
	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/model"
	"github.com/cloudpool/resourcebroker/pkg/storage"
)

type recordingPublisher struct {
	published [][]model.ResourcePool
}

func (p *recordingPublisher) Publish(pools []model.ResourcePool) {
	p.published = append(p.published, pools)
}

func (p *recordingPublisher) last() map[string]model.ResourcePool {
	byCode := map[string]model.ResourcePool{}
	for _, rp := range p.published[len(p.published)-1] {
		byCode[rp.Code] = rp
	}
	return byCode
}

func testCatalog(t *testing.T) *config.Catalog {
	conf := &config.ServerConfig{
		Skus: []config.SkuConfig{
			{
				Name: "dev-2core", Enabled: true, ComputeSkuName: "Standard_D2s_v3", ComputeOS: "Windows",
				ImageFamily: "win11", StorageSkuName: "Premium_LRS", StorageImageFamily: "data", StorageSizeInGB: 256,
				Locations: []string{"westus", "eastus"}, PoolLevel: 3,
			},
			{
				Name: "dev-2core-alt", Enabled: true, ComputeSkuName: "Standard_D2s_v3", ComputeOS: "Windows",
				ImageFamily: "win11", Locations: []string{"westus"}, PoolLevel: 2,
			},
			{
				Name: "retired", Enabled: false, ComputeSkuName: "Standard_D8s_v3", ComputeOS: "Linux",
				ImageFamily: "win11", Locations: []string{"westus"}, PoolLevel: 10,
			},
		},
		ImageFamilies: []config.ImageFamilyConfig{
			{Name: "win11", CurrentImage: "win11-b", Images: []config.ImageConfig{{Name: "win11-a"}, {Name: "win11-b"}}},
			{Name: "data", CurrentImage: "data-1", Images: []config.ImageConfig{{Name: "data-1"}}},
		},
	}
	catalog, err := config.NewCatalog(conf)
	require.NoError(t, err)
	return catalog
}

func computeCode(t *testing.T, location string) string {
	dims, err := PoolDimensions{SkuName: "Standard_D2s_v3", ImageFamilyName: "win11", ImageName: "win11-b", ComputeOS: "Windows"}.ToMap()
	require.NoError(t, err)
	return DefinitionCode(schema.TypeComputeVM, location, dims)
}

func TestPoolDimensions(t *testing.T) {
	dims, err := PoolDimensions{SkuName: "Standard_D2s_v3", ImageFamilyName: "win11", ImageName: "win11-b", ComputeOS: "Windows"}.ToMap()
	require.NoError(t, err)
	assert.Equal(t, model.Map{
		schema.DimensionSkuName:         "Standard_D2s_v3",
		schema.DimensionImageFamilyName: "win11",
		schema.DimensionImageName:       "win11-b",
		schema.DimensionComputeOS:       "Windows",
	}, dims)

	decoded, err := DimensionsFromMap(model.Map{schema.DimensionSkuName: "Premium_LRS", schema.DimensionStorageSizeInGB: "256"})
	require.NoError(t, err)
	assert.Equal(t, 256, decoded.StorageSize())
	assert.Equal(t, 0, PoolDimensions{}.StorageSize())
}

func TestDefinitionCode(t *testing.T) {
	dims := model.Map{"a": "1", "b": "2"}
	code := DefinitionCode(schema.TypeComputeVM, "westus", dims)
	assert.True(t, strings.HasPrefix(code, "computevm-"))
	assert.Equal(t, code, DefinitionCode(schema.TypeComputeVM, "WestUS", model.Map{"b": "2", "a": "1"}))
	assert.NotEqual(t, code, DefinitionCode(schema.TypeComputeVM, "eastus", dims))
	assert.NotEqual(t, code, DefinitionCode(schema.TypeStorageFileShare, "westus", dims))
	assert.NotEqual(t, code, DefinitionCode(schema.TypeComputeVM, "westus", model.Map{"a": "1", "b": "3"}))
}

func TestFlattenAndGroup(t *testing.T) {
	targets, err := FlattenCatalog(testCatalog(t))
	require.NoError(t, err)
	// dev-2core: compute and storage in two locations, dev-2core-alt: compute in one
	assert.Equal(t, 5, len(targets))

	definitions, err := GroupTargets(targets)
	require.NoError(t, err)
	require.Equal(t, 4, len(definitions))

	byCode := map[string]PoolDefinition{}
	for i, def := range definitions {
		byCode[def.Code] = def
		if i > 0 {
			assert.True(t, definitions[i-1].Code < def.Code)
		}
	}
	westus := byCode[computeCode(t, "westus")]
	assert.Equal(t, 5, westus.TargetCount)
	assert.Equal(t, model.StringList{"dev-2core", "dev-2core-alt"}, westus.LogicalSkus)
	assert.Equal(t, "win11-b", westus.VersionCode)
	assert.Equal(t, 3, byCode[computeCode(t, "eastus")].TargetCount)

	storageCount := 0
	for _, def := range definitions {
		if def.Type == schema.TypeStorageFileShare {
			storageCount++
			assert.Equal(t, "256", def.Dimensions[schema.DimensionStorageSizeInGB])
			assert.Equal(t, 3, def.TargetCount)
		}
	}
	assert.Equal(t, 2, storageCount)
}

func TestFlattenCatalog_KeyVault(t *testing.T) {
	conf := &config.ServerConfig{
		Skus: []config.SkuConfig{
			{
				Name: "vaulted", Enabled: true, ComputeSkuName: "Standard_D2s_v3", ComputeOS: "Windows",
				ImageFamily: "win11", KeyVault: true, Locations: []string{"westus", "eastus"}, PoolLevel: 2,
			},
		},
		ImageFamilies: []config.ImageFamilyConfig{
			{Name: "win11", CurrentImage: "win11-a", Images: []config.ImageConfig{{Name: "win11-a"}}},
		},
	}
	catalog, err := config.NewCatalog(conf)
	require.NoError(t, err)

	targets, err := FlattenCatalog(catalog)
	require.NoError(t, err)
	assert.Equal(t, 4, len(targets))
	vaults := 0
	for _, target := range targets {
		if target.Type == schema.TypeKeyVault {
			vaults++
			assert.Equal(t, PoolDimensions{SkuName: KeyVaultSkuName}, target.Dimensions)
			assert.Equal(t, 2, target.Level)
		}
	}
	assert.Equal(t, 2, vaults)

	def, err := ResolveDefinition(catalog, "vaulted", "eastus", schema.TypeKeyVault)
	require.NoError(t, err)
	assert.Equal(t, schema.TypeKeyVault, def.Type)
	assert.True(t, strings.HasPrefix(def.Code, "keyvault-"))

	_, err = ResolveDefinition(testCatalog(t), "dev-2core", "westus", schema.TypeKeyVault)
	assert.Equal(t, errors.LocationNotAvailable, errors.CodeOf(err))
}

func TestMergeOverrides_NonSticky(t *testing.T) {
	storage.InitMockDB()
	publisher := &recordingPublisher{}
	job := NewRefreshPoolScaleTargetsJob(config.PoolConfig{}, testCatalog(t), storage.PoolSetting, publisher)
	westus, eastus := computeCode(t, "westus"), computeCode(t, "eastus")

	count, disabled := 9, false
	require.NoError(t, storage.PoolSetting.Upsert(&model.PoolSetting{PoolCode: westus, TargetCount: &count}))
	require.NoError(t, storage.PoolSetting.Upsert(&model.PoolSetting{PoolCode: eastus, IsEnabled: &disabled}))
	require.NoError(t, job.Run(context.TODO()))

	pools := publisher.last()
	require.Equal(t, 4, len(pools))
	assert.Equal(t, 9, *pools[westus].OverrideTargetCount)
	assert.Nil(t, pools[westus].OverrideIsEnabled)
	westPool, eastPool := pools[westus], pools[eastus]
	assert.Equal(t, 9, westPool.EffectiveTarget())
	assert.Equal(t, 0, eastPool.EffectiveTarget())
	assert.Equal(t, 3, pools[eastus].TargetCount)

	// settings removed from the store no longer apply in the next cycle
	require.NoError(t, storage.PoolSetting.Delete(westus))
	require.NoError(t, job.Run(context.TODO()))
	pools = publisher.last()
	assert.Nil(t, pools[westus].OverrideTargetCount)
	westPool, eastPool = pools[westus], pools[eastus]
	assert.Equal(t, 5, westPool.EffectiveTarget())
	assert.Equal(t, 0, eastPool.EffectiveTarget())
}

func TestRun_Cancelled(t *testing.T) {
	storage.InitMockDB()
	publisher := &recordingPublisher{}
	job := NewRefreshPoolScaleTargetsJob(config.PoolConfig{}, testCatalog(t), storage.PoolSetting, publisher)
	ctx, cancel := context.WithCancel(context.TODO())
	cancel()
	assert.Error(t, job.Run(ctx))
	assert.Empty(t, publisher.published)
}

func TestResolveDefinition(t *testing.T) {
	catalog := testCatalog(t)
	def, err := ResolveDefinition(catalog, "dev-2core-alt", "westus", schema.TypeComputeVM)
	require.NoError(t, err)
	assert.Equal(t, computeCode(t, "westus"), def.Code)
	assert.Equal(t, model.StringList{"dev-2core-alt"}, def.LogicalSkus)

	storageDef, err := ResolveDefinition(catalog, "dev-2core", "eastus", schema.TypeStorageFileShare)
	require.NoError(t, err)
	assert.Equal(t, schema.TypeStorageFileShare, storageDef.Type)

	_, err = ResolveDefinition(catalog, "dev-2core-alt", "eastus", schema.TypeComputeVM)
	assert.Equal(t, errors.LocationNotAvailable, errors.CodeOf(err))
	_, err = ResolveDefinition(catalog, "retired", "westus", schema.TypeComputeVM)
	assert.Equal(t, errors.ResourceNotFound, errors.CodeOf(err))
}
