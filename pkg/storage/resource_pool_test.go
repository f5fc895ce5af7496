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

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/model"
)

func TestResourcePoolStore_ReplaceAll(t *testing.T) {
	InitMockDB()
	override := 9
	cycle1 := []model.ResourcePool{
		{Code: "pool-a", Type: schema.TypeComputeVM, Location: "westus", TargetCount: 5, OverrideTargetCount: &override},
		{Code: "pool-b", Type: schema.TypeStorageFileShare, Location: "westus", TargetCount: 2},
	}
	t.Run("test resource pool op", func(t *testing.T) {
		err := ResourcePool.ReplaceAll(cycle1)
		assert.Equal(t, nil, err)

		rp, err := ResourcePool.Get("pool-a")
		assert.Equal(t, nil, err)
		assert.Equal(t, 9, rp.EffectiveTarget())
		t.Logf("get resource pool: %v", rp)

		// the next cycle drops pool-b and clears the override of pool-a
		cycle2 := []model.ResourcePool{
			{Code: "pool-a", Type: schema.TypeComputeVM, Location: "westus", TargetCount: 6},
		}
		err = ResourcePool.ReplaceAll(cycle2)
		assert.Equal(t, nil, err)

		rp, err = ResourcePool.Get("pool-a")
		assert.Equal(t, nil, err)
		assert.Nil(t, rp.OverrideTargetCount)
		assert.Equal(t, 6, rp.EffectiveTarget())

		rps, err := ResourcePool.List()
		assert.Equal(t, nil, err)
		assert.Equal(t, 1, len(rps))

		_, err = ResourcePool.Get("pool-b")
		assert.Error(t, err)
	})
}

func TestPoolSettingStore(t *testing.T) {
	InitMockDB()
	five, disabled := 5, false
	require.NoError(t, PoolSetting.Upsert(&model.PoolSetting{PoolCode: "pool-a", TargetCount: &five}))
	require.NoError(t, PoolSetting.Upsert(&model.PoolSetting{PoolCode: "pool-a", IsEnabled: &disabled}))

	settings, err := PoolSetting.List()
	require.NoError(t, err)
	require.Equal(t, 1, len(settings))
	assert.Nil(t, settings[0].TargetCount)
	require.NotNil(t, settings[0].IsEnabled)
	assert.False(t, *settings[0].IsEnabled)

	require.NoError(t, PoolSetting.Delete("pool-a"))
	settings, err = PoolSetting.List()
	require.NoError(t, err)
	assert.Equal(t, 0, len(settings))
}
