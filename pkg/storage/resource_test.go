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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/model"
)

func mockReadyRecord(pool string) *model.ResourceRecord {
	return &model.ResourceRecord{
		Type:               schema.TypeComputeVM,
		PoolCode:           pool,
		Location:           "westus2",
		Dimensions:         model.Map{schema.DimensionSkuName: "Standard_D2s_v3"},
		IsReady:            true,
		ProvisioningStatus: model.ProvisioningSucceeded,
	}
}

func TestResourceStore_Op(t *testing.T) {
	InitMockDB()
	r := mockReadyRecord("pool-a")
	t.Run("test resource op", func(t *testing.T) {
		err := Resource.Create(r)
		assert.Equal(t, nil, err)
		assert.NotEmpty(t, r.ID)

		got, err := Resource.Get(r.ID)
		assert.Equal(t, nil, err)
		assert.Equal(t, "Standard_D2s_v3", got.Dimensions[schema.DimensionSkuName])
		t.Logf("get resource: %v", got)

		// optimistic update bumps the version
		got.ResourceName = "vm-a"
		err = Resource.Update(got)
		assert.Equal(t, nil, err)
		assert.Equal(t, int64(1), got.Version)

		// a stale copy is rejected
		r.ResourceName = "vm-b"
		err = Resource.Update(r)
		assert.Equal(t, errors.StaleConcurrencyConflict, errors.CodeOf(err))

		_, err = Resource.Get("missing")
		assert.Equal(t, errors.ResourceNotFound, errors.CodeOf(err))

		err = Resource.SoftDelete(r.ID)
		assert.Equal(t, nil, err)
		records, err := Resource.Query(ResourceFilter{PoolCode: "pool-a"})
		assert.Equal(t, nil, err)
		assert.Equal(t, 0, len(records))
		records, err = Resource.Query(ResourceFilter{PoolCode: "pool-a", IncludeDeleted: true})
		assert.Equal(t, nil, err)
		assert.Equal(t, 1, len(records))
	})
}

func TestResourceStore_Claim(t *testing.T) {
	InitMockDB()
	r := mockReadyRecord("pool-a")
	require.NoError(t, Resource.Create(r))

	won, err := Resource.Claim(r.ID)
	assert.NoError(t, err)
	assert.True(t, won)

	won, err = Resource.Claim(r.ID)
	assert.NoError(t, err)
	assert.False(t, won)

	got, err := Resource.Get(r.ID)
	assert.NoError(t, err)
	assert.True(t, got.IsAssigned)
	assert.NotNil(t, got.AssignedAt)

	returned, err := Resource.ReturnToPool(r.ID)
	assert.NoError(t, err)
	assert.True(t, returned)

	// a record that hosted a workload stays out of the pool
	require.NoError(t, Resource.UpdateFields(r.ID, map[string]interface{}{"is_assigned": true, "in_use": true}))
	returned, err = Resource.ReturnToPool(r.ID)
	assert.NoError(t, err)
	assert.False(t, returned)
}

func TestResourceStore_ConcurrentClaimReady(t *testing.T) {
	testCases := []struct {
		name    string
		members int
		callers int
		window  int
	}{
		{name: "window covers the pool", members: 3, callers: 10, window: 3},
		{name: "pool larger than the window", members: 7, callers: 12, window: 2},
		{name: "every caller served", members: 8, callers: 8, window: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			InitMockDB()
			for i := 0; i < tc.members; i++ {
				require.NoError(t, Resource.Create(mockReadyRecord("pool-a")))
			}

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				claimed = map[string]int{}
				misses  int
			)
			for i := 0; i < tc.callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					r, err := Resource.ClaimReady("pool-a", tc.window)
					assert.NoError(t, err)
					mu.Lock()
					defer mu.Unlock()
					if r == nil {
						misses++
						return
					}
					claimed[r.ID]++
				}()
			}
			wg.Wait()

			assert.Equal(t, tc.members, len(claimed))
			assert.Equal(t, tc.callers-tc.members, misses)
			for id, n := range claimed {
				assert.Equal(t, 1, n, "resource %s claimed twice", id)
			}
		})
	}
}

func TestResourceStore_ClaimReadyAfterLostWindow(t *testing.T) {
	db := InitMockDB()
	const members, window = 5, 3
	for i := 0; i < members; i++ {
		require.NoError(t, Resource.Create(mockReadyRecord("pool-a")))
	}

	// other callers win every candidate of the first window right after it is read
	taken := map[string]bool{}
	err := db.Callback().Query().After("gorm:query").Register("test:take_window", func(tx *gorm.DB) {
		if len(taken) > 0 {
			return
		}
		records, ok := tx.Statement.Dest.(*[]model.ResourceRecord)
		if !ok {
			return
		}
		for _, r := range *records {
			taken[r.ID] = true
		}
		for _, r := range *records {
			won, err := Resource.Claim(r.ID)
			require.NoError(t, err)
			require.True(t, won)
		}
	})
	require.NoError(t, err)

	r, err := Resource.ClaimReady("pool-a", window)
	require.NoError(t, err)
	require.NotNil(t, r, "ready members are left after losing the first window")
	assert.Equal(t, window, len(taken))
	assert.False(t, taken[r.ID])
	assert.True(t, r.IsAssigned)

	count, err := Resource.CountByPool("pool-a")
	require.NoError(t, err)
	assert.Equal(t, int64(members-window-1), count.Ready)
}

func TestResourceStore_PoolCounts(t *testing.T) {
	InitMockDB()
	for i := 0; i < 4; i++ {
		require.NoError(t, Resource.Create(mockReadyRecord("pool-a")))
	}
	creating := mockReadyRecord("pool-a")
	creating.IsReady = false
	creating.ProvisioningStatus = model.ProvisioningCreating
	require.NoError(t, Resource.Create(creating))
	assigned := mockReadyRecord("pool-a")
	assigned.IsAssigned = true
	require.NoError(t, Resource.Create(assigned))

	count, err := Resource.CountByPool("pool-a")
	assert.NoError(t, err)
	assert.Equal(t, PoolCount{Ready: 4, Provisioning: 1, Assigned: 1}, count)
	assert.Equal(t, int64(5), count.Live())

	deleting, err := Resource.ClaimForDelete("pool-a", 3)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(deleting))
	for _, r := range deleting {
		assert.Equal(t, model.ProvisioningDeleting, r.ProvisioningStatus)
	}

	count, err = Resource.CountByPool("pool-a")
	assert.NoError(t, err)
	assert.Equal(t, PoolCount{Ready: 1, Provisioning: 1, Assigned: 1}, count)

	marked, err := Resource.MarkDeleting(creating.ID, "drain")
	assert.NoError(t, err)
	assert.True(t, marked)
	marked, err = Resource.MarkDeleting(creating.ID, "drain")
	assert.NoError(t, err)
	assert.False(t, marked)

	codes, err := Resource.ListLivePoolCodes()
	assert.NoError(t, err)
	assert.Equal(t, []string{"pool-a"}, codes)
}
