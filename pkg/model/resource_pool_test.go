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

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourcePool_EffectiveTarget(t *testing.T) {
	seven, negative := 7, -1
	enabled, disabled := true, false
	testCases := []struct {
		name   string
		pool   ResourcePool
		expect int
	}{
		{name: "computed", pool: ResourcePool{TargetCount: 5}, expect: 5},
		{name: "override count", pool: ResourcePool{TargetCount: 5, OverrideTargetCount: &seven}, expect: 7},
		{name: "override enabled keeps computed", pool: ResourcePool{TargetCount: 5, OverrideIsEnabled: &enabled}, expect: 5},
		{name: "disabled wins", pool: ResourcePool{TargetCount: 5, OverrideTargetCount: &seven, OverrideIsEnabled: &disabled}, expect: 0},
		{name: "negative override", pool: ResourcePool{TargetCount: 5, OverrideTargetCount: &negative}, expect: 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, tc.pool.EffectiveTarget())
		})
	}
}

func TestMapAndStringList(t *testing.T) {
	m := Map{"skuName": "Standard_D2s_v3", "computeOS": "Linux"}
	assert.Equal(t, "computeOS=Linux,skuName=Standard_D2s_v3", m.String())

	v, err := m.Value()
	assert.NoError(t, err)
	var decoded Map
	assert.NoError(t, decoded.Scan(v))
	assert.Equal(t, m, decoded)

	var empty Map
	assert.NoError(t, empty.Scan(nil))
	assert.Equal(t, 0, len(empty))

	l := StringList{"nic-1", "disk-1"}
	v, err = l.Value()
	assert.NoError(t, err)
	var decodedList StringList
	assert.NoError(t, decodedList.Scan([]byte(v.(string))))
	assert.True(t, decodedList.Contains("disk-1"))
	assert.False(t, decodedList.Contains("vm-1"))

	assert.Error(t, decodedList.Scan(42))
}

func TestCapacityRecord_Headroom(t *testing.T) {
	c := CapacityRecord{Limit: 10, CurrentValue: 9, ServiceType: "Compute", QuotaName: "cores"}
	assert.Equal(t, int64(1), c.Headroom())
	assert.Equal(t, "Compute/cores", c.Key())
}
