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
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
)

// ResourcePool is the definition of a homogeneous class of resources and its desired inventory
type ResourcePool struct {
	Model               `gorm:"embedded"`
	Pk                  int64               `json:"-" gorm:"primaryKey;autoIncrement"`
	Code                string              `json:"code" gorm:"type:varchar(128);index:idx_pool_code,unique"`
	VersionCode         string              `json:"versionCode" gorm:"type:varchar(128)"`
	Type                schema.ResourceType `json:"type" gorm:"column:resource_type;type:varchar(64)"`
	Location            string              `json:"location" gorm:"type:varchar(64)"`
	Dimensions          Map                 `json:"dimensions" gorm:"type:text"`
	LogicalSkus         StringList          `json:"logicalSkus" gorm:"type:text"`
	TargetCount         int                 `json:"targetCount"`
	OverrideTargetCount *int                `json:"overrideTargetCount,omitempty"`
	OverrideIsEnabled   *bool               `json:"overrideIsEnabled,omitempty"`
	DeletedAt           string              `json:"-" gorm:"type:varchar(32);index:idx_pool_code,unique"`
}

func (ResourcePool) TableName() string {
	return "resource_pool"
}

// EffectiveTarget is the inventory the reconciler converges to
func (rp *ResourcePool) EffectiveTarget() int {
	if rp.OverrideIsEnabled != nil && !*rp.OverrideIsEnabled {
		return 0
	}
	if rp.OverrideTargetCount != nil {
		if *rp.OverrideTargetCount < 0 {
			return 0
		}
		return *rp.OverrideTargetCount
	}
	return rp.TargetCount
}

// PoolSetting is an operator override of a pool, keyed by pool code
type PoolSetting struct {
	Model       `gorm:"embedded"`
	Pk          int64  `json:"-" gorm:"primaryKey;autoIncrement"`
	PoolCode    string `json:"poolCode" gorm:"type:varchar(128);uniqueIndex"`
	TargetCount *int   `json:"targetCount,omitempty"`
	IsEnabled   *bool  `json:"isEnabled,omitempty"`
	Description string `json:"description" gorm:"type:varchar(256)"`
}

func (PoolSetting) TableName() string {
	return "pool_setting"
}
