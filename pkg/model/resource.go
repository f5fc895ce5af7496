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
	"time"

	"github.com/cloudpool/resourcebroker/pkg/common/schema"
)

const (
	ProvisioningCreating  = "Creating"
	ProvisioningSucceeded = "Succeeded"
	ProvisioningFailed    = "Failed"
	ProvisioningDeleting  = "Deleting"
	ProvisioningDeleted   = "Deleted"
)

// ResourceRecord is a provisioned or pooled cloud resource
type ResourceRecord struct {
	Model           `gorm:"embedded"`
	Pk              int64               `json:"-" gorm:"primaryKey;autoIncrement"`
	Type            schema.ResourceType `json:"type" gorm:"column:resource_type;type:varchar(64);index:idx_resource_pool"`
	PoolCode        string              `json:"poolCode" gorm:"type:varchar(128);index:idx_resource_pool"`
	PoolVersionCode string              `json:"poolVersionCode" gorm:"type:varchar(128)"`
	Dimensions      Map                 `json:"dimensions" gorm:"type:text"`
	Location        string              `json:"location" gorm:"type:varchar(64)"`
	SkuName         string              `json:"skuName" gorm:"type:varchar(128)"`
	IsAssigned      bool                `json:"isAssigned" gorm:"index:idx_resource_pool"`
	IsReady         bool                `json:"isReady" gorm:"index:idx_resource_pool"`
	// InUse marks a record that hosted a workload, it never goes back to inventory
	InUse      bool       `json:"inUse"`
	AssignedAt *time.Time `json:"assignedAt,omitempty"`

	SubscriptionID  string     `json:"subscriptionID" gorm:"type:varchar(64)"`
	ResourceGroup   string     `json:"resourceGroup" gorm:"type:varchar(128)"`
	ResourceName    string     `json:"resourceName" gorm:"type:varchar(128)"`
	CloudResourceID string     `json:"cloudResourceID" gorm:"type:varchar(512)"`
	DeploymentID    string     `json:"deploymentID" gorm:"type:varchar(512)"`
	Components      StringList `json:"components" gorm:"type:text"`
	ParentID        string     `json:"parentID" gorm:"type:varchar(64)"`

	ProvisioningStatus string `json:"provisioningStatus" gorm:"type:varchar(32)"`
	ProvisioningReason string `json:"provisioningReason" gorm:"type:text"`
	Version            int64  `json:"version"`
	DeletedAt          string `json:"-" gorm:"index:idx_resource_pool"`
}

func (ResourceRecord) TableName() string {
	return "resource"
}

// IsPooled reports whether the record is ready inventory of its pool
func (r *ResourceRecord) IsPooled() bool {
	return r.IsReady && !r.IsAssigned && r.DeletedAt == "" && r.ProvisioningStatus != ProvisioningDeleting
}

// ComputeOS returns the os dimension of the record pool
func (r *ResourceRecord) ComputeOS() schema.ComputeOS {
	return schema.ComputeOS(r.Dimensions[schema.DimensionComputeOS])
}
