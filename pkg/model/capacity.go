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
	"fmt"
	"time"

	"github.com/cloudpool/resourcebroker/pkg/common/schema"
)

// CapacityRecord is the last observed usage of one quota, keyed by (subscription, service, location, quota)
type CapacityRecord struct {
	Pk             int64              `json:"-" gorm:"primaryKey;autoIncrement"`
	SubscriptionID string             `json:"subscriptionID" gorm:"type:varchar(64);uniqueIndex:idx_capacity_key"`
	ServiceType    schema.ServiceType `json:"serviceType" gorm:"type:varchar(32);uniqueIndex:idx_capacity_key"`
	Location       string             `json:"location" gorm:"type:varchar(64);uniqueIndex:idx_capacity_key"`
	QuotaName      string             `json:"quotaName" gorm:"type:varchar(128);uniqueIndex:idx_capacity_key"`
	Limit          int64              `json:"limit" gorm:"column:quota_limit"`
	CurrentValue   int64              `json:"currentValue"`
	ObservedAt     time.Time          `json:"observedAt"`
	CreatedAt      time.Time          `json:"-"`
	UpdatedAt      time.Time          `json:"-"`
}

func (CapacityRecord) TableName() string {
	return "capacity"
}

func (c *CapacityRecord) Headroom() int64 {
	return c.Limit - c.CurrentValue
}

// Key identifies the record inside one subscription and location
func (c *CapacityRecord) Key() string {
	return CapacityKey(c.ServiceType, c.QuotaName)
}

func CapacityKey(serviceType schema.ServiceType, quota string) string {
	return fmt.Sprintf("%s/%s", serviceType, quota)
}

// AzureResourceUsage is a usage value observed by a live provider query
type AzureResourceUsage struct {
	SubscriptionID string             `json:"subscriptionID"`
	ServiceType    schema.ServiceType `json:"serviceType"`
	Location       string             `json:"location"`
	Quota          string             `json:"quota"`
	Limit          int64              `json:"limit"`
	CurrentValue   int64              `json:"currentValue"`
}

func (u AzureResourceUsage) ToRecord(observedAt time.Time) CapacityRecord {
	return CapacityRecord{
		SubscriptionID: u.SubscriptionID,
		ServiceType:    u.ServiceType,
		Location:       u.Location,
		QuotaName:      u.Quota,
		Limit:          u.Limit,
		CurrentValue:   u.CurrentValue,
		ObservedAt:     observedAt,
	}
}
