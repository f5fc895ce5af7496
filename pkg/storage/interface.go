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
	"time"

	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/model"
)

type ResourceFilter struct {
	Type           schema.ResourceType
	PoolCode       string
	Location       string
	ParentID       string
	IsAssigned     *bool
	IsReady        *bool
	IncludeDeleted bool
	Limit          int
}

// PoolCount is the inventory of one pool as seen by the reconciler
type PoolCount struct {
	Ready        int64
	Provisioning int64
	Assigned     int64
}

// Live is the unassigned inventory, in-flight creations included
func (c PoolCount) Live() int64 {
	return c.Ready + c.Provisioning
}

type ResourceStoreInterface interface {
	Create(r *model.ResourceRecord) error
	// Get returns the record even when soft deleted, callers check DeletedAt
	Get(id string) (*model.ResourceRecord, error)
	// Update persists r if its version still matches, then bumps r.Version
	Update(r *model.ResourceRecord) error
	UpdateFields(id string, fields map[string]interface{}) error
	Query(filter ResourceFilter) ([]model.ResourceRecord, error)
	// Claim atomically assigns a ready unassigned record, it reports false when another caller won
	Claim(id string) (bool, error)
	ClaimReady(poolCode string, window int) (*model.ResourceRecord, error)
	ClaimForDelete(poolCode string, n int) ([]model.ResourceRecord, error)
	ReturnToPool(id string) (bool, error)
	MarkDeleting(id, reason string) (bool, error)
	SoftDelete(id string) error
	CountByPool(poolCode string) (PoolCount, error)
	ListLivePoolCodes() ([]string, error)
}

type CapacityFilter struct {
	SubscriptionID string
	Location       string
	ServiceType    schema.ServiceType
}

type CapacityStoreInterface interface {
	Upsert(records []model.CapacityRecord) error
	Get(subscriptionID string, serviceType schema.ServiceType, location, quota string) (*model.CapacityRecord, error)
	// Query orders by subscription, service type and quota name
	Query(filter CapacityFilter) ([]model.CapacityRecord, error)
}

type ContinuationStoreInterface interface {
	Create(op *model.Continuation) error
	Get(id string) (*model.Continuation, error)
	UpdateWithVersion(op *model.Continuation, expectedVersion int64) error
	ListDue(now time.Time, limit int) ([]model.Continuation, error)
	AcquireLease(id string, version int64, until time.Time) (bool, error)
	RequestCancel(id, reason string) (bool, error)
	ListByTarget(targetID string) ([]model.Continuation, error)
	CountByStatus() (map[schema.OperationStatus]int64, error)
}

type ResourcePoolStoreInterface interface {
	// ReplaceAll upserts pools by code and soft deletes every live pool missing from the set
	ReplaceAll(pools []model.ResourcePool) error
	Get(code string) (*model.ResourcePool, error)
	List() ([]model.ResourcePool, error)
}

type PoolSettingStoreInterface interface {
	Upsert(setting *model.PoolSetting) error
	Delete(poolCode string) error
	List() ([]model.PoolSetting, error)
}

type EnvironmentStoreInterface interface {
	Create(env *model.Environment) error
	Get(id string) (*model.Environment, error)
	Update(env *model.Environment) error
	// TransitState moves the environment to state only if it is currently in one of from
	TransitState(id string, from []schema.EnvironmentState, to schema.EnvironmentState, reason string) (bool, error)
	RecordHeartbeat(id string, ts time.Time) error
	UpdateMonitor(id, monitorOperationID string) error
}
