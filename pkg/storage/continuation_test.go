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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/model"
)

func TestContinuationStore_Op(t *testing.T) {
	InitMockDB()
	now := model.Now()
	op := &model.Continuation{
		ID:          "op-1",
		HandlerName: schema.HandlerCreateResource,
		Input:       `{"phase":"begin"}`,
		DueTime:     now.Add(-time.Second),
	}
	require.NoError(t, Continuation.Create(op))
	assert.Equal(t, schema.StatusOperationCreated, op.Status)

	// the same operation id cannot be stored twice
	err := Continuation.Create(&model.Continuation{ID: "op-1", HandlerName: "x"})
	assert.True(t, errors.IsDuplicatedKey(err), "err: %v", err)

	due, err := Continuation.ListDue(now, 10)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(due))

	leased, err := Continuation.AcquireLease(op.ID, 0, now.Add(time.Minute))
	assert.NoError(t, err)
	assert.True(t, leased)
	leased, err = Continuation.AcquireLease(op.ID, 0, now.Add(time.Minute))
	assert.NoError(t, err)
	assert.False(t, leased)

	due, err = Continuation.ListDue(now, 10)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(due))

	got, err := Continuation.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	got.Status = schema.StatusOperationInProgress
	got.Input = `{"phase":"poll"}`
	got.Turns = 1
	assert.NoError(t, Continuation.UpdateWithVersion(got, got.Version))
	assert.Equal(t, int64(2), got.Version)

	err = Continuation.UpdateWithVersion(got, 1)
	assert.Equal(t, errors.StaleConcurrencyConflict, errors.CodeOf(err))

	cancelled, err := Continuation.RequestCancel(op.ID, "user request")
	assert.NoError(t, err)
	assert.True(t, cancelled)
	cancelled, err = Continuation.RequestCancel(op.ID, "user request")
	assert.NoError(t, err)
	assert.False(t, cancelled)

	counts, err := Continuation.CountByStatus()
	assert.NoError(t, err)
	assert.Equal(t, int64(1), counts[schema.StatusOperationCancelled])

	_, err = Continuation.Get("op-2")
	assert.Equal(t, errors.OperationNotFound, errors.CodeOf(err))
}

func TestCapacityStore_Upsert(t *testing.T) {
	InitMockDB()
	observed := model.Now()
	records := []model.CapacityRecord{
		{SubscriptionID: "sub-b", ServiceType: schema.ServiceCompute, Location: "westus", QuotaName: "cores", Limit: 10, CurrentValue: 2, ObservedAt: observed},
		{SubscriptionID: "sub-a", ServiceType: schema.ServiceNetwork, Location: "westus", QuotaName: "VirtualNetworks", Limit: 50, CurrentValue: 1, ObservedAt: observed},
		{SubscriptionID: "sub-a", ServiceType: schema.ServiceCompute, Location: "westus", QuotaName: "cores", Limit: 10, CurrentValue: 9, ObservedAt: observed},
	}
	require.NoError(t, Capacity.Upsert(records))

	// a refresh supersedes the previous value
	require.NoError(t, Capacity.Upsert([]model.CapacityRecord{
		{SubscriptionID: "sub-a", ServiceType: schema.ServiceCompute, Location: "westus", QuotaName: "cores", Limit: 20, CurrentValue: 4, ObservedAt: observed},
	}))

	got, err := Capacity.Get("sub-a", schema.ServiceCompute, "westus", "cores")
	require.NoError(t, err)
	assert.Equal(t, int64(16), got.Headroom())

	all, err := Capacity.Query(CapacityFilter{Location: "westus"})
	require.NoError(t, err)
	assert.Equal(t, 3, len(all))
	assert.Equal(t, "sub-a", all[0].SubscriptionID)
	assert.Equal(t, schema.ServiceCompute, all[0].ServiceType)
	assert.Equal(t, "sub-b", all[2].SubscriptionID)

	_, err = Capacity.Get("sub-c", schema.ServiceCompute, "westus", "cores")
	assert.True(t, errors.IsRecordNotFound(err))
}

func TestEnvironmentStore_Op(t *testing.T) {
	InitMockDB()
	env := &model.Environment{ComputeResourceID: "vm-1", StorageResourceID: "share-1", State: schema.EnvironmentStarting}
	require.NoError(t, Environment.Create(env))

	ts := model.Now()
	require.NoError(t, Environment.RecordHeartbeat(env.ID, ts))
	// an older heartbeat does not move the clock back
	require.NoError(t, Environment.RecordHeartbeat(env.ID, ts.Add(-time.Minute)))

	got, err := Environment.Get(env.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.EnvironmentAvailable, got.State)
	require.NotNil(t, got.LastHeartbeat)
	assert.True(t, got.LastHeartbeat.Equal(ts), "last heartbeat %s", got.LastHeartbeat)

	moved, err := Environment.TransitState(env.ID, []schema.EnvironmentState{schema.EnvironmentAvailable}, schema.EnvironmentShutdown, "heartbeat lost")
	assert.NoError(t, err)
	assert.True(t, moved)
	moved, err = Environment.TransitState(env.ID, []schema.EnvironmentState{schema.EnvironmentAvailable}, schema.EnvironmentShutdown, "heartbeat lost")
	assert.NoError(t, err)
	assert.False(t, moved)

	got, err = Environment.Get(env.ID)
	require.NoError(t, err)
	got.Reason = "updated"
	assert.NoError(t, Environment.Update(got))
	stale := *got
	stale.Version = 0
	assert.Equal(t, errors.StaleConcurrencyConflict, errors.CodeOf(Environment.Update(&stale)))
}
