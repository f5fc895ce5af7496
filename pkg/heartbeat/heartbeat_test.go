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

package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpool/resourcebroker/pkg/common/config"
	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/continuation"
	"github.com/cloudpool/resourcebroker/pkg/model"
	"github.com/cloudpool/resourcebroker/pkg/storage"
)

type countingDeleter struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (d *countingDeleter) DeleteResource(ctx context.Context, resourceID, reason string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.deleted = append(d.deleted, resourceID)
	return "delete-" + resourceID, nil
}

var testHeartbeatConf = config.HeartbeatConfig{Timeout: 2 * time.Minute, Buffer: 30 * time.Second}

func newTestMonitor(t *testing.T, deleter ResourceDeleter) (*Service, *continuation.Engine) {
	storage.InitMockDB()
	svc := NewService(testHeartbeatConf, storage.Environment, deleter)
	registry := continuation.NewRegistry()
	require.NoError(t, registry.Register(NewMonitor(svc)))
	engine := continuation.NewEngine(config.ContinuationConfig{
		WorkerCount:      1,
		BatchSize:        10,
		LeaseDuration:    time.Minute,
		MaxRetryAttempts: 3,
		BaseBackoff:      time.Second,
		MaxBackoff:       10 * time.Second,
	}, storage.Continuation, registry)
	return svc, engine
}

func createEnvironment(t *testing.T, state schema.EnvironmentState, lastHeartbeat *time.Time) *model.Environment {
	env := &model.Environment{
		State:             state,
		ComputeResourceID: "compute-1",
		LastHeartbeat:     lastHeartbeat,
	}
	require.NoError(t, storage.Environment.Create(env))
	return env
}

func TestCache_KeepsNewest(t *testing.T) {
	cache := NewCache()
	_, ok := cache.Latest("env-1")
	assert.False(t, ok)

	base := model.Now()
	assert.True(t, cache.Record("env-1", base).Equal(base))
	assert.True(t, cache.Record("env-1", base.Add(-time.Minute)).Equal(base))

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cache.Record("env-1", base.Add(time.Duration(i)*time.Second))
		}(i)
	}
	wg.Wait()
	latest, ok := cache.Latest("env-1")
	assert.True(t, ok)
	assert.True(t, latest.Equal(base.Add(50*time.Second)))

	cache.Forget("env-1")
	_, ok = cache.Latest("env-1")
	assert.False(t, ok)
}

func TestService_RecordHeartbeat(t *testing.T) {
	svc, _ := newTestMonitor(t, &countingDeleter{})
	env := createEnvironment(t, schema.EnvironmentStarting, nil)

	ts := model.Now()
	require.NoError(t, svc.RecordHeartbeat(context.TODO(), env.ID, ts))
	got, err := storage.Environment.Get(env.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.EnvironmentAvailable, got.State)

	latest, ok := svc.LatestHeartbeat(got)
	assert.True(t, ok)
	assert.WithinDuration(t, ts, latest, time.Second)

	err = svc.RecordHeartbeat(context.TODO(), "missing", ts)
	assert.Equal(t, errors.ResourceNotFound, errors.CodeOf(err))
}

func TestService_RecordHeartbeatFromTheFuture(t *testing.T) {
	svc, _ := newTestMonitor(t, &countingDeleter{})
	now := model.Now().Truncate(time.Second)
	svc.now = func() time.Time { return now }
	env := createEnvironment(t, schema.EnvironmentAvailable, nil)

	require.NoError(t, svc.RecordHeartbeat(context.TODO(), env.ID, now.Add(time.Hour)))
	got, err := storage.Environment.Get(env.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastHeartbeat)
	assert.WithinDuration(t, now, *got.LastHeartbeat, time.Second)
	latest, ok := svc.LatestHeartbeat(got)
	assert.True(t, ok)
	assert.True(t, latest.Equal(now), latest)

	// an earlier ts is kept as reported
	require.NoError(t, svc.RecordHeartbeat(context.TODO(), env.ID, now.Add(-time.Minute)))
	latest, _ = svc.cache.Latest(env.ID)
	assert.True(t, latest.Equal(now))
}

func TestMonitor(t *testing.T) {
	window := testHeartbeatConf.Window()
	testCases := []struct {
		name          string
		state         schema.EnvironmentState
		lastHeartbeat time.Duration
		turns         int
		wantStatus    schema.OperationStatus
		wantState     schema.EnvironmentState
		wantDeleted   int
	}{
		{
			name:          "stale heartbeat suspends once",
			state:         schema.EnvironmentAvailable,
			lastHeartbeat: -10 * time.Minute,
			turns:         3,
			wantStatus:    schema.StatusOperationFailed,
			wantState:     schema.EnvironmentShutdown,
			wantDeleted:   1,
		},
		{
			name:          "available one second past the window suspends once",
			state:         schema.EnvironmentAvailable,
			lastHeartbeat: -(window + time.Second),
			turns:         3,
			wantStatus:    schema.StatusOperationFailed,
			wantState:     schema.EnvironmentShutdown,
			wantDeleted:   1,
		},
		{
			name:          "unavailable one second past the window suspends once",
			state:         schema.EnvironmentUnavailable,
			lastHeartbeat: -(window + time.Second),
			turns:         3,
			wantStatus:    schema.StatusOperationFailed,
			wantState:     schema.EnvironmentShutdown,
			wantDeleted:   1,
		},
		{
			name:          "available one second inside the window re-arms",
			state:         schema.EnvironmentAvailable,
			lastHeartbeat: -(window - time.Second),
			turns:         3,
			wantStatus:    schema.StatusOperationInProgress,
			wantState:     schema.EnvironmentAvailable,
		},
		{
			name:          "unavailable one second inside the window re-arms",
			state:         schema.EnvironmentUnavailable,
			lastHeartbeat: -(window - time.Second),
			turns:         3,
			wantStatus:    schema.StatusOperationInProgress,
			wantState:     schema.EnvironmentUnavailable,
		},
		{
			name:          "terminal environment stops monitoring",
			state:         schema.EnvironmentShutdown,
			lastHeartbeat: -10 * time.Minute,
			turns:         1,
			wantStatus:    schema.StatusOperationCancelled,
			wantState:     schema.EnvironmentShutdown,
		},
		{
			name:          "fresh heartbeat re-arms",
			state:         schema.EnvironmentAvailable,
			lastHeartbeat: -10 * time.Second,
			turns:         1,
			wantStatus:    schema.StatusOperationInProgress,
			wantState:     schema.EnvironmentAvailable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			deleter := &countingDeleter{}
			svc, engine := newTestMonitor(t, deleter)
			now := model.Now().Truncate(time.Second)
			svc.now = func() time.Time { return now }
			last := now.Add(tc.lastHeartbeat)
			env := createEnvironment(t, tc.state, &last)

			opID, err := StartMonitor(context.TODO(), engine, env.ID, "start-1")
			require.NoError(t, err)
			assert.Equal(t, MonitorOperationID("start-1"), opID)
			for i := 0; i < tc.turns; i++ {
				_, err := engine.RunDue(context.TODO())
				require.NoError(t, err)
			}

			op, err := engine.Get(context.TODO(), opID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, op.Status)
			assert.Equal(t, tc.wantDeleted, len(deleter.deleted))

			got, err := storage.Environment.Get(env.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantState, got.State)
			if tc.wantDeleted > 0 {
				assert.Empty(t, got.ComputeResourceID)
				assert.Contains(t, op.ErrorReason, ReasonHeartbeatTimeout)
			}
			if tc.wantStatus == schema.StatusOperationInProgress {
				assert.True(t, op.DueTime.After(model.Now()))
				assert.Contains(t, op.Input, `"cycle":1`)
			}
		})
	}
}

func TestForceSuspend_DeleteFailureIsSwallowed(t *testing.T) {
	deleter := &countingDeleter{err: fmt.Errorf("provider down")}
	svc, _ := newTestMonitor(t, deleter)
	env := createEnvironment(t, schema.EnvironmentAvailable, nil)

	svc.ForceSuspend(context.TODO(), env.ID, "test")
	got, err := storage.Environment.Get(env.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.EnvironmentShutdown, got.State)
	assert.Equal(t, "compute-1", got.ComputeResourceID)

	// a repeat after the provider recovers finishes the detach
	deleter.err = nil
	svc.ForceSuspend(context.TODO(), env.ID, "test")
	got, err = storage.Environment.Get(env.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ComputeResourceID)
	assert.Equal(t, []string{"compute-1"}, deleter.deleted)
}
