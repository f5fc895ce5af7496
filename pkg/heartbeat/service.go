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
	"time"

	"github.com/cloudpool/resourcebroker/pkg/common/config"
	"github.com/cloudpool/resourcebroker/pkg/common/logger"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/model"
	"github.com/cloudpool/resourcebroker/pkg/storage"
)

// ResourceDeleter tears a resource down, it is satisfied by the broker
type ResourceDeleter interface {
	DeleteResource(ctx context.Context, resourceID, reason string) (string, error)
}

var suspendableStates = []schema.EnvironmentState{
	schema.EnvironmentStarting,
	schema.EnvironmentAvailable,
	schema.EnvironmentUnavailable,
}

type Service struct {
	conf         config.HeartbeatConfig
	cache        *Cache
	environments storage.EnvironmentStoreInterface
	deleter      ResourceDeleter
	now          func() time.Time
}

func NewService(conf config.HeartbeatConfig, environments storage.EnvironmentStoreInterface, deleter ResourceDeleter) *Service {
	return &Service{
		conf:         conf,
		cache:        NewCache(),
		environments: environments,
		deleter:      deleter,
		now:          model.Now,
	}
}

func (s *Service) Cache() *Cache {
	return s.cache
}

// RecordHeartbeat stores a liveness signal of an environment. A zero ts means now and a ts
// ahead of the receive time is clamped to it, a skewed agent clock must not extend the window.
func (s *Service) RecordHeartbeat(ctx context.Context, envID string, ts time.Time) error {
	received := s.now()
	if ts.IsZero() || ts.After(received) {
		ts = received
	}
	ts = ts.UTC()
	if _, err := s.environments.Get(envID); err != nil {
		return err
	}
	if err := s.environments.RecordHeartbeat(envID, ts); err != nil {
		logger.LoggerForEnvironment(envID).Errorf("record heartbeat failed, err: %v", err)
		return err
	}
	s.cache.Record(envID, ts)
	return nil
}

// LatestHeartbeat is the newer of the cached and the persisted heartbeat
func (s *Service) LatestHeartbeat(env *model.Environment) (time.Time, bool) {
	latest, ok := s.cache.Latest(env.ID)
	if env.LastHeartbeat != nil && (!ok || env.LastHeartbeat.After(latest)) {
		return env.LastHeartbeat.UTC(), true
	}
	return latest, ok
}

// ForceSuspend shuts an environment down and deletes its compute. It is a repair action,
// so failures are logged and never returned; every step may run again.
func (s *Service) ForceSuspend(ctx context.Context, envID, reason string) {
	entry := logger.LoggerForEnvironment(envID)
	entry.Warningf("force suspend environment, reason: %s", reason)
	if _, err := s.environments.TransitState(envID, suspendableStates, schema.EnvironmentShutdown, reason); err != nil {
		entry.Errorf("shut environment down failed, err: %v", err)
	}
	env, err := s.environments.Get(envID)
	if err != nil {
		entry.Errorf("get environment failed, err: %v", err)
		return
	}
	if env.ComputeResourceID != "" {
		if _, err := s.deleter.DeleteResource(ctx, env.ComputeResourceID, reason); err != nil {
			entry.Errorf("delete compute %s failed, err: %v", env.ComputeResourceID, err)
			return
		}
		env.ComputeResourceID = ""
		if err := s.environments.Update(env); err != nil {
			entry.Errorf("detach compute failed, err: %v", err)
			return
		}
	}
	s.cache.Forget(envID)
	entry.Infof("environment suspended")
}
