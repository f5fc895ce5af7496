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
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/model"
)

type EnvironmentStore struct {
	db *gorm.DB
}

func NewEnvironmentStore(db *gorm.DB) *EnvironmentStore {
	return &EnvironmentStore{db: db}
}

func (es *EnvironmentStore) Create(env *model.Environment) error {
	log.Debugf("begin create environment, id: %s", env.ID)
	if env.State == "" {
		env.State = schema.EnvironmentCreated
	}
	return es.db.Create(env).Error
}

func (es *EnvironmentStore) Get(id string) (*model.Environment, error) {
	var env model.Environment
	tx := es.db.Where("id = ? AND deleted_at = ''", id).First(&env)
	if tx.Error != nil {
		if errors.IsRecordNotFound(tx.Error) {
			return nil, errors.ResourceNotFoundError(id)
		}
		log.Errorf("get environment failed. id: %s, error: %s", id, tx.Error.Error())
		return nil, tx.Error
	}
	return &env, nil
}

func (es *EnvironmentStore) Update(env *model.Environment) error {
	log.Debugf("update environment %s, state: %s", env.ID, env.State)
	tx := es.db.Model(&model.Environment{}).
		Where("id = ? AND version = ?", env.ID, env.Version).
		Updates(map[string]interface{}{
			"state":                env.State,
			"compute_resource_id":  env.ComputeResourceID,
			"storage_resource_id":  env.StorageResourceID,
			"inputs":               env.Inputs,
			"operation_id":         env.OperationID,
			"monitor_operation_id": env.MonitorOperationID,
			"last_heartbeat":       env.LastHeartbeat,
			"reason":               env.Reason,
			"version":              env.Version + 1,
		})
	if tx.Error != nil {
		log.Errorf("update environment %s failed. error: %s", env.ID, tx.Error.Error())
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return errors.StaleConcurrencyConflictError("environment", env.ID, env.Version)
	}
	env.Version++
	return nil
}

func (es *EnvironmentStore) TransitState(id string, from []schema.EnvironmentState, to schema.EnvironmentState, reason string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transit environment %s to %s without source states", id, to)
	}
	tx := es.db.Model(&model.Environment{}).
		Where("id = ? AND deleted_at = '' AND state IN ?", id, from).
		Updates(map[string]interface{}{
			"state":   to,
			"reason":  reason,
			"version": gorm.Expr("version + 1"),
		})
	if tx.Error != nil {
		log.Errorf("transit environment %s to %s failed. error: %s", id, to, tx.Error.Error())
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// RecordHeartbeat keeps the newest heartbeat and brings a starting or unavailable environment back to Available
func (es *EnvironmentStore) RecordHeartbeat(id string, ts time.Time) error {
	return es.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Environment{}).
			Where("id = ? AND deleted_at = ''", id).
			Where("(last_heartbeat IS NULL OR last_heartbeat < ?)", ts).
			Updates(map[string]interface{}{
				"last_heartbeat": ts,
				"version":        gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		return tx.Model(&model.Environment{}).
			Where("id = ? AND state IN ?", id, []schema.EnvironmentState{schema.EnvironmentStarting, schema.EnvironmentUnavailable}).
			Updates(map[string]interface{}{
				"state":   schema.EnvironmentAvailable,
				"version": gorm.Expr("version + 1"),
			}).Error
	})
}

func (es *EnvironmentStore) UpdateMonitor(id, monitorOperationID string) error {
	return es.db.Model(&model.Environment{}).
		Where("id = ? AND deleted_at = ''", id).
		Updates(map[string]interface{}{
			"monitor_operation_id": monitorOperationID,
			"version":              gorm.Expr("version + 1"),
		}).Error
}
