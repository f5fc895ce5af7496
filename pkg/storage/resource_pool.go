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
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/model"
)

type ResourcePoolStore struct {
	db *gorm.DB
}

func NewResourcePoolStore(db *gorm.DB) *ResourcePoolStore {
	return &ResourcePoolStore{db: db}
}

func (rps *ResourcePoolStore) ReplaceAll(pools []model.ResourcePool) error {
	log.Debugf("begin replace resource pools, count: %d", len(pools))
	codes := make([]string, 0, len(pools))
	for i := range pools {
		pools[i].DeletedAt = ""
		codes = append(codes, pools[i].Code)
	}
	return rps.db.Transaction(func(tx *gorm.DB) error {
		if len(pools) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "code"}, {Name: "deleted_at"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"version_code", "resource_type", "location", "dimensions", "logical_skus",
					"target_count", "override_target_count", "override_is_enabled", "updated_at",
				}),
			}).Create(&pools).Error
			if err != nil {
				log.Errorf("upsert resource pools failed. error: %s", err.Error())
				return err
			}
		}
		drop := tx.Model(&model.ResourcePool{}).Where("deleted_at = ''")
		if len(codes) > 0 {
			drop = drop.Where("code NOT IN ?", codes)
		}
		if err := drop.UpdateColumn("deleted_at", model.SoftDeleteValue(model.Now())).Error; err != nil {
			log.Errorf("delete stale resource pools failed. error: %s", err.Error())
			return err
		}
		return nil
	})
}

func (rps *ResourcePoolStore) Get(code string) (*model.ResourcePool, error) {
	log.Debugf("begin get resource pool, code: %s", code)
	var rPool model.ResourcePool
	tx := rps.db.Where("code = ? AND deleted_at = ''", code).First(&rPool)
	if tx.Error != nil {
		if !errors.IsRecordNotFound(tx.Error) {
			log.Errorf("get resource pool failed. code: %s, error: %s", code, tx.Error.Error())
		}
		return nil, tx.Error
	}
	return &rPool, nil
}

func (rps *ResourcePoolStore) List() ([]model.ResourcePool, error) {
	var rpList []model.ResourcePool
	tx := rps.db.Model(&model.ResourcePool{}).Where("deleted_at = ''").Order("code").Find(&rpList)
	if tx.Error != nil {
		return nil, tx.Error
	}
	return rpList, nil
}

type PoolSettingStore struct {
	db *gorm.DB
}

func NewPoolSettingStore(db *gorm.DB) *PoolSettingStore {
	return &PoolSettingStore{db: db}
}

func (pss *PoolSettingStore) Upsert(setting *model.PoolSetting) error {
	log.Debugf("upsert pool setting, pool: %s", setting.PoolCode)
	return pss.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pool_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"target_count", "is_enabled", "description", "updated_at"}),
	}).Create(setting).Error
}

func (pss *PoolSettingStore) Delete(poolCode string) error {
	log.Debugf("delete pool setting, pool: %s", poolCode)
	return pss.db.Where("pool_code = ?", poolCode).Delete(&model.PoolSetting{}).Error
}

func (pss *PoolSettingStore) List() ([]model.PoolSetting, error) {
	var settings []model.PoolSetting
	err := pss.db.Order("pool_code").Find(&settings).Error
	return settings, err
}
