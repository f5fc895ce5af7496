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
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/model"
)

type CapacityStore struct {
	db *gorm.DB
}

func NewCapacityStore(db *gorm.DB) *CapacityStore {
	return &CapacityStore{db: db}
}

func (cs *CapacityStore) Upsert(records []model.CapacityRecord) error {
	if len(records) == 0 {
		return nil
	}
	log.Debugf("begin upsert %d capacity records", len(records))
	tx := cs.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "subscription_id"}, {Name: "service_type"}, {Name: "location"}, {Name: "quota_name"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"quota_limit", "current_value", "observed_at", "updated_at"}),
	}).CreateInBatches(&records, 100)
	if tx.Error != nil {
		log.Errorf("upsert capacity records failed. error: %s", tx.Error.Error())
	}
	return tx.Error
}

func (cs *CapacityStore) Get(subscriptionID string, serviceType schema.ServiceType, location, quota string) (*model.CapacityRecord, error) {
	var record model.CapacityRecord
	tx := cs.db.Where("subscription_id = ? AND service_type = ? AND location = ? AND quota_name = ?",
		subscriptionID, serviceType, location, quota).First(&record)
	if tx.Error != nil {
		if !errors.IsRecordNotFound(tx.Error) {
			log.Errorf("get capacity record failed. error: %s", tx.Error.Error())
		}
		return nil, tx.Error
	}
	return &record, nil
}

func (cs *CapacityStore) Query(filter CapacityFilter) ([]model.CapacityRecord, error) {
	log.Debugf("query capacity records, filter: %+v", filter)
	tx := cs.db.Model(&model.CapacityRecord{})
	if filter.SubscriptionID != "" {
		tx = tx.Where("subscription_id = ?", filter.SubscriptionID)
	}
	if filter.Location != "" {
		tx = tx.Where("location = ?", filter.Location)
	}
	if filter.ServiceType != "" {
		tx = tx.Where("service_type = ?", filter.ServiceType)
	}
	var records []model.CapacityRecord
	if err := tx.Order("subscription_id, service_type, quota_name").Find(&records).Error; err != nil {
		log.Errorf("query capacity records failed. error: %s", err.Error())
		return nil, err
	}
	return records, nil
}
