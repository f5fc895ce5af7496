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

	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/model"
)

type ResourceStore struct {
	db *gorm.DB
}

func NewResourceStore(db *gorm.DB) *ResourceStore {
	return &ResourceStore{db: db}
}

func (rs *ResourceStore) Create(r *model.ResourceRecord) error {
	log.Debugf("begin create resource, type: %s, pool: %s", r.Type, r.PoolCode)
	if r.ProvisioningStatus == "" {
		r.ProvisioningStatus = model.ProvisioningCreating
	}
	return rs.db.Create(r).Error
}

func (rs *ResourceStore) Get(id string) (*model.ResourceRecord, error) {
	log.Debugf("begin get resource, id: %s", id)
	var r model.ResourceRecord
	tx := rs.db.Where("id = ?", id).First(&r)
	if tx.Error != nil {
		if errors.IsRecordNotFound(tx.Error) {
			return nil, errors.ResourceNotFoundError(id)
		}
		log.Errorf("get resource failed. id: %s, error: %s", id, tx.Error.Error())
		return nil, tx.Error
	}
	return &r, nil
}

func (rs *ResourceStore) Update(r *model.ResourceRecord) error {
	log.Debugf("update resource, id: %s, version: %d", r.ID, r.Version)
	fields := map[string]interface{}{
		"is_assigned":         r.IsAssigned,
		"is_ready":            r.IsReady,
		"in_use":              r.InUse,
		"assigned_at":         r.AssignedAt,
		"location":            r.Location,
		"subscription_id":     r.SubscriptionID,
		"resource_group":      r.ResourceGroup,
		"resource_name":       r.ResourceName,
		"cloud_resource_id":   r.CloudResourceID,
		"deployment_id":       r.DeploymentID,
		"components":          r.Components,
		"parent_id":           r.ParentID,
		"provisioning_status": r.ProvisioningStatus,
		"provisioning_reason": r.ProvisioningReason,
		"deleted_at":          r.DeletedAt,
		"version":             r.Version + 1,
	}
	tx := rs.db.Model(&model.ResourceRecord{}).
		Where("id = ? AND version = ?", r.ID, r.Version).
		Updates(fields)
	if tx.Error != nil {
		log.Errorf("update resource failed. id: %s, error: %s", r.ID, tx.Error.Error())
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return errors.StaleConcurrencyConflictError("resource", r.ID, r.Version)
	}
	r.Version++
	return nil
}

func (rs *ResourceStore) UpdateFields(id string, fields map[string]interface{}) error {
	log.Debugf("update resource fields, id: %s, fields: %v", id, fields)
	fields["version"] = gorm.Expr("version + 1")
	tx := rs.db.Model(&model.ResourceRecord{}).Where("id = ?", id).Updates(fields)
	if tx.Error != nil {
		log.Errorf("update resource fields failed. id: %s, error: %s", id, tx.Error.Error())
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return errors.ResourceNotFoundError(id)
	}
	return nil
}

func (rs *ResourceStore) Query(filter ResourceFilter) ([]model.ResourceRecord, error) {
	log.Debugf("query resources, filter: %+v", filter)
	tx := rs.db.Model(&model.ResourceRecord{})
	if !filter.IncludeDeleted {
		tx = tx.Where("deleted_at = ''")
	}
	if filter.Type != "" {
		tx = tx.Where("resource_type = ?", filter.Type)
	}
	if filter.PoolCode != "" {
		tx = tx.Where("pool_code = ?", filter.PoolCode)
	}
	if filter.Location != "" {
		tx = tx.Where("location = ?", filter.Location)
	}
	if filter.ParentID != "" {
		tx = tx.Where("parent_id = ?", filter.ParentID)
	}
	if filter.IsAssigned != nil {
		tx = tx.Where("is_assigned = ?", *filter.IsAssigned)
	}
	if filter.IsReady != nil {
		tx = tx.Where("is_ready = ?", *filter.IsReady)
	}
	if filter.Limit > 0 {
		tx = tx.Limit(filter.Limit)
	}
	var records []model.ResourceRecord
	if err := tx.Order("pk").Find(&records).Error; err != nil {
		log.Errorf("query resources failed. error: %s", err.Error())
		return nil, err
	}
	return records, nil
}

func (rs *ResourceStore) Claim(id string) (bool, error) {
	now := model.Now()
	tx := rs.db.Model(&model.ResourceRecord{}).
		Where("id = ? AND is_assigned = ? AND is_ready = ? AND deleted_at = ''", id, false, true).
		Where("provisioning_status = ?", model.ProvisioningSucceeded).
		Updates(map[string]interface{}{
			"is_assigned": true,
			"assigned_at": &now,
			"version":     gorm.Expr("version + 1"),
		})
	if tx.Error != nil {
		log.Errorf("claim resource failed. id: %s, error: %s", id, tx.Error.Error())
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// ClaimReady claims one ready member of the pool. Candidates are read window rows at a time and the
// pool is read again after every lost window, nil is returned only when no ready member is left.
func (rs *ResourceStore) ClaimReady(poolCode string, window int) (*model.ResourceRecord, error) {
	log.Debugf("begin claim ready resource, pool: %s", poolCode)
	if window <= 0 {
		window = 1
	}
	assigned, ready := false, true
	for round := 1; ; round++ {
		records, err := rs.Query(ResourceFilter{
			PoolCode:   poolCode,
			IsAssigned: &assigned,
			IsReady:    &ready,
			Limit:      window,
		})
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, nil
		}
		for _, r := range records {
			won, err := rs.Claim(r.ID)
			if err != nil {
				return nil, err
			}
			if won {
				return rs.Get(r.ID)
			}
		}
		// every candidate of this window went to another caller, so the pool shrank
		log.Debugf("lost %d candidates of pool %s in round %d", len(records), poolCode, round)
	}
}

func (rs *ResourceStore) ClaimForDelete(poolCode string, n int) ([]model.ResourceRecord, error) {
	log.Debugf("begin claim %d resources for delete, pool: %s", n, poolCode)
	if n <= 0 {
		return nil, nil
	}
	assigned, ready := false, true
	records, err := rs.Query(ResourceFilter{
		PoolCode:   poolCode,
		IsAssigned: &assigned,
		IsReady:    &ready,
	})
	if err != nil {
		return nil, err
	}
	var claimed []model.ResourceRecord
	for _, r := range records {
		if len(claimed) == n {
			break
		}
		tx := rs.db.Model(&model.ResourceRecord{}).
			Where("id = ? AND is_assigned = ? AND is_ready = ? AND deleted_at = ''", r.ID, false, true).
			Where("provisioning_status = ?", model.ProvisioningSucceeded).
			Updates(map[string]interface{}{
				"is_ready":            false,
				"provisioning_status": model.ProvisioningDeleting,
				"provisioning_reason": "pool above target",
				"version":             gorm.Expr("version + 1"),
			})
		if tx.Error != nil {
			log.Errorf("claim resource %s for delete failed. error: %s", r.ID, tx.Error.Error())
			return claimed, tx.Error
		}
		if tx.RowsAffected == 1 {
			r.IsReady = false
			r.ProvisioningStatus = model.ProvisioningDeleting
			r.Version++
			claimed = append(claimed, r)
		}
	}
	return claimed, nil
}

func (rs *ResourceStore) ReturnToPool(id string) (bool, error) {
	log.Debugf("return resource %s to pool", id)
	tx := rs.db.Model(&model.ResourceRecord{}).
		Where("id = ? AND is_assigned = ? AND in_use = ? AND deleted_at = ''", id, true, false).
		Updates(map[string]interface{}{
			"is_assigned": false,
			"assigned_at": nil,
			"version":     gorm.Expr("version + 1"),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (rs *ResourceStore) MarkDeleting(id, reason string) (bool, error) {
	log.Debugf("mark resource %s deleting, reason: %s", id, reason)
	tx := rs.db.Model(&model.ResourceRecord{}).
		Where("id = ? AND deleted_at = '' AND provisioning_status <> ?", id, model.ProvisioningDeleting).
		Updates(map[string]interface{}{
			"is_ready":            false,
			"provisioning_status": model.ProvisioningDeleting,
			"provisioning_reason": reason,
			"version":             gorm.Expr("version + 1"),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (rs *ResourceStore) SoftDelete(id string) error {
	log.Debugf("delete resource, id: %s", id)
	return rs.db.Model(&model.ResourceRecord{}).
		Where("id = ? AND deleted_at = ''", id).
		Updates(map[string]interface{}{
			"deleted_at":          model.SoftDeleteValue(model.Now()),
			"is_ready":            false,
			"provisioning_status": model.ProvisioningDeleted,
			"version":             gorm.Expr("version + 1"),
		}).Error
}

type poolCountRow struct {
	IsAssigned         bool
	IsReady            bool
	ProvisioningStatus string
	Cnt                int64
}

func (rs *ResourceStore) CountByPool(poolCode string) (PoolCount, error) {
	var rows []poolCountRow
	err := rs.db.Model(&model.ResourceRecord{}).
		Select("is_assigned, is_ready, provisioning_status, count(*) as cnt").
		Where("pool_code = ? AND deleted_at = ''", poolCode).
		Group("is_assigned, is_ready, provisioning_status").
		Scan(&rows).Error
	if err != nil {
		log.Errorf("count resources of pool %s failed. error: %s", poolCode, err.Error())
		return PoolCount{}, err
	}
	var count PoolCount
	for _, row := range rows {
		switch {
		case row.IsAssigned:
			count.Assigned += row.Cnt
		case row.ProvisioningStatus == model.ProvisioningDeleting:
		case row.IsReady:
			count.Ready += row.Cnt
		case row.ProvisioningStatus == model.ProvisioningCreating:
			count.Provisioning += row.Cnt
		}
	}
	return count, nil
}

func (rs *ResourceStore) ListLivePoolCodes() ([]string, error) {
	var codes []string
	err := rs.db.Model(&model.ResourceRecord{}).
		Where("deleted_at = '' AND is_assigned = ? AND pool_code <> ''", false).
		Where("provisioning_status IN ?", []string{model.ProvisioningCreating, model.ProvisioningSucceeded}).
		Distinct().Pluck("pool_code", &codes).Error
	return codes, err
}
