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

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/model"
)

var schedulableStatus = []schema.OperationStatus{
	schema.StatusOperationCreated,
	schema.StatusOperationInProgress,
}

type ContinuationStore struct {
	db *gorm.DB
}

func NewContinuationStore(db *gorm.DB) *ContinuationStore {
	return &ContinuationStore{db: db}
}

func (cs *ContinuationStore) Create(op *model.Continuation) error {
	log.Debugf("begin create continuation, id: %s, handler: %s", op.ID, op.HandlerName)
	if op.Status == "" {
		op.Status = schema.StatusOperationCreated
	}
	return cs.db.Create(op).Error
}

func (cs *ContinuationStore) Get(id string) (*model.Continuation, error) {
	var op model.Continuation
	tx := cs.db.Where("id = ?", id).First(&op)
	if tx.Error != nil {
		if errors.IsRecordNotFound(tx.Error) {
			return nil, errors.OperationNotFoundError(id)
		}
		log.Errorf("get continuation failed. id: %s, error: %s", id, tx.Error.Error())
		return nil, tx.Error
	}
	return &op, nil
}

func (cs *ContinuationStore) UpdateWithVersion(op *model.Continuation, expectedVersion int64) error {
	log.Debugf("update continuation %s, status: %s, expected version: %d", op.ID, op.Status, expectedVersion)
	tx := cs.db.Model(&model.Continuation{}).
		Where("id = ? AND version = ?", op.ID, expectedVersion).
		Updates(map[string]interface{}{
			"input":         op.Input,
			"status":        op.Status,
			"due_time":      op.DueTime,
			"lease_until":   op.LeaseUntil,
			"retry_attempt": op.RetryAttempt,
			"turns":         op.Turns,
			"error_reason":  op.ErrorReason,
			"completed_at":  op.CompletedAt,
			"version":       expectedVersion + 1,
		})
	if tx.Error != nil {
		log.Errorf("update continuation %s failed. error: %s", op.ID, tx.Error.Error())
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return errors.StaleConcurrencyConflictError("continuation", op.ID, expectedVersion)
	}
	op.Version = expectedVersion + 1
	return nil
}

func (cs *ContinuationStore) ListDue(now time.Time, limit int) ([]model.Continuation, error) {
	tx := cs.db.Model(&model.Continuation{}).
		Where("status IN ? AND due_time <= ? AND lease_until <= ?", schedulableStatus, now, now).
		Order("due_time")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var ops []model.Continuation
	if err := tx.Find(&ops).Error; err != nil {
		log.Errorf("list due continuations failed. error: %s", err.Error())
		return nil, err
	}
	return ops, nil
}

func (cs *ContinuationStore) AcquireLease(id string, version int64, until time.Time) (bool, error) {
	tx := cs.db.Model(&model.Continuation{}).
		Where("id = ? AND version = ? AND status IN ?", id, version, schedulableStatus).
		Updates(map[string]interface{}{
			"lease_until": until,
			"version":     version + 1,
		})
	if tx.Error != nil {
		log.Errorf("lease continuation %s failed. error: %s", id, tx.Error.Error())
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (cs *ContinuationStore) RequestCancel(id, reason string) (bool, error) {
	log.Debugf("cancel continuation %s, reason: %s", id, reason)
	now := model.Now()
	tx := cs.db.Model(&model.Continuation{}).
		Where("id = ? AND status IN ?", id, schedulableStatus).
		Updates(map[string]interface{}{
			"status":       schema.StatusOperationCancelled,
			"error_reason": reason,
			"completed_at": &now,
			"version":      gorm.Expr("version + 1"),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (cs *ContinuationStore) ListByTarget(targetID string) ([]model.Continuation, error) {
	var ops []model.Continuation
	err := cs.db.Where("target_id = ?", targetID).Order("pk").Find(&ops).Error
	return ops, err
}

type statusCountRow struct {
	Status schema.OperationStatus
	Cnt    int64
}

func (cs *ContinuationStore) CountByStatus() (map[schema.OperationStatus]int64, error) {
	var rows []statusCountRow
	err := cs.db.Model(&model.Continuation{}).
		Select("status, count(*) as cnt").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[schema.OperationStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Cnt
	}
	return counts, nil
}
