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
	"time"

	"github.com/cloudpool/resourcebroker/pkg/common/schema"
)

// Continuation is the persisted state of one resumable operation
type Continuation struct {
	Pk          int64                  `json:"-" gorm:"primaryKey;autoIncrement"`
	ID          string                 `json:"id" gorm:"type:varchar(64);uniqueIndex"`
	HandlerName string                 `json:"handlerName" gorm:"type:varchar(64)"`
	TargetID    string                 `json:"targetID" gorm:"type:varchar(64);index"`
	Input       string                 `json:"input" gorm:"type:text"`
	Status      schema.OperationStatus `json:"status" gorm:"type:varchar(32);index:idx_continuation_due"`
	DueTime     time.Time              `json:"dueTime" gorm:"index:idx_continuation_due"`
	LeaseUntil  time.Time              `json:"leaseUntil"`
	// RetryAttempt counts consecutive failed attempts of the current turn
	RetryAttempt int        `json:"retryAttempt"`
	Turns        int        `json:"turns"`
	ErrorReason  string     `json:"errorReason" gorm:"type:text"`
	Version      int64      `json:"version"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

func (Continuation) TableName() string {
	return "continuation"
}
