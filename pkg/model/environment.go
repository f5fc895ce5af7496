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

// Environment binds a compute resource to its storage and tracks the workload lifecycle
type Environment struct {
	Model              `gorm:"embedded"`
	Pk                 int64                   `json:"-" gorm:"primaryKey;autoIncrement"`
	State              schema.EnvironmentState `json:"state" gorm:"type:varchar(32)"`
	ComputeResourceID  string                  `json:"computeResourceID" gorm:"type:varchar(64)"`
	StorageResourceID  string                  `json:"storageResourceID" gorm:"type:varchar(64)"`
	Inputs             Map                     `json:"inputs" gorm:"type:text"`
	OperationID        string                  `json:"operationID" gorm:"type:varchar(64)"`
	MonitorOperationID string                  `json:"monitorOperationID" gorm:"type:varchar(64)"`
	LastHeartbeat      *time.Time              `json:"lastHeartbeat,omitempty"`
	Reason             string                  `json:"reason" gorm:"type:text"`
	Version            int64                   `json:"version"`
	DeletedAt          string                  `json:"-" gorm:"type:varchar(32);index"`
}

func (Environment) TableName() string {
	return "environment"
}
