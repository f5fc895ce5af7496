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

package schema

type OperationStatus string

const (
	StatusOperationCreated    OperationStatus = "Created"
	StatusOperationInProgress OperationStatus = "InProgress"
	StatusOperationSucceeded  OperationStatus = "Succeeded"
	StatusOperationFailed     OperationStatus = "Failed"
	StatusOperationCancelled  OperationStatus = "Cancelled"
)

// IsTerminal reports whether no further turn may run for the status
func (s OperationStatus) IsTerminal() bool {
	switch s {
	case StatusOperationSucceeded, StatusOperationFailed, StatusOperationCancelled:
		return true
	}
	return false
}

// IsSchedulable reports whether the pump may dispatch an operation in this status
func (s OperationStatus) IsSchedulable() bool {
	return s == StatusOperationCreated || s == StatusOperationInProgress
}

// handler names of the built-in continuations
const (
	HandlerCreateResource   = "CreateResource"
	HandlerDeleteResource   = "DeleteResource"
	HandlerStartCompute     = "StartCompute"
	HandlerRepairCompute    = "RepairCompute"
	HandlerHeartbeatMonitor = "HeartbeatMonitor"
)
