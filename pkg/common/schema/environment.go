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

type EnvironmentState string

const (
	EnvironmentCreated      EnvironmentState = "Created"
	EnvironmentProvisioning EnvironmentState = "Provisioning"
	EnvironmentStarting     EnvironmentState = "Starting"
	EnvironmentAvailable    EnvironmentState = "Available"
	EnvironmentUnavailable  EnvironmentState = "Unavailable"
	EnvironmentShutdown     EnvironmentState = "Shutdown"
	EnvironmentFailed       EnvironmentState = "Failed"
	EnvironmentDeleted      EnvironmentState = "Deleted"
)

func (s EnvironmentState) IsTerminal() bool {
	return s == EnvironmentShutdown || s == EnvironmentFailed || s == EnvironmentDeleted
}

// IsActive reports whether the environment is expected to send heartbeats
func (s EnvironmentState) IsActive() bool {
	return s == EnvironmentAvailable || s == EnvironmentUnavailable
}
