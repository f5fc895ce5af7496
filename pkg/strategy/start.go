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

package strategy

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/cloudpool/resourcebroker/pkg/cloud"
	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
)

const (
	ProviderVMExtension = "Microsoft.Compute/virtualMachines/extensions"
	startExtensionName  = "rb-start"
)

// StartRequest describes the workload start of an environment on a compute resource
type StartRequest struct {
	EnvironmentID    string
	ComputeOS        schema.ComputeOS
	Handle           cloud.ResourceHandle
	VMName           string
	StorageAccountID string
	Inputs           map[string]string
}

// BuildStartPlan renders the script extension that mounts the storage and starts the agent.
// The agent reports its first heartbeat once the workload is up.
func BuildStartPlan(req *StartRequest) (*Plan, error) {
	if req.EnvironmentID == "" || req.VMName == "" {
		return nil, errors.HandlerInvariantViolationError("start request without environment or vm")
	}
	inputs, err := json.Marshal(req.Inputs)
	if err != nil {
		return nil, errors.HandlerInvariantViolationError("encode inputs of environment %s: %v", req.EnvironmentID, err)
	}
	encoded := base64.StdEncoding.EncodeToString(inputs)

	publisher, extensionType, version := "Microsoft.Azure.Extensions", "CustomScript", "2.1"
	command := fmt.Sprintf("/opt/rb/start.sh --environment-id %s --storage '%s' --inputs %s",
		req.EnvironmentID, req.StorageAccountID, encoded)
	if req.ComputeOS == schema.OSWindows {
		publisher, extensionType, version = "Microsoft.Compute", "CustomScriptExtension", "1.10"
		command = fmt.Sprintf("powershell -ExecutionPolicy Unrestricted -File C:\\rb\\start.ps1 -EnvironmentId %s -Storage '%s' -Inputs %s",
			req.EnvironmentID, req.StorageAccountID, encoded)
	}

	t := newTemplate()
	vmExpr := t.param("vmName", ParamTypeString)
	t.add(TemplateResource{
		Type:       ProviderVMExtension,
		APIVersion: apiVersionCompute,
		Name:       fmt.Sprintf("[concat(%s, '/%s')]", expr(vmExpr), startExtensionName),
		Location:   locationExpr,
		Tags:       map[string]string{"environmentID": req.EnvironmentID},
		Properties: map[string]interface{}{
			"publisher":               publisher,
			"type":                    extensionType,
			"typeHandlerVersion":      version,
			"autoUpgradeMinorVersion": true,
			"protectedSettings": map[string]interface{}{
				"commandToExecute": t.param("command", ParamTypeSecureString),
			},
		},
	})

	name := req.VMName + "/extensions/" + startExtensionName
	return &Plan{
		Strategy:        "StartCompute",
		DeploymentName:  fmt.Sprintf("start-%s-%s", req.VMName, ResourceName("", req.EnvironmentID, 8)),
		ResourceName:    startExtensionName,
		ProviderType:    ProviderVMExtension,
		CloudResourceID: req.Handle.ResourceID(ProviderVirtualMachine, name),
		Template:        t,
		Parameters: map[string]interface{}{
			"location": req.Handle.Location,
			"vmName":   req.VMName,
			"command":  command,
		},
	}, nil
}
