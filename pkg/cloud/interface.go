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

package cloud

import (
	"context"
	"fmt"

	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/model"
)

type DeploymentState string

const (
	DeploymentRunning   DeploymentState = "Running"
	DeploymentSucceeded DeploymentState = "Succeeded"
	DeploymentFailed    DeploymentState = "Failed"
	DeploymentCanceled  DeploymentState = "Canceled"
)

func (s DeploymentState) IsTerminal() bool {
	return s == DeploymentSucceeded || s == DeploymentFailed || s == DeploymentCanceled
}

// ResourceHandle locates a resource group scoped deployment target
type ResourceHandle struct {
	SubscriptionID string
	ResourceGroup  string
	Location       string
}

func (h ResourceHandle) DeploymentID(name string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Resources/deployments/%s",
		h.SubscriptionID, h.ResourceGroup, name)
}

// ResourceID builds the id of a resource of providerType, e.g. Microsoft.Compute/virtualMachines
func (h ResourceHandle) ResourceID(providerType, name string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/%s/%s",
		h.SubscriptionID, h.ResourceGroup, providerType, name)
}

type DeploymentStatus struct {
	State   DeploymentState
	Outputs map[string]interface{}
	Error   string
}

// CloudResourceClient is the provider boundary, every call may be slow and every failure
// is either a TransientProviderError or terminal
type CloudResourceClient interface {
	CreateResourceGroupIfNotExists(ctx context.Context, subscriptionID, resourceGroup, location string) error
	// BeginDeployment submits a template deployment and returns its id without waiting for it
	BeginDeployment(ctx context.Context, handle ResourceHandle, deploymentName string,
		template interface{}, parameters map[string]interface{}) (string, error)
	GetDeploymentStatus(ctx context.Context, deploymentID string) (*DeploymentStatus, error)
	// DeleteResource starts deleting a resource, a resource that does not exist is not an error
	DeleteResource(ctx context.Context, resourceID string) error
	GetQuotaUsage(ctx context.Context, subscriptionID, location string, serviceType schema.ServiceType) ([]model.AzureResourceUsage, error)
	ListLocations(ctx context.Context, subscriptionID string) ([]string, error)
	CheckNameAvailability(ctx context.Context, subscriptionID string, resourceType schema.ResourceType, name string) (bool, error)
}
