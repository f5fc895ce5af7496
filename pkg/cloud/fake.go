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
	"sort"
	"strings"
	"sync"

	"github.com/cloudpool/resourcebroker/pkg/common/config"
	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/model"
)

const fakeDefaultLimit = 1000

const (
	MethodCreateResourceGroup = "CreateResourceGroupIfNotExists"
	MethodBeginDeployment     = "BeginDeployment"
	MethodGetDeploymentStatus = "GetDeploymentStatus"
	MethodDeleteResource      = "DeleteResource"
	MethodGetQuotaUsage       = "GetQuotaUsage"
	MethodListLocations       = "ListLocations"
	MethodCheckName           = "CheckNameAvailability"
)

type fakeDeployment struct {
	name       string
	handle     ResourceHandle
	parameters map[string]interface{}
	pollsLeft  int
	final      DeploymentState
	message    string
}

// FakeClient is an in-memory provider, deployments finish after a configurable number of polls
type FakeClient struct {
	mu sync.Mutex
	// PollsToComplete is how many status calls report Running before a deployment settles
	PollsToComplete int

	resourceGroups map[string]string
	deployments    map[string]*fakeDeployment
	// deployment name prefix -> failure message
	failDeployments map[string]string
	usages          map[string][]model.AzureResourceUsage
	locations       map[string][]string
	takenNames      map[string]bool
	injected        map[string][]error

	calls   map[string]int
	deleted []string
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		resourceGroups:  map[string]string{},
		deployments:     map[string]*fakeDeployment{},
		failDeployments: map[string]string{},
		usages:          map[string][]model.AzureResourceUsage{},
		locations:       map[string][]string{},
		takenNames:      map[string]bool{},
		injected:        map[string][]error{},
		calls:           map[string]int{},
	}
}

func usageKey(subscriptionID, location string, serviceType schema.ServiceType) string {
	return fmt.Sprintf("%s/%s/%s", subscriptionID, location, serviceType)
}

// SeedFromConfig registers an unused quota for everything the catalog can ask for
func (f *FakeClient) SeedFromConfig(conf *config.ServerConfig) {
	for _, sub := range conf.Subscriptions {
		f.SetLocations(sub.ID, sub.Locations...)
		for _, location := range sub.Locations {
			f.SetUsage(sub.ID, location, schema.ServiceCompute, schema.QuotaCores, fakeDefaultLimit, 0)
			f.SetUsage(sub.ID, location, schema.ServiceCompute, schema.QuotaVirtualMachines, fakeDefaultLimit, 0)
			f.SetUsage(sub.ID, location, schema.ServiceNetwork, schema.QuotaVirtualNetworks, fakeDefaultLimit, 0)
			f.SetUsage(sub.ID, location, schema.ServiceStorage, schema.QuotaStorageAccounts, fakeDefaultLimit, 0)
			for _, sku := range conf.Skus {
				if sku.ComputeQuotaFamily != "" {
					f.SetUsage(sub.ID, location, schema.ServiceCompute, sku.ComputeQuotaFamily, fakeDefaultLimit, 0)
				}
			}
		}
	}
}

// SetUsage replaces one quota value
func (f *FakeClient) SetUsage(subscriptionID, location string, serviceType schema.ServiceType, quota string, limit, current int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := usageKey(subscriptionID, location, serviceType)
	usage := model.AzureResourceUsage{
		SubscriptionID: subscriptionID,
		ServiceType:    serviceType,
		Location:       location,
		Quota:          quota,
		Limit:          limit,
		CurrentValue:   current,
	}
	for i, u := range f.usages[key] {
		if u.Quota == quota {
			f.usages[key][i] = usage
			return
		}
	}
	f.usages[key] = append(f.usages[key], usage)
}

func (f *FakeClient) SetLocations(subscriptionID string, locations ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locations[subscriptionID] = append([]string{}, locations...)
}

// FailDeployments makes every deployment whose name starts with prefix settle as Failed
func (f *FakeClient) FailDeployments(prefix, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failDeployments[prefix] = message
}

// InjectError queues err as the result of the next call to method
func (f *FakeClient) InjectError(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injected[method] = append(f.injected[method], err)
}

func (f *FakeClient) TakeName(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.takenNames[name] = true
}

// Calls returns how many times method was invoked
func (f *FakeClient) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Deleted returns the ids passed to DeleteResource, in call order
func (f *FakeClient) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.deleted...)
}

// DeploymentNames returns the submitted deployment names sorted
func (f *FakeClient) DeploymentNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.deployments))
	for _, d := range f.deployments {
		names = append(names, d.name)
	}
	sort.Strings(names)
	return names
}

// DeploymentParameters returns the parameters a deployment was submitted with
func (f *FakeClient) DeploymentParameters(deploymentID string) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.deployments[deploymentID]; ok {
		return d.parameters
	}
	return nil
}

// enter must be called with f.mu held
func (f *FakeClient) enter(method string) error {
	f.calls[method]++
	queue := f.injected[method]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	f.injected[method] = queue[1:]
	return err
}

func (f *FakeClient) CreateResourceGroupIfNotExists(_ context.Context, subscriptionID, resourceGroup, location string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodCreateResourceGroup); err != nil {
		return err
	}
	f.resourceGroups[subscriptionID+"/"+resourceGroup] = location
	return nil
}

func (f *FakeClient) BeginDeployment(_ context.Context, handle ResourceHandle, deploymentName string,
	_ interface{}, parameters map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodBeginDeployment); err != nil {
		return "", err
	}
	if _, ok := f.resourceGroups[handle.SubscriptionID+"/"+handle.ResourceGroup]; !ok {
		return "", errors.ProviderRequestError("resource group %s not found", handle.ResourceGroup)
	}
	id := handle.DeploymentID(deploymentName)
	if _, ok := f.deployments[id]; ok {
		// resubmitting a deployment with the same name is idempotent
		return id, nil
	}
	d := &fakeDeployment{
		name:       deploymentName,
		handle:     handle,
		parameters: parameters,
		pollsLeft:  f.PollsToComplete,
		final:      DeploymentSucceeded,
	}
	for prefix, message := range f.failDeployments {
		if strings.HasPrefix(deploymentName, prefix) {
			d.final, d.message = DeploymentFailed, message
		}
	}
	f.deployments[id] = d
	return id, nil
}

func (f *FakeClient) GetDeploymentStatus(_ context.Context, deploymentID string) (*DeploymentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodGetDeploymentStatus); err != nil {
		return nil, err
	}
	d, ok := f.deployments[deploymentID]
	if !ok {
		return nil, errors.ResourceNotFoundError(deploymentID)
	}
	if d.pollsLeft > 0 {
		d.pollsLeft--
		return &DeploymentStatus{State: DeploymentRunning, Outputs: map[string]interface{}{}}, nil
	}
	outputs := make(map[string]interface{}, len(d.parameters))
	for k, v := range d.parameters {
		outputs[k] = v
	}
	return &DeploymentStatus{State: d.final, Outputs: outputs, Error: d.message}, nil
}

func (f *FakeClient) DeleteResource(_ context.Context, resourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodDeleteResource); err != nil {
		return err
	}
	f.deleted = append(f.deleted, resourceID)
	return nil
}

func (f *FakeClient) GetQuotaUsage(_ context.Context, subscriptionID, location string,
	serviceType schema.ServiceType) ([]model.AzureResourceUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodGetQuotaUsage); err != nil {
		return nil, err
	}
	return append([]model.AzureResourceUsage{}, f.usages[usageKey(subscriptionID, location, serviceType)]...), nil
}

func (f *FakeClient) ListLocations(_ context.Context, subscriptionID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodListLocations); err != nil {
		return nil, err
	}
	return append([]string{}, f.locations[subscriptionID]...), nil
}

func (f *FakeClient) CheckNameAvailability(_ context.Context, _ string, _ schema.ResourceType, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodCheckName); err != nil {
		return false, err
	}
	return !f.takenNames[name], nil
}
