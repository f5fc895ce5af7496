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
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/keyvault/armkeyvault"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
	cmap "github.com/orcaman/concurrent-map"
	log "github.com/sirupsen/logrus"

	"github.com/cloudpool/resourcebroker/pkg/common/config"
	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/model"
)

const storageAccountFilter = "resourceType eq 'Microsoft.Storage/storageAccounts'"

// apiVersions used by delete-by-id, keyed by provider resource type
var apiVersions = map[string]string{
	"Microsoft.Compute/virtualMachines":                   "2023-03-01",
	"Microsoft.Compute/disks":                             "2023-01-02",
	"Microsoft.Network/networkInterfaces":                 "2023-04-01",
	"Microsoft.Network/publicIPAddresses":                 "2023-04-01",
	"Microsoft.Storage/storageAccounts":                   "2023-01-01",
	"Microsoft.Storage/storageAccounts/fileServices/shares": "2023-01-01",
	"Microsoft.KeyVault/vaults":                           "2023-02-01",
}

type subscriptionClients struct {
	resources *armresources.ClientFactory
	usage     *armcompute.UsageClient
	network   *armnetwork.UsagesClient
	vaults    *armkeyvault.VaultsClient
}

// AzureClient talks to the Azure resource manager
type AzureClient struct {
	cred              azcore.TokenCredential
	subscriptions     *armsubscriptions.Client
	storageLimits     map[string]int64
	defaultRetryAfter time.Duration
	// subscription id -> *subscriptionClients
	clients cmap.ConcurrentMap
}

func NewAzureClient(conf *config.ServerConfig) (*AzureClient, error) {
	cred, err := azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
		TenantID: conf.Azure.TenantID,
	})
	if err != nil {
		log.Errorf("create azure credential failed, err: %v", err)
		return nil, err
	}
	subClient, err := armsubscriptions.NewClient(cred, nil)
	if err != nil {
		return nil, err
	}
	limits := make(map[string]int64, len(conf.Subscriptions))
	for _, sub := range conf.Subscriptions {
		limits[sub.ID] = sub.StorageAccountLimit
	}
	return &AzureClient{
		cred:              cred,
		subscriptions:     subClient,
		storageLimits:     limits,
		defaultRetryAfter: conf.Azure.DefaultRetryAfter,
		clients:           cmap.New(),
	}, nil
}

func (c *AzureClient) clientsFor(subscriptionID string) (*subscriptionClients, error) {
	if value, ok := c.clients.Get(subscriptionID); ok {
		return value.(*subscriptionClients), nil
	}
	resources, err := armresources.NewClientFactory(subscriptionID, c.cred, nil)
	if err != nil {
		return nil, err
	}
	usage, err := armcompute.NewUsageClient(subscriptionID, c.cred, nil)
	if err != nil {
		return nil, err
	}
	network, err := armnetwork.NewUsagesClient(subscriptionID, c.cred, nil)
	if err != nil {
		return nil, err
	}
	vaults, err := armkeyvault.NewVaultsClient(subscriptionID, c.cred, nil)
	if err != nil {
		return nil, err
	}
	clients := &subscriptionClients{resources: resources, usage: usage, network: network, vaults: vaults}
	// a concurrent caller may have won, both values are equivalent
	c.clients.SetIfAbsent(subscriptionID, clients)
	value, _ := c.clients.Get(subscriptionID)
	return value.(*subscriptionClients), nil
}

func (c *AzureClient) CreateResourceGroupIfNotExists(ctx context.Context, subscriptionID, resourceGroup, location string) error {
	clients, err := c.clientsFor(subscriptionID)
	if err != nil {
		return err
	}
	groups := clients.resources.NewResourceGroupsClient()
	exist, err := groups.CheckExistence(ctx, resourceGroup, nil)
	if err != nil {
		return classifyError(err, c.defaultRetryAfter, "check resource group "+resourceGroup)
	}
	if exist.Success {
		return nil
	}
	log.Infof("create resource group %s in subscription %s, location %s", resourceGroup, subscriptionID, location)
	_, err = groups.CreateOrUpdate(ctx, resourceGroup, armresources.ResourceGroup{
		Location: to.Ptr(location),
		Tags:     map[string]*string{"managed-by": to.Ptr("resource-broker")},
	}, nil)
	return classifyError(err, c.defaultRetryAfter, "create resource group "+resourceGroup)
}

func (c *AzureClient) BeginDeployment(ctx context.Context, handle ResourceHandle, deploymentName string,
	template interface{}, parameters map[string]interface{}) (string, error) {
	clients, err := c.clientsFor(handle.SubscriptionID)
	if err != nil {
		return "", err
	}
	// template parameters are wrapped as {"name": {"value": v}}
	wrapped := make(map[string]interface{}, len(parameters))
	for k, v := range parameters {
		wrapped[k] = map[string]interface{}{"value": v}
	}
	deployments := clients.resources.NewDeploymentsClient()
	_, err = deployments.BeginCreateOrUpdate(ctx, handle.ResourceGroup, deploymentName, armresources.Deployment{
		Properties: &armresources.DeploymentProperties{
			Mode:       to.Ptr(armresources.DeploymentModeIncremental),
			Template:   template,
			Parameters: wrapped,
		},
	}, nil)
	if err != nil {
		return "", classifyError(err, c.defaultRetryAfter, "begin deployment "+deploymentName)
	}
	return handle.DeploymentID(deploymentName), nil
}

func (c *AzureClient) GetDeploymentStatus(ctx context.Context, deploymentID string) (*DeploymentStatus, error) {
	id, err := arm.ParseResourceID(deploymentID)
	if err != nil {
		return nil, errors.ProviderRequestError("invalid deployment id %s: %v", deploymentID, err)
	}
	clients, err := c.clientsFor(id.SubscriptionID)
	if err != nil {
		return nil, err
	}
	resp, err := clients.resources.NewDeploymentsClient().Get(ctx, id.ResourceGroupName, id.Name, nil)
	if err != nil {
		return nil, classifyError(err, c.defaultRetryAfter, "get deployment "+id.Name)
	}
	status := &DeploymentStatus{State: DeploymentRunning, Outputs: map[string]interface{}{}}
	props := resp.Properties
	if props == nil || props.ProvisioningState == nil {
		return status, nil
	}
	switch *props.ProvisioningState {
	case armresources.ProvisioningStateSucceeded:
		status.State = DeploymentSucceeded
	case armresources.ProvisioningStateFailed:
		status.State = DeploymentFailed
	case armresources.ProvisioningStateCanceled:
		status.State = DeploymentCanceled
	}
	if outputs, ok := props.Outputs.(map[string]interface{}); ok {
		for name, output := range outputs {
			if wrapped, ok := output.(map[string]interface{}); ok {
				status.Outputs[name] = wrapped["value"]
			}
		}
	}
	if props.Error != nil {
		status.Error = fmt.Sprintf("%s: %s", deref(props.Error.Code), deref(props.Error.Message))
	}
	return status, nil
}

func (c *AzureClient) DeleteResource(ctx context.Context, resourceID string) error {
	id, err := arm.ParseResourceID(resourceID)
	if err != nil {
		return errors.ProviderRequestError("invalid resource id %s: %v", resourceID, err)
	}
	apiVersion, ok := apiVersions[id.ResourceType.String()]
	if !ok {
		return errors.ProviderRequestError("no api version known for resource type %s", id.ResourceType.String())
	}
	clients, err := c.clientsFor(id.SubscriptionID)
	if err != nil {
		return err
	}
	_, err = clients.resources.NewClient().BeginDeleteByID(ctx, resourceID, apiVersion, nil)
	err = classifyError(err, c.defaultRetryAfter, "delete "+resourceID)
	if errors.IsCode(err, errors.ResourceNotFound) {
		log.Debugf("resource %s already deleted", resourceID)
		return nil
	}
	return err
}

func (c *AzureClient) GetQuotaUsage(ctx context.Context, subscriptionID, location string,
	serviceType schema.ServiceType) ([]model.AzureResourceUsage, error) {
	clients, err := c.clientsFor(subscriptionID)
	if err != nil {
		return nil, err
	}
	var usages []model.AzureResourceUsage
	appendUsage := func(name string, limit, current int64) {
		usages = append(usages, model.AzureResourceUsage{
			SubscriptionID: subscriptionID,
			ServiceType:    serviceType,
			Location:       location,
			Quota:          name,
			Limit:          limit,
			CurrentValue:   current,
		})
	}

	switch serviceType {
	case schema.ServiceCompute:
		pager := clients.usage.NewListPager(location, nil)
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, classifyError(err, c.defaultRetryAfter, "list compute usage")
			}
			for _, u := range page.Value {
				if u == nil || u.Name == nil || u.Name.Value == nil {
					continue
				}
				appendUsage(*u.Name.Value, deref64(u.Limit), int64(deref32(u.CurrentValue)))
			}
		}
	case schema.ServiceNetwork:
		pager := clients.network.NewListPager(location, nil)
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, classifyError(err, c.defaultRetryAfter, "list network usage")
			}
			for _, u := range page.Value {
				if u == nil || u.Name == nil || u.Name.Value == nil {
					continue
				}
				appendUsage(*u.Name.Value, deref64(u.Limit), deref64(u.CurrentValue))
			}
		}
	case schema.ServiceStorage:
		// storage usage is not reported per location, count the accounts instead
		var count int64
		pager := clients.resources.NewClient().NewListPager(&armresources.ClientListOptions{
			Filter: to.Ptr(storageAccountFilter),
		})
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, classifyError(err, c.defaultRetryAfter, "list storage accounts")
			}
			for _, res := range page.Value {
				if res != nil && sameLocation(deref(res.Location), location) {
					count++
				}
			}
		}
		appendUsage(schema.QuotaStorageAccounts, c.storageLimits[subscriptionID], count)
	default:
		return nil, errors.ProviderRequestError("unsupported service type %s", serviceType)
	}
	return usages, nil
}

func (c *AzureClient) ListLocations(ctx context.Context, subscriptionID string) ([]string, error) {
	var locations []string
	pager := c.subscriptions.NewListLocationsPager(subscriptionID, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classifyError(err, c.defaultRetryAfter, "list locations")
		}
		for _, loc := range page.Value {
			if loc != nil && loc.Name != nil {
				locations = append(locations, *loc.Name)
			}
		}
	}
	return locations, nil
}

// CheckNameAvailability only consults the provider for globally named resources
func (c *AzureClient) CheckNameAvailability(ctx context.Context, subscriptionID string,
	resourceType schema.ResourceType, name string) (bool, error) {
	if resourceType != schema.TypeKeyVault {
		return true, nil
	}
	clients, err := c.clientsFor(subscriptionID)
	if err != nil {
		return false, err
	}
	resp, err := clients.vaults.CheckNameAvailability(ctx, armkeyvault.VaultCheckNameAvailabilityParameters{
		Name: to.Ptr(name),
	}, nil)
	if err != nil {
		return false, classifyError(err, c.defaultRetryAfter, "check vault name "+name)
	}
	return resp.NameAvailable != nil && *resp.NameAvailable, nil
}

func sameLocation(a, b string) bool {
	normalize := func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, " ", ""))
	}
	return normalize(a) == normalize(b)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func deref64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func deref32(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}
