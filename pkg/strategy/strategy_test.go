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
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpool/resourcebroker/pkg/cloud"
	"github.com/cloudpool/resourcebroker/pkg/common/config"
	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
)

var testHandle = cloud.ResourceHandle{SubscriptionID: "sub-1", ResourceGroup: "rb-westus", Location: "westus"}

func vmRequest(os schema.ComputeOS) *CreateRequest {
	return &CreateRequest{
		ResourceID:    "0b7c2a5e-res-1",
		Type:          schema.TypeComputeVM,
		ComputeOS:     os,
		Handle:        testHandle,
		SkuName:       "Standard_D2s_v3",
		Image:         config.ImageConfig{Name: "win11-a", ID: "/subscriptions/sub-1/images/win11-a"},
		AdminPassword: "Passw0rd!",
	}
}

func vmResource(t *testing.T, plan *Plan) TemplateResource {
	for _, r := range plan.Template.Resources {
		if r.Type == ProviderVirtualMachine {
			return r
		}
	}
	t.Fatalf("plan %s has no vm", plan.DeploymentName)
	return TemplateResource{}
}

func componentTypes(plan *Plan) []schema.ResourceType {
	var types []schema.ResourceType
	for _, c := range plan.Components {
		types = append(types, c.Type)
	}
	return types
}

func TestRegistry_Select(t *testing.T) {
	registry := NewDefaultRegistry()
	testCases := []struct {
		shape Shape
		want  string
	}{
		{Shape{Type: schema.TypeComputeVM, OS: schema.OSWindows}, NameWindowsVM},
		{Shape{Type: schema.TypeComputeVM, OS: schema.OSLinux}, NameLinuxVM},
		{Shape{Type: schema.TypeComputeVM, OS: schema.OSWindows, HasNIC: true}, NameVMWithExistingNIC},
		{Shape{Type: schema.TypeComputeVM, OS: schema.OSLinux, HasNIC: true}, NameVMWithExistingNIC},
		{Shape{Type: schema.TypeComputeVM, OS: schema.OSWindows, HasOSDisk: true}, NameVMWithExistingOSDisk},
		{Shape{Type: schema.TypeComputeVM, OS: schema.OSLinux, HasNIC: true, HasOSDisk: true}, NameVMWithExistingOSDisk},
		{Shape{Type: schema.TypeStorageFileShare}, NameStorageFileShare},
		{Shape{Type: schema.TypeKeyVault}, NameKeyVault},
	}
	for _, tc := range testCases {
		t.Run(tc.shape.String(), func(t *testing.T) {
			s, err := registry.Select(requestOf(tc.shape))
			require.NoError(t, err)
			assert.Equal(t, tc.want, s.Name())
		})
	}

	_, err := registry.Select(&CreateRequest{Type: schema.TypeNetworkInterface})
	assert.Equal(t, errors.HandlerInvariantViolation, errors.CodeOf(err))
}

func TestNewRegistry_Exhaustiveness(t *testing.T) {
	assert.Equal(t, 10, len(KnownShapes()))

	testCases := []struct {
		name       string
		strategies []Strategy
		wantErr    bool
	}{
		{name: "default strategies", strategies: DefaultStrategies()},
		{name: "missing key vault", strategies: DefaultStrategies()[:5], wantErr: true},
		{name: "overlapping strategies", strategies: append(DefaultStrategies(), &LinuxVM{}), wantErr: true},
		{name: "empty registry", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRegistry(tc.strategies...)
			if tc.wantErr {
				assert.Equal(t, errors.HandlerInvariantViolation, errors.CodeOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildPlan_ComputeVM(t *testing.T) {
	registry := NewDefaultRegistry()

	t.Run("windows vm from image", func(t *testing.T) {
		plan, err := registry.BuildPlan(vmRequest(schema.OSWindows))
		require.NoError(t, err)
		assert.Equal(t, NameWindowsVM, plan.Strategy)
		assert.True(t, strings.HasPrefix(plan.ResourceName, "vmw"))
		assert.Equal(t, 15, len(plan.ResourceName))
		assert.Equal(t, "windowsvm-"+plan.ResourceName, plan.DeploymentName)
		assert.Equal(t, testHandle.ResourceID(ProviderVirtualMachine, plan.ResourceName), plan.CloudResourceID)
		assert.Equal(t, []schema.ResourceType{schema.TypeNetworkInterface, schema.TypeVirtualNetwork, schema.TypeOSDisk}, componentTypes(plan))
		assert.Equal(t, "Passw0rd!", plan.Parameters["adminPassword"])
		assert.Equal(t, ParamTypeSecureString, plan.Template.Parameters["adminPassword"].Type)

		vm := vmResource(t, plan)
		assert.Equal(t, []string{"[resourceId('Microsoft.Network/networkInterfaces', parameters('nicName'))]"}, vm.DependsOn)
		assert.Contains(t, vm.Properties, "osProfile")
		for name := range plan.Template.Parameters {
			assert.Contains(t, plan.Parameters, name)
		}
	})

	t.Run("linux vm with ssh key", func(t *testing.T) {
		req := vmRequest(schema.OSLinux)
		req.AdminPassword = ""
		req.SSHPublicKey = "ssh-rsa AAAA"
		req.Image = config.ImageConfig{Publisher: "Canonical", Offer: "ubuntu", Sku: "22_04-lts"}
		plan, err := registry.BuildPlan(req)
		require.NoError(t, err)
		assert.Equal(t, NameLinuxVM, plan.Strategy)
		assert.NotContains(t, plan.Parameters, "adminPassword")
		storageProfile := vmResource(t, plan).Properties["storageProfile"].(map[string]interface{})
		assert.Equal(t, "latest", storageProfile["imageReference"].(map[string]interface{})["version"])
	})

	t.Run("existing nic", func(t *testing.T) {
		req := vmRequest(schema.OSWindows)
		req.NetworkInterfaceID = testHandle.ResourceID(ProviderNetworkInterface, "nic-1")
		plan, err := registry.BuildPlan(req)
		require.NoError(t, err)
		assert.Equal(t, NameVMWithExistingNIC, plan.Strategy)
		assert.Equal(t, req.NetworkInterfaceID, plan.Parameters["nicId"])
		assert.Equal(t, []schema.ResourceType{schema.TypeOSDisk}, componentTypes(plan))
		assert.Equal(t, 1, len(plan.Template.Resources))
	})

	t.Run("existing os disk", func(t *testing.T) {
		req := vmRequest(schema.OSWindows)
		req.AdminPassword = ""
		req.OSDiskID = testHandle.ResourceID(ProviderDisk, "disk-1")
		plan, err := registry.BuildPlan(req)
		require.NoError(t, err)
		assert.Equal(t, NameVMWithExistingOSDisk, plan.Strategy)
		assert.Equal(t, req.OSDiskID, plan.Parameters["osDiskId"])
		assert.Equal(t, []schema.ResourceType{schema.TypeNetworkInterface, schema.TypeVirtualNetwork}, componentTypes(plan))
		assert.NotContains(t, vmResource(t, plan).Properties, "osProfile")
	})

	t.Run("invalid requests", func(t *testing.T) {
		noPassword := vmRequest(schema.OSWindows)
		noPassword.AdminPassword = ""
		noImage := vmRequest(schema.OSLinux)
		noImage.Image = config.ImageConfig{Name: "broken"}
		noPlacement := vmRequest(schema.OSLinux)
		noPlacement.Handle = cloud.ResourceHandle{}
		for _, req := range []*CreateRequest{noPassword, noImage, noPlacement} {
			_, err := registry.BuildPlan(req)
			assert.Equal(t, errors.HandlerInvariantViolation, errors.CodeOf(err))
		}
	})
}

func TestBuildPlan_Deterministic(t *testing.T) {
	registry := NewDefaultRegistry()
	first, err := registry.BuildPlan(vmRequest(schema.OSWindows))
	require.NoError(t, err)
	second, err := registry.BuildPlan(vmRequest(schema.OSWindows))
	require.NoError(t, err)
	assert.Equal(t, first.DeploymentName, second.DeploymentName)

	a, err := json.Marshal(first.Template)
	require.NoError(t, err)
	b, err := json.Marshal(second.Template)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))

	other := vmRequest(schema.OSWindows)
	other.ResourceID = "0b7c2a5e-res-2"
	third, err := registry.BuildPlan(other)
	require.NoError(t, err)
	assert.NotEqual(t, first.ResourceName, third.ResourceName)
}

func TestBuildPlan_UniqueNames(t *testing.T) {
	registry := NewDefaultRegistry()
	share, err := registry.BuildPlan(&CreateRequest{
		ResourceID: "res-share", Type: schema.TypeStorageFileShare, Handle: testHandle,
		SkuName: "Premium_LRS", StorageSizeInGB: 256,
	})
	require.NoError(t, err)
	assert.True(t, share.RequiresUniqueName)
	assert.Equal(t, 24, len(share.ResourceName))
	assert.True(t, strings.HasPrefix(share.ResourceName, "st"))
	assert.Equal(t, 256, share.Parameters["shareQuota"])
	assert.Equal(t, "FileStorage", share.Template.Resources[0].Kind)
	assert.Equal(t, testHandle.ResourceID(ProviderStorageAccount, share.ResourceName), share.CloudResourceID)

	vault, err := registry.BuildPlan(&CreateRequest{ResourceID: "res-vault", Type: schema.TypeKeyVault, Handle: testHandle})
	require.NoError(t, err)
	assert.True(t, vault.RequiresUniqueName)
	assert.True(t, strings.HasPrefix(vault.ResourceName, "kv-"))
	assert.Equal(t, 24, len(vault.ResourceName))
	assert.Empty(t, vault.Components)
	assert.Equal(t, "standard", vault.Parameters["vaultSku"])

	premium, err := registry.BuildPlan(&CreateRequest{ResourceID: "res-vault", Type: schema.TypeKeyVault, Handle: testHandle, SkuName: "Premium"})
	require.NoError(t, err)
	assert.Equal(t, "premium", premium.Parameters["vaultSku"])
	assert.Equal(t, vault.ResourceName, premium.ResourceName)
}

func TestBuildStartPlan(t *testing.T) {
	req := &StartRequest{
		EnvironmentID:    "env-1",
		ComputeOS:        schema.OSWindows,
		Handle:           testHandle,
		VMName:           "vmw0123456789ab",
		StorageAccountID: testHandle.ResourceID(ProviderStorageAccount, "st01"),
		Inputs:           map[string]string{"repo": "https://example.com/repo.git"},
	}
	plan, err := BuildStartPlan(req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plan.DeploymentName, "start-vmw0123456789ab-"))
	assert.Contains(t, plan.Parameters["command"], "start.ps1 -EnvironmentId env-1")
	assert.Equal(t, ParamTypeSecureString, plan.Template.Parameters["command"].Type)
	assert.Equal(t, "CustomScriptExtension", plan.Template.Resources[0].Properties["type"])

	again, err := BuildStartPlan(req)
	require.NoError(t, err)
	assert.Equal(t, plan.DeploymentName, again.DeploymentName)

	_, err = BuildStartPlan(&StartRequest{EnvironmentID: "env-1"})
	assert.Equal(t, errors.HandlerInvariantViolation, errors.CodeOf(err))
}
