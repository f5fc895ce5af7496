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
	"fmt"

	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
)

const (
	locationExpr         = "[parameters('location')]"
	vnetAddressPrefix    = "10.0.0.0/16"
	subnetAddressPrefix  = "10.0.0.0/24"
	defaultSubnetName    = "default"
	defaultImageVersion  = "latest"
	maxComputerNameChars = 15
)

// VMName is the provider name of a compute record, windows computer names allow 15 characters
func VMName(req *CreateRequest) string {
	prefix := "vml"
	if req.ComputeOS == schema.OSWindows {
		prefix = "vmw"
	}
	return ResourceName(prefix, req.ResourceID, maxComputerNameChars)
}

type vmBuilder struct {
	req      *CreateRequest
	t        *Template
	plan     *Plan
	name     string
	nameExpr string
	tags     map[string]string
	deps     []string
	network  map[string]interface{}
	storage  map[string]interface{}
	os       map[string]interface{}
}

func newVMBuilder(strategy string, req *CreateRequest) (*vmBuilder, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.SkuName == "" {
		return nil, errors.HandlerInvariantViolationError("compute request %s without vm size", req.ResourceID)
	}
	name := VMName(req)
	t := newTemplate()
	b := &vmBuilder{
		req:      req,
		t:        t,
		name:     name,
		nameExpr: t.param("vmName", ParamTypeString),
		tags:     tags(req),
	}
	t.param("vmSize", ParamTypeString)
	b.plan = &Plan{
		DeploymentName:  deploymentName(strategy, name),
		ResourceName:    name,
		ProviderType:    ProviderVirtualMachine,
		CloudResourceID: req.Handle.ResourceID(ProviderVirtualMachine, name),
		Template:        t,
		Parameters: map[string]interface{}{
			"location": req.Handle.Location,
			"vmName":   name,
			"vmSize":   req.SkuName,
		},
	}
	return b, nil
}

func (b *vmBuilder) component(resourceType schema.ResourceType, providerType, name string) {
	b.plan.Components = append(b.plan.Components, Component{
		Type:         resourceType,
		ProviderType: providerType,
		Name:         name,
		ID:           b.req.Handle.ResourceID(providerType, name),
	})
}

// withNewNetwork declares a dedicated virtual network and nic for the vm
func (b *vmBuilder) withNewNetwork() {
	vnet, nic := b.name+"-vnet", b.name+"-nic"
	vnetExpr := b.t.param("vnetName", ParamTypeString)
	nicExpr := b.t.param("nicName", ParamTypeString)
	b.plan.Parameters["vnetName"] = vnet
	b.plan.Parameters["nicName"] = nic

	b.t.add(TemplateResource{
		Type:       ProviderVirtualNetwork,
		APIVersion: apiVersionNetwork,
		Name:       vnetExpr,
		Location:   locationExpr,
		Tags:       b.tags,
		Properties: map[string]interface{}{
			"addressSpace": map[string]interface{}{"addressPrefixes": []string{vnetAddressPrefix}},
			"subnets": []interface{}{
				map[string]interface{}{
					"name":       defaultSubnetName,
					"properties": map[string]interface{}{"addressPrefix": subnetAddressPrefix},
				},
			},
		},
	})
	subnetID := fmt.Sprintf("[resourceId('%s/subnets', %s, '%s')]", ProviderVirtualNetwork, expr(vnetExpr), defaultSubnetName)
	b.t.add(TemplateResource{
		Type:       ProviderNetworkInterface,
		APIVersion: apiVersionNetwork,
		Name:       nicExpr,
		Location:   locationExpr,
		Tags:       b.tags,
		DependsOn:  []string{resourceIDExpr(ProviderVirtualNetwork, vnetExpr)},
		Properties: map[string]interface{}{
			"ipConfigurations": []interface{}{
				map[string]interface{}{
					"name": "ipconfig1",
					"properties": map[string]interface{}{
						"privateIPAllocationMethod": "Dynamic",
						"subnet":                    map[string]interface{}{"id": subnetID},
					},
				},
			},
		},
	})
	nicID := resourceIDExpr(ProviderNetworkInterface, nicExpr)
	b.deps = append(b.deps, nicID)
	b.network = networkProfile(nicID)
	// deleted in this order once the vm is gone
	b.component(schema.TypeNetworkInterface, ProviderNetworkInterface, nic)
	b.component(schema.TypeVirtualNetwork, ProviderVirtualNetwork, vnet)
}

func (b *vmBuilder) withExistingNetwork() {
	b.network = networkProfile(b.t.param("nicId", ParamTypeString))
	b.plan.Parameters["nicId"] = b.req.NetworkInterfaceID
}

func networkProfile(nicID string) map[string]interface{} {
	return map[string]interface{}{
		"networkInterfaces": []interface{}{map[string]interface{}{"id": nicID}},
	}
}

// withImage boots a new os disk from the requested image
func (b *vmBuilder) withImage() error {
	image := b.req.Image
	var reference map[string]interface{}
	switch {
	case image.ID != "":
		reference = map[string]interface{}{"id": image.ID}
	case image.Publisher != "" && image.Offer != "" && image.Sku != "":
		version := image.Version
		if version == "" {
			version = defaultImageVersion
		}
		reference = map[string]interface{}{
			"publisher": image.Publisher,
			"offer":     image.Offer,
			"sku":       image.Sku,
			"version":   version,
		}
	default:
		return errors.HandlerInvariantViolationError("image %q of %s has neither id nor marketplace reference", image.Name, b.req.ResourceID)
	}
	disk := b.name + "-osdisk"
	b.storage = map[string]interface{}{
		"imageReference": reference,
		"osDisk": map[string]interface{}{
			"name":         disk,
			"createOption": "FromImage",
			"managedDisk":  map[string]interface{}{"storageAccountType": "Premium_LRS"},
		},
	}
	b.component(schema.TypeOSDisk, ProviderDisk, disk)
	return b.withOSProfile()
}

func (b *vmBuilder) withOSProfile() error {
	profile := map[string]interface{}{
		"computerName":  b.nameExpr,
		"adminUsername": defaultAdminUsername,
	}
	if b.req.ComputeOS == schema.OSLinux && b.req.SSHPublicKey != "" {
		profile["linuxConfiguration"] = map[string]interface{}{
			"disablePasswordAuthentication": true,
			"ssh": map[string]interface{}{
				"publicKeys": []interface{}{
					map[string]interface{}{
						"path":    fmt.Sprintf("/home/%s/.ssh/authorized_keys", defaultAdminUsername),
						"keyData": b.t.param("sshPublicKey", ParamTypeString),
					},
				},
			},
		}
		b.plan.Parameters["sshPublicKey"] = b.req.SSHPublicKey
		b.os = profile
		return nil
	}
	if b.req.AdminPassword == "" {
		return errors.HandlerInvariantViolationError("compute request %s without admin credential", b.req.ResourceID)
	}
	profile["adminPassword"] = b.t.param("adminPassword", ParamTypeSecureString)
	b.plan.Parameters["adminPassword"] = b.req.AdminPassword
	b.os = profile
	return nil
}

// withExistingOSDisk attaches a specialized disk, the vm keeps the disk's os configuration
func (b *vmBuilder) withExistingOSDisk() {
	b.storage = map[string]interface{}{
		"osDisk": map[string]interface{}{
			"osType":       string(b.req.ComputeOS),
			"createOption": "Attach",
			"managedDisk":  map[string]interface{}{"id": b.t.param("osDiskId", ParamTypeString)},
		},
	}
	b.plan.Parameters["osDiskId"] = b.req.OSDiskID
}

func (b *vmBuilder) build() *Plan {
	properties := map[string]interface{}{
		"hardwareProfile": map[string]interface{}{"vmSize": "[parameters('vmSize')]"},
		"storageProfile":  b.storage,
		"networkProfile":  b.network,
	}
	if b.os != nil {
		properties["osProfile"] = b.os
	}
	b.t.add(TemplateResource{
		Type:       ProviderVirtualMachine,
		APIVersion: apiVersionCompute,
		Name:       b.nameExpr,
		Location:   locationExpr,
		Tags:       b.tags,
		DependsOn:  b.deps,
		Properties: properties,
	})
	b.t.outputID("vmId", ProviderVirtualMachine, expr(b.nameExpr))
	return b.plan
}

func isVM(req *CreateRequest, os schema.ComputeOS) bool {
	return req.Type == schema.TypeComputeVM && req.ComputeOS == os
}

// WindowsVM creates a windows vm from an image with its own network
type WindowsVM struct{}

func (s *WindowsVM) Name() string { return NameWindowsVM }

func (s *WindowsVM) Accepts(req *CreateRequest) bool {
	return isVM(req, schema.OSWindows) && !req.HasNetworkInterface() && !req.HasOSDisk()
}

func (s *WindowsVM) BuildPlan(req *CreateRequest) (*Plan, error) {
	return buildImageVM(s.Name(), req)
}

// LinuxVM creates a linux vm from an image with its own network
type LinuxVM struct{}

func (s *LinuxVM) Name() string { return NameLinuxVM }

func (s *LinuxVM) Accepts(req *CreateRequest) bool {
	return isVM(req, schema.OSLinux) && !req.HasNetworkInterface() && !req.HasOSDisk()
}

func (s *LinuxVM) BuildPlan(req *CreateRequest) (*Plan, error) {
	return buildImageVM(s.Name(), req)
}

func buildImageVM(strategy string, req *CreateRequest) (*Plan, error) {
	b, err := newVMBuilder(strategy, req)
	if err != nil {
		return nil, err
	}
	b.withNewNetwork()
	if err := b.withImage(); err != nil {
		return nil, err
	}
	return b.build(), nil
}

// VMWithExistingNIC boots an image on a network interface that already exists
type VMWithExistingNIC struct{}

func (s *VMWithExistingNIC) Name() string { return NameVMWithExistingNIC }

func (s *VMWithExistingNIC) Accepts(req *CreateRequest) bool {
	return req.Type == schema.TypeComputeVM && req.HasNetworkInterface() && !req.HasOSDisk()
}

func (s *VMWithExistingNIC) BuildPlan(req *CreateRequest) (*Plan, error) {
	b, err := newVMBuilder(s.Name(), req)
	if err != nil {
		return nil, err
	}
	b.withExistingNetwork()
	if err := b.withImage(); err != nil {
		return nil, err
	}
	return b.build(), nil
}

// VMWithExistingOSDisk attaches an existing os disk, reusing a network interface when one is given
type VMWithExistingOSDisk struct{}

func (s *VMWithExistingOSDisk) Name() string { return NameVMWithExistingOSDisk }

func (s *VMWithExistingOSDisk) Accepts(req *CreateRequest) bool {
	return req.Type == schema.TypeComputeVM && req.HasOSDisk()
}

func (s *VMWithExistingOSDisk) BuildPlan(req *CreateRequest) (*Plan, error) {
	b, err := newVMBuilder(s.Name(), req)
	if err != nil {
		return nil, err
	}
	if req.HasNetworkInterface() {
		b.withExistingNetwork()
	} else {
		b.withNewNetwork()
	}
	b.withExistingOSDisk()
	return b.build(), nil
}
