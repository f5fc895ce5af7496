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

import (
	"fmt"
	"strings"
)

type ResourceType string
type ComputeOS string
type ServiceType string

const (
	TypeComputeVM        ResourceType = "ComputeVM"
	TypeStorageFileShare ResourceType = "StorageFileShare"
	TypeKeyVault         ResourceType = "KeyVault"
	TypeNetworkInterface ResourceType = "NetworkInterface"
	TypeOSDisk           ResourceType = "OSDisk"
	// TypeVirtualNetwork only appears as a component of a compute resource
	TypeVirtualNetwork ResourceType = "VirtualNetwork"

	OSWindows ComputeOS = "Windows"
	OSLinux   ComputeOS = "Linux"

	ServiceCompute ServiceType = "Compute"
	ServiceNetwork ServiceType = "Network"
	ServiceStorage ServiceType = "Storage"

	// quota names as reported by the provider usage apis
	QuotaCores           = "cores"
	QuotaVirtualMachines = "virtualMachines"
	QuotaVirtualNetworks = "VirtualNetworks"
	QuotaStorageAccounts = "StorageAccounts"

	// AggregateSubscription is the pseudo subscription id of summed usage records
	AggregateSubscription = "aggregate"

	// pool dimension keys
	DimensionSkuName         = "skuName"
	DimensionImageFamilyName = "imageFamilyName"
	DimensionImageName       = "imageName"
	DimensionComputeOS       = "computeOS"
	DimensionStorageSizeInGB = "storageSizeInGB"
)

var ServiceTypes = []ServiceType{ServiceCompute, ServiceNetwork, ServiceStorage}

var resourceTypes = map[ResourceType]struct{}{
	TypeComputeVM:        {},
	TypeStorageFileShare: {},
	TypeKeyVault:         {},
	TypeNetworkInterface: {},
	TypeOSDisk:           {},
}

func ParseResourceType(s string) (ResourceType, error) {
	for t := range resourceTypes {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown resource type %s", s)
}

func ParseComputeOS(s string) (ComputeOS, error) {
	switch {
	case strings.EqualFold(s, string(OSWindows)):
		return OSWindows, nil
	case strings.EqualFold(s, string(OSLinux)):
		return OSLinux, nil
	}
	return "", fmt.Errorf("unknown compute os %s", s)
}

func ParseServiceType(s string) (ServiceType, error) {
	for _, t := range ServiceTypes {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown service type %s", s)
}
