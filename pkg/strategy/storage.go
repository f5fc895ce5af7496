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
	"strings"

	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
)

const (
	defaultShareName      = "data"
	defaultShareSizeInGB  = 100
	maxStorageAccountName = 24
	maxKeyVaultName       = 24
	defaultKeyVaultSku    = "standard"
)

// StorageFileShare creates a storage account holding one file share
type StorageFileShare struct{}

func (s *StorageFileShare) Name() string { return NameStorageFileShare }

func (s *StorageFileShare) Accepts(req *CreateRequest) bool {
	return req.Type == schema.TypeStorageFileShare
}

func (s *StorageFileShare) BuildPlan(req *CreateRequest) (*Plan, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.SkuName == "" {
		return nil, errors.HandlerInvariantViolationError("storage request %s without sku", req.ResourceID)
	}
	size := req.StorageSizeInGB
	if size <= 0 {
		size = defaultShareSizeInGB
	}
	// storage account names are global, lowercase alphanumeric
	account := ResourceName("st", req.ResourceID, maxStorageAccountName)
	kind := "StorageV2"
	if strings.HasPrefix(req.SkuName, "Premium") {
		kind = "FileStorage"
	}

	t := newTemplate()
	accountExpr := t.param("storageAccountName", ParamTypeString)
	shareExpr := t.param("shareName", ParamTypeString)
	quotaExpr := t.param("shareQuota", ParamTypeInt)
	t.add(TemplateResource{
		Type:       ProviderStorageAccount,
		APIVersion: apiVersionStorage,
		Name:       accountExpr,
		Location:   locationExpr,
		Kind:       kind,
		Sku:        map[string]string{"name": t.param("storageSku", ParamTypeString)},
		Tags:       tags(req),
		Properties: map[string]interface{}{
			"minimumTlsVersion":        "TLS1_2",
			"supportsHttpsTrafficOnly": true,
			"allowBlobPublicAccess":    false,
		},
	})
	t.add(TemplateResource{
		Type:       ProviderFileShare,
		APIVersion: apiVersionStorage,
		Name:       "[concat(" + expr(accountExpr) + ", '/default/', " + expr(shareExpr) + ")]",
		DependsOn:  []string{resourceIDExpr(ProviderStorageAccount, accountExpr)},
		Properties: map[string]interface{}{"shareQuota": quotaExpr},
	})
	t.outputID("storageAccountId", ProviderStorageAccount, expr(accountExpr))
	t.Outputs["shareName"] = TemplateOutput{Type: ParamTypeString, Value: shareExpr}

	return &Plan{
		DeploymentName:  deploymentName(s.Name(), account),
		ResourceName:    account,
		ProviderType:    ProviderStorageAccount,
		CloudResourceID: req.Handle.ResourceID(ProviderStorageAccount, account),
		Template:        t,
		Parameters: map[string]interface{}{
			"location":           req.Handle.Location,
			"storageAccountName": account,
			"storageSku":         req.SkuName,
			"shareName":          defaultShareName,
			"shareQuota":         size,
		},
		RequiresUniqueName: true,
	}, nil
}

// KeyVault creates an rbac enabled vault in the tenant of the subscription
type KeyVault struct{}

func (s *KeyVault) Name() string { return NameKeyVault }

func (s *KeyVault) Accepts(req *CreateRequest) bool {
	return req.Type == schema.TypeKeyVault
}

func (s *KeyVault) BuildPlan(req *CreateRequest) (*Plan, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	vault := ResourceName("kv-", req.ResourceID, maxKeyVaultName)
	sku := strings.ToLower(req.SkuName)
	if sku == "" {
		sku = defaultKeyVaultSku
	}

	t := newTemplate()
	vaultExpr := t.param("vaultName", ParamTypeString)
	t.add(TemplateResource{
		Type:       ProviderKeyVault,
		APIVersion: apiVersionKeyVault,
		Name:       vaultExpr,
		Location:   locationExpr,
		Tags:       tags(req),
		Properties: map[string]interface{}{
			"tenantId":                "[subscription().tenantId]",
			"sku":                     map[string]string{"family": "A", "name": t.param("vaultSku", ParamTypeString)},
			"enableRbacAuthorization": true,
			"enableSoftDelete":        true,
			"accessPolicies":          []interface{}{},
		},
	})
	t.outputID("vaultId", ProviderKeyVault, expr(vaultExpr))

	return &Plan{
		DeploymentName:  deploymentName(s.Name(), vault),
		ResourceName:    vault,
		ProviderType:    ProviderKeyVault,
		CloudResourceID: req.Handle.ResourceID(ProviderKeyVault, vault),
		Template:        t,
		Parameters: map[string]interface{}{
			"location":  req.Handle.Location,
			"vaultName": vault,
			"vaultSku":  sku,
		},
		RequiresUniqueName: true,
	}, nil
}
