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
)

const (
	templateSchema         = "https://schema.management.azure.com/schemas/2019-04-01/deploymentTemplate.json#"
	templateContentVersion = "1.0.0.0"

	ProviderVirtualMachine   = "Microsoft.Compute/virtualMachines"
	ProviderDisk             = "Microsoft.Compute/disks"
	ProviderNetworkInterface = "Microsoft.Network/networkInterfaces"
	ProviderVirtualNetwork   = "Microsoft.Network/virtualNetworks"
	ProviderStorageAccount   = "Microsoft.Storage/storageAccounts"
	ProviderFileShare        = "Microsoft.Storage/storageAccounts/fileServices/shares"
	ProviderKeyVault         = "Microsoft.KeyVault/vaults"

	apiVersionCompute  = "2023-03-01"
	apiVersionNetwork  = "2023-04-01"
	apiVersionStorage  = "2023-01-01"
	apiVersionKeyVault = "2023-02-01"

	ParamTypeString       = "string"
	ParamTypeSecureString = "securestring"
	ParamTypeInt          = "int"
)

// Template is an ARM deployment template
type Template struct {
	Schema         string                       `json:"$schema"`
	ContentVersion string                       `json:"contentVersion"`
	Parameters     map[string]TemplateParameter `json:"parameters"`
	Variables      map[string]interface{}       `json:"variables,omitempty"`
	Resources      []TemplateResource           `json:"resources"`
	Outputs        map[string]TemplateOutput    `json:"outputs,omitempty"`
}

type TemplateParameter struct {
	Type string `json:"type"`
}

type TemplateResource struct {
	Type       string                 `json:"type"`
	APIVersion string                 `json:"apiVersion"`
	Name       string                 `json:"name"`
	Location   string                 `json:"location,omitempty"`
	Kind       string                 `json:"kind,omitempty"`
	Sku        map[string]string      `json:"sku,omitempty"`
	Tags       map[string]string      `json:"tags,omitempty"`
	DependsOn  []string               `json:"dependsOn,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

type TemplateOutput struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func newTemplate() *Template {
	return &Template{
		Schema:         templateSchema,
		ContentVersion: templateContentVersion,
		Parameters: map[string]TemplateParameter{
			"location": {Type: ParamTypeString},
		},
		Outputs: map[string]TemplateOutput{},
	}
}

func (t *Template) param(name, paramType string) string {
	t.Parameters[name] = TemplateParameter{Type: paramType}
	return fmt.Sprintf("[parameters('%s')]", name)
}

func (t *Template) add(r TemplateResource) {
	t.Resources = append(t.Resources, r)
}

// outputID exports the id of a resource declared in the template
func (t *Template) outputID(output, providerType, nameExpr string) {
	t.Outputs[output] = TemplateOutput{
		Type:  ParamTypeString,
		Value: fmt.Sprintf("[resourceId('%s', %s)]", providerType, nameExpr),
	}
}

// expr strips the brackets of a template expression so it can be nested
func expr(e string) string {
	return e[1 : len(e)-1]
}

func resourceIDExpr(providerType, nameExpr string) string {
	return fmt.Sprintf("[resourceId('%s', %s)]", providerType, expr(nameExpr))
}
