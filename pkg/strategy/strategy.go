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
	"strings"

	"github.com/google/uuid"

	"github.com/cloudpool/resourcebroker/pkg/cloud"
	"github.com/cloudpool/resourcebroker/pkg/common/config"
	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
)

const (
	NameWindowsVM            = "WindowsVM"
	NameLinuxVM              = "LinuxVM"
	NameVMWithExistingNIC    = "VMWithExistingNIC"
	NameVMWithExistingOSDisk = "VMWithExistingOSDisk"
	NameStorageFileShare     = "StorageFileShare"
	NameKeyVault             = "KeyVault"

	defaultAdminUsername = "rbadmin"
)

// CreateRequest describes the cloud resource a resource record should become
type CreateRequest struct {
	ResourceID string
	Type       schema.ResourceType
	ComputeOS  schema.ComputeOS
	Handle     cloud.ResourceHandle
	// SkuName is the vm size of compute and the storage sku of file shares
	SkuName            string
	Image              config.ImageConfig
	StorageSizeInGB    int
	NetworkInterfaceID string
	OSDiskID           string
	AdminPassword      string
	SSHPublicKey       string
	Tags               map[string]string
}

func (r *CreateRequest) HasNetworkInterface() bool {
	return r.NetworkInterfaceID != ""
}

func (r *CreateRequest) HasOSDisk() bool {
	return r.OSDiskID != ""
}

func (r *CreateRequest) shape() Shape {
	return Shape{Type: r.Type, OS: r.ComputeOS, HasNIC: r.HasNetworkInterface(), HasOSDisk: r.HasOSDisk()}
}

// Component is a cloud resource created alongside the main one
type Component struct {
	Type         schema.ResourceType `json:"type"`
	ProviderType string              `json:"providerType"`
	Name         string              `json:"name"`
	ID           string              `json:"id"`
}

// Plan is everything needed to deploy one resource, it is a pure function of the request
type Plan struct {
	Strategy       string
	DeploymentName string
	ResourceName   string
	ProviderType   string
	// CloudResourceID is the id of the main resource, deleting it removes the resource
	CloudResourceID    string
	Template           *Template
	Parameters         map[string]interface{}
	Components         []Component
	RequiresUniqueName bool
}

// ComponentIDs are the ids to delete once the main resource is gone, in deletion order
func (p *Plan) ComponentIDs() []string {
	ids := make([]string, 0, len(p.Components))
	for _, c := range p.Components {
		ids = append(ids, c.ID)
	}
	return ids
}

type Strategy interface {
	Name() string
	Accepts(req *CreateRequest) bool
	BuildPlan(req *CreateRequest) (*Plan, error)
}

// Shape is the part of a request strategies are selected by
type Shape struct {
	Type      schema.ResourceType
	OS        schema.ComputeOS
	HasNIC    bool
	HasOSDisk bool
}

func (s Shape) String() string {
	return fmt.Sprintf("%s/%s/nic=%t/disk=%t", s.Type, s.OS, s.HasNIC, s.HasOSDisk)
}

// KnownShapes is the input space every registry must cover
func KnownShapes() []Shape {
	var shapes []Shape
	for _, os := range []schema.ComputeOS{schema.OSWindows, schema.OSLinux} {
		for _, nic := range []bool{false, true} {
			for _, disk := range []bool{false, true} {
				shapes = append(shapes, Shape{Type: schema.TypeComputeVM, OS: os, HasNIC: nic, HasOSDisk: disk})
			}
		}
	}
	shapes = append(shapes,
		Shape{Type: schema.TypeStorageFileShare},
		Shape{Type: schema.TypeKeyVault},
	)
	return shapes
}

func requestOf(s Shape) *CreateRequest {
	req := &CreateRequest{Type: s.Type, ComputeOS: s.OS}
	if s.HasNIC {
		req.NetworkInterfaceID = "nic"
	}
	if s.HasOSDisk {
		req.OSDiskID = "disk"
	}
	return req
}

type Registry struct {
	strategies []Strategy
}

// DefaultStrategies in registration order
func DefaultStrategies() []Strategy {
	return []Strategy{
		&WindowsVM{},
		&LinuxVM{},
		&VMWithExistingNIC{},
		&VMWithExistingOSDisk{},
		&StorageFileShare{},
		&KeyVault{},
	}
}

// NewRegistry fails unless every known shape is accepted by exactly one strategy
func NewRegistry(strategies ...Strategy) (*Registry, error) {
	r := &Registry{strategies: strategies}
	for _, shape := range KnownShapes() {
		if _, err := r.Select(requestOf(shape)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultStrategies()...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Select(req *CreateRequest) (Strategy, error) {
	var matched []string
	var selected Strategy
	for _, s := range r.strategies {
		if s.Accepts(req) {
			matched = append(matched, s.Name())
			selected = s
		}
	}
	switch len(matched) {
	case 0:
		return nil, errors.HandlerInvariantViolationError("no strategy accepts %s", req.shape())
	case 1:
		return selected, nil
	}
	return nil, errors.HandlerInvariantViolationError("strategies %s all accept %s", strings.Join(matched, ","), req.shape())
}

// BuildPlan selects the strategy of req and renders its plan
func (r *Registry) BuildPlan(req *CreateRequest) (*Plan, error) {
	s, err := r.Select(req)
	if err != nil {
		return nil, err
	}
	plan, err := s.BuildPlan(req)
	if err != nil {
		return nil, err
	}
	plan.Strategy = s.Name()
	return plan, nil
}

// ResourceName derives a provider name of at most length characters from the record id,
// the same record always gets the same name
func ResourceName(prefix, resourceID string, length int) string {
	digest := strings.ReplaceAll(uuid.NewSHA1(uuid.NameSpaceOID, []byte(resourceID)).String(), "-", "")
	n := length - len(prefix)
	if n > len(digest) {
		n = len(digest)
	}
	return prefix + digest[:n]
}

func deploymentName(strategy, resourceName string) string {
	return strings.ToLower(strategy) + "-" + resourceName
}

func validate(req *CreateRequest) error {
	if req.ResourceID == "" {
		return errors.HandlerInvariantViolationError("create request without resource id")
	}
	if req.Handle.SubscriptionID == "" || req.Handle.ResourceGroup == "" || req.Handle.Location == "" {
		return errors.HandlerInvariantViolationError("create request %s without placement", req.ResourceID)
	}
	return nil
}

func tags(req *CreateRequest) map[string]string {
	t := map[string]string{"resourceID": req.ResourceID}
	for k, v := range req.Tags {
		t[k] = v
	}
	return t
}
