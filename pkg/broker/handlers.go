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

package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cloudpool/resourcebroker/pkg/cloud"
	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/continuation"
	"github.com/cloudpool/resourcebroker/pkg/model"
	"github.com/cloudpool/resourcebroker/pkg/pool"
	"github.com/cloudpool/resourcebroker/pkg/storage"
	"github.com/cloudpool/resourcebroker/pkg/strategy"
)

const (
	phaseBegin = "begin"
	phasePoll  = "poll"
)

type createPayload struct {
	ResourceID   string               `json:"resourceID"`
	DeploymentID string               `json:"deploymentID,omitempty"`
	Components   []strategy.Component `json:"components,omitempty"`
}

type deletePayload struct {
	ResourceID string `json:"resourceID"`
	Reason     string `json:"reason,omitempty"`
}

func handleOf(rec *model.ResourceRecord) cloud.ResourceHandle {
	return cloud.ResourceHandle{
		SubscriptionID: rec.SubscriptionID,
		ResourceGroup:  rec.ResourceGroup,
		Location:       rec.Location,
	}
}

// adminPassword is a one-off vm password meeting the provider complexity rules,
// the workload agent never logs in with it
func adminPassword() string {
	return "Rb#1" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// componentRecordID is stable per parent and component, so replays find the same record
func componentRecordID(parentID, cloudID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(parentID+"|"+strings.ToLower(cloudID))).String()
}

// ensureDeployment starts the deployment unless one with the same name exists already
func (b *Broker) ensureDeployment(ctx context.Context, handle cloud.ResourceHandle, plan *strategy.Plan,
	resourceType schema.ResourceType) (string, bool, error) {
	deploymentID := handle.DeploymentID(plan.DeploymentName)
	_, err := b.client.GetDeploymentStatus(ctx, deploymentID)
	if err == nil {
		return deploymentID, true, nil
	}
	if !errors.IsCode(err, errors.ResourceNotFound) {
		return "", false, err
	}
	if plan.RequiresUniqueName {
		available, err := b.client.CheckNameAvailability(ctx, handle.SubscriptionID, resourceType, plan.ResourceName)
		if err != nil {
			return "", false, err
		}
		if !available {
			return "", false, errors.InvalidResourceStateError(plan.ResourceName, "name is taken in the provider namespace")
		}
	}
	deploymentID, err = b.client.BeginDeployment(ctx, handle, plan.DeploymentName, plan.Template, plan.Parameters)
	return deploymentID, false, err
}

// createResourceHandler turns a resource record into a deployed cloud resource
type createResourceHandler struct {
	broker *Broker
}

func (h *createResourceHandler) Name() string {
	return schema.HandlerCreateResource
}

func (h *createResourceHandler) RunOperation(opCtx *continuation.OperationContext, input *continuation.Input) (*continuation.Result, error) {
	var p createPayload
	if err := input.Decode(&p); err != nil {
		return nil, err
	}
	var result *continuation.Result
	var err error
	switch input.Phase {
	case phaseBegin:
		result, err = h.begin(opCtx, p)
	case phasePoll:
		result, err = h.poll(opCtx, p, input)
	default:
		return nil, errors.HandlerInvariantViolationError("unknown create phase %q", input.Phase)
	}
	if err != nil && !errors.IsRetryable(err) {
		return h.fail(opCtx, p.ResourceID, fmt.Sprintf("%s: %v", errors.CodeOf(err), err))
	}
	return result, err
}

// fail gives up on the resource, whatever was deployed is removed by the delete continuation
func (h *createResourceHandler) fail(opCtx *continuation.OperationContext, resourceID, reason string) (*continuation.Result, error) {
	opCtx.Logger.Warningf("create resource %s failed: %s", resourceID, reason)
	if _, err := h.broker.deleteResource(opCtx, resourceID, reason, false); err != nil {
		if !errors.IsCode(err, errors.ResourceNotFound) {
			return nil, err
		}
	}
	return continuation.Failed(reason), nil
}

func (h *createResourceHandler) createRequest(rec *model.ResourceRecord) (*strategy.CreateRequest, error) {
	dims, err := pool.DimensionsFromMap(rec.Dimensions)
	if err != nil {
		return nil, err
	}
	req := &strategy.CreateRequest{
		ResourceID:      rec.ID,
		Type:            rec.Type,
		ComputeOS:       rec.ComputeOS(),
		Handle:          handleOf(rec),
		SkuName:         dims.SkuName,
		StorageSizeInGB: dims.StorageSize(),
		Tags:            map[string]string{"poolCode": rec.PoolCode},
	}
	if dims.ImageFamilyName != "" {
		image, err := h.broker.catalog.Image(dims.ImageFamilyName, dims.ImageName)
		if err != nil {
			return nil, errors.InvalidResourceStateError(rec.ID, err.Error())
		}
		req.Image = image
	}
	if rec.Type == schema.TypeComputeVM {
		req.AdminPassword = adminPassword()
		// a repaired compute inherits the nic and os disk of the vm it replaces
		children, err := storage.Resource.Query(storage.ResourceFilter{ParentID: rec.ID})
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			switch child.Type {
			case schema.TypeNetworkInterface:
				req.NetworkInterfaceID = child.CloudResourceID
			case schema.TypeOSDisk:
				req.OSDiskID = child.CloudResourceID
			}
		}
	}
	return req, nil
}

// mergeComponents appends the retained ids missing from planned, keeping the deletion order of both
func mergeComponents(planned, retained []string) []string {
	merged := append([]string{}, planned...)
	for _, id := range retained {
		found := false
		for _, p := range planned {
			if strings.EqualFold(p, id) {
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, id)
		}
	}
	return merged
}

func (h *createResourceHandler) begin(opCtx *continuation.OperationContext, p createPayload) (*continuation.Result, error) {
	rec, err := storage.Resource.Get(p.ResourceID)
	if err != nil {
		if errors.IsCode(err, errors.ResourceNotFound) {
			return continuation.Cancelled(), nil
		}
		return nil, err
	}
	if rec.DeletedAt != "" || rec.ProvisioningStatus == model.ProvisioningDeleting {
		return continuation.Cancelled(), nil
	}
	if rec.IsReady {
		return continuation.Succeeded(), nil
	}

	if rec.SubscriptionID == "" {
		placement, err := h.broker.capacity.SelectAzureResourceLocation(opCtx, rec.SkuName, rec.Location)
		if err != nil {
			return nil, err
		}
		rec.SubscriptionID = placement.SubscriptionID
		rec.ResourceGroup = placement.ResourceGroup
		rec.Location = placement.Location
		if err := storage.Resource.Update(rec); err != nil {
			return nil, err
		}
		opCtx.Logger.Infof("place resource %s in subscription %s, %s", rec.ID, rec.SubscriptionID, rec.Location)
	}

	req, err := h.createRequest(rec)
	if err != nil {
		return nil, err
	}
	plan, err := h.broker.strategies.BuildPlan(req)
	if err != nil {
		return nil, err
	}
	handle := req.Handle
	if err := h.broker.client.CreateResourceGroupIfNotExists(opCtx, handle.SubscriptionID, handle.ResourceGroup, handle.Location); err != nil {
		return nil, err
	}
	deploymentID, existed, err := h.broker.ensureDeployment(opCtx, handle, plan, rec.Type)
	if err != nil {
		return nil, err
	}
	if existed {
		opCtx.Logger.Infof("deployment %s exists, resume polling", plan.DeploymentName)
	} else {
		opCtx.Logger.Infof("begin deployment %s with strategy %s", plan.DeploymentName, plan.Strategy)
	}

	rec.ResourceName = plan.ResourceName
	rec.CloudResourceID = plan.CloudResourceID
	rec.DeploymentID = deploymentID
	rec.Components = mergeComponents(plan.ComponentIDs(), rec.Components)
	if err := storage.Resource.Update(rec); err != nil {
		return nil, err
	}
	next, err := continuation.NewInput(phasePoll, createPayload{
		ResourceID:   rec.ID,
		DeploymentID: deploymentID,
		Components:   plan.Components,
	})
	if err != nil {
		return nil, err
	}
	return continuation.InProgress(next, h.broker.conf.DeploymentPollInterval), nil
}

func (h *createResourceHandler) poll(opCtx *continuation.OperationContext, p createPayload, input *continuation.Input) (*continuation.Result, error) {
	status, err := h.broker.client.GetDeploymentStatus(opCtx, p.DeploymentID)
	if err != nil {
		if errors.IsCode(err, errors.ResourceNotFound) {
			opCtx.Logger.Warningf("deployment %s vanished, begin again", p.DeploymentID)
			next, err := continuation.NewInput(phaseBegin, createPayload{ResourceID: p.ResourceID})
			if err != nil {
				return nil, err
			}
			return continuation.InProgress(next, 0), nil
		}
		return nil, err
	}
	switch status.State {
	case cloud.DeploymentSucceeded:
		return h.complete(opCtx, p)
	case cloud.DeploymentFailed, cloud.DeploymentCanceled:
		return h.fail(opCtx, p.ResourceID, fmt.Sprintf("deployment %s: %s", status.State, status.Error))
	}
	return continuation.InProgress(input, h.broker.conf.DeploymentPollInterval), nil
}

func (h *createResourceHandler) complete(opCtx *continuation.OperationContext, p createPayload) (*continuation.Result, error) {
	rec, err := storage.Resource.Get(p.ResourceID)
	if err != nil {
		return nil, err
	}
	if rec.DeletedAt != "" || rec.ProvisioningStatus == model.ProvisioningDeleting {
		opCtx.Logger.Infof("resource %s is deleting, drop the finished deployment", rec.ID)
		return continuation.Cancelled(), nil
	}
	for _, c := range p.Components {
		if c.Type != schema.TypeNetworkInterface && c.Type != schema.TypeOSDisk {
			continue
		}
		id := componentRecordID(rec.ID, c.ID)
		if _, err := storage.Resource.Get(id); err == nil {
			continue
		} else if !errors.IsCode(err, errors.ResourceNotFound) {
			return nil, err
		}
		component := &model.ResourceRecord{
			Model:              model.Model{ID: id},
			Type:               c.Type,
			Location:           rec.Location,
			IsAssigned:         true,
			IsReady:            true,
			SubscriptionID:     rec.SubscriptionID,
			ResourceGroup:      rec.ResourceGroup,
			ResourceName:       c.Name,
			CloudResourceID:    c.ID,
			ParentID:           rec.ID,
			ProvisioningStatus: model.ProvisioningSucceeded,
		}
		if err := storage.Resource.Create(component); err != nil && !errors.IsDuplicatedKey(err) {
			return nil, err
		}
	}
	rec.IsReady = true
	rec.ProvisioningStatus = model.ProvisioningSucceeded
	rec.ProvisioningReason = ""
	if err := storage.Resource.Update(rec); err != nil {
		return nil, err
	}
	opCtx.Logger.Infof("resource %s is ready in pool %s", rec.ID, rec.PoolCode)
	return continuation.Succeeded(), nil
}

// deleteResourceHandler removes the cloud resource and soft deletes its records
type deleteResourceHandler struct {
	broker *Broker
}

func (h *deleteResourceHandler) Name() string {
	return schema.HandlerDeleteResource
}

func (h *deleteResourceHandler) RunOperation(opCtx *continuation.OperationContext, input *continuation.Input) (*continuation.Result, error) {
	if input.Phase != phaseBegin {
		return nil, errors.HandlerInvariantViolationError("unknown delete phase %q", input.Phase)
	}
	var p deletePayload
	if err := input.Decode(&p); err != nil {
		return nil, err
	}
	rec, err := storage.Resource.Get(p.ResourceID)
	if err != nil {
		if errors.IsCode(err, errors.ResourceNotFound) {
			return continuation.Succeeded(), nil
		}
		return nil, err
	}
	if rec.DeletedAt != "" {
		return continuation.Succeeded(), nil
	}

	// a deployment still running would recreate what is deleted now
	if rec.DeploymentID != "" {
		status, err := h.broker.client.GetDeploymentStatus(opCtx, rec.DeploymentID)
		switch {
		case err == nil && !status.State.IsTerminal():
			opCtx.Logger.Infof("deployment of resource %s still running, wait", rec.ID)
			return continuation.InProgress(input, h.broker.conf.DeploymentPollInterval), nil
		case err != nil && !errors.IsCode(err, errors.ResourceNotFound):
			return nil, err
		}
	}

	// the vm goes first, a nic or disk cannot be deleted while attached
	ids := make([]string, 0, len(rec.Components)+1)
	if rec.CloudResourceID != "" {
		ids = append(ids, rec.CloudResourceID)
	}
	ids = append(ids, rec.Components...)
	for _, id := range ids {
		if err := h.broker.client.DeleteResource(opCtx, id); err != nil {
			return nil, err
		}
	}

	children, err := storage.Resource.Query(storage.ResourceFilter{ParentID: rec.ID})
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if child.Type != schema.TypeNetworkInterface && child.Type != schema.TypeOSDisk {
			continue
		}
		if err := storage.Resource.SoftDelete(child.ID); err != nil {
			return nil, err
		}
	}
	if err := storage.Resource.SoftDelete(rec.ID); err != nil {
		return nil, err
	}
	opCtx.Logger.Infof("resource %s deleted, reason: %s", rec.ID, p.Reason)
	return continuation.Succeeded(), nil
}
