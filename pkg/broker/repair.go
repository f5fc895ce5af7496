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

	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/logger"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/continuation"
	"github.com/cloudpool/resourcebroker/pkg/model"
	"github.com/cloudpool/resourcebroker/pkg/storage"
	"github.com/cloudpool/resourcebroker/pkg/strategy"
)

const (
	phaseDetach = "detach"
	phaseAwait  = "await"
)

func RepairOperationID(resourceID string) string {
	return "repair-" + resourceID
}

// ReplacementID is the record a repaired compute is rebuilt as
func ReplacementID(resourceID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("repair|"+resourceID)).String()
}

type RepairRequest struct {
	ResourceID string
	Reason     string
	// Reimage boots the replacement from the pool image on a new os disk, otherwise the disk is kept
	Reimage bool
}

type repairPayload struct {
	ResourceID    string `json:"resourceID"`
	ReplacementID string `json:"replacementID"`
	Reason        string `json:"reason,omitempty"`
	Reimage       bool   `json:"reimage,omitempty"`
}

// RepairCompute rebuilds the vm of an assigned compute on its network interface and, unless
// reimaged, its os disk. The replacement record stays assigned to the same caller.
func (b *Broker) RepairCompute(ctx context.Context, req RepairRequest) (string, error) {
	entry := logger.LoggerForResource(req.ResourceID)
	rec, err := b.assigned(req.ResourceID, schema.TypeComputeVM)
	if err != nil {
		return "", err
	}
	if rec.InUse {
		return "", errors.InvalidResourceStateError(rec.ID, "hosted a workload, delete it instead")
	}
	input, err := continuation.NewInput(phaseDetach, repairPayload{
		ResourceID:    rec.ID,
		ReplacementID: ReplacementID(rec.ID),
		Reason:        req.Reason,
		Reimage:       req.Reimage,
	})
	if err != nil {
		return "", err
	}
	opID, err := b.engine.SubmitWithID(ctx, RepairOperationID(rec.ID), schema.HandlerRepairCompute, rec.ID, input)
	if err != nil {
		entry.Errorf("submit repair failed, err: %v", err)
		return "", err
	}
	entry.Infof("repair compute as %s, reimage: %t, reason: %s", ReplacementID(rec.ID), req.Reimage, req.Reason)
	return opID, nil
}

// repairComputeHandler deletes the vm of a compute, moves its retained components to a replacement
// record and waits for the create continuation of the replacement
type repairComputeHandler struct {
	broker *Broker
}

func (h *repairComputeHandler) Name() string {
	return schema.HandlerRepairCompute
}

func (h *repairComputeHandler) RunOperation(opCtx *continuation.OperationContext, input *continuation.Input) (*continuation.Result, error) {
	var p repairPayload
	if err := input.Decode(&p); err != nil {
		return nil, err
	}
	var result *continuation.Result
	var err error
	switch input.Phase {
	case phaseDetach:
		result, err = h.detach(opCtx, p)
	case phaseAwait:
		result, err = h.await(opCtx, p, input)
	default:
		return nil, errors.HandlerInvariantViolationError("unknown repair phase %q", input.Phase)
	}
	if err != nil && !errors.IsRetryable(err) {
		reason := fmt.Sprintf("%s: %v", errors.CodeOf(err), err)
		opCtx.Logger.Warningf("repair compute %s failed: %s", p.ResourceID, reason)
		return continuation.Failed(reason), nil
	}
	return result, err
}

func isOSDisk(cloudResourceID string) bool {
	return strings.Contains(strings.ToLower(cloudResourceID), "/providers/"+strings.ToLower(strategy.ProviderDisk)+"/")
}

func (h *repairComputeHandler) detach(opCtx *continuation.OperationContext, p repairPayload) (*continuation.Result, error) {
	old, err := storage.Resource.Get(p.ResourceID)
	if err != nil {
		if errors.IsCode(err, errors.ResourceNotFound) {
			return continuation.Cancelled(), nil
		}
		return nil, err
	}
	_, err = storage.Resource.Get(p.ReplacementID)
	replaced := err == nil
	if err != nil && !errors.IsCode(err, errors.ResourceNotFound) {
		return nil, err
	}
	if !replaced && (old.DeletedAt != "" || old.ProvisioningStatus == model.ProvisioningDeleting) {
		opCtx.Logger.Infof("compute %s is deleting, nothing to repair", old.ID)
		return continuation.Cancelled(), nil
	}

	// the vm goes first, its nic and disk are attached until it is gone
	if old.CloudResourceID != "" {
		if err := h.broker.client.DeleteResource(opCtx, old.CloudResourceID); err != nil {
			return nil, err
		}
	}
	retained := make([]string, 0, len(old.Components))
	for _, id := range old.Components {
		if p.Reimage && isOSDisk(id) {
			if err := h.broker.client.DeleteResource(opCtx, id); err != nil {
				return nil, err
			}
			continue
		}
		retained = append(retained, id)
	}

	if !replaced {
		replacement := &model.ResourceRecord{
			Model:           model.Model{ID: p.ReplacementID},
			Type:            old.Type,
			PoolCode:        old.PoolCode,
			PoolVersionCode: old.PoolVersionCode,
			Dimensions:      old.Dimensions,
			Location:        old.Location,
			SkuName:         old.SkuName,
			IsAssigned:      true,
			AssignedAt:      old.AssignedAt,
			SubscriptionID:  old.SubscriptionID,
			ResourceGroup:   old.ResourceGroup,
			Components:      retained,
		}
		if err := storage.Resource.Create(replacement); err != nil && !errors.IsDuplicatedKey(err) {
			return nil, err
		}
	}

	children, err := storage.Resource.Query(storage.ResourceFilter{ParentID: old.ID})
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		switch {
		case child.Type == schema.TypeOSDisk && p.Reimage:
			err = storage.Resource.SoftDelete(child.ID)
		case child.Type == schema.TypeOSDisk || child.Type == schema.TypeNetworkInterface:
			err = storage.Resource.UpdateFields(child.ID, map[string]interface{}{"parent_id": p.ReplacementID})
		}
		if err != nil {
			return nil, err
		}
	}
	if err := storage.Resource.SoftDelete(old.ID); err != nil {
		return nil, err
	}

	if _, err := h.broker.submitCreate(opCtx, p.ReplacementID); err != nil {
		return nil, err
	}
	opCtx.Logger.Infof("compute %s detached, %d components move to %s", old.ID, len(retained), p.ReplacementID)
	next, err := continuation.NewInput(phaseAwait, p)
	if err != nil {
		return nil, err
	}
	return continuation.InProgress(next, 0), nil
}

func (h *repairComputeHandler) await(opCtx *continuation.OperationContext, p repairPayload, input *continuation.Input) (*continuation.Result, error) {
	op, err := h.broker.engine.Get(opCtx, CreateOperationID(p.ReplacementID))
	if err != nil {
		return nil, err
	}
	switch op.Status {
	case schema.StatusOperationSucceeded:
		opCtx.Logger.Infof("compute %s repaired as %s", p.ResourceID, p.ReplacementID)
		return continuation.Succeeded(), nil
	case schema.StatusOperationFailed, schema.StatusOperationCancelled:
		return continuation.Failed(fmt.Sprintf("replacement %s %s: %s", p.ReplacementID, op.Status, op.ErrorReason)), nil
	}
	return continuation.InProgress(input, h.broker.conf.DeploymentPollInterval), nil
}
