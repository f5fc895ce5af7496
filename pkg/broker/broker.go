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
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/cloudpool/resourcebroker/pkg/capacity"
	"github.com/cloudpool/resourcebroker/pkg/cloud"
	"github.com/cloudpool/resourcebroker/pkg/common/config"
	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/logger"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/continuation"
	"github.com/cloudpool/resourcebroker/pkg/model"
	"github.com/cloudpool/resourcebroker/pkg/pool"
	"github.com/cloudpool/resourcebroker/pkg/storage"
	"github.com/cloudpool/resourcebroker/pkg/strategy"
)

const (
	ReasonReleasedInUse   = "released after hosting a workload"
	ReasonPoolVanished    = "pool no longer exists"
	ReasonPoolAtTarget    = "pool at target"
	ReasonOnDemandTimeout = "on-demand creation timed out"
)

func CreateOperationID(resourceID string) string {
	return "create-" + resourceID
}

func DeleteOperationID(resourceID string) string {
	return "delete-" + resourceID
}

type AllocateRequest struct {
	// PoolCode selects the pool directly, otherwise SkuName and Location resolve it
	PoolCode string
	SkuName  string
	Location string
	Type     schema.ResourceType
}

type StartComputeRequest struct {
	EnvironmentID     string
	ComputeResourceID string
	StorageResourceID string
	Inputs            map[string]string
}

// Broker hands out pooled resources, falls back to on-demand creation and owns
// the create, delete and start continuations
type Broker struct {
	conf       config.BrokerConfig
	catalog    *config.Catalog
	capacity   *capacity.Manager
	engine     *continuation.Engine
	client     cloud.CloudResourceClient
	strategies *strategy.Registry
	now        func() time.Time
}

func New(conf config.BrokerConfig, catalog *config.Catalog, capacityManager *capacity.Manager,
	engine *continuation.Engine, client cloud.CloudResourceClient, strategies *strategy.Registry) *Broker {
	return &Broker{
		conf:       conf,
		catalog:    catalog,
		capacity:   capacityManager,
		engine:     engine,
		client:     client,
		strategies: strategies,
		now:        model.Now,
	}
}

// Handlers are the continuation handlers the engine must know before it runs
func (b *Broker) Handlers() []continuation.Handler {
	return []continuation.Handler{
		&createResourceHandler{broker: b},
		&deleteResourceHandler{broker: b},
		&startComputeHandler{broker: b},
		&repairComputeHandler{broker: b},
	}
}

func (b *Broker) resolvePool(req AllocateRequest) (*model.ResourcePool, string, error) {
	if req.PoolCode != "" {
		rp, err := storage.ResourcePool.Get(req.PoolCode)
		if err != nil {
			if errors.IsRecordNotFound(err) {
				return nil, "", errors.ResourceNotFoundError("pool " + req.PoolCode)
			}
			return nil, "", err
		}
		if len(rp.LogicalSkus) == 0 {
			return nil, "", errors.InvalidResourceStateError(rp.Code, "pool has no logical sku")
		}
		return rp, rp.LogicalSkus[0], nil
	}
	resourceType := req.Type
	if resourceType == "" {
		resourceType = schema.TypeComputeVM
	}
	def, err := pool.ResolveDefinition(b.catalog, req.SkuName, req.Location, resourceType)
	if err != nil {
		return nil, "", err
	}
	pools, err := pool.ToResourcePools([]pool.PoolDefinition{*def})
	if err != nil {
		return nil, "", err
	}
	return &pools[0], req.SkuName, nil
}

// Allocate claims a ready member of the pool, or creates one on demand when the pool is empty
func (b *Broker) Allocate(ctx context.Context, req AllocateRequest) (*model.ResourceRecord, error) {
	rp, skuName, err := b.resolvePool(req)
	if err != nil {
		log.Errorf("resolve pool of %+v failed, err: %v", req, err)
		return nil, err
	}
	entry := logger.LoggerForPool(rp.Code)
	rec, err := storage.Resource.ClaimReady(rp.Code, b.conf.ClaimAttempts)
	if err != nil {
		entry.Errorf("claim ready resource failed, err: %v", err)
		return nil, err
	}
	if rec != nil {
		entry.Infof("allocate pooled resource %s", rec.ID)
		return rec, nil
	}
	entry.Infof("no ready resource in pool, create one on demand")
	return b.allocateOnDemand(ctx, rp, skuName, entry)
}

func (b *Broker) allocateOnDemand(ctx context.Context, rp *model.ResourcePool, skuName string, entry *log.Entry) (*model.ResourceRecord, error) {
	placement, err := b.capacity.SelectAzureResourceLocation(ctx, skuName, rp.Location)
	if err != nil {
		entry.Warningf("no capacity for sku %s, err: %v", skuName, err)
		return nil, err
	}
	now := b.now()
	rec := &model.ResourceRecord{
		Type:            rp.Type,
		PoolCode:        rp.Code,
		PoolVersionCode: rp.VersionCode,
		Dimensions:      rp.Dimensions,
		Location:        placement.Location,
		SkuName:         skuName,
		IsAssigned:      true,
		AssignedAt:      &now,
		SubscriptionID:  placement.SubscriptionID,
		ResourceGroup:   placement.ResourceGroup,
	}
	if err := storage.Resource.Create(rec); err != nil {
		entry.Errorf("create resource record failed, err: %v", err)
		return nil, err
	}
	opID, err := b.submitCreate(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.conf.OnDemandTimeout)
	defer cancel()
	op, err := b.engine.Await(waitCtx, opID, 0)
	if err != nil {
		if waitCtx.Err() == nil {
			return nil, err
		}
		entry.Warningf("on-demand resource %s not ready within %s, abandon it", rec.ID, b.conf.OnDemandTimeout)
		if _, delErr := b.deleteResource(context.Background(), rec.ID, ReasonOnDemandTimeout, true); delErr != nil {
			entry.Errorf("abandon resource %s failed, err: %v", rec.ID, delErr)
		}
		return nil, errors.TransientProviderErrorf(0, "resource %s was not created within %s", rec.ID, b.conf.OnDemandTimeout)
	}
	if op.Status == schema.StatusOperationCancelled {
		return nil, errors.OperationCancelledError(opID)
	}
	if op.Status != schema.StatusOperationSucceeded {
		return nil, errors.ProviderRequestError("create resource %s %s: %s", rec.ID, op.Status, op.ErrorReason)
	}
	entry.Infof("allocate on-demand resource %s", rec.ID)
	return storage.Resource.Get(rec.ID)
}

func (b *Broker) submitCreate(ctx context.Context, resourceID string) (string, error) {
	input, err := continuation.NewInput(phaseBegin, createPayload{ResourceID: resourceID})
	if err != nil {
		return "", err
	}
	return b.engine.SubmitWithID(ctx, CreateOperationID(resourceID), schema.HandlerCreateResource, resourceID, input)
}

// Release gives an assigned resource back. It returns to inventory unless it hosted a workload
// or its pool no longer needs it, then it is deleted.
func (b *Broker) Release(ctx context.Context, resourceID, reason string) error {
	entry := logger.LoggerForResource(resourceID)
	rec, err := storage.Resource.Get(resourceID)
	if err != nil {
		return err
	}
	if rec.DeletedAt != "" || rec.ProvisioningStatus == model.ProvisioningDeleting {
		return errors.InvalidResourceStateError(resourceID, "is deleted")
	}
	if !rec.IsAssigned {
		return errors.InvalidResourceStateError(resourceID, "is not assigned")
	}

	deleteReason, err := b.releaseDecision(rec)
	if err != nil {
		return err
	}
	if deleteReason != "" {
		entry.Infof("release resource, reason: %s, delete it: %s", reason, deleteReason)
		if err := storage.Resource.UpdateFields(resourceID, map[string]interface{}{
			"is_assigned": false,
			"assigned_at": nil,
		}); err != nil {
			return err
		}
		_, err = b.DeleteResource(ctx, resourceID, deleteReason)
		return err
	}
	returned, err := storage.Resource.ReturnToPool(resourceID)
	if err != nil {
		return err
	}
	if !returned {
		return errors.InvalidResourceStateError(resourceID, "changed while being released")
	}
	entry.Infof("resource returned to pool %s, reason: %s", rec.PoolCode, reason)
	return nil
}

// releaseDecision returns why a released record must be deleted, empty when it goes back to its pool
func (b *Broker) releaseDecision(rec *model.ResourceRecord) (string, error) {
	if rec.InUse {
		return ReasonReleasedInUse, nil
	}
	if !rec.IsReady {
		return "released before it was ready", nil
	}
	if rec.PoolCode == "" {
		return ReasonPoolVanished, nil
	}
	rp, err := storage.ResourcePool.Get(rec.PoolCode)
	if err != nil {
		if errors.IsRecordNotFound(err) {
			return ReasonPoolVanished, nil
		}
		return "", err
	}
	count, err := storage.Resource.CountByPool(rec.PoolCode)
	if err != nil {
		return "", err
	}
	if count.Live() >= int64(rp.EffectiveTarget()) {
		return ReasonPoolAtTarget, nil
	}
	return "", nil
}

// DeleteResource marks the record deleting and submits its delete continuation
func (b *Broker) DeleteResource(ctx context.Context, resourceID, reason string) (string, error) {
	return b.deleteResource(ctx, resourceID, reason, true)
}

func (b *Broker) deleteResource(ctx context.Context, resourceID, reason string, cancelCreate bool) (string, error) {
	entry := logger.LoggerForResource(resourceID)
	rec, err := storage.Resource.Get(resourceID)
	if err != nil {
		return "", err
	}
	if rec.DeletedAt != "" {
		entry.Infof("resource already deleted")
		return "", nil
	}
	marked, err := storage.Resource.MarkDeleting(resourceID, reason)
	if err != nil {
		entry.Errorf("mark resource deleting failed, err: %v", err)
		return "", err
	}
	if !marked {
		entry.Infof("resource is already deleting")
	}
	if cancelCreate {
		if err := b.engine.Cancel(ctx, CreateOperationID(resourceID)); err != nil &&
			!errors.IsCode(err, errors.OperationNotFound) && !errors.IsCode(err, errors.InvalidResourceState) {
			entry.Warningf("cancel create of resource failed, err: %v", err)
		}
	}
	input, err := continuation.NewInput(phaseBegin, deletePayload{ResourceID: resourceID, Reason: reason})
	if err != nil {
		return "", err
	}
	return b.engine.SubmitWithID(ctx, DeleteOperationID(resourceID), schema.HandlerDeleteResource, resourceID, input)
}

// assigned returns the record if a caller may bind it to an environment
func (b *Broker) assigned(resourceID string, resourceType schema.ResourceType) (*model.ResourceRecord, error) {
	rec, err := storage.Resource.Get(resourceID)
	if err != nil {
		return nil, err
	}
	switch {
	case rec.DeletedAt != "" || rec.ProvisioningStatus == model.ProvisioningDeleting:
		return nil, errors.InvalidResourceStateError(resourceID, "is deleted")
	case rec.Type != resourceType:
		return nil, errors.InvalidResourceStateError(resourceID, fmt.Sprintf("is a %s, not a %s", rec.Type, resourceType))
	case !rec.IsAssigned:
		return nil, errors.InvalidResourceStateError(resourceID, "is not assigned")
	case !rec.IsReady:
		return nil, errors.InvalidResourceStateError(resourceID, "is not ready")
	}
	return rec, nil
}

// StartCompute binds compute and storage to an environment and starts its workload,
// it returns the id of the start continuation
func (b *Broker) StartCompute(ctx context.Context, req StartComputeRequest) (string, error) {
	if req.EnvironmentID == "" || req.ComputeResourceID == "" {
		return "", errors.InvalidResourceStateError(req.EnvironmentID, "start requires an environment and a compute resource")
	}
	entry := logger.LoggerForEnvironment(req.EnvironmentID)
	if _, err := b.assigned(req.ComputeResourceID, schema.TypeComputeVM); err != nil {
		return "", err
	}
	if req.StorageResourceID != "" {
		if _, err := b.assigned(req.StorageResourceID, schema.TypeStorageFileShare); err != nil {
			return "", err
		}
	}

	opID := uuid.NewString()
	env, err := storage.Environment.Get(req.EnvironmentID)
	switch {
	case errors.IsCode(err, errors.ResourceNotFound):
		env = &model.Environment{
			Model:             model.Model{ID: req.EnvironmentID},
			State:             schema.EnvironmentProvisioning,
			ComputeResourceID: req.ComputeResourceID,
			StorageResourceID: req.StorageResourceID,
			Inputs:            model.Map(req.Inputs),
			OperationID:       opID,
		}
		if err := storage.Environment.Create(env); err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		if env.State == schema.EnvironmentStarting || env.State.IsActive() {
			return "", errors.InvalidResourceStateError(env.ID, fmt.Sprintf("environment is already %s", env.State))
		}
		env.State = schema.EnvironmentProvisioning
		env.ComputeResourceID = req.ComputeResourceID
		env.StorageResourceID = req.StorageResourceID
		env.Inputs = model.Map(req.Inputs)
		env.OperationID = opID
		env.MonitorOperationID = ""
		env.LastHeartbeat = nil
		env.Reason = ""
		if err := storage.Environment.Update(env); err != nil {
			return "", err
		}
	}

	input, err := continuation.NewInput(phaseAttach, startPayload{
		EnvironmentID:     env.ID,
		ComputeResourceID: req.ComputeResourceID,
		StorageResourceID: req.StorageResourceID,
	})
	if err != nil {
		return "", err
	}
	if _, err := b.engine.SubmitWithID(ctx, opID, schema.HandlerStartCompute, env.ID, input); err != nil {
		entry.Errorf("submit start compute failed, err: %v", err)
		return "", err
	}
	entry.Infof("start compute %s with storage %s, operation %s", req.ComputeResourceID, req.StorageResourceID, opID)
	return opID, nil
}

func (b *Broker) GetUsage(ctx context.Context, subscriptionID, location string, serviceType schema.ServiceType) ([]model.CapacityRecord, error) {
	return b.capacity.GetUsage(ctx, subscriptionID, location, serviceType)
}
