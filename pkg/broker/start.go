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
	"fmt"
	"time"

	"github.com/cloudpool/resourcebroker/pkg/cloud"
	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/continuation"
	"github.com/cloudpool/resourcebroker/pkg/heartbeat"
	"github.com/cloudpool/resourcebroker/pkg/model"
	"github.com/cloudpool/resourcebroker/pkg/storage"
	"github.com/cloudpool/resourcebroker/pkg/strategy"
)

const (
	phaseAttach    = "attach"
	phaseDeploy    = "deploy"
	phaseHandshake = "handshake"

	ReasonHandshakeTimeout = "HandshakeTimeout"
)

type startPayload struct {
	EnvironmentID     string    `json:"environmentID"`
	ComputeResourceID string    `json:"computeResourceID"`
	StorageResourceID string    `json:"storageResourceID,omitempty"`
	DeploymentID      string    `json:"deploymentID,omitempty"`
	Deadline          time.Time `json:"deadline"`
}

// startComputeHandler attaches storage, runs the start script on the vm and waits for the agent to report
type startComputeHandler struct {
	broker *Broker
}

func (h *startComputeHandler) Name() string {
	return schema.HandlerStartCompute
}

func (h *startComputeHandler) RunOperation(opCtx *continuation.OperationContext, input *continuation.Input) (*continuation.Result, error) {
	var p startPayload
	if err := input.Decode(&p); err != nil {
		return nil, err
	}
	env, err := storage.Environment.Get(p.EnvironmentID)
	if err != nil {
		if errors.IsCode(err, errors.ResourceNotFound) {
			return continuation.Cancelled(), nil
		}
		return nil, err
	}
	if env.State.IsTerminal() || env.OperationID != opCtx.OperationID {
		opCtx.Logger.Infof("environment %s is %s under operation %s, stop", env.ID, env.State, env.OperationID)
		return continuation.Cancelled(), nil
	}

	var result *continuation.Result
	switch input.Phase {
	case phaseAttach:
		result, err = h.attach(opCtx, p)
	case phaseDeploy:
		result, err = h.deploy(opCtx, env, p)
	case phasePoll:
		result, err = h.poll(opCtx, p, input)
	case phaseHandshake:
		result, err = h.handshake(opCtx, env, p, input)
	default:
		return nil, errors.HandlerInvariantViolationError("unknown start phase %q", input.Phase)
	}
	if err != nil && !errors.IsRetryable(err) {
		return h.fail(opCtx, p, fmt.Sprintf("%s: %v", errors.CodeOf(err), err))
	}
	return result, err
}

// fail marks the environment Failed and tears its compute down, a vm that never came up is not reused
func (h *startComputeHandler) fail(opCtx *continuation.OperationContext, p startPayload, reason string) (*continuation.Result, error) {
	opCtx.Logger.Warningf("start environment %s failed: %s", p.EnvironmentID, reason)
	from := []schema.EnvironmentState{schema.EnvironmentProvisioning, schema.EnvironmentStarting}
	if _, err := storage.Environment.TransitState(p.EnvironmentID, from, schema.EnvironmentFailed, reason); err != nil {
		return nil, err
	}
	h.releaseCompute(opCtx, p, reason)
	return continuation.Failed(reason), nil
}

// releaseCompute deletes the compute of a failed start and detaches it from the environment.
// Errors are logged only, the operation fails either way.
func (h *startComputeHandler) releaseCompute(opCtx *continuation.OperationContext, p startPayload, reason string) {
	if p.ComputeResourceID == "" {
		return
	}
	if _, err := h.broker.DeleteResource(opCtx, p.ComputeResourceID, reason); err != nil {
		opCtx.Logger.Errorf("delete compute %s of failed start failed, err: %v", p.ComputeResourceID, err)
		return
	}
	env, err := storage.Environment.Get(p.EnvironmentID)
	if err != nil {
		opCtx.Logger.Errorf("get environment %s failed, err: %v", p.EnvironmentID, err)
		return
	}
	if env.ComputeResourceID != p.ComputeResourceID {
		return
	}
	env.ComputeResourceID = ""
	if err := storage.Environment.Update(env); err != nil {
		opCtx.Logger.Errorf("detach compute %s failed, err: %v", p.ComputeResourceID, err)
	}
}

func (h *startComputeHandler) attach(opCtx *continuation.OperationContext, p startPayload) (*continuation.Result, error) {
	compute, err := storage.Resource.Get(p.ComputeResourceID)
	if err != nil {
		return nil, err
	}
	if compute.DeletedAt != "" || compute.ProvisioningStatus == model.ProvisioningDeleting {
		return nil, errors.InvalidResourceStateError(compute.ID, "is deleted")
	}
	if !compute.InUse {
		compute.InUse = true
		if err := storage.Resource.Update(compute); err != nil {
			return nil, err
		}
	}
	if p.StorageResourceID != "" {
		share, err := storage.Resource.Get(p.StorageResourceID)
		if err != nil {
			return nil, err
		}
		if !share.InUse || share.ParentID != compute.ID {
			share.InUse = true
			share.ParentID = compute.ID
			if err := storage.Resource.Update(share); err != nil {
				return nil, err
			}
		}
	}
	from := []schema.EnvironmentState{schema.EnvironmentCreated, schema.EnvironmentProvisioning}
	if _, err := storage.Environment.TransitState(p.EnvironmentID, from, schema.EnvironmentStarting, ""); err != nil {
		return nil, err
	}
	opCtx.Logger.Infof("attach storage %s to compute %s", p.StorageResourceID, p.ComputeResourceID)
	next, err := continuation.NewInput(phaseDeploy, p)
	if err != nil {
		return nil, err
	}
	return continuation.InProgress(next, 0), nil
}

func (h *startComputeHandler) deploy(opCtx *continuation.OperationContext, env *model.Environment, p startPayload) (*continuation.Result, error) {
	compute, err := storage.Resource.Get(p.ComputeResourceID)
	if err != nil {
		return nil, err
	}
	req := &strategy.StartRequest{
		EnvironmentID: env.ID,
		ComputeOS:     compute.ComputeOS(),
		Handle:        handleOf(compute),
		VMName:        compute.ResourceName,
		Inputs:        env.Inputs,
	}
	if p.StorageResourceID != "" {
		share, err := storage.Resource.Get(p.StorageResourceID)
		if err != nil {
			return nil, err
		}
		req.StorageAccountID = share.CloudResourceID
	}
	plan, err := strategy.BuildStartPlan(req)
	if err != nil {
		return nil, err
	}
	deploymentID, existed, err := h.broker.ensureDeployment(opCtx, req.Handle, plan, schema.TypeComputeVM)
	if err != nil {
		return nil, err
	}
	if !existed {
		opCtx.Logger.Infof("begin start deployment %s", plan.DeploymentName)
	}
	p.DeploymentID = deploymentID
	next, err := continuation.NewInput(phasePoll, p)
	if err != nil {
		return nil, err
	}
	return continuation.InProgress(next, h.broker.conf.DeploymentPollInterval), nil
}

func (h *startComputeHandler) poll(opCtx *continuation.OperationContext, p startPayload, input *continuation.Input) (*continuation.Result, error) {
	status, err := h.broker.client.GetDeploymentStatus(opCtx, p.DeploymentID)
	if err != nil {
		return nil, err
	}
	switch status.State {
	case cloud.DeploymentSucceeded:
		p.Deadline = h.broker.now().Add(h.broker.conf.HandshakeTimeout)
		next, err := continuation.NewInput(phaseHandshake, p)
		if err != nil {
			return nil, err
		}
		return continuation.InProgress(next, 0), nil
	case cloud.DeploymentFailed, cloud.DeploymentCanceled:
		return h.fail(opCtx, p, fmt.Sprintf("start deployment %s: %s", status.State, status.Error))
	}
	return continuation.InProgress(input, h.broker.conf.DeploymentPollInterval), nil
}

func (h *startComputeHandler) handshake(opCtx *continuation.OperationContext, env *model.Environment,
	p startPayload, input *continuation.Input) (*continuation.Result, error) {
	if env.LastHeartbeat == nil {
		if h.broker.now().After(p.Deadline) {
			return h.fail(opCtx, p, fmt.Sprintf("%s: no heartbeat within %s", ReasonHandshakeTimeout, h.broker.conf.HandshakeTimeout))
		}
		return continuation.InProgress(input, h.broker.conf.HandshakePollInterval), nil
	}

	from := []schema.EnvironmentState{schema.EnvironmentProvisioning, schema.EnvironmentStarting}
	if _, err := storage.Environment.TransitState(env.ID, from, schema.EnvironmentAvailable, ""); err != nil {
		return nil, err
	}
	monitorID, err := heartbeat.StartMonitor(opCtx, h.broker.engine, env.ID, opCtx.OperationID)
	if err != nil {
		return nil, err
	}
	if err := storage.Environment.UpdateMonitor(env.ID, monitorID); err != nil {
		return nil, err
	}
	opCtx.Logger.Infof("environment %s is available, monitor %s", env.ID, monitorID)
	return continuation.Succeeded(), nil
}
