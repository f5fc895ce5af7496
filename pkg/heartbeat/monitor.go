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

package heartbeat

import (
	"context"
	"fmt"

	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/continuation"
)

const (
	PhaseCheck   = "check"
	PhaseSuspend = "suspend"

	ReasonHeartbeatTimeout = "HeartbeatTimeout"
)

type monitorPayload struct {
	EnvironmentID string `json:"environmentID"`
	Cycle         int    `json:"cycle"`
}

// MonitorOperationID is the monitor of the start operation that made the environment available
func MonitorOperationID(startOperationID string) string {
	return "monitor-" + startOperationID
}

// StartMonitor submits the heartbeat monitor of an environment, submitting twice is a no-op
func StartMonitor(ctx context.Context, engine *continuation.Engine, envID, startOperationID string) (string, error) {
	input, err := continuation.NewInput(PhaseCheck, monitorPayload{EnvironmentID: envID})
	if err != nil {
		return "", err
	}
	return engine.SubmitWithID(ctx, MonitorOperationID(startOperationID), schema.HandlerHeartbeatMonitor, envID, input)
}

// Monitor re-arms every heartbeat window while the environment is alive
type Monitor struct {
	svc *Service
}

func NewMonitor(svc *Service) *Monitor {
	return &Monitor{svc: svc}
}

func (m *Monitor) Name() string {
	return schema.HandlerHeartbeatMonitor
}

func (m *Monitor) RunOperation(opCtx *continuation.OperationContext, input *continuation.Input) (*continuation.Result, error) {
	var p monitorPayload
	if err := input.Decode(&p); err != nil {
		return nil, err
	}
	if input.Phase == PhaseSuspend {
		reason := fmt.Sprintf("%s: no heartbeat within %s", ReasonHeartbeatTimeout, m.svc.conf.Window())
		m.svc.ForceSuspend(opCtx, p.EnvironmentID, reason)
		return continuation.Failed(reason), nil
	}
	if input.Phase != PhaseCheck {
		return nil, errors.HandlerInvariantViolationError("unknown heartbeat monitor phase %q", input.Phase)
	}

	env, err := m.svc.environments.Get(p.EnvironmentID)
	if err != nil {
		if errors.IsCode(err, errors.ResourceNotFound) {
			return continuation.Cancelled(), nil
		}
		return nil, err
	}
	if env.State.IsTerminal() {
		opCtx.Logger.Infof("environment %s is %s, stop monitoring", env.ID, env.State)
		return continuation.Cancelled(), nil
	}

	window := m.svc.conf.Window()
	if env.State.IsActive() {
		latest, ok := m.svc.LatestHeartbeat(env)
		if !ok || m.svc.now().Sub(latest) > window {
			opCtx.Logger.Warningf("environment %s missed its heartbeat, last %s", env.ID, latest)
			next, err := continuation.NewInput(PhaseSuspend, p)
			if err != nil {
				return nil, err
			}
			return continuation.InProgress(next, 0), nil
		}
	}
	p.Cycle++
	next, err := continuation.NewInput(PhaseCheck, p)
	if err != nil {
		return nil, err
	}
	return continuation.InProgress(next, window), nil
}
