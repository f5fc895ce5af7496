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

package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"

	"github.com/cloudpool/resourcebroker/pkg/apiserver/common"
	"github.com/cloudpool/resourcebroker/pkg/apiserver/router/util"
	"github.com/cloudpool/resourcebroker/pkg/common/logger"
)

// HeartbeatRecorder stores the liveness signal an environment agent reports
type HeartbeatRecorder interface {
	RecordHeartbeat(ctx context.Context, envID string, ts time.Time) error
}

type HeartbeatRequest struct {
	// Timestamp is when the agent observed itself alive, the receive time when empty
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type HeartbeatRouter struct {
	heartbeats HeartbeatRecorder
}

func (hr *HeartbeatRouter) Name() string {
	return "Heartbeat"
}

func (hr *HeartbeatRouter) AddRouter(r chi.Router) {
	log.Info("add heartbeat router")
	r.Post("/environments/{"+util.ParamKeyEnvironmentID+"}/heartbeat", hr.record)
}

// record
// @Summary report the liveness of an environment
// @Router /environments/{environmentID}/heartbeat [POST]
func (hr *HeartbeatRouter) record(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(common.HeaderKeyRequestID)
	envID := chi.URLParam(r, util.ParamKeyEnvironmentID)
	entry := logger.LoggerForEnvironment(envID)

	var request HeartbeatRequest
	if err := common.BindJSON(r, &request); err != nil {
		entry.Errorf("heartbeat bindjson failed. err:%s", err.Error())
		common.RenderErr(w, requestID, common.MalformedJSON)
		return
	}
	var ts time.Time
	if request.Timestamp != nil {
		ts = *request.Timestamp
	}
	if err := hr.heartbeats.RecordHeartbeat(r.Context(), envID, ts); err != nil {
		entry.Errorf("record heartbeat failed. err:%v", err)
		common.RenderError(w, requestID, err)
		return
	}
	common.RenderStatus(w, http.StatusOK)
}
