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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpool/resourcebroker/pkg/apiserver/common"
	"github.com/cloudpool/resourcebroker/pkg/apiserver/router/util"
	"github.com/cloudpool/resourcebroker/pkg/common/config"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/heartbeat"
	"github.com/cloudpool/resourcebroker/pkg/model"
	"github.com/cloudpool/resourcebroker/pkg/storage"
)

// NewApiTest creates the router backed by the heartbeat service on a mock db
func NewApiTest(t *testing.T) *chi.Mux {
	storage.InitMockDB()
	svc := heartbeat.NewService(config.HeartbeatConfig{Timeout: time.Minute}, storage.Environment, nil)
	r := chi.NewRouter()
	RegisterRouters(r, svc)
	return r
}

// PerformPostRequest func perform post request for test
func PerformPostRequest(handler http.Handler, path string, v interface{}) *httptest.ResponseRecorder {
	body, _ := json.Marshal(v)
	req, _ := http.NewRequest("POST", path, bytes.NewBuffer(body))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

// PerformGetRequest function performs get request for test
func PerformGetRequest(handler http.Handler, path string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("GET", path, nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestHealth(t *testing.T) {
	r := NewApiTest(t)
	res := PerformGetRequest(r, util.RouterVersionV1+"/health")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.NotEmpty(t, res.Header().Get(common.HeaderKeyRequestID))

	res = PerformGetRequest(r, util.RouterVersionV1+"/version")
	assert.Equal(t, http.StatusOK, res.Code)

	res = PerformGetRequest(r, util.RouterVersionV1+"/unknown")
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestHeartbeat(t *testing.T) {
	observed := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	testCases := []struct {
		name     string
		envID    string
		body     interface{}
		wantCode int
		wantErr  string
	}{
		{
			name:     "with timestamp",
			envID:    "env-1",
			body:     HeartbeatRequest{Timestamp: &observed},
			wantCode: http.StatusOK,
		},
		{
			name:     "receive time",
			envID:    "env-1",
			body:     HeartbeatRequest{},
			wantCode: http.StatusOK,
		},
		{
			name:     "unknown environment",
			envID:    "env-missing",
			body:     HeartbeatRequest{},
			wantCode: http.StatusNotFound,
			wantErr:  "ResourceNotFound",
		},
		{
			name:     "malformed body",
			envID:    "env-1",
			body:     "not an object",
			wantCode: http.StatusBadRequest,
			wantErr:  common.MalformedJSON,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewApiTest(t)
			require.NoError(t, storage.Environment.Create(&model.Environment{
				Model: model.Model{ID: "env-1"},
				State: schema.EnvironmentStarting,
			}))

			res := PerformPostRequest(r, util.RouterVersionV1+"/environments/"+tc.envID+"/heartbeat", tc.body)
			assert.Equal(t, tc.wantCode, res.Code)
			if tc.wantErr != "" {
				var errResp common.ErrorResponse
				require.NoError(t, json.Unmarshal(res.Body.Bytes(), &errResp))
				assert.Equal(t, tc.wantErr, errResp.ErrorCode)
				return
			}
			env, err := storage.Environment.Get("env-1")
			require.NoError(t, err)
			require.NotNil(t, env.LastHeartbeat)
		})
	}
}
