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
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	log "github.com/sirupsen/logrus"

	pm "github.com/cloudpool/resourcebroker/pkg/apiserver/middleware"
	"github.com/cloudpool/resourcebroker/pkg/apiserver/router/util"
)

type IRouter interface {
	Name() string
	AddRouter(r chi.Router)
}

// RegisterRouters mounts the internal endpoints under /v1
func RegisterRouters(r *chi.Mux, heartbeats HeartbeatRecorder) {
	r.Use(pm.CheckRequestID)
	r.NotFound(pm.NotFound)
	r.MethodNotAllowed(pm.MethodNotAllowed)
	r.Use(middleware.Recoverer)
	r.Route(util.RouterVersionV1, func(apiV1Router chi.Router) {
		AddRouter(apiV1Router, &HealthRouter{})
		AddRouter(apiV1Router, &VersionRouter{})
		AddRouter(apiV1Router, &HeartbeatRouter{heartbeats: heartbeats})
	})
}

func AddRouter(r chi.Router, router IRouter) {
	log.Infof("Add router[%s]", router.Name())
	router.AddRouter(r)
}
