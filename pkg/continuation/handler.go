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

package continuation

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
)

// OperationContext is handed to every turn, it is cancelled when the operation is
type OperationContext struct {
	context.Context
	OperationID string
	HandlerName string
	TargetID    string
	// Attempt counts the failed attempts of the current turn
	Attempt int
	Turn    int
	Logger  *log.Entry
}

// Handler runs one turn of an operation. A turn must be short and idempotent:
// it is replayed with the same input after a crash or a retryable error.
type Handler interface {
	Name() string
	RunOperation(opCtx *OperationContext, input *Input) (*Result, error)
}

// Registry maps handler names to handlers, it is filled before the engine runs
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	if _, exist := r.handlers[h.Name()]; exist {
		return fmt.Errorf("continuation handler %s is already registered", h.Name())
	}
	r.handlers[h.Name()] = h
	log.Infof("register continuation handler %s", h.Name())
	return nil
}

func (r *Registry) Get(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
