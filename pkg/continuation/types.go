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
	"encoding/json"
	"time"

	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
)

// Input is the persisted argument of the next turn of an operation.
// Phase selects the sub-phase of the handler and Payload is its typed body.
type Input struct {
	Token   string          `json:"token,omitempty"`
	Phase   string          `json:"phase"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewInput(phase string, payload interface{}) (*Input, error) {
	input := &Input{Phase: phase}
	if payload == nil {
		return input, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	input.Payload = data
	return input, nil
}

// Decode unmarshals the payload into v, an empty payload leaves v untouched
func (in *Input) Decode(v interface{}) error {
	if len(in.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(in.Payload, v); err != nil {
		return errors.HandlerInvariantViolationError("decode payload of phase %s: %v", in.Phase, err)
	}
	return nil
}

func (in *Input) WithToken(token string) *Input {
	out := *in
	out.Token = token
	return &out
}

func (in *Input) encode() (string, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeInput(raw string) (*Input, error) {
	input := &Input{}
	if raw == "" {
		return input, nil
	}
	if err := json.Unmarshal([]byte(raw), input); err != nil {
		return nil, errors.HandlerInvariantViolationError("decode operation input: %v", err)
	}
	return input, nil
}

// Result is what a handler turn returns
type Result struct {
	Status      schema.OperationStatus
	RetryAfter  time.Duration
	NextInput   *Input
	ErrorReason string
}

// InProgress schedules the next turn with next as its input after the given delay
func InProgress(next *Input, after time.Duration) *Result {
	return &Result{Status: schema.StatusOperationInProgress, NextInput: next, RetryAfter: after}
}

func Succeeded() *Result {
	return &Result{Status: schema.StatusOperationSucceeded}
}

func Failed(reason string) *Result {
	return &Result{Status: schema.StatusOperationFailed, ErrorReason: reason}
}

func Cancelled() *Result {
	return &Result{Status: schema.StatusOperationCancelled}
}

// Validate checks the result shape, an InProgress result must carry the next input and a terminal one must not
func (r *Result) Validate() error {
	if r == nil {
		return errors.HandlerInvariantViolationError("handler returned no result")
	}
	switch {
	case r.Status == schema.StatusOperationInProgress:
		if r.NextInput == nil {
			return errors.HandlerInvariantViolationError("in progress result without next input")
		}
		if r.RetryAfter < 0 {
			return errors.HandlerInvariantViolationError("negative retry after %s", r.RetryAfter)
		}
	case r.Status.IsTerminal():
		if r.NextInput != nil {
			return errors.HandlerInvariantViolationError("terminal result %s with next input", r.Status)
		}
	default:
		return errors.HandlerInvariantViolationError("invalid result status %q", r.Status)
	}
	return nil
}
