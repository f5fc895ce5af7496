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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
)

func TestResult_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		result  *Result
		wantErr bool
	}{
		{name: "in progress", result: InProgress(&Input{Phase: "poll"}, 0)},
		{name: "succeeded", result: Succeeded()},
		{name: "failed", result: Failed("AllocationFailed")},
		{name: "cancelled", result: Cancelled()},
		{name: "nil result", result: nil, wantErr: true},
		{name: "in progress without input", result: InProgress(nil, 0), wantErr: true},
		{name: "negative delay", result: InProgress(&Input{}, -1), wantErr: true},
		{name: "created is not a result", result: &Result{Status: schema.StatusOperationCreated}, wantErr: true},
		{name: "failed with next input", result: &Result{Status: schema.StatusOperationFailed, NextInput: &Input{}}, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.result.Validate()
			if tc.wantErr {
				assert.Equal(t, errors.HandlerInvariantViolation, errors.CodeOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInput(t *testing.T) {
	type payload struct {
		ResourceID string `json:"resourceID"`
		Attempt    int    `json:"attempt"`
	}
	input, err := NewInput("poll", payload{ResourceID: "res-1", Attempt: 2})
	require.NoError(t, err)
	input = input.WithToken("token-1")

	raw, err := input.encode()
	require.NoError(t, err)
	decoded, err := decodeInput(raw)
	require.NoError(t, err)
	assert.Equal(t, "poll", decoded.Phase)
	assert.Equal(t, "token-1", decoded.Token)

	var p payload
	require.NoError(t, decoded.Decode(&p))
	assert.Equal(t, "res-1", p.ResourceID)
	assert.Equal(t, 2, p.Attempt)

	_, err = decodeInput("{not json")
	assert.Equal(t, errors.HandlerInvariantViolation, errors.CodeOf(err))
	bad := &Input{Phase: "poll", Payload: []byte(`"a string"`)}
	assert.Error(t, bad.Decode(&p))
}
