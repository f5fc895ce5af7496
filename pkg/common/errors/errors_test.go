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

package errors

import (
	"fmt"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassification(t *testing.T) {
	testCases := []struct {
		name            string
		err             error
		code            string
		retryable       bool
		capacityExhaust bool
	}{
		{
			name:      "transient provider error",
			err:       TransientProviderErrorf(time.Second, "throttled"),
			code:      TransientProviderError,
			retryable: true,
		},
		{
			name:      "wrapped stale conflict",
			err:       pkgerrors.Wrap(StaleConcurrencyConflictError("continuation", "op-1", 3), "persist result"),
			code:      StaleConcurrencyConflict,
			retryable: true,
		},
		{
			name:            "sku not available is capacity exhausted",
			err:             SkuNotAvailableError("Standard_D2s_v3", "westus"),
			code:            SkuNotAvailable,
			capacityExhaust: true,
		},
		{
			name: "location not available",
			err:  LocationNotAvailableError("Standard_D2s_v3", "mars"),
			code: LocationNotAvailable,
		},
		{
			name: "invariant violation is fatal",
			err:  HandlerInvariantViolationError("no strategy accepted %s", "input"),
			code: HandlerInvariantViolation,
		},
		{
			name: "provider rejection is terminal",
			err:  ProviderRequestError("deployment template invalid"),
			code: ProviderError,
		},
		{
			name:      "foreign error",
			err:       fmt.Errorf("connection reset"),
			code:      ErrorUnknown,
			retryable: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, CodeOf(tc.err))
			assert.Equal(t, tc.retryable, IsRetryable(tc.err))
			assert.Equal(t, tc.capacityExhaust, IsCapacityExhausted(tc.err))
		})
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := pkgerrors.Wrap(TransientProviderErrorf(7*time.Second, "429"), "get quota")
	assert.Equal(t, 7*time.Second, RetryAfterOf(err))
	assert.Equal(t, time.Duration(0), RetryAfterOf(fmt.Errorf("x")))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrorRecordNotFound, GetErrorCode(gorm.ErrRecordNotFound))
	assert.True(t, IsRecordNotFound(pkgerrors.Wrap(gorm.ErrRecordNotFound, "get resource")))
	assert.True(t, IsDuplicatedKey(fmt.Errorf("UNIQUE constraint failed: capacity.subscription_id")))
	assert.Equal(t, ErrorUnknown, GetErrorCode(fmt.Errorf("boom")))
}
