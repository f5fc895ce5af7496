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

package cloud

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/cloudpool/resourcebroker/pkg/common/errors"
)

// provider error codes that mean the region or subscription ran out of room
var capacityErrorCodes = map[string]bool{
	"SkuNotAvailable":                 true,
	"QuotaExceeded":                   true,
	"OperationNotAllowed":             true,
	"AllocationFailed":                true,
	"ZonalAllocationFailed":           true,
	"OverconstrainedAllocationRequest": true,
}

// classifyError maps a provider failure into the broker taxonomy
func classifyError(err error, defaultRetryAfter time.Duration, op string) error {
	if err == nil {
		return nil
	}
	var be *errors.BrokerError
	if stderrors.As(err, &be) {
		return err
	}
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	var respErr *azcore.ResponseError
	if !stderrors.As(err, &respErr) {
		// transport failures never reached the provider
		return errors.TransientProviderErrorf(defaultRetryAfter, "%s: %v", op, err)
	}
	switch {
	case respErr.StatusCode == http.StatusNotFound:
		return errors.ResourceNotFoundError(op)
	case capacityErrorCodes[respErr.ErrorCode]:
		return errors.CapacityExhaustedError("%s: %s", op, respErr.ErrorCode)
	case respErr.StatusCode == http.StatusTooManyRequests,
		respErr.StatusCode == http.StatusConflict,
		respErr.StatusCode >= http.StatusInternalServerError:
		return errors.TransientProviderErrorf(retryAfterOf(respErr.RawResponse, defaultRetryAfter),
			"%s: status %d, code %s", op, respErr.StatusCode, respErr.ErrorCode)
	}
	return errors.ProviderRequestError("%s: status %d, code %s", op, respErr.StatusCode, respErr.ErrorCode)
}

func retryAfterOf(resp *http.Response, fallback time.Duration) time.Duration {
	if resp == nil {
		return fallback
	}
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return fallback
}
