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

package common

import (
	"net/http"

	"github.com/cloudpool/resourcebroker/pkg/common/errors"
)

const (
	InternalError    = "InternalError"
	MalformedJSON    = "MalformedJSON"
	PathNotFound     = "PathNotFound"
	MethodNotAllowed = "MethodNotAllowed"
)

var errorHTTPStatus = map[string]int{
	InternalError:    http.StatusInternalServerError,
	MalformedJSON:    http.StatusBadRequest,
	PathNotFound:     http.StatusNotFound,
	MethodNotAllowed: http.StatusMethodNotAllowed,

	errors.ResourceNotFound:          http.StatusNotFound,
	errors.OperationNotFound:         http.StatusNotFound,
	errors.InvalidResourceState:      http.StatusConflict,
	errors.StaleConcurrencyConflict:  http.StatusConflict,
	errors.CapacityExhausted:         http.StatusServiceUnavailable,
	errors.SkuNotAvailable:           http.StatusServiceUnavailable,
	errors.LocationNotAvailable:      http.StatusBadRequest,
	errors.TransientProviderError:    http.StatusServiceUnavailable,
	errors.HandlerInvariantViolation: http.StatusInternalServerError,
}

var errorMessage = map[string]string{
	InternalError:    "internal error",
	MalformedJSON:    "the request body is not valid json",
	PathNotFound:     "the request path is not found",
	MethodNotAllowed: "the request method is not allowed",
}

func GetHttpStatusByCode(code string) int {
	if status, ok := errorHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func GetMessageByCode(code string) string {
	return errorMessage[code]
}

type ErrorResponse struct {
	RequestID    string `json:"requestID"`
	ErrorCode    string `json:"code"`
	ErrorMessage string `json:"message"`
}
