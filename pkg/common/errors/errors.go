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
	"errors"
	"fmt"
	"time"
)

const (
	CapacityExhausted         = "CapacityExhausted"
	SkuNotAvailable           = "SkuNotAvailable"
	LocationNotAvailable      = "LocationNotAvailable"
	TransientProviderError    = "TransientProviderError"
	HandlerInvariantViolation = "HandlerInvariantViolation"
	StaleConcurrencyConflict  = "StaleConcurrencyConflict"
	ResourceNotFound          = "ResourceNotFound"
	InvalidResourceState      = "InvalidResourceState"
	RetryLimitExceeded        = "RetryLimitExceeded"
	OperationNotFound         = "OperationNotFound"
	OperationCancelled        = "OperationCancelled"
	PoolExhausted             = "PoolExhausted"
	ProviderError             = "ProviderError"
)

type BrokerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// RetryAfter is a provider supplied hint, zero when absent
	RetryAfter time.Duration `json:"-"`
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("code %s, reason %s", e.Code, e.Message)
}

// Is matches any BrokerError with the same code, SkuNotAvailable also matches CapacityExhausted
func (e *BrokerError) Is(target error) bool {
	t, ok := target.(*BrokerError)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return t.Code == CapacityExhausted && e.Code == SkuNotAvailable
}

func CapacityExhaustedError(format string, args ...interface{}) error {
	return &BrokerError{Code: CapacityExhausted, Message: fmt.Sprintf(format, args...)}
}

func SkuNotAvailableError(sku, location string) error {
	return &BrokerError{
		Code:    SkuNotAvailable,
		Message: fmt.Sprintf("no subscription has headroom for sku[%s] in location[%s]", sku, location),
	}
}

func LocationNotAvailableError(sku, location string) error {
	return &BrokerError{
		Code:    LocationNotAvailable,
		Message: fmt.Sprintf("no enabled subscription serves location[%s] for sku[%s]", location, sku),
	}
}

func TransientProviderErrorf(retryAfter time.Duration, format string, args ...interface{}) error {
	return &BrokerError{
		Code:       TransientProviderError,
		Message:    fmt.Sprintf(format, args...),
		RetryAfter: retryAfter,
	}
}

func HandlerInvariantViolationError(format string, args ...interface{}) error {
	return &BrokerError{Code: HandlerInvariantViolation, Message: fmt.Sprintf(format, args...)}
}

func StaleConcurrencyConflictError(kind, id string, version int64) error {
	return &BrokerError{
		Code:    StaleConcurrencyConflict,
		Message: fmt.Sprintf("%s[%s] was modified concurrently, expected version %d", kind, id, version),
	}
}

func ResourceNotFoundError(id string) error {
	return &BrokerError{Code: ResourceNotFound, Message: fmt.Sprintf("resource[%s] not found", id)}
}

func InvalidResourceStateError(id, reason string) error {
	return &BrokerError{Code: InvalidResourceState, Message: fmt.Sprintf("resource[%s] %s", id, reason)}
}

func RetryLimitExceededError(attempts int, cause error) error {
	return &BrokerError{
		Code:    RetryLimitExceeded,
		Message: fmt.Sprintf("gave up after %d attempts: %v", attempts, cause),
	}
}

func OperationNotFoundError(id string) error {
	return &BrokerError{Code: OperationNotFound, Message: fmt.Sprintf("operation[%s] not found", id)}
}

func OperationCancelledError(id string) error {
	return &BrokerError{Code: OperationCancelled, Message: fmt.Sprintf("operation[%s] was cancelled", id)}
}

// ProviderRequestError is a terminal rejection by the cloud provider
func ProviderRequestError(format string, args ...interface{}) error {
	return &BrokerError{Code: ProviderError, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the taxonomy code of err, ErrorUnknown for foreign errors
func CodeOf(err error) string {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Code
	}
	return ErrorUnknown
}

// IsRetryable reports whether a continuation turn failing with err should be retried.
// Unknown errors are treated as transient so that a flaky dependency cannot fail an operation outright.
func IsRetryable(err error) bool {
	var be *BrokerError
	if !errors.As(err, &be) {
		return true
	}
	switch be.Code {
	case TransientProviderError, StaleConcurrencyConflict:
		return true
	}
	return false
}

func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

func IsCapacityExhausted(err error) bool {
	return errors.Is(err, &BrokerError{Code: CapacityExhausted})
}

// RetryAfterOf returns the retry hint carried by err
func RetryAfterOf(err error) time.Duration {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.RetryAfter
	}
	return 0
}
