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
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/cloudpool/resourcebroker/pkg/common/config"
	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/model"
)

// ResilientClient throttles outbound calls and stops calling a provider that keeps failing
type ResilientClient struct {
	inner      CloudResourceClient
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	retryAfter time.Duration
}

func NewResilientClient(inner CloudResourceClient, conf config.AzureConfig) *ResilientClient {
	settings := gobreaker.Settings{
		Name:    "cloud-provider",
		Timeout: conf.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= conf.BreakerFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warningf("circuit breaker %s changed from %s to %s", name, from, to)
		},
		// only provider trouble counts against the breaker
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.IsCode(err, errors.TransientProviderError)
		},
	}
	return &ResilientClient{
		inner:      inner,
		limiter:    rate.NewLimiter(rate.Limit(conf.RequestsPerSecond), conf.Burst),
		breaker:    gobreaker.NewCircuitBreaker(settings),
		retryAfter: conf.BreakerTimeout,
	}
}

func (c *ResilientClient) call(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.TransientProviderErrorf(c.retryAfter, "rate limiter: %v", err)
	}
	result, err := c.breaker.Execute(fn)
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.TransientProviderErrorf(c.retryAfter, "provider circuit is %s", c.breaker.State())
	}
	return result, err
}

func (c *ResilientClient) CreateResourceGroupIfNotExists(ctx context.Context, subscriptionID, resourceGroup, location string) error {
	_, err := c.call(ctx, func() (interface{}, error) {
		return nil, c.inner.CreateResourceGroupIfNotExists(ctx, subscriptionID, resourceGroup, location)
	})
	return err
}

func (c *ResilientClient) BeginDeployment(ctx context.Context, handle ResourceHandle, deploymentName string,
	template interface{}, parameters map[string]interface{}) (string, error) {
	result, err := c.call(ctx, func() (interface{}, error) {
		return c.inner.BeginDeployment(ctx, handle, deploymentName, template, parameters)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *ResilientClient) GetDeploymentStatus(ctx context.Context, deploymentID string) (*DeploymentStatus, error) {
	result, err := c.call(ctx, func() (interface{}, error) {
		return c.inner.GetDeploymentStatus(ctx, deploymentID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*DeploymentStatus), nil
}

func (c *ResilientClient) DeleteResource(ctx context.Context, resourceID string) error {
	_, err := c.call(ctx, func() (interface{}, error) {
		return nil, c.inner.DeleteResource(ctx, resourceID)
	})
	return err
}

func (c *ResilientClient) GetQuotaUsage(ctx context.Context, subscriptionID, location string,
	serviceType schema.ServiceType) ([]model.AzureResourceUsage, error) {
	result, err := c.call(ctx, func() (interface{}, error) {
		return c.inner.GetQuotaUsage(ctx, subscriptionID, location, serviceType)
	})
	if err != nil {
		return nil, err
	}
	return result.([]model.AzureResourceUsage), nil
}

func (c *ResilientClient) ListLocations(ctx context.Context, subscriptionID string) ([]string, error) {
	result, err := c.call(ctx, func() (interface{}, error) {
		return c.inner.ListLocations(ctx, subscriptionID)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (c *ResilientClient) CheckNameAvailability(ctx context.Context, subscriptionID string,
	resourceType schema.ResourceType, name string) (bool, error) {
	result, err := c.call(ctx, func() (interface{}, error) {
		return c.inner.CheckNameAvailability(ctx, subscriptionID, resourceType, name)
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// NewClient builds the provider client selected by conf.Azure.Provider
func NewClient(conf *config.ServerConfig) (CloudResourceClient, error) {
	var inner CloudResourceClient
	switch conf.Azure.Provider {
	case config.ProviderFake:
		log.Warningf("using the in-memory fake cloud provider")
		fake := NewFakeClient()
		fake.SeedFromConfig(conf)
		inner = fake
	default:
		azure, err := NewAzureClient(conf)
		if err != nil {
			return nil, err
		}
		inner = azure
	}
	return NewResilientClient(inner, conf.Azure), nil
}
