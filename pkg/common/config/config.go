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

package config

import (
	"time"

	"github.com/cloudpool/resourcebroker/pkg/common/logger"
)

var (
	GlobalServerConfig *ServerConfig // the global ServerConfig, only read by cmd/server

	serverDefaultConfPath = "./config/server/default/broker.yaml"
)

const (
	ProviderAzure = "azure"
	ProviderFake  = "fake"

	SelectionLeastLoaded = "leastLoaded"
	SelectionPriority    = "priority"
)

type ServerConfig struct {
	Storage       StorageConfig        `yaml:"database"`
	Log           logger.LogConfig     `yaml:"log"`
	ApiServer     ApiServerConfig      `yaml:"apiServer"`
	Metrics       MetricsConfig        `yaml:"metrics"`
	Continuation  ContinuationConfig   `yaml:"continuation"`
	Capacity      CapacityConfig       `yaml:"capacity"`
	Pool          PoolConfig           `yaml:"pool"`
	Broker        BrokerConfig         `yaml:"broker"`
	Heartbeat     HeartbeatConfig      `yaml:"heartbeat"`
	Azure         AzureConfig          `yaml:"azure"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Skus          []SkuConfig          `yaml:"skus"`
	ImageFamilies []ImageFamilyConfig  `yaml:"imageFamilies"`
}

type StorageConfig struct {
	Driver                  string `yaml:"driver"`
	Host                    string `yaml:"host"`
	Port                    string `yaml:"port"`
	User                    string `yaml:"user"`
	Password                string `yaml:"password"`
	Database                string `yaml:"database"`
	ConnectTimeoutInSeconds int    `yaml:"connectTimeoutInSeconds,omitempty"`
	MaxIdleConns            *int   `yaml:"maxIdleConns,omitempty"`
	MaxOpenConns            *int   `yaml:"maxOpenConns,omitempty"`
	ConnMaxLifetimeInHours  *int   `yaml:"connMaxLifetimeInHours,omitempty"`
}

type ApiServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type MetricsConfig struct {
	Enable bool `yaml:"enable"`
	Port   int  `yaml:"port"`
}

type ContinuationConfig struct {
	WorkerCount int `yaml:"workerCount"`
	// BatchSize bounds the operations leased by one pump tick
	BatchSize         int           `yaml:"batchSize"`
	PumpInterval      time.Duration `yaml:"pumpInterval"`
	LeaseDuration     time.Duration `yaml:"leaseDuration"`
	MaxRetryAttempts  int           `yaml:"maxRetryAttempts"`
	BaseBackoff       time.Duration `yaml:"baseBackoff"`
	MaxBackoff        time.Duration `yaml:"maxBackoff"`
	AwaitPollInterval time.Duration `yaml:"awaitPollInterval"`
}

type CapacityConfig struct {
	RefreshSchedule    string        `yaml:"refreshSchedule"`
	RefreshConcurrency int           `yaml:"refreshConcurrency"`
	SelectionPolicy    string        `yaml:"selectionPolicy"`
	CacheSize          int           `yaml:"cacheSize"`
	CacheExpire        time.Duration `yaml:"cacheExpire"`
}

type PoolConfig struct {
	RefreshSchedule string `yaml:"refreshSchedule"`
}

type BrokerConfig struct {
	// ClaimAttempts is the number of ready candidates read per claim round
	ClaimAttempts          int           `yaml:"claimAttempts"`
	OnDemandTimeout        time.Duration `yaml:"onDemandTimeout"`
	DeploymentPollInterval time.Duration `yaml:"deploymentPollInterval"`
	HandshakeTimeout       time.Duration `yaml:"handshakeTimeout"`
	HandshakePollInterval  time.Duration `yaml:"handshakePollInterval"`
	ReconcileConcurrency   int           `yaml:"reconcileConcurrency"`
}

type HeartbeatConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Buffer  time.Duration `yaml:"buffer"`
}

// Window is the re-arm interval of the heartbeat monitor
func (c HeartbeatConfig) Window() time.Duration {
	return c.Timeout + c.Buffer
}

type AzureConfig struct {
	Provider string `yaml:"provider"`
	TenantID string `yaml:"tenantID"`
	// RequestsPerSecond and Burst throttle outbound management calls per process
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
	BreakerFailures   uint32        `yaml:"breakerFailures"`
	BreakerTimeout    time.Duration `yaml:"breakerTimeout"`
	DefaultRetryAfter time.Duration `yaml:"defaultRetryAfter"`
}

type SubscriptionConfig struct {
	ID                  string   `yaml:"id"`
	Name                string   `yaml:"name"`
	Enabled             bool     `yaml:"enabled"`
	Priority            int      `yaml:"priority"`
	ResourceGroupPrefix string   `yaml:"resourceGroupPrefix"`
	Locations           []string `yaml:"locations"`
	// StorageAccountLimit is the regional storage account quota, the provider does not report it
	StorageAccountLimit int64 `yaml:"storageAccountLimit"`
}

type SkuConfig struct {
	Name               string   `yaml:"name"`
	Enabled            bool     `yaml:"enabled"`
	ComputeSkuName     string   `yaml:"computeSkuName"`
	ComputeQuotaFamily string   `yaml:"computeQuotaFamily"`
	Cores              int      `yaml:"cores"`
	ComputeOS          string   `yaml:"computeOS"`
	ImageFamily        string   `yaml:"imageFamily"`
	StorageSkuName     string   `yaml:"storageSkuName"`
	StorageImageFamily string   `yaml:"storageImageFamily"`
	StorageSizeInGB    int      `yaml:"storageSizeInGB"`
	// KeyVault pools one key vault per environment of the sku
	KeyVault           bool     `yaml:"keyVault"`
	Locations          []string `yaml:"locations"`
	PoolLevel          int      `yaml:"poolLevel"`
}

func (s SkuConfig) HasStorage() bool {
	return s.StorageSkuName != ""
}

type ImageFamilyConfig struct {
	Name         string        `yaml:"name"`
	CurrentImage string        `yaml:"currentImage"`
	Images       []ImageConfig `yaml:"images"`
}

type ImageConfig struct {
	Name      string `yaml:"name"`
	ID        string `yaml:"id"`
	Publisher string `yaml:"publisher"`
	Offer     string `yaml:"offer"`
	Sku       string `yaml:"sku"`
	Version   string `yaml:"version"`
}
