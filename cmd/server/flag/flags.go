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

package flag

import (
	"github.com/urfave/cli/v2"

	"github.com/cloudpool/resourcebroker/pkg/common/config"
)

func ApiServerFlags(apiConf *config.ApiServerConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "host",
			Value:       apiConf.Host,
			Usage:       "api server host",
			Destination: &apiConf.Host,
		},
		&cli.IntFlag{
			Name:        "port",
			Value:       apiConf.Port,
			Usage:       "api server port",
			Destination: &apiConf.Port,
		},
	}
}

func StorageFlags(dbConf *config.StorageConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "db-driver",
			Value:       dbConf.Driver,
			Usage:       "database driver, mysql or sqlite",
			Destination: &dbConf.Driver,
		},
		&cli.StringFlag{
			Name:        "db-host",
			Value:       dbConf.Host,
			Usage:       "host",
			Destination: &dbConf.Host,
		},
		&cli.StringFlag{
			Name:        "db-port",
			Value:       dbConf.Port,
			Usage:       "port",
			Destination: &dbConf.Port,
		},
		&cli.StringFlag{
			Name:        "db-user",
			Value:       dbConf.User,
			Usage:       "user",
			Destination: &dbConf.User,
		},
		&cli.StringFlag{
			Name:        "db-password",
			Value:       dbConf.Password,
			Usage:       "password",
			Destination: &dbConf.Password,
		},
		&cli.StringFlag{
			Name:        "db-database",
			Value:       dbConf.Database,
			Usage:       "database",
			Destination: &dbConf.Database,
		},
		&cli.IntFlag{
			Name:        "db-connect-timeout-in-seconds",
			Value:       dbConf.ConnectTimeoutInSeconds,
			Usage:       "db connect timeout in seconds",
			Destination: &dbConf.ConnectTimeoutInSeconds,
		},
	}
}

func MetricsFlags(metricsConf *config.MetricsConfig) []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "metrics-enable",
			Value:       metricsConf.Enable,
			Usage:       "serve prometheus metrics",
			Destination: &metricsConf.Enable,
		},
		&cli.IntFlag{
			Name:        "metrics-port",
			Value:       metricsConf.Port,
			Usage:       "port of the metrics endpoint",
			Destination: &metricsConf.Port,
		},
	}
}

func ContinuationFlags(conf *config.ContinuationConfig) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "continuation-worker-count",
			Value:       conf.WorkerCount,
			Usage:       "number of workers running continuation turns",
			Destination: &conf.WorkerCount,
		},
		&cli.IntFlag{
			Name:        "continuation-batch-size",
			Value:       conf.BatchSize,
			Usage:       "operations leased by one pump tick",
			Destination: &conf.BatchSize,
		},
		&cli.DurationFlag{
			Name:        "continuation-pump-interval",
			Value:       conf.PumpInterval,
			Usage:       "interval of the message pump",
			Destination: &conf.PumpInterval,
		},
		&cli.DurationFlag{
			Name:        "continuation-lease-duration",
			Value:       conf.LeaseDuration,
			Usage:       "how long a leased operation is hidden from other pumps",
			Destination: &conf.LeaseDuration,
		},
		&cli.IntFlag{
			Name:        "continuation-max-retry-attempts",
			Value:       conf.MaxRetryAttempts,
			Usage:       "retries of a failing turn before the operation fails",
			Destination: &conf.MaxRetryAttempts,
		},
		&cli.DurationFlag{
			Name:        "continuation-base-backoff",
			Value:       conf.BaseBackoff,
			Usage:       "first retry delay, doubled per attempt",
			Destination: &conf.BaseBackoff,
		},
		&cli.DurationFlag{
			Name:        "continuation-max-backoff",
			Value:       conf.MaxBackoff,
			Usage:       "upper bound of the retry delay",
			Destination: &conf.MaxBackoff,
		},
	}
}

func CapacityFlags(conf *config.CapacityConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "capacity-refresh-schedule",
			Value:       conf.RefreshSchedule,
			Usage:       "cron schedule of the usage refresh",
			Destination: &conf.RefreshSchedule,
		},
		&cli.IntFlag{
			Name:        "capacity-refresh-concurrency",
			Value:       conf.RefreshConcurrency,
			Usage:       "concurrent usage queries of one refresh",
			Destination: &conf.RefreshConcurrency,
		},
		&cli.StringFlag{
			Name:        "capacity-selection-policy",
			Value:       conf.SelectionPolicy,
			Usage:       "subscription selection policy, leastLoaded or priority",
			Destination: &conf.SelectionPolicy,
		},
	}
}

func PoolFlags(conf *config.PoolConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "pool-refresh-schedule",
			Value:       conf.RefreshSchedule,
			Usage:       "cron schedule of the pool scale target refresh",
			Destination: &conf.RefreshSchedule,
		},
	}
}

func BrokerFlags(conf *config.BrokerConfig) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "broker-claim-attempts",
			Value:       conf.ClaimAttempts,
			Usage:       "ready candidates read per claim round, the pool is re-read until it is empty",
			Destination: &conf.ClaimAttempts,
		},
		&cli.DurationFlag{
			Name:        "broker-on-demand-timeout",
			Value:       conf.OnDemandTimeout,
			Usage:       "how long an allocation waits for an on-demand resource",
			Destination: &conf.OnDemandTimeout,
		},
		&cli.DurationFlag{
			Name:        "broker-handshake-timeout",
			Value:       conf.HandshakeTimeout,
			Usage:       "how long a started environment may stay silent",
			Destination: &conf.HandshakeTimeout,
		},
		&cli.IntFlag{
			Name:        "broker-reconcile-concurrency",
			Value:       conf.ReconcileConcurrency,
			Usage:       "pools reconciled in parallel",
			Destination: &conf.ReconcileConcurrency,
		},
	}
}

func HeartbeatFlags(conf *config.HeartbeatConfig) []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:        "heartbeat-timeout",
			Value:       conf.Timeout,
			Usage:       "silence after which an environment is suspended",
			Destination: &conf.Timeout,
		},
		&cli.DurationFlag{
			Name:        "heartbeat-buffer",
			Value:       conf.Buffer,
			Usage:       "grace added to the timeout between monitor checks",
			Destination: &conf.Buffer,
		},
	}
}

func AzureFlags(conf *config.AzureConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "azure-provider",
			Value:       conf.Provider,
			Usage:       "cloud provider, azure or fake",
			Destination: &conf.Provider,
		},
		&cli.StringFlag{
			Name:        "azure-tenant-id",
			Value:       conf.TenantID,
			Usage:       "tenant of the management credential",
			Destination: &conf.TenantID,
		},
		&cli.Float64Flag{
			Name:        "azure-requests-per-second",
			Value:       conf.RequestsPerSecond,
			Usage:       "outbound management call rate",
			Destination: &conf.RequestsPerSecond,
		},
		&cli.IntFlag{
			Name:        "azure-burst",
			Value:       conf.Burst,
			Usage:       "outbound management call burst",
			Destination: &conf.Burst,
		},
	}
}

func ExpandFlags(compoundFlags [][]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, flag := range compoundFlags {
		flags = append(flags, flag...)
	}
	return flags
}
