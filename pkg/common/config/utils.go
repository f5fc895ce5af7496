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
	"encoding/json"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	yaml2 "gopkg.in/yaml.v2"
)

func InitConfigFromYaml(conf interface{}, configPath string) error {
	// if not set by user, use default
	if configPath == "" {
		log.Infoln("config yaml path not specified. use default config")
		configPath = serverDefaultConfPath
	}
	yamlFile, err := os.ReadFile(configPath)
	if err != nil {
		fmt.Printf("read file yaml[%s] failed! err:[%v]\n", configPath, err)
		return err
	}
	if err = yaml2.Unmarshal(yamlFile, conf); err != nil {
		fmt.Printf("decodes yaml[%s] failed! err:[%v]\n", configPath, err)
		return err
	}
	return nil
}

// SetDefaults fills every unset scalar of conf
func SetDefaults(conf *ServerConfig) {
	if conf.Log.Level == "" {
		conf.Log.Level = "info"
	}
	if conf.ApiServer.Port == 0 {
		conf.ApiServer.Port = 8999
	}
	if conf.Metrics.Port == 0 {
		conf.Metrics.Port = 8231
	}

	c := &conf.Continuation
	setInt(&c.WorkerCount, 8)
	setInt(&c.BatchSize, 100)
	setInt(&c.MaxRetryAttempts, 5)
	setDuration(&c.PumpInterval, time.Second)
	setDuration(&c.LeaseDuration, 2*time.Minute)
	setDuration(&c.BaseBackoff, 2*time.Second)
	setDuration(&c.MaxBackoff, 5*time.Minute)
	setDuration(&c.AwaitPollInterval, 2*time.Second)

	if conf.Capacity.RefreshSchedule == "" {
		conf.Capacity.RefreshSchedule = "@every 5m"
	}
	if conf.Capacity.SelectionPolicy == "" {
		conf.Capacity.SelectionPolicy = SelectionLeastLoaded
	}
	setInt(&conf.Capacity.RefreshConcurrency, 8)
	setInt(&conf.Capacity.CacheSize, 1024)
	setDuration(&conf.Capacity.CacheExpire, time.Minute)

	if conf.Pool.RefreshSchedule == "" {
		conf.Pool.RefreshSchedule = "@every 1m"
	}

	b := &conf.Broker
	setInt(&b.ClaimAttempts, 3)
	setInt(&b.ReconcileConcurrency, 4)
	setDuration(&b.OnDemandTimeout, 20*time.Minute)
	setDuration(&b.DeploymentPollInterval, 15*time.Second)
	setDuration(&b.HandshakeTimeout, 10*time.Minute)
	setDuration(&b.HandshakePollInterval, 10*time.Second)

	setDuration(&conf.Heartbeat.Timeout, 5*time.Minute)
	setDuration(&conf.Heartbeat.Buffer, 30*time.Second)

	a := &conf.Azure
	if a.Provider == "" {
		a.Provider = ProviderAzure
	}
	if a.RequestsPerSecond == 0 {
		a.RequestsPerSecond = 10
	}
	setInt(&a.Burst, 20)
	if a.BreakerFailures == 0 {
		a.BreakerFailures = 5
	}
	setDuration(&a.BreakerTimeout, 30*time.Second)
	setDuration(&a.DefaultRetryAfter, 10*time.Second)
}

// Validate rejects configurations the broker cannot run with
func Validate(conf *ServerConfig) error {
	if conf.Continuation.WorkerCount <= 0 {
		return fmt.Errorf("continuation.workerCount must be positive")
	}
	if conf.Continuation.BaseBackoff > conf.Continuation.MaxBackoff {
		return fmt.Errorf("continuation.baseBackoff[%s] exceeds maxBackoff[%s]",
			conf.Continuation.BaseBackoff, conf.Continuation.MaxBackoff)
	}
	switch conf.Capacity.SelectionPolicy {
	case SelectionLeastLoaded, SelectionPriority:
	default:
		return fmt.Errorf("unknown capacity.selectionPolicy %s", conf.Capacity.SelectionPolicy)
	}
	switch conf.Azure.Provider {
	case ProviderAzure, ProviderFake:
	default:
		return fmt.Errorf("unknown azure.provider %s", conf.Azure.Provider)
	}
	if conf.Heartbeat.Timeout <= 0 {
		return fmt.Errorf("heartbeat.timeout must be positive")
	}
	_, err := NewCatalog(conf)
	return err
}

func PrettyFormat(data interface{}) []byte {
	p, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		panic(err)
	}
	return p
}

func GetServiceAddress() string {
	return fmt.Sprintf("%s:%d", GlobalServerConfig.ApiServer.Host, GlobalServerConfig.ApiServer.Port)
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}
