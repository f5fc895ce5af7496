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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"

	"github.com/cloudpool/resourcebroker/cmd/server/flag"
	v1 "github.com/cloudpool/resourcebroker/pkg/apiserver/router/v1"
	"github.com/cloudpool/resourcebroker/pkg/broker"
	"github.com/cloudpool/resourcebroker/pkg/capacity"
	"github.com/cloudpool/resourcebroker/pkg/cloud"
	"github.com/cloudpool/resourcebroker/pkg/common/config"
	"github.com/cloudpool/resourcebroker/pkg/common/logger"
	"github.com/cloudpool/resourcebroker/pkg/continuation"
	"github.com/cloudpool/resourcebroker/pkg/heartbeat"
	"github.com/cloudpool/resourcebroker/pkg/metrics"
	"github.com/cloudpool/resourcebroker/pkg/pool"
	"github.com/cloudpool/resourcebroker/pkg/storage"
	"github.com/cloudpool/resourcebroker/pkg/storage/driver"
	"github.com/cloudpool/resourcebroker/pkg/strategy"
	"github.com/cloudpool/resourcebroker/pkg/version"
)

const shutdownTimeout = 30 * time.Second

var ServerConf *config.ServerConfig

func main() {
	if err := Main(os.Args); err != nil {
		fmt.Println(err)
		gracefullyExit(err)
	}
}

func Main(args []string) error {
	cli.VersionFlag = &cli.BoolFlag{
		Name: "version", Aliases: []string{"V"},
		Usage: "version of resource broker",
		Value: false,
	}

	if err := initConfig(); err != nil {
		fmt.Println(err)
		gracefullyExit(err)
	}

	compoundFlags := [][]cli.Flag{
		flag.ApiServerFlags(&ServerConf.ApiServer),
		flag.StorageFlags(&ServerConf.Storage),
		flag.MetricsFlags(&ServerConf.Metrics),
		flag.ContinuationFlags(&ServerConf.Continuation),
		flag.CapacityFlags(&ServerConf.Capacity),
		flag.PoolFlags(&ServerConf.Pool),
		flag.BrokerFlags(&ServerConf.Broker),
		flag.HeartbeatFlags(&ServerConf.Heartbeat),
		flag.AzureFlags(&ServerConf.Azure),
		logger.LogFlags(&ServerConf.Log),
	}

	app := &cli.App{
		Name:                 "ResourceBroker",
		Usage:                "pooled cloud compute and storage with resumable provisioning",
		Version:              version.InfoStr(),
		Copyright:            "Apache License 2.0",
		HideHelpCommand:      true,
		EnableBashCompletion: true,
		Flags:                flag.ExpandFlags(compoundFlags),
		Action:               act,
	}
	return app.Run(args)
}

func act(c *cli.Context) error {
	setup()
	err := start()
	if err != nil {
		log.Errorf("start server failed. error:%s", err.Error())
	}
	return err
}

func initConfig() error {
	ServerConf = &config.ServerConfig{}
	if err := config.InitConfigFromYaml(ServerConf, os.Getenv("BROKER_CONFIG")); err != nil {
		log.Errorf("InitConfigFromYaml failed. error:[%s]", err.Error())
		return err
	}
	config.SetDefaults(ServerConf)
	config.GlobalServerConfig = ServerConf
	return nil
}

func setup() {
	err := logger.InitStandardFileLogger(&ServerConf.Log)
	if err != nil {
		log.Errorf("InitStandardFileLogger err: %v", err)
		gracefullyExit(err)
	}
	if err = config.Validate(ServerConf); err != nil {
		log.Errorf("invalid server config: %v", err)
		gracefullyExit(err)
	}
	log.Infof("The final server config is: %s ", config.PrettyFormat(ServerConf))

	if _, err = driver.InitStorage(&ServerConf.Storage, ServerConf.Log.Level); err != nil {
		log.Errorf("init storage err: %v", err)
		gracefullyExit(err)
	}
}

func start() error {
	catalog, err := config.NewCatalog(ServerConf)
	if err != nil {
		return err
	}
	client, err := cloud.NewClient(ServerConf)
	if err != nil {
		log.Errorf("create cloud client failed, err: %v", err)
		return err
	}
	capacityManager := capacity.NewManager(ServerConf.Capacity, catalog, storage.Capacity, client)

	registry := continuation.NewRegistry()
	engine := continuation.NewEngine(ServerConf.Continuation, storage.Continuation, registry)
	b := broker.New(ServerConf.Broker, catalog, capacityManager, engine, client, strategy.NewDefaultRegistry())
	for _, h := range b.Handlers() {
		if err := registry.Register(h); err != nil {
			return err
		}
	}
	heartbeatService := heartbeat.NewService(ServerConf.Heartbeat, storage.Environment, b)
	if err := registry.Register(heartbeat.NewMonitor(heartbeatService)); err != nil {
		return err
	}
	scaling := broker.NewScalingHandler(b)
	poolJob := pool.NewRefreshPoolScaleTargetsJob(ServerConf.Pool, catalog, storage.PoolSetting, scaling)

	if ServerConf.Metrics.Enable {
		metrics.InitMetrics(scaling.MetricsSource(), capacityManager.MetricsSource())
		metrics.StartMetricsService(ServerConf.Metrics.Port)
	}

	stopCh := make(chan struct{})
	engine.Run(stopCh)
	scaling.Run(stopCh)
	if err := capacityManager.Start(stopCh); err != nil {
		close(stopCh)
		return err
	}
	if err := poolJob.Start(stopCh); err != nil {
		close(stopCh)
		return err
	}

	router := chi.NewRouter()
	v1.RegisterRouters(router, heartbeatService)
	addr := config.GetServiceAddress()
	log.Infof("server addr:%s", addr)
	httpSvr := &http.Server{
		Addr:    addr,
		Handler: router,
	}
	go func() {
		if err := httpSvr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("listen: %s", err)
		}
	}()

	stopSig := make(chan os.Signal, 1)
	signal.Notify(stopSig, syscall.SIGTERM, syscall.SIGINT)
	<-stopSig

	close(stopCh)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSvr.Shutdown(ctx); err != nil {
		log.Infof("Server forced to shutdown:%s", err.Error())
	}
	log.Info("resource broker exiting")
	return nil
}

func gracefullyExit(err error) {
	fmt.Println(err)
	os.Exit(22)
}
