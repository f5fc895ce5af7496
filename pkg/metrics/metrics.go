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

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultMetricPort = 8231
)

var (
	registry *prometheus.Registry
)

var (
	turnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricContinuationTurns,
			Help: toHelp(MetricContinuationTurns),
		},
		[]string{HandlerLabel, StatusLabel},
	)
	reconcileCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricPoolReconcileCount,
			Help: toHelp(MetricPoolReconcileCount),
		},
		[]string{PoolCodeLabel, ActionLabel},
	)
)

var (
	listPoolInventory ListPoolInventoryFunc
	listCapacity      ListCapacityFunc
)

// InitMetrics sets the sources of the inventory and capacity gauges
func InitMetrics(poolFunc ListPoolInventoryFunc, capacityFunc ListCapacityFunc) {
	listPoolInventory = poolFunc
	listCapacity = capacityFunc
}

// ObserveTurn counts a finished continuation turn by the status it left behind
func ObserveTurn(handlerName, status string) {
	turnCounter.With(prometheus.Labels{HandlerLabel: handlerName, StatusLabel: status}).Inc()
}

// ObserveReconcile counts members a reconcile created or deleted for a pool
func ObserveReconcile(poolCode, action string, count int) {
	if count <= 0 {
		return
	}
	reconcileCounter.With(prometheus.Labels{PoolCodeLabel: poolCode, ActionLabel: action}).Add(float64(count))
}

func initRegistry() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(turnCounter, reconcileCounter)
	if listPoolInventory != nil {
		registry.MustRegister(NewPoolMetricsCollector(listPoolInventory))
	}
	if listCapacity != nil {
		registry.MustRegister(NewCapacityMetricsCollector(listCapacity))
	}
}

func StartMetricsService(port int) string {
	initRegistry()
	if port == 0 {
		port = DefaultMetricPort
	}
	if port < 1000 {
		panic("metric port cannot below 1000")
	}
	mx := http.NewServeMux()
	mx.Handle("/metrics", promhttp.HandlerFor(
		registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	))
	metricsAddr := fmt.Sprintf(":%d", port)
	go func() {
		if err := http.ListenAndServe(metricsAddr, mx); err != nil {
			log.Errorf("metrics listenAndServe error: %s", err)
		}
	}()

	log.Infof("metrics listening on %s", metricsAddr)
	return metricsAddr
}
