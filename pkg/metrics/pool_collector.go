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
	"github.com/prometheus/client_golang/prometheus"
)

type PoolInventory struct {
	PoolCode     string
	Type         string
	Location     string
	Ready        int64
	Provisioning int64
	Assigned     int64
	Target       int64
}

type ListPoolInventoryFunc func() []PoolInventory

type PoolMetricCollector struct {
	inventory *prometheus.GaugeVec
	listPool  ListPoolInventoryFunc
}

func NewPoolMetricsCollector(poolFunc ListPoolInventoryFunc) *PoolMetricCollector {
	return &PoolMetricCollector{
		inventory: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricPoolInventory,
				Help: toHelp(MetricPoolInventory),
			},
			[]string{PoolCodeLabel, TypeLabel, LocationLabel, StateLabel},
		),
		listPool: poolFunc,
	}
}

func (p *PoolMetricCollector) Describe(descs chan<- *prometheus.Desc) {
	p.inventory.Describe(descs)
}

func (p *PoolMetricCollector) Collect(metrics chan<- prometheus.Metric) {
	p.update()
	p.inventory.Collect(metrics)
}

func (p *PoolMetricCollector) update() {
	// pools that were removed must not keep reporting their last value
	p.inventory.Reset()
	for _, pool := range p.listPool() {
		values := map[string]int64{
			StateReady:        pool.Ready,
			StateProvisioning: pool.Provisioning,
			StateAssigned:     pool.Assigned,
			StateTarget:       pool.Target,
		}
		for state, value := range values {
			p.inventory.With(prometheus.Labels{
				PoolCodeLabel: pool.PoolCode,
				TypeLabel:     pool.Type,
				LocationLabel: pool.Location,
				StateLabel:    state,
			}).Set(float64(value))
		}
	}
}
