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

type CapacityUsage struct {
	SubscriptionID string
	Location       string
	ServiceType    string
	Quota          string
	Limit          int64
	CurrentValue   int64
}

type ListCapacityFunc func() []CapacityUsage

type CapacityMetricCollector struct {
	limit        *prometheus.GaugeVec
	headroom     *prometheus.GaugeVec
	listCapacity ListCapacityFunc
}

func NewCapacityMetricsCollector(capacityFunc ListCapacityFunc) *CapacityMetricCollector {
	labels := []string{SubscriptionLabel, LocationLabel, ServiceTypeLabel, QuotaLabel}
	return &CapacityMetricCollector{
		limit: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricCapacityLimit,
				Help: toHelp(MetricCapacityLimit),
			},
			labels,
		),
		headroom: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricCapacityHeadroom,
				Help: toHelp(MetricCapacityHeadroom),
			},
			labels,
		),
		listCapacity: capacityFunc,
	}
}

func (c *CapacityMetricCollector) Describe(descs chan<- *prometheus.Desc) {
	c.limit.Describe(descs)
	c.headroom.Describe(descs)
}

func (c *CapacityMetricCollector) Collect(metrics chan<- prometheus.Metric) {
	c.update()
	c.limit.Collect(metrics)
	c.headroom.Collect(metrics)
}

func (c *CapacityMetricCollector) update() {
	for _, usage := range c.listCapacity() {
		labels := prometheus.Labels{
			SubscriptionLabel: usage.SubscriptionID,
			LocationLabel:     usage.Location,
			ServiceTypeLabel:  usage.ServiceType,
			QuotaLabel:        usage.Quota,
		}
		c.limit.With(labels).Set(float64(usage.Limit))
		c.headroom.With(labels).Set(float64(usage.Limit - usage.CurrentValue))
	}
}
