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
	"strings"
)

const (
	MetricContinuationTurns  = "rb_metric_continuation_turns"
	MetricPoolInventory      = "rb_metric_pool_inventory"
	MetricCapacityLimit      = "rb_metric_capacity_limit"
	MetricCapacityHeadroom   = "rb_metric_capacity_headroom"
	MetricPoolReconcileCount = "rb_metric_pool_reconcile_count"
)

func toHelp(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

const (
	HandlerLabel      = "handler"
	StatusLabel       = "status"
	PoolCodeLabel     = "poolCode"
	TypeLabel         = "type"
	LocationLabel     = "location"
	StateLabel        = "state"
	SubscriptionLabel = "subscription"
	ServiceTypeLabel  = "serviceType"
	QuotaLabel        = "quota"
	ActionLabel       = "action"
)

// reconcile actions
const (
	ActionCreate = "create"
	ActionDelete = "delete"
)

// pool inventory states
const (
	StateReady        = "ready"
	StateProvisioning = "provisioning"
	StateAssigned     = "assigned"
	StateTarget       = "target"
)
