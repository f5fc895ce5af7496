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

package capacity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bluele/gcache"
	log "github.com/sirupsen/logrus"

	"github.com/cloudpool/resourcebroker/pkg/cloud"
	"github.com/cloudpool/resourcebroker/pkg/common/config"
	"github.com/cloudpool/resourcebroker/pkg/common/errors"
	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/model"
	"github.com/cloudpool/resourcebroker/pkg/storage"
)

const defaultResourceGroupPrefix = "rb"

// AzureResourceLocation is where a new resource of a sku should be placed
type AzureResourceLocation struct {
	SubscriptionID string `json:"subscriptionID"`
	ResourceGroup  string `json:"resourceGroup"`
	Location       string `json:"location"`
}

// Manager admits placements against the last observed quota usage.
// Selection only reads stored records, live provider queries happen in the refresh job.
type Manager struct {
	conf    config.CapacityConfig
	catalog *config.Catalog
	store   storage.CapacityStoreInterface
	client  cloud.CloudResourceClient
	// subscription/location -> map[quota key]model.CapacityRecord
	cache gcache.Cache
	now   func() time.Time
}

func NewManager(conf config.CapacityConfig, catalog *config.Catalog, store storage.CapacityStoreInterface,
	client cloud.CloudResourceClient) *Manager {
	m := &Manager{
		conf:    conf,
		catalog: catalog,
		store:   store,
		client:  client,
		now:     model.Now,
	}
	cacheSize := conf.CacheSize
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	builder := gcache.New(cacheSize).LRU().LoaderFunc(m.loadRecords)
	if conf.CacheExpire > 0 {
		builder = builder.Expiration(conf.CacheExpire)
	}
	m.cache = builder.Build()
	return m
}

func cacheKey(subscriptionID, location string) string {
	return subscriptionID + "/" + location
}

func (m *Manager) loadRecords(key interface{}) (interface{}, error) {
	parts := strings.SplitN(key.(string), "/", 2)
	records, err := m.store.Query(storage.CapacityFilter{SubscriptionID: parts[0], Location: parts[1]})
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]model.CapacityRecord, len(records))
	for _, r := range records {
		byKey[r.Key()] = r
	}
	return byKey, nil
}

func (m *Manager) records(subscriptionID, location string) (map[string]model.CapacityRecord, error) {
	value, err := m.cache.Get(cacheKey(subscriptionID, location))
	if err != nil {
		return nil, err
	}
	return value.(map[string]model.CapacityRecord), nil
}

// RequiredQuotas is the quota one resource of sku consumes, by service type and quota name
func RequiredQuotas(sku config.SkuConfig) map[schema.ServiceType]map[string]int64 {
	compute := map[string]int64{
		schema.QuotaCores:           int64(sku.Cores),
		schema.QuotaVirtualMachines: 1,
	}
	if sku.ComputeQuotaFamily != "" {
		compute[sku.ComputeQuotaFamily] = int64(sku.Cores)
	}
	required := map[schema.ServiceType]map[string]int64{
		schema.ServiceCompute: compute,
		schema.ServiceNetwork: {schema.QuotaVirtualNetworks: 1},
	}
	if sku.HasStorage() {
		required[schema.ServiceStorage] = map[string]int64{schema.QuotaStorageAccounts: 1}
	}
	return required
}

// admit checks every required quota, a quota without a record rejects the subscription
func admit(records map[string]model.CapacityRecord, required map[schema.ServiceType]map[string]int64) (bool, string) {
	for serviceType, quotas := range required {
		for quota, need := range quotas {
			record, ok := records[model.CapacityKey(serviceType, quota)]
			if !ok {
				return false, fmt.Sprintf("no usage record for %s/%s", serviceType, quota)
			}
			if record.Headroom() < need {
				return false, fmt.Sprintf("%s/%s headroom %d < %d", serviceType, quota, record.Headroom(), need)
			}
		}
	}
	return true, ""
}

type candidate struct {
	subscription config.SubscriptionConfig
	headroom     int64
}

func (m *Manager) order(candidates []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		switch m.conf.SelectionPolicy {
		case config.SelectionPriority:
			if a.subscription.Priority != b.subscription.Priority {
				return a.subscription.Priority < b.subscription.Priority
			}
		default:
			if a.headroom != b.headroom {
				return a.headroom > b.headroom
			}
		}
		return a.subscription.ID < b.subscription.ID
	})
}

func servesLocation(sub config.SubscriptionConfig, location string) bool {
	for _, l := range sub.Locations {
		if strings.EqualFold(l, location) {
			return true
		}
	}
	return false
}

// ResourceGroupName is the per subscription and location group resources are deployed into
func ResourceGroupName(sub config.SubscriptionConfig, location string) string {
	prefix := sub.ResourceGroupPrefix
	if prefix == "" {
		prefix = defaultResourceGroupPrefix
	}
	return fmt.Sprintf("%s-%s", prefix, strings.ToLower(location))
}

// SelectAzureResourceLocation picks the subscription and location a new resource of skuName goes to.
// An empty preferredLocation tries the locations of the sku in catalog order.
func (m *Manager) SelectAzureResourceLocation(ctx context.Context, skuName, preferredLocation string) (*AzureResourceLocation, error) {
	sku, ok := m.catalog.Sku(skuName)
	if !ok {
		return nil, errors.ResourceNotFoundError("sku " + skuName)
	}
	locations := sku.Locations
	if preferredLocation != "" {
		locations = []string{preferredLocation}
	}
	required := RequiredQuotas(sku)
	familyQuota := sku.ComputeQuotaFamily
	if familyQuota == "" {
		familyQuota = schema.QuotaCores
	}

	served := false
	for _, location := range locations {
		var candidates []candidate
		for _, sub := range m.catalog.EnabledSubscriptions() {
			if !servesLocation(sub, location) {
				continue
			}
			served = true
			records, err := m.records(sub.ID, location)
			if err != nil {
				return nil, err
			}
			if ok, reason := admit(records, required); !ok {
				log.Debugf("subscription %s rejected for sku %s in %s: %s", sub.ID, sku.Name, location, reason)
				continue
			}
			family := records[model.CapacityKey(schema.ServiceCompute, familyQuota)]
			candidates = append(candidates, candidate{subscription: sub, headroom: family.Headroom()})
		}
		if len(candidates) == 0 {
			continue
		}
		m.order(candidates)
		chosen := candidates[0].subscription
		log.Infof("select subscription %s location %s for sku %s by %s", chosen.ID, location, sku.Name, m.conf.SelectionPolicy)
		return &AzureResourceLocation{
			SubscriptionID: chosen.ID,
			ResourceGroup:  ResourceGroupName(chosen, location),
			Location:       location,
		}, nil
	}
	if !served {
		return nil, errors.LocationNotAvailableError(sku.Name, strings.Join(locations, ","))
	}
	return nil, errors.SkuNotAvailableError(sku.Name, strings.Join(locations, ","))
}
