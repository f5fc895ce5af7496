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
	"strings"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/cloudpool/resourcebroker/pkg/common/schema"
	"github.com/cloudpool/resourcebroker/pkg/metrics"
	"github.com/cloudpool/resourcebroker/pkg/model"
	"github.com/cloudpool/resourcebroker/pkg/storage"
)

const defaultRefreshConcurrency = 8

// RefreshReport summarizes one usage refresh, a failed query does not abort the others
type RefreshReport struct {
	Queries  int
	Records  int
	Failures map[string]error
}

type usageQuery struct {
	subscriptionID string
	location       string
	serviceType    schema.ServiceType
}

func (q usageQuery) String() string {
	return fmt.Sprintf("%s/%s/%s", q.subscriptionID, q.location, q.serviceType)
}

// queries lists every enabled subscription, location and service type, skipping locations the
// provider does not offer to the subscription
func (m *Manager) queries(ctx context.Context) []usageQuery {
	var queries []usageQuery
	for _, sub := range m.catalog.EnabledSubscriptions() {
		offered := map[string]bool{}
		locations, err := m.client.ListLocations(ctx, sub.ID)
		if err != nil {
			log.Warningf("list locations of subscription %s failed, use the configured ones, err: %v", sub.ID, err)
		}
		for _, l := range locations {
			offered[strings.ToLower(l)] = true
		}
		for _, location := range sub.Locations {
			if len(offered) > 0 && !offered[strings.ToLower(location)] {
				log.Warningf("location %s is not offered to subscription %s, skip it", location, sub.ID)
				continue
			}
			for _, serviceType := range schema.ServiceTypes {
				queries = append(queries, usageQuery{subscriptionID: sub.ID, location: location, serviceType: serviceType})
			}
		}
	}
	return queries
}

// UpdateAzureResourceUsage queries the provider for every quota the catalog can consume and stores the result
func (m *Manager) UpdateAzureResourceUsage(ctx context.Context) (*RefreshReport, error) {
	concurrency := m.conf.RefreshConcurrency
	if concurrency <= 0 {
		concurrency = defaultRefreshConcurrency
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	queries := m.queries(ctx)
	report := &RefreshReport{Queries: len(queries), Failures: map[string]error{}}
	observedAt := m.now()
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		records []model.CapacityRecord
	)
	for _, q := range queries {
		q := q
		wg.Add(1)
		task := func() {
			defer wg.Done()
			usages, err := m.client.GetQuotaUsage(ctx, q.subscriptionID, q.location, q.serviceType)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures[q.String()] = err
				return
			}
			for _, u := range usages {
				records = append(records, u.ToRecord(observedAt))
			}
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			mu.Lock()
			report.Failures[q.String()] = err
			mu.Unlock()
		}
	}
	wg.Wait()

	if len(records) > 0 {
		if err := m.store.Upsert(records); err != nil {
			log.Errorf("store %d usage records failed, err: %v", len(records), err)
			return report, err
		}
	}
	report.Records = len(records)
	m.cache.Purge()
	for query, err := range report.Failures {
		log.Errorf("refresh usage of %s failed, err: %v", query, err)
	}
	log.Infof("usage refresh finished, queries %d, records %d, failures %d", report.Queries, report.Records, len(report.Failures))
	return report, nil
}

func (m *Manager) refreshJob() {
	if _, err := m.UpdateAzureResourceUsage(context.Background()); err != nil {
		log.Errorf("usage refresh job failed, err: %v", err)
	}
}

// Start runs one refresh immediately, then on the configured schedule until stopCh is closed
func (m *Manager) Start(stopCh <-chan struct{}) error {
	c := cron.New()
	if _, err := c.AddFunc(m.conf.RefreshSchedule, m.refreshJob); err != nil {
		log.Errorf("invalid usage refresh schedule %q, err: %v", m.conf.RefreshSchedule, err)
		return err
	}
	go m.refreshJob()
	c.Start()
	log.Infof("usage refresh scheduled %s", m.conf.RefreshSchedule)
	go func() {
		<-stopCh
		<-c.Stop().Done()
		log.Infof("usage refresh stopped")
	}()
	return nil
}

// aggregateKey identifies one summed quota across subscriptions
type aggregateKey struct {
	serviceType schema.ServiceType
	quotaName   string
	location    string
}

// compareAggregateKeys orders by service type, then quota name, then location
func compareAggregateKeys(a, b interface{}) int {
	x, y := a.(aggregateKey), b.(aggregateKey)
	if c := utils.StringComparator(string(x.serviceType), string(y.serviceType)); c != 0 {
		return c
	}
	if c := utils.StringComparator(x.quotaName, y.quotaName); c != 0 {
		return c
	}
	return utils.StringComparator(x.location, y.location)
}

// GetUsage returns stored usage records. An empty or aggregate subscription sums
// limits and current values across subscriptions, ordered by service type and quota.
func (m *Manager) GetUsage(ctx context.Context, subscriptionID, location string, serviceType schema.ServiceType) ([]model.CapacityRecord, error) {
	aggregate := subscriptionID == "" || subscriptionID == schema.AggregateSubscription
	filter := storage.CapacityFilter{Location: location, ServiceType: serviceType}
	if !aggregate {
		filter.SubscriptionID = subscriptionID
	}
	records, err := m.store.Query(filter)
	if err != nil {
		return nil, err
	}
	if !aggregate {
		return records, nil
	}

	sums := treemap.NewWith(compareAggregateKeys)
	for _, r := range records {
		key := aggregateKey{serviceType: r.ServiceType, quotaName: r.QuotaName, location: r.Location}
		if value, found := sums.Get(key); found {
			sum := value.(*model.CapacityRecord)
			sum.Limit += r.Limit
			sum.CurrentValue += r.CurrentValue
			if r.ObservedAt.Before(sum.ObservedAt) {
				sum.ObservedAt = r.ObservedAt
			}
			continue
		}
		sums.Put(key, &model.CapacityRecord{
			SubscriptionID: schema.AggregateSubscription,
			ServiceType:    r.ServiceType,
			Location:       r.Location,
			QuotaName:      r.QuotaName,
			Limit:          r.Limit,
			CurrentValue:   r.CurrentValue,
			ObservedAt:     r.ObservedAt,
		})
	}
	result := make([]model.CapacityRecord, 0, sums.Size())
	for _, value := range sums.Values() {
		result = append(result, *value.(*model.CapacityRecord))
	}
	return result, nil
}

// MetricsSource reports stored usage to the capacity collector
func (m *Manager) MetricsSource() metrics.ListCapacityFunc {
	return func() []metrics.CapacityUsage {
		records, err := m.store.Query(storage.CapacityFilter{})
		if err != nil {
			log.Errorf("list usage for metrics failed, err: %v", err)
			return nil
		}
		usages := make([]metrics.CapacityUsage, 0, len(records))
		for _, r := range records {
			usages = append(usages, metrics.CapacityUsage{
				SubscriptionID: r.SubscriptionID,
				Location:       r.Location,
				ServiceType:    string(r.ServiceType),
				Quota:          r.QuotaName,
				Limit:          r.Limit,
				CurrentValue:   r.CurrentValue,
			})
		}
		return usages
	}
}
