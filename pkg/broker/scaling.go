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

package broker

import (
	"context"
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"github.com/smallnest/chanx"
	lock "github.com/viney-shih/go-lock"
	"golang.org/x/sync/errgroup"

	"github.com/cloudpool/resourcebroker/pkg/common/logger"
	"github.com/cloudpool/resourcebroker/pkg/metrics"
	"github.com/cloudpool/resourcebroker/pkg/model"
	"github.com/cloudpool/resourcebroker/pkg/storage"
)

const defaultReconcileConcurrency = 4

type ReconcileReport struct {
	Pools   int
	Created int
	Deleted int
}

// ScalingHandler converges every pool to its effective target
type ScalingHandler struct {
	broker *Broker
	// published pool sets waiting for reconcile
	targets *chanx.UnboundedChan
	// reconciles never overlap, a publish arriving meanwhile waits in targets
	reconcileLock *lock.CASMutex
}

func NewScalingHandler(b *Broker) *ScalingHandler {
	return &ScalingHandler{
		broker:        b,
		targets:       chanx.NewUnboundedChan(100),
		reconcileLock: lock.NewCASMutex(),
	}
}

// Publish hands a computed pool set over without blocking the publisher
func (s *ScalingHandler) Publish(pools []model.ResourcePool) {
	s.targets.In <- pools
}

// Run reconciles every published pool set until stopCh is closed
func (s *ScalingHandler) Run(stopCh <-chan struct{}) {
	log.Infof("start scaling handler")
	go func() {
		for {
			select {
			case <-stopCh:
				log.Infof("stop scaling handler")
				return
			case value, ok := <-s.targets.Out:
				if !ok {
					return
				}
				pools := value.([]model.ResourcePool)
				report, err := s.Reconcile(context.Background(), pools)
				if err != nil {
					log.Errorf("reconcile %d pools failed, err: %v", len(pools), err)
					continue
				}
				log.Infof("reconcile %d pools: %d created, %d deleted", report.Pools, report.Created, report.Deleted)
			}
		}
	}()
}

// Reconcile persists the pool set and creates or deletes members until each pool holds its target.
// Pools missing from the set drain to zero.
func (s *ScalingHandler) Reconcile(ctx context.Context, pools []model.ResourcePool) (*ReconcileReport, error) {
	if !s.reconcileLock.TryLock() {
		return nil, fmt.Errorf("another reconcile is running")
	}
	defer s.reconcileLock.Unlock()

	if err := storage.ResourcePool.ReplaceAll(pools); err != nil {
		return nil, err
	}
	targets := make(map[string]model.ResourcePool, len(pools))
	for _, rp := range pools {
		targets[rp.Code] = rp
	}
	liveCodes, err := storage.Resource.ListLivePoolCodes()
	if err != nil {
		return nil, err
	}
	for _, code := range liveCodes {
		if _, ok := targets[code]; !ok {
			disabled := false
			targets[code] = model.ResourcePool{Code: code, OverrideIsEnabled: &disabled}
		}
	}

	concurrency := s.broker.conf.ReconcileConcurrency
	if concurrency <= 0 {
		concurrency = defaultReconcileConcurrency
	}
	var created, deleted int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, rp := range targets {
		rp := rp
		g.Go(func() error {
			c, d, err := s.reconcilePool(gctx, &rp)
			atomic.AddInt64(&created, int64(c))
			atomic.AddInt64(&deleted, int64(d))
			return err
		})
	}
	err = g.Wait()
	return &ReconcileReport{Pools: len(targets), Created: int(created), Deleted: int(deleted)}, err
}

func (s *ScalingHandler) reconcilePool(ctx context.Context, rp *model.ResourcePool) (int, int, error) {
	entry := logger.LoggerForPool(rp.Code)
	count, err := storage.Resource.CountByPool(rp.Code)
	if err != nil {
		return 0, 0, err
	}
	target := int64(rp.EffectiveTarget())
	delta := target - count.Live()
	switch {
	case delta > 0:
		entry.Infof("pool has %d live of %d, create %d", count.Live(), target, delta)
		n, err := s.scaleUp(ctx, rp, int(delta))
		metrics.ObserveReconcile(rp.Code, metrics.ActionCreate, n)
		return n, 0, err
	case delta < 0:
		// in-flight creations are left to finish, they cover their share of the surplus
		surplus := count.Ready - target
		if surplus <= 0 {
			entry.Infof("pool has %d live of %d, %d still provisioning", count.Live(), target, count.Provisioning)
			return 0, 0, nil
		}
		entry.Infof("pool has %d ready of %d, delete %d", count.Ready, target, surplus)
		n, err := s.scaleDown(ctx, rp, int(surplus))
		metrics.ObserveReconcile(rp.Code, metrics.ActionDelete, n)
		return 0, n, err
	}
	return 0, 0, nil
}

func (s *ScalingHandler) scaleUp(ctx context.Context, rp *model.ResourcePool, n int) (int, error) {
	skuName := ""
	if len(rp.LogicalSkus) > 0 {
		skuName = rp.LogicalSkus[0]
	}
	for i := 0; i < n; i++ {
		rec := &model.ResourceRecord{
			Type:            rp.Type,
			PoolCode:        rp.Code,
			PoolVersionCode: rp.VersionCode,
			Dimensions:      rp.Dimensions,
			Location:        rp.Location,
			SkuName:         skuName,
		}
		if err := storage.Resource.Create(rec); err != nil {
			return i, err
		}
		if _, err := s.broker.submitCreate(ctx, rec.ID); err != nil {
			return i, err
		}
	}
	return n, nil
}

func (s *ScalingHandler) scaleDown(ctx context.Context, rp *model.ResourcePool, n int) (int, error) {
	claimed, err := storage.Resource.ClaimForDelete(rp.Code, n)
	if err != nil {
		return 0, err
	}
	for i, rec := range claimed {
		if _, err := s.broker.DeleteResource(ctx, rec.ID, "pool above target"); err != nil {
			return i, err
		}
	}
	return len(claimed), nil
}

// MetricsSource reports pool inventory to the pool collector
func (s *ScalingHandler) MetricsSource() metrics.ListPoolInventoryFunc {
	return func() []metrics.PoolInventory {
		pools, err := storage.ResourcePool.List()
		if err != nil {
			log.Errorf("list pools for metrics failed, err: %v", err)
			return nil
		}
		inventory := make([]metrics.PoolInventory, 0, len(pools))
		for _, rp := range pools {
			count, err := storage.Resource.CountByPool(rp.Code)
			if err != nil {
				log.Errorf("count pool %s for metrics failed, err: %v", rp.Code, err)
				continue
			}
			inventory = append(inventory, metrics.PoolInventory{
				PoolCode:     rp.Code,
				Type:         string(rp.Type),
				Location:     rp.Location,
				Ready:        count.Ready,
				Provisioning: count.Provisioning,
				Assigned:     count.Assigned,
				Target:       int64(rp.EffectiveTarget()),
			})
		}
		return inventory
	}
}
