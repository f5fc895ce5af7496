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

package pool

import (
	"context"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/cloudpool/resourcebroker/pkg/common/config"
	"github.com/cloudpool/resourcebroker/pkg/model"
	"github.com/cloudpool/resourcebroker/pkg/storage"
)

const defaultRefreshSchedule = "@every 1m"

// Publisher receives the full set of pools of every cycle, a pool missing from the set is drained
type Publisher interface {
	Publish(pools []model.ResourcePool)
}

// RefreshPoolScaleTargetsJob recomputes the desired inventory of every pool from the catalog
type RefreshPoolScaleTargetsJob struct {
	conf      config.PoolConfig
	catalog   *config.Catalog
	settings  storage.PoolSettingStoreInterface
	publisher Publisher
}

func NewRefreshPoolScaleTargetsJob(conf config.PoolConfig, catalog *config.Catalog,
	settings storage.PoolSettingStoreInterface, publisher Publisher) *RefreshPoolScaleTargetsJob {
	return &RefreshPoolScaleTargetsJob{
		conf:      conf,
		catalog:   catalog,
		settings:  settings,
		publisher: publisher,
	}
}

// Compute flattens the catalog, groups it by definition and merges the operator settings
func (j *RefreshPoolScaleTargetsJob) Compute() ([]model.ResourcePool, error) {
	targets, err := FlattenCatalog(j.catalog)
	if err != nil {
		return nil, err
	}
	definitions, err := GroupTargets(targets)
	if err != nil {
		return nil, err
	}
	settings, err := j.settings.List()
	if err != nil {
		log.Errorf("list pool settings failed, err: %v", err)
		return nil, err
	}
	return ToResourcePools(MergeOverrides(definitions, settings))
}

func (j *RefreshPoolScaleTargetsJob) Run(ctx context.Context) error {
	pools, err := j.Compute()
	if err != nil {
		log.Errorf("compute pool scale targets failed, err: %v", err)
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, p := range pools {
		log.Debugf("pool %s %s/%s target %d effective %d", p.Code, p.Type, p.Location, p.TargetCount, p.EffectiveTarget())
	}
	j.publisher.Publish(pools)
	log.Infof("published %d pool scale targets", len(pools))
	return nil
}

// Start schedules Run until stopCh is closed
func (j *RefreshPoolScaleTargetsJob) Start(stopCh <-chan struct{}) error {
	schedule := j.conf.RefreshSchedule
	if schedule == "" {
		schedule = defaultRefreshSchedule
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		_ = j.Run(context.Background())
	})
	if err != nil {
		log.Errorf("invalid pool refresh schedule %q, err: %v", schedule, err)
		return err
	}
	c.Start()
	log.Infof("pool scale target refresh scheduled %s", schedule)
	go func() {
		<-stopCh
		<-c.Stop().Done()
		log.Infof("pool scale target refresh stopped")
	}()
	return nil
}
