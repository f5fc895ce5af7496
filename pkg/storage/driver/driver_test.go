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

package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloudpool/resourcebroker/pkg/common/config"
	"github.com/cloudpool/resourcebroker/pkg/storage"
)

func TestGetGormConf(t *testing.T) {
	conf := getGormConf("debug")
	assert.NotNil(t, conf.Logger)
	assert.True(t, conf.NamingStrategy != nil)

	conf = getGormConf("not-a-level")
	assert.NotNil(t, conf.Logger)
}

func TestSetSqlDBConnsDefaults(t *testing.T) {
	db := storage.InitMockDB()
	storageConf := &config.StorageConfig{}
	assert.NoError(t, setSqlDBConns(db, storageConf))
	assert.Equal(t, 5, *storageConf.MaxIdleConns)
	assert.Equal(t, 10, *storageConf.MaxOpenConns)
	assert.Equal(t, 1, *storageConf.ConnMaxLifetimeInHours)
}
