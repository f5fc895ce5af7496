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

package storage

import (
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/cloudpool/resourcebroker/pkg/model"
)

var (
	DB *gorm.DB

	Resource     ResourceStoreInterface
	Capacity     CapacityStoreInterface
	Continuation ContinuationStoreInterface
	ResourcePool ResourcePoolStoreInterface
	PoolSetting  PoolSettingStoreInterface
	Environment  EnvironmentStoreInterface
)

func InitStores(db *gorm.DB) {
	// do not use once.Do() because unit test need to init db twice
	DB = db
	Resource = NewResourceStore(db)
	Capacity = NewCapacityStore(db)
	Continuation = NewContinuationStore(db)
	ResourcePool = NewResourcePoolStore(db)
	PoolSetting = NewPoolSettingStore(db)
	Environment = NewEnvironmentStore(db)
}

func CreateDatabaseTables(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.ResourceRecord{},
		&model.CapacityRecord{},
		&model.Continuation{},
		&model.ResourcePool{},
		&model.PoolSetting{},
		&model.Environment{},
	)
}

// InitMockDB opens an isolated in-memory sqlite database, migrates it and initializes the stores.
// Every call returns a fresh database so that tests do not observe each other.
func InitMockDB() *gorm.DB {
	// github.com/mattn/go-sqlite3
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("InitMockDB open db error: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("InitMockDB get sql db error: %v", err)
	}
	// one connection serializes writers the way a real database row lock would
	sqlDB.SetMaxOpenConns(1)

	if err := CreateDatabaseTables(db); err != nil {
		log.Fatalf("InitMockDB createDatabaseTables error[%s]", err.Error())
	}
	InitStores(db)
	return db
}
