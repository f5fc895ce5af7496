/*
Copyright (c) 2022 PaddlePaddle Authors. All Rights Reserve.

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
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/cloudpool/resourcebroker/pkg/common/config"
	"github.com/cloudpool/resourcebroker/pkg/storage"
)

const (
	Mysql  = "mysql"
	Sqlite = "sqlite"
	// data init for sqllite
	dsn = "file:resource_broker.db?cache=shared&mode=rwc"
)

// InitStorage opens the configured database, migrates the schema and initializes the stores
func InitStorage(conf *config.StorageConfig, logLevel string) (*gorm.DB, error) {
	driver := strings.ToLower(conf.Driver)
	gormConf := getGormConf(logLevel)
	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case Mysql:
		db, err = initMysqlDB(conf, gormConf)
	default:
		// sqlite is used when no driver is configured
		db, err = initSQLiteDB(gormConf)
	}
	if err != nil {
		return nil, err
	}
	if err = setSqlDBConns(db, conf); err != nil {
		return nil, err
	}
	if err = storage.CreateDatabaseTables(db); err != nil {
		log.Errorf("createDatabaseTables error[%s]", err.Error())
		return nil, err
	}

	log.Debugf("InitStorage success. driver: %s", driver)
	storage.InitStores(db)
	return db, nil
}

func getGormConf(logLevel string) *gorm.Config {
	gormConf := &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   "",
			SingularTable: true,
		},
		Logger: logger.Default.LogMode(logger.Warn),
	}

	if level, err := log.ParseLevel(logLevel); err != nil {
		log.Warningf("Parse log level error[%s], using logger.Default as gormLogger.", err.Error())
	} else if level == log.DebugLevel || level == log.TraceLevel {
		gormConf.Logger = logger.Default.LogMode(logger.Info)
	}
	return gormConf
}

func setSqlDBConns(db *gorm.DB, conf *config.StorageConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		log.Errorf("Get DB.DB error[%s]", err.Error())
		return err
	}

	if conf.MaxIdleConns == nil {
		conf.MaxIdleConns = new(int)
		*conf.MaxIdleConns = 5
	}
	sqlDB.SetMaxIdleConns(*conf.MaxIdleConns)

	if conf.MaxOpenConns == nil {
		conf.MaxOpenConns = new(int)
		*conf.MaxOpenConns = 10
	}
	sqlDB.SetMaxOpenConns(*conf.MaxOpenConns)

	if conf.ConnMaxLifetimeInHours == nil {
		conf.ConnMaxLifetimeInHours = new(int)
		*conf.ConnMaxLifetimeInHours = 1
	}
	sqlDB.SetConnMaxLifetime(time.Hour * time.Duration(*conf.ConnMaxLifetimeInHours))
	return nil
}

func initSQLiteDB(gormConf *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), gormConf)
	if err != nil {
		log.Errorf("initSQLiteDB error[%s]", err.Error())
		return nil, err
	}
	log.Debugf("init sqlite DB success")
	return db, nil
}

func initMysqlDB(dbConf *config.StorageConfig, gormConf *gorm.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		dbConf.User, dbConf.Password, dbConf.Host, dbConf.Port, dbConf.Database)
	if dbConf.ConnectTimeoutInSeconds > 0 {
		dsn = fmt.Sprintf("%s&timeout=%ds", dsn, dbConf.ConnectTimeoutInSeconds)
	}
	db, err := gorm.Open(mysql.Open(dsn), gormConf)
	if err != nil {
		log.Errorf("initMysqlDB error[%s]", err.Error())
		return nil, err
	}
	log.Debugf("init mysql DB success")
	return db, nil
}
