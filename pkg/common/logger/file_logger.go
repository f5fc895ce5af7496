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

package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rifflock/lfshook"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	hostNameHolder = "{HOSTNAME}"
)

type LogConfig struct {
	Dir             string `yaml:"dir"`
	FilePrefix      string `yaml:"filePrefix"`
	Level           string `yaml:"level"`
	MaxKeepDays     int    `yaml:"maxKeepDays"`
	MaxFileNum      int    `yaml:"maxFileNum"`
	MaxFileSizeInMB int    `yaml:"maxFileSizeInMB"`
	IsCompress      bool   `yaml:"isCompress"`
	Formatter       string `yaml:"formatter"`
}

// InitStandardFileLogger configures the logrus standard logger, which every package logs through
func InitStandardFileLogger(logConf *LogConfig) error {
	return InitFileLogger(log.StandardLogger(), logConf)
}

// InitFileLogger sets level and formatter of logger and mirrors every level into a rotating file.
// An empty Dir keeps the logger on stderr only.
func InitFileLogger(logger *log.Logger, logConf *LogConfig) error {
	level, err := log.ParseLevel(logConf.Level)
	if err != nil {
		fmt.Printf("failed to parse logger level: %v\n", err)
		return err
	}
	logger.SetLevel(level)
	logger.SetReportCaller(true)
	logger.SetFormatter(newFormatter(logConf.Formatter))

	if logConf.Dir == "" {
		return nil
	}
	logPath, err := logFilePath(logConf)
	if err != nil {
		fmt.Printf("failed to resolve log file: %v\n", err)
		return err
	}
	fmt.Printf("logPath:%s\n", logPath)
	writer := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logConf.MaxFileSizeInMB,
		MaxAge:     logConf.MaxKeepDays,
		MaxBackups: logConf.MaxFileNum,
		LocalTime:  true,
		Compress:   logConf.IsCompress,
	}
	writers := lfshook.WriterMap{}
	for _, l := range log.AllLevels {
		writers[l] = writer
	}
	logger.AddHook(lfshook.NewHook(writers, logger.Formatter))
	return nil
}

// logFilePath expands the hostname placeholder so that replicas sharing a volume keep separate files
func logFilePath(logConf *LogConfig) (string, error) {
	name := logConf.FilePrefix
	if strings.Contains(name, hostNameHolder) {
		hostname, err := os.Hostname()
		if err != nil {
			return "", err
		}
		name = strings.ReplaceAll(name, hostNameHolder, hostname)
	}
	return filepath.Join(logConf.Dir, name), nil
}

func newFormatter(name string) log.Formatter {
	switch {
	case strings.EqualFold(name, "json"):
		return &log.JSONFormatter{}
	case strings.EqualFold(name, "text"):
		return &log.TextFormatter{}
	}
	return &Formatter{
		TimestampFormat: time.RFC3339Nano,
	}
}
