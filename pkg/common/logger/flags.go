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
	"github.com/urfave/cli/v2"
)

// LogFlags binds the log section to cli flags, values loaded from yaml act as defaults
func LogFlags(logConf *LogConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-dir",
			Value:       logConf.Dir,
			Usage:       "directory of log",
			Destination: &logConf.Dir,
		},
		&cli.StringFlag{
			Name:        "log-file-prefix",
			Value:       logConf.FilePrefix,
			Usage:       "prefix of log file",
			Destination: &logConf.FilePrefix,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Value:       logConf.Level,
			Usage:       "log level",
			Destination: &logConf.Level,
		},
		&cli.StringFlag{
			Name:        "log-formatter",
			Value:       logConf.Formatter,
			Usage:       "log formatter, json, text or empty for the default one",
			Destination: &logConf.Formatter,
		},
		&cli.BoolFlag{
			Name:        "log-is-compress",
			Value:       logConf.IsCompress,
			Usage:       "log compress",
			Destination: &logConf.IsCompress,
		},
		&cli.IntFlag{
			Name:        "log-max-keep-days",
			Value:       logConf.MaxKeepDays,
			Usage:       "log max keep days",
			Destination: &logConf.MaxKeepDays,
		},
		&cli.IntFlag{
			Name:        "log-max-file-num",
			Value:       logConf.MaxFileNum,
			Usage:       "log max file number",
			Destination: &logConf.MaxFileNum,
		},
		&cli.IntFlag{
			Name:        "log-max-file-size-in-mb",
			Value:       logConf.MaxFileSizeInMB,
			Usage:       "log max file size in MiB",
			Destination: &logConf.MaxFileSizeInMB,
		},
	}
}
