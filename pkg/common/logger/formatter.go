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
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// [2006-01-02T15:04:05Z07:00][INFO][/fileName.go:10][OperationID:op-1] Log message
	defaultLogFormat       = "[%time%][%lvl%][%file%]%customFields% %msg%\n"
	defaultTimestampFormat = time.RFC3339Nano
)

// Formatter implements logrus.Formatter interface.
type Formatter struct {
	TimestampFormat string
	// LogFormat supports %time%, %lvl%, %file%, %customFields% and %msg%
	LogFormat string
}

func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	output := f.LogFormat
	if output == "" {
		output = defaultLogFormat
	}
	timestampFormat := f.TimestampFormat
	if timestampFormat == "" {
		timestampFormat = defaultTimestampFormat
	}

	output = strings.Replace(output, "%time%", entry.Time.Format(timestampFormat), 1)
	output = strings.Replace(output, "%msg%", entry.Message, 1)
	output = strings.Replace(output, "%lvl%", strings.ToUpper(entry.Level.String()), 1)
	file := ""
	if entry.HasCaller() {
		file = fmt.Sprintf("%s:%d", entry.Caller.File, entry.Caller.Line)
	}
	output = strings.Replace(output, "%file%", file, 1)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var customFields strings.Builder
	for _, k := range keys {
		switch v := entry.Data[k].(type) {
		case nil:
			customFields.WriteString(fmt.Sprintf("[%s]", k))
		case error:
			customFields.WriteString(fmt.Sprintf("[%s:%s]", k, v.Error()))
		default:
			customFields.WriteString(fmt.Sprintf("[%s:%v]", k, v))
		}
	}
	output = strings.Replace(output, "%customFields%", customFields.String(), 1)
	return []byte(output), nil
}
