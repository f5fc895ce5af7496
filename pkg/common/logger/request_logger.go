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
	log "github.com/sirupsen/logrus"
)

func LoggerForOperation(operationID, handlerName string) *log.Entry {
	return log.WithFields(log.Fields{
		"OperationID": operationID,
		"Handler":     handlerName,
	})
}

func LoggerForResource(resourceID string) *log.Entry {
	return log.WithFields(log.Fields{
		"ResourceID": resourceID,
	})
}

func LoggerForPool(poolCode string) *log.Entry {
	return log.WithFields(log.Fields{
		"PoolCode": poolCode,
	})
}

func LoggerForEnvironment(environmentID string) *log.Entry {
	return log.WithFields(log.Fields{
		"EnvironmentID": environmentID,
	})
}
