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

package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

func columnBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported column value %T", value)
}

type Map map[string]string

func (m *Map) Scan(value interface{}) error {
	bytes, err := columnBytes(value)
	if err != nil {
		return fmt.Errorf("failed to unmarshal Map sturct: %v", err)
	}
	result := map[string]string{}
	if len(bytes) > 0 {
		if err := json.Unmarshal(bytes, &result); err != nil {
			return err
		}
	}
	*m = result
	return nil
}

func (m Map) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(m))
	return string(b), err
}

// String renders the map with sorted keys, e.g. computeOS=Linux,skuName=Standard_D2s_v3
func (m Map) String() string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+m[k])
	}
	return strings.Join(pairs, ",")
}

type StringList []string

func (l *StringList) Scan(value interface{}) error {
	bytes, err := columnBytes(value)
	if err != nil {
		return fmt.Errorf("failed to unmarshal StringList: %v", err)
	}
	var result []string
	if len(bytes) > 0 {
		if err := json.Unmarshal(bytes, &result); err != nil {
			return err
		}
	}
	*l = result
	return nil
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	return string(b), err
}

func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}
