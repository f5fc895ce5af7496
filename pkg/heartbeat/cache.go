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

package heartbeat

import (
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map"
)

// Cache holds the latest heartbeat per environment, written by the ingress and read by the monitor
type Cache struct {
	// environment id -> *atomic.Int64 of unix nanoseconds
	cells cmap.ConcurrentMap
}

func NewCache() *Cache {
	return &Cache{cells: cmap.New()}
}

func (c *Cache) cell(envID string) *atomic.Int64 {
	c.cells.SetIfAbsent(envID, new(atomic.Int64))
	value, _ := c.cells.Get(envID)
	return value.(*atomic.Int64)
}

// Record keeps ts if it is newer than the cached value and returns the value kept
func (c *Cache) Record(envID string, ts time.Time) time.Time {
	cell := c.cell(envID)
	nanos := ts.UnixNano()
	for {
		old := cell.Load()
		if old >= nanos {
			return time.Unix(0, old).UTC()
		}
		if cell.CompareAndSwap(old, nanos) {
			return ts
		}
	}
}

func (c *Cache) Latest(envID string) (time.Time, bool) {
	value, ok := c.cells.Get(envID)
	if !ok {
		return time.Time{}, false
	}
	nanos := value.(*atomic.Int64).Load()
	if nanos == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, nanos).UTC(), true
}

func (c *Cache) Forget(envID string) {
	c.cells.Remove(envID)
}
