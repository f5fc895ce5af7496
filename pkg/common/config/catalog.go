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

package config

import (
	"fmt"
	"sort"

	"github.com/cloudpool/resourcebroker/pkg/common/schema"
)

// Catalog is the immutable view of subscriptions, skus and image families.
// It is built once at startup and handed to every component that needs it.
type Catalog struct {
	subscriptions []SubscriptionConfig
	subByID       map[string]SubscriptionConfig
	skus          []SkuConfig
	skuByName     map[string]SkuConfig
	families      map[string]ImageFamilyConfig
}

func NewCatalog(conf *ServerConfig) (*Catalog, error) {
	c := &Catalog{
		subByID:   make(map[string]SubscriptionConfig),
		skuByName: make(map[string]SkuConfig),
		families:  make(map[string]ImageFamilyConfig),
	}
	for _, family := range conf.ImageFamilies {
		if _, exist := c.families[family.Name]; exist {
			return nil, fmt.Errorf("duplicated image family %s", family.Name)
		}
		found := false
		for _, image := range family.Images {
			if image.Name == family.CurrentImage {
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("current image %s of family %s is not declared", family.CurrentImage, family.Name)
		}
		c.families[family.Name] = copyFamily(family)
	}
	for _, sub := range conf.Subscriptions {
		if sub.ID == "" {
			return nil, fmt.Errorf("subscription %s has empty id", sub.Name)
		}
		if _, exist := c.subByID[sub.ID]; exist {
			return nil, fmt.Errorf("duplicated subscription %s", sub.ID)
		}
		sub.Locations = append([]string(nil), sub.Locations...)
		c.subByID[sub.ID] = sub
		c.subscriptions = append(c.subscriptions, sub)
	}
	sort.SliceStable(c.subscriptions, func(i, j int) bool {
		return c.subscriptions[i].ID < c.subscriptions[j].ID
	})
	for _, sku := range conf.Skus {
		if _, exist := c.skuByName[sku.Name]; exist {
			return nil, fmt.Errorf("duplicated sku %s", sku.Name)
		}
		if _, err := schema.ParseComputeOS(sku.ComputeOS); err != nil {
			return nil, fmt.Errorf("sku %s: %v", sku.Name, err)
		}
		if _, exist := c.families[sku.ImageFamily]; !exist {
			return nil, fmt.Errorf("sku %s references unknown image family %s", sku.Name, sku.ImageFamily)
		}
		if sku.HasStorage() {
			if _, exist := c.families[sku.StorageImageFamily]; !exist {
				return nil, fmt.Errorf("sku %s references unknown storage image family %s", sku.Name, sku.StorageImageFamily)
			}
		}
		sku.Locations = append([]string(nil), sku.Locations...)
		c.skuByName[sku.Name] = sku
		c.skus = append(c.skus, sku)
	}
	return c, nil
}

// Subscriptions returns every subscription ordered by id
func (c *Catalog) Subscriptions() []SubscriptionConfig {
	return append([]SubscriptionConfig(nil), c.subscriptions...)
}

func (c *Catalog) EnabledSubscriptions() []SubscriptionConfig {
	var subs []SubscriptionConfig
	for _, s := range c.subscriptions {
		if s.Enabled {
			subs = append(subs, s)
		}
	}
	return subs
}

func (c *Catalog) Subscription(id string) (SubscriptionConfig, bool) {
	s, ok := c.subByID[id]
	return s, ok
}

// Skus returns the logical skus in declaration order
func (c *Catalog) Skus() []SkuConfig {
	return append([]SkuConfig(nil), c.skus...)
}

// Sku looks a logical sku up by name, falling back to its compute sku name
func (c *Catalog) Sku(name string) (SkuConfig, bool) {
	if s, ok := c.skuByName[name]; ok {
		return s, true
	}
	for _, s := range c.skus {
		if s.ComputeSkuName == name {
			return s, true
		}
	}
	return SkuConfig{}, false
}

func (c *Catalog) ImageFamily(name string) (ImageFamilyConfig, bool) {
	f, ok := c.families[name]
	return f, ok
}

// CurrentImage resolves the image a family currently points at
func (c *Catalog) CurrentImage(family string) (ImageConfig, error) {
	f, ok := c.families[family]
	if !ok {
		return ImageConfig{}, fmt.Errorf("unknown image family %s", family)
	}
	for _, image := range f.Images {
		if image.Name == f.CurrentImage {
			return image, nil
		}
	}
	return ImageConfig{}, fmt.Errorf("current image %s of family %s is not declared", f.CurrentImage, family)
}

// Image finds an image of a family by name
func (c *Catalog) Image(family, name string) (ImageConfig, error) {
	f, ok := c.families[family]
	if !ok {
		return ImageConfig{}, fmt.Errorf("unknown image family %s", family)
	}
	for _, image := range f.Images {
		if image.Name == name {
			return image, nil
		}
	}
	return ImageConfig{}, fmt.Errorf("image %s is not part of family %s", name, family)
}

func copyFamily(f ImageFamilyConfig) ImageFamilyConfig {
	f.Images = append([]ImageConfig(nil), f.Images...)
	return f
}
