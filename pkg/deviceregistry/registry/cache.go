package registry

import (
	"container/list"
	"context"
	"sync"

	"github.com/vpbank/device_registry/models"
)

// DeviceCache is a bounded LRU read cache over Store.GetDevice. Lifecycle
// operations that change a device call Invalidate so readers never see a
// deleted or re-identified device from cache.
type DeviceCache struct {
	mu    sync.Mutex
	store Store
	max   int
	order *list.List
	byID  map[int64]*list.Element
}

type cacheEntry struct {
	id  int64
	dev models.Device
}

// NewDeviceCache wraps store with a cache of at most max entries; max <= 0
// defaults to 1024.
func NewDeviceCache(store Store, max int) *DeviceCache {
	if max <= 0 {
		max = 1024
	}
	return &DeviceCache{
		store: store,
		max:   max,
		order: list.New(),
		byID:  make(map[int64]*list.Element),
	}
}

// GetDevice returns the cached device or reads through to the store.
func (c *DeviceCache) GetDevice(ctx context.Context, deviceID int64) (*models.Device, error) {
	c.mu.Lock()
	if el, ok := c.byID[deviceID]; ok {
		c.order.MoveToFront(el)
		dev := el.Value.(*cacheEntry).dev
		c.mu.Unlock()
		return &dev, nil
	}
	c.mu.Unlock()

	dev, err := c.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[deviceID]; !ok {
		el := c.order.PushFront(&cacheEntry{id: deviceID, dev: *dev})
		c.byID[deviceID] = el
		if c.order.Len() > c.max {
			oldest := c.order.Back()
			c.order.Remove(oldest)
			delete(c.byID, oldest.Value.(*cacheEntry).id)
		}
	}
	return dev, nil
}

// Invalidate drops one device from the cache.
func (c *DeviceCache) Invalidate(deviceID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.byID[deviceID]; ok {
		c.order.Remove(el)
		delete(c.byID, deviceID)
	}
}

// Len reports the current number of cached devices.
func (c *DeviceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
