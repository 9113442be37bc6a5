package registry

import (
	"context"
	"testing"

	"github.com/vpbank/device_registry/models"
)

func TestDeviceCacheInvalidate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id := seedDevice(t, s, models.Device{Hostname: "sw1", OS: "ios"})

	cache := NewDeviceCache(s, 8)

	dev, err := cache.GetDevice(ctx, id)
	if err != nil || dev.OS != "ios" {
		t.Fatalf("GetDevice = %+v, %v", dev, err)
	}

	// A store-side change is invisible until the entry is invalidated.
	if err := s.UpdateDeviceOS(ctx, id, "nxos"); err != nil {
		t.Fatalf("UpdateDeviceOS: %v", err)
	}
	dev, _ = cache.GetDevice(ctx, id)
	if dev.OS != "ios" {
		t.Fatalf("cached OS = %q, want stale ios", dev.OS)
	}

	cache.Invalidate(id)
	dev, _ = cache.GetDevice(ctx, id)
	if dev.OS != "nxos" {
		t.Fatalf("post-invalidate OS = %q, want nxos", dev.OS)
	}
}

func TestDeviceCacheBounded(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var ids []int64
	for _, h := range []string{"a", "b", "c", "d"} {
		ids = append(ids, seedDevice(t, s, models.Device{Hostname: h}))
	}

	cache := NewDeviceCache(s, 2)
	for _, id := range ids {
		if _, err := cache.GetDevice(ctx, id); err != nil {
			t.Fatalf("GetDevice(%d): %v", id, err)
		}
	}
	if cache.Len() != 2 {
		t.Fatalf("cache holds %d entries, want 2", cache.Len())
	}
}
