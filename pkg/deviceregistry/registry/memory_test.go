package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/vpbank/device_registry/models"
)

func seedDevice(t *testing.T, s *MemoryStore, dev models.Device) int64 {
	t.Helper()
	id, err := s.InsertDevice(context.Background(), &dev)
	if err != nil {
		t.Fatalf("InsertDevice(%s): %v", dev.Hostname, err)
	}
	return id
}

func TestInsertDeviceEnforcesUniqueHostname(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	seedDevice(t, s, models.Device{Hostname: "sw1.example.com"})

	_, err := s.InsertDevice(ctx, &models.Device{Hostname: "sw1.example.com"})
	if !errors.Is(err, models.ErrPersistenceFailure) {
		t.Fatalf("duplicate insert err = %v, want ErrPersistenceFailure", err)
	}

	exists, err := s.DeviceExists(ctx, "sw1.example.com", 0)
	if err != nil || !exists {
		t.Fatalf("DeviceExists = %v, %v", exists, err)
	}

	// Excluding the device's own ID supports re-validation.
	exists, _ = s.DeviceExists(ctx, "sw1.example.com", 1)
	if exists {
		t.Fatal("DeviceExists should exclude the candidate's own id")
	}
}

func TestFindByAddressMatchesContextExactly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	seedDevice(t, s, models.Device{Hostname: "a", IP: "10.0.0.5", SNMPPort: 161})
	seedDevice(t, s, models.Device{Hostname: "b", IP: "10.0.0.5", SNMPPort: 161, SNMPContext: "vrf-mgmt"})
	seedDevice(t, s, models.Device{Hostname: "c", IP: "10.0.0.5", SNMPPort: 1161})

	got, err := s.FindByAddress(ctx, "10.0.0.5", 161, "", 0)
	if err != nil {
		t.Fatalf("FindByAddress: %v", err)
	}
	if len(got) != 1 || got[0].Hostname != "a" {
		t.Fatalf("empty context matched %d devices, want only %q", len(got), "a")
	}

	got, _ = s.FindByAddress(ctx, "10.0.0.5", 161, "vrf-mgmt", 0)
	if len(got) != 1 || got[0].Hostname != "b" {
		t.Fatalf("context match = %d devices", len(got))
	}
}

func TestFindByEngineIDSkipsDisabled(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	seedDevice(t, s, models.Device{Hostname: "up", SNMPEngineID: "80001f888070"})
	seedDevice(t, s, models.Device{Hostname: "off", SNMPEngineID: "80001f888070", Disabled: true})

	got, err := s.FindByEngineID(ctx, "80001f888070", 0)
	if err != nil {
		t.Fatalf("FindByEngineID: %v", err)
	}
	if len(got) != 1 || got[0].Hostname != "up" {
		t.Fatalf("got %d devices, want the enabled one", len(got))
	}
}

func TestFindBySysNameIsCaseInsensitive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	seedDevice(t, s, models.Device{Hostname: "sw1", SysName: "Core-SW1.example.com", OS: "ios"})

	got, err := s.FindBySysName(ctx, "core-sw1.example.com", 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("FindBySysName = %d devices, %v", len(got), err)
	}

	got, _ = s.FindBySysNameOS(ctx, "core-sw1.example.com", "junos", 0)
	if len(got) != 0 {
		t.Fatalf("FindBySysNameOS with wrong os matched %d devices", len(got))
	}
}

func TestDeleteRowsHonoursWhitelist(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id := seedDevice(t, s, models.Device{Hostname: "victim"})
	s.SeedRows(PortsTable, id, 3)

	n, err := s.DeleteRows(ctx, PortsTable, id)
	if err != nil || n != 3 {
		t.Fatalf("DeleteRows(ports) = %d, %v", n, err)
	}

	if _, err := s.DeleteRows(ctx, "devices; DROP TABLE devices", id); !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("off-whitelist table err = %v, want ErrUnknownTable", err)
	}
}

func TestDeviceAttributes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id := seedDevice(t, s, models.Device{Hostname: "sw1"})

	if _, ok, _ := s.DeviceAttribute(ctx, id, "ping_skip"); ok {
		t.Fatal("attribute present before set")
	}
	if err := s.SetDeviceAttribute(ctx, id, "ping_skip", "1"); err != nil {
		t.Fatalf("SetDeviceAttribute: %v", err)
	}
	value, ok, err := s.DeviceAttribute(ctx, id, "ping_skip")
	if err != nil || !ok || value != "1" {
		t.Fatalf("DeviceAttribute = %q, %v, %v", value, ok, err)
	}
}
