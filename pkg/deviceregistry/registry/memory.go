package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vpbank/device_registry/eventlog"
	"github.com/vpbank/device_registry/models"
)

// MemoryStore implements Store in process memory. It backs tests and
// DSN-less deployments; semantics mirror PostgresStore, including the
// hostname uniqueness guarantee on insert.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	devices map[int64]*models.Device

	// rows holds dependent-row counts per table per device, standing in
	// for the cascade tables.
	rows map[string]map[int64]int64

	attribs map[int64]map[string]string
	pollers map[int]bool
	actions []Action
	events  []eventlog.Event
}

// NewMemoryStore creates an empty MemoryStore with poller 0 registered.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		devices: make(map[int64]*models.Device),
		rows:    make(map[string]map[int64]int64),
		attribs: make(map[int64]map[string]string),
		pollers: map[int]bool{0: true},
	}
}

// AddPoller registers a poller ID so PollerExists reports it.
func (s *MemoryStore) AddPoller(pollerID int) {
	s.mu.Lock()
	s.pollers[pollerID] = true
	s.mu.Unlock()
}

// SeedRows sets the dependent-row count for one table and device.
func (s *MemoryStore) SeedRows(table string, deviceID int64, count int64) {
	s.mu.Lock()
	if s.rows[table] == nil {
		s.rows[table] = make(map[int64]int64)
	}
	s.rows[table][deviceID] = count
	s.mu.Unlock()
}

// Events returns a copy of the recorded audit events.
func (s *MemoryStore) Events() []eventlog.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]eventlog.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Actions returns a copy of the queued remote-poller actions.
func (s *MemoryStore) Actions() []Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Action, len(s.actions))
	copy(out, s.actions)
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Lookups
// ─────────────────────────────────────────────────────────────────────────────

func (s *MemoryStore) DeviceExists(_ context.Context, hostname string, excludeID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, dev := range s.devices {
		if dev.Hostname == hostname && dev.DeviceID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) GetDevice(_ context.Context, deviceID int64) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	clone := *dev
	return &clone, nil
}

func (s *MemoryStore) GetDeviceByHostname(_ context.Context, hostname string) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, dev := range s.devices {
		if dev.Hostname == hostname {
			clone := *dev
			return &clone, nil
		}
	}
	return nil, ErrDeviceNotFound
}

func (s *MemoryStore) ListDevices(_ context.Context) ([]*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectDevices(func(*models.Device) bool { return true }), nil
}

func (s *MemoryStore) FindByAddress(_ context.Context, ip string, port int, snmpContext string, excludeID int64) ([]*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectDevices(func(d *models.Device) bool {
		return d.IP == ip && d.SNMPPort == port && d.SNMPContext == snmpContext && d.DeviceID != excludeID
	}), nil
}

func (s *MemoryStore) FindByEngineID(_ context.Context, engineID string, excludeID int64) ([]*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectDevices(func(d *models.Device) bool {
		return d.SNMPEngineID == engineID && !d.Disabled && d.DeviceID != excludeID
	}), nil
}

func (s *MemoryStore) FindBySysName(_ context.Context, sysName string, excludeID int64) ([]*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectDevices(func(d *models.Device) bool {
		return strings.EqualFold(d.SysName, sysName) && !d.Disabled && d.DeviceID != excludeID
	}), nil
}

func (s *MemoryStore) FindBySysNameOS(_ context.Context, sysName, os string, excludeID int64) ([]*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectDevices(func(d *models.Device) bool {
		return strings.EqualFold(d.SysName, sysName) && d.OS == os && !d.Disabled && d.DeviceID != excludeID
	}), nil
}

// selectDevices returns clones of matching devices in device_id order.
// Callers must hold at least the read lock.
func (s *MemoryStore) selectDevices(match func(*models.Device) bool) []*models.Device {
	var out []*models.Device
	for id := int64(1); id < s.nextID; id++ {
		dev, ok := s.devices[id]
		if !ok || !match(dev) {
			continue
		}
		clone := *dev
		out = append(out, &clone)
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

func (s *MemoryStore) InsertDevice(_ context.Context, dev *models.Device) (int64, error) {
	if dev == nil || dev.Hostname == "" {
		return 0, ErrInvalidDevice
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.devices {
		if existing.Hostname == dev.Hostname {
			return 0, fmt.Errorf("%w: hostname %q already exists", models.ErrPersistenceFailure, dev.Hostname)
		}
	}

	dev.DeviceID = s.nextID
	s.nextID++
	clone := *dev
	s.devices[dev.DeviceID] = &clone
	return dev.DeviceID, nil
}

func (s *MemoryStore) UpdateDeviceOS(_ context.Context, deviceID int64, os string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}
	dev.OS = os
	return nil
}

func (s *MemoryStore) DeleteDevice(_ context.Context, deviceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[deviceID]; !ok {
		return ErrDeviceNotFound
	}
	delete(s.devices, deviceID)
	delete(s.attribs, deviceID)
	return nil
}

func (s *MemoryStore) DeleteRows(_ context.Context, table string, deviceID int64) (int64, error) {
	if !deletableTables[table] {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.rows[table][deviceID]
	if n > 0 {
		delete(s.rows[table], deviceID)
	}
	return n, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Attributes, pollers, queue, audit
// ─────────────────────────────────────────────────────────────────────────────

func (s *MemoryStore) DeviceAttribute(_ context.Context, deviceID int64, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.attribs[deviceID][key]
	return value, ok, nil
}

func (s *MemoryStore) SetDeviceAttribute(_ context.Context, deviceID int64, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attribs[deviceID] == nil {
		s.attribs[deviceID] = make(map[string]string)
	}
	s.attribs[deviceID][key] = value
	return nil
}

func (s *MemoryStore) PollerExists(_ context.Context, pollerID int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pollers[pollerID], nil
}

func (s *MemoryStore) QueuedAction(_ context.Context, pollerID int, hostname string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.actions {
		if a.PollerID == pollerID && a.Action == "add_device" && a.Hostname == hostname {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) EnqueueAction(_ context.Context, action Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	s.actions = append(s.actions, action)
	return nil
}

func (s *MemoryStore) InsertEvent(_ context.Context, ev eventlog.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}
