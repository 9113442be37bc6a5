// Package registry is the device repository: logical reads and writes over
// the device table and its dependent rows. The resolver asks it identity
// questions, the lifecycle orchestrator inserts, deletes, and audits through
// it. Physical storage is PostgreSQL; an in-memory store backs tests and
// DSN-less deployments.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vpbank/device_registry/eventlog"
	"github.com/vpbank/device_registry/models"
)

var (
	// ErrDeviceNotFound is returned when a device lookup matches nothing.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrInvalidDevice is returned when a device fails basic validation.
	ErrInvalidDevice = errors.New("invalid device")
	// ErrUnknownTable is returned for a cascade delete against a table not
	// on the whitelist.
	ErrUnknownTable = errors.New("unknown table")
)

// ─────────────────────────────────────────────────────────────────────────────
// Cascade table lists
// ─────────────────────────────────────────────────────────────────────────────

// PortsTable holds the device's interfaces; deleted first so per-port rows
// go with them.
const PortsTable = "ports"

// AutodiscoveryTable links devices discovered through other devices.
const AutodiscoveryTable = "autodiscovery"

// EntityTables are the polymorphic entity tables, keyed by entity type, in
// deletion order.
var EntityTables = []struct{ Type, Table string }{
	{"sensor", "sensors"},
	{"processor", "processors"},
	{"mempool", "mempools"},
	{"storage", "storage"},
	{"printersupply", "printersupplies"},
	{"status", "status_entries"},
}

// DeviceTables are the device-scoped tables cleaned after the entity tables.
var DeviceTables = []string{
	"device_attribs",
	"device_graphs",
	"poller_history",
	"eventlog",
}

// deletableTables is the whitelist DeleteRows accepts.
var deletableTables = func() map[string]bool {
	m := map[string]bool{PortsTable: true, AutodiscoveryTable: true}
	for _, e := range EntityTables {
		m[e.Table] = true
	}
	for _, t := range DeviceTables {
		m[t] = true
	}
	return m
}()

// ─────────────────────────────────────────────────────────────────────────────
// Remote-poller action queue
// ─────────────────────────────────────────────────────────────────────────────

// Action is a queued lifecycle request for a device owned by another poller.
// The owning poller drains its queue and performs the probe itself.
type Action struct {
	ID        uuid.UUID         `json:"id"`
	PollerID  int               `json:"poller_id"`
	Action    string            `json:"action"` // "add_device"
	Hostname  string            `json:"hostname"`
	Params    map[string]string `json:"params,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Store
// ─────────────────────────────────────────────────────────────────────────────

// Store is the repository interface consumed by resolver and lifecycle.
// Every lookup that supports re-validation of an existing record takes an
// excludeID; pass 0 for a brand-new candidate. All device lookups exclude
// nothing else: disabled devices are filtered only where documented.
type Store interface {
	eventlog.EventStore

	// DeviceExists reports whether a non-deleted device with this exact
	// hostname exists, excluding excludeID.
	DeviceExists(ctx context.Context, hostname string, excludeID int64) (bool, error)

	// GetDevice fetches one device by ID; ErrDeviceNotFound when absent.
	GetDevice(ctx context.Context, deviceID int64) (*models.Device, error)

	// GetDeviceByHostname fetches one device by exact hostname.
	GetDeviceByHostname(ctx context.Context, hostname string) (*models.Device, error)

	// ListDevices returns all devices ordered by device_id.
	ListDevices(ctx context.Context) ([]*models.Device, error)

	// FindByAddress returns devices sharing the resolved IP, SNMP port and
	// SNMP context. An empty context matches only an empty context.
	FindByAddress(ctx context.Context, ip string, port int, snmpContext string, excludeID int64) ([]*models.Device, error)

	// FindByEngineID returns enabled devices with this snmpEngineID.
	FindByEngineID(ctx context.Context, engineID string, excludeID int64) ([]*models.Device, error)

	// FindBySysName returns enabled devices whose sysName matches
	// case-insensitively.
	FindBySysName(ctx context.Context, sysName string, excludeID int64) ([]*models.Device, error)

	// FindBySysNameOS narrows FindBySysName by resolved OS; used when the
	// candidate reports an empty sysName.
	FindBySysNameOS(ctx context.Context, sysName, os string, excludeID int64) ([]*models.Device, error)

	// InsertDevice persists dev and returns the new device_id. A hostname
	// unique-constraint violation maps to models.ErrPersistenceFailure so
	// concurrent adds of the same hostname cannot both succeed.
	InsertDevice(ctx context.Context, dev *models.Device) (int64, error)

	// UpdateDeviceOS updates the resolved os of one device.
	UpdateDeviceOS(ctx context.Context, deviceID int64, os string) error

	// DeleteDevice removes the device row itself.
	DeleteDevice(ctx context.Context, deviceID int64) error

	// DeleteRows removes all rows for deviceID from one whitelisted
	// dependent table and returns the count removed.
	DeleteRows(ctx context.Context, table string, deviceID int64) (int64, error)

	// DeviceAttribute fetches one per-device attribute (ping_skip,
	// entPhysicalIndex, ...); the bool reports presence.
	DeviceAttribute(ctx context.Context, deviceID int64, key string) (string, bool, error)

	// SetDeviceAttribute upserts one per-device attribute.
	SetDeviceAttribute(ctx context.Context, deviceID int64, key, value string) error

	// PollerExists reports whether a poller with this ID is registered.
	PollerExists(ctx context.Context, pollerID int) (bool, error)

	// QueuedAction reports whether an add for hostname is already queued
	// for pollerID.
	QueuedAction(ctx context.Context, pollerID int, hostname string) (bool, error)

	// EnqueueAction appends one action to the remote-poller queue.
	EnqueueAction(ctx context.Context, action Action) error
}
