package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vpbank/device_registry/eventlog"
	"github.com/vpbank/device_registry/models"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore over an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const deviceColumns = `
	device_id, hostname, ip,
	snmp_version, snmp_transport, snmp_port, snmp_community,
	snmp_authlevel, snmp_authname, snmp_authpass, snmp_authalgo,
	snmp_cryptopass, snmp_cryptoalgo, snmp_context, snmpable_oids,
	sys_object_id, sys_descr, sys_name, snmp_engine_id, location, sys_contact, os,
	status, disabled, poller_id, last_polled, uptime`

// ─────────────────────────────────────────────────────────────────────────────
// Lookups
// ─────────────────────────────────────────────────────────────────────────────

// DeviceExists reports whether a device with this exact hostname exists.
func (s *PostgresStore) DeviceExists(ctx context.Context, hostname string, excludeID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM devices WHERE hostname = $1 AND device_id <> $2)
	`, hostname, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("device exists: %w", err)
	}
	return exists, nil
}

// GetDevice retrieves a device by ID.
func (s *PostgresStore) GetDevice(ctx context.Context, deviceID int64) (*models.Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+deviceColumns+` FROM devices WHERE device_id = $1
	`, deviceID)
	return scanDevice(row)
}

// GetDeviceByHostname retrieves a device by exact hostname.
func (s *PostgresStore) GetDeviceByHostname(ctx context.Context, hostname string) (*models.Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+deviceColumns+` FROM devices WHERE hostname = $1
	`, hostname)
	return scanDevice(row)
}

// ListDevices returns all devices ordered by device_id.
func (s *PostgresStore) ListDevices(ctx context.Context) ([]*models.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deviceColumns+` FROM devices ORDER BY device_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()
	return scanDevices(rows)
}

// FindByAddress returns devices sharing the resolved IP, port and context.
func (s *PostgresStore) FindByAddress(ctx context.Context, ip string, port int, snmpContext string, excludeID int64) ([]*models.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deviceColumns+` FROM devices
		WHERE ip = $1 AND snmp_port = $2 AND snmp_context = $3 AND device_id <> $4
		ORDER BY device_id
	`, ip, port, snmpContext, excludeID)
	if err != nil {
		return nil, fmt.Errorf("find by address: %w", err)
	}
	defer rows.Close()
	return scanDevices(rows)
}

// FindByEngineID returns enabled devices with this snmpEngineID.
func (s *PostgresStore) FindByEngineID(ctx context.Context, engineID string, excludeID int64) ([]*models.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deviceColumns+` FROM devices
		WHERE snmp_engine_id = $1 AND NOT disabled AND device_id <> $2
		ORDER BY device_id
	`, engineID, excludeID)
	if err != nil {
		return nil, fmt.Errorf("find by engine id: %w", err)
	}
	defer rows.Close()
	return scanDevices(rows)
}

// FindBySysName returns enabled devices whose sysName matches
// case-insensitively.
func (s *PostgresStore) FindBySysName(ctx context.Context, sysName string, excludeID int64) ([]*models.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deviceColumns+` FROM devices
		WHERE LOWER(sys_name) = LOWER($1) AND NOT disabled AND device_id <> $2
		ORDER BY device_id
	`, sysName, excludeID)
	if err != nil {
		return nil, fmt.Errorf("find by sysname: %w", err)
	}
	defer rows.Close()
	return scanDevices(rows)
}

// FindBySysNameOS narrows FindBySysName by resolved OS.
func (s *PostgresStore) FindBySysNameOS(ctx context.Context, sysName, os string, excludeID int64) ([]*models.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deviceColumns+` FROM devices
		WHERE LOWER(sys_name) = LOWER($1) AND os = $2 AND NOT disabled AND device_id <> $3
		ORDER BY device_id
	`, sysName, os, excludeID)
	if err != nil {
		return nil, fmt.Errorf("find by sysname/os: %w", err)
	}
	defer rows.Close()
	return scanDevices(rows)
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// InsertDevice persists dev and returns the new device_id. The hostname
// unique constraint is the last line of defence against concurrent adds; a
// violation surfaces as models.ErrPersistenceFailure.
func (s *PostgresStore) InsertDevice(ctx context.Context, dev *models.Device) (int64, error) {
	if dev == nil || dev.Hostname == "" {
		return 0, ErrInvalidDevice
	}

	snmpableJSON, _ := json.Marshal(dev.SNMPableOIDs)

	var lastPolled sql.NullTime
	if !dev.LastPolled.IsZero() {
		lastPolled = sql.NullTime{Time: dev.LastPolled, Valid: true}
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO devices (
			hostname, ip,
			snmp_version, snmp_transport, snmp_port, snmp_community,
			snmp_authlevel, snmp_authname, snmp_authpass, snmp_authalgo,
			snmp_cryptopass, snmp_cryptoalgo, snmp_context, snmpable_oids,
			sys_object_id, sys_descr, sys_name, snmp_engine_id, location, sys_contact, os,
			status, disabled, poller_id, last_polled, uptime
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26
		) RETURNING device_id
	`,
		dev.Hostname, dev.IP,
		string(dev.SNMPVersion), string(dev.SNMPTransport), dev.SNMPPort, dev.SNMPCommunity,
		string(dev.SNMPV3.AuthLevel), dev.SNMPV3.AuthName, dev.SNMPV3.AuthPass, dev.SNMPV3.AuthAlgo,
		dev.SNMPV3.CryptoPass, dev.SNMPV3.CryptoAlgo, dev.SNMPContext, snmpableJSON,
		dev.SysObjectID, dev.SysDescr, dev.SysName, dev.SNMPEngineID, dev.Location, dev.SysContact, dev.OS,
		dev.Status, dev.Disabled, dev.PollerID, lastPolled, dev.Uptime,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: hostname %q already exists", models.ErrPersistenceFailure, dev.Hostname)
		}
		return 0, fmt.Errorf("%w: insert device: %v", models.ErrPersistenceFailure, err)
	}
	dev.DeviceID = id
	return id, nil
}

// UpdateDeviceOS updates the resolved os of one device.
func (s *PostgresStore) UpdateDeviceOS(ctx context.Context, deviceID int64, os string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE devices SET os = $1 WHERE device_id = $2
	`, os, deviceID)
	if err != nil {
		return fmt.Errorf("update device os: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// DeleteDevice removes the device row itself.
func (s *PostgresStore) DeleteDevice(ctx context.Context, deviceID int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM devices WHERE device_id = $1
	`, deviceID)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// DeleteRows removes all rows for deviceID from one dependent table. The
// table name is checked against the whitelist; it is never interpolated from
// caller input beyond that.
func (s *PostgresStore) DeleteRows(ctx context.Context, table string, deviceID int64) (int64, error) {
	if !deletableTables[table] {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	column := "device_id"
	if table == AutodiscoveryTable {
		column = "remote_device_id"
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE `+column+` = $1`, deviceID)
	if err != nil {
		return 0, fmt.Errorf("delete %s rows: %w", table, err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Attributes, pollers, queue, audit
// ─────────────────────────────────────────────────────────────────────────────

// DeviceAttribute fetches one per-device attribute.
func (s *PostgresStore) DeviceAttribute(ctx context.Context, deviceID int64, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT attrib_value FROM device_attribs WHERE device_id = $1 AND attrib_type = $2
	`, deviceID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("device attribute: %w", err)
	}
	return value, true, nil
}

// SetDeviceAttribute upserts one per-device attribute.
func (s *PostgresStore) SetDeviceAttribute(ctx context.Context, deviceID int64, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_attribs (device_id, attrib_type, attrib_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id, attrib_type) DO UPDATE SET attrib_value = $3
	`, deviceID, key, value)
	if err != nil {
		return fmt.Errorf("set device attribute: %w", err)
	}
	return nil
}

// PollerExists reports whether a poller with this ID is registered.
func (s *PostgresStore) PollerExists(ctx context.Context, pollerID int) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM pollers WHERE poller_id = $1)
	`, pollerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("poller exists: %w", err)
	}
	return exists, nil
}

// QueuedAction reports whether an add for hostname is already queued.
func (s *PostgresStore) QueuedAction(ctx context.Context, pollerID int, hostname string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM poller_actions
			WHERE poller_id = $1 AND action = 'add_device' AND hostname = $2
		)
	`, pollerID, hostname).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("queued action: %w", err)
	}
	return exists, nil
}

// EnqueueAction appends one action to the remote-poller queue.
func (s *PostgresStore) EnqueueAction(ctx context.Context, action Action) error {
	paramsJSON, _ := json.Marshal(action.Params)
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO poller_actions (id, poller_id, action, hostname, params, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, action.ID.String(), action.PollerID, action.Action, action.Hostname, paramsJSON, action.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue action: %w", err)
	}
	return nil
}

// InsertEvent records one audit event row.
func (s *PostgresStore) InsertEvent(ctx context.Context, ev eventlog.Event) error {
	var deviceID sql.NullInt64
	if ev.DeviceID != 0 {
		deviceID = sql.NullInt64{Int64: ev.DeviceID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO eventlog (id, timestamp, device_id, severity, message)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.ID.String(), ev.Timestamp, deviceID, string(ev.Severity), ev.Message)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Row scanning
// ─────────────────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	dev := &models.Device{}
	var (
		ip           sql.NullString
		snmpableJSON []byte
		lastPolled   sql.NullTime
		version      string
		transport    string
		authLevel    string
	)
	err := row.Scan(
		&dev.DeviceID, &dev.Hostname, &ip,
		&version, &transport, &dev.SNMPPort, &dev.SNMPCommunity,
		&authLevel, &dev.SNMPV3.AuthName, &dev.SNMPV3.AuthPass, &dev.SNMPV3.AuthAlgo,
		&dev.SNMPV3.CryptoPass, &dev.SNMPV3.CryptoAlgo, &dev.SNMPContext, &snmpableJSON,
		&dev.SysObjectID, &dev.SysDescr, &dev.SysName, &dev.SNMPEngineID,
		&dev.Location, &dev.SysContact, &dev.OS,
		&dev.Status, &dev.Disabled, &dev.PollerID, &lastPolled, &dev.Uptime,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan device: %w", err)
	}
	dev.IP = ip.String
	dev.SNMPVersion = models.SNMPVersion(version)
	dev.SNMPTransport = models.SNMPTransport(transport)
	dev.SNMPV3.AuthLevel = models.AuthLevel(authLevel)
	if lastPolled.Valid {
		dev.LastPolled = lastPolled.Time
	}
	if len(snmpableJSON) > 0 {
		_ = json.Unmarshal(snmpableJSON, &dev.SNMPableOIDs)
	}
	return dev, nil
}

func scanDevices(rows *sql.Rows) ([]*models.Device, error) {
	var devices []*models.Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	return devices, rows.Err()
}

func isUniqueViolation(err error) bool {
	// PostgreSQL unique violation error code is 23505
	return err != nil && (contains(err.Error(), "23505") || contains(err.Error(), "unique constraint"))
}

func contains(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
