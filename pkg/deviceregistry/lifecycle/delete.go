package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vpbank/device_registry/eventlog"
	"github.com/vpbank/device_registry/pkg/deviceregistry/registry"
)

// TableResult is the outcome of one table's cascade delete.
type TableResult struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
	Err   string `json:"error,omitempty"`
}

// DeleteReport enumerates everything a device delete touched. Partial
// failures are listed per table; cleanup is maximally thorough and never
// aborts halfway.
type DeleteReport struct {
	DeviceID      int64         `json:"device_id"`
	Hostname      string        `json:"hostname"`
	Tables        []TableResult `json:"tables"`
	DeviceRemoved bool          `json:"device_removed"`
	RRDRemoved    bool          `json:"rrd_removed,omitempty"`
}

// String renders the operator-facing summary line.
func (r *DeleteReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "deleted device %d (%s):", r.DeviceID, r.Hostname)
	for _, t := range r.Tables {
		if t.Err != "" {
			fmt.Fprintf(&b, " %s FAILED (%s);", t.Table, t.Err)
			continue
		}
		fmt.Fprintf(&b, " %s %d rows;", t.Table, t.Rows)
	}
	if r.DeviceRemoved {
		b.WriteString(" device row removed")
	} else {
		b.WriteString(" device row NOT removed")
	}
	return b.String()
}

// DeleteDevice removes a device and every dependent row: ports first so
// their per-port cleanup cascades, then each entity table, then the
// device-scoped tables, then autodiscovery links where the device is the
// remote target, finally the device row itself. removeRRD additionally
// deletes the on-disk time-series directory.
func (o *Orchestrator) DeleteDevice(ctx context.Context, deviceID int64, removeRRD bool) (*DeleteReport, error) {
	dev, err := o.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	report := &DeleteReport{DeviceID: deviceID, Hostname: dev.Hostname}

	tables := []string{registry.PortsTable}
	for _, e := range registry.EntityTables {
		tables = append(tables, e.Table)
	}
	tables = append(tables, registry.DeviceTables...)
	tables = append(tables, registry.AutodiscoveryTable)

	for _, table := range tables {
		n, err := o.store.DeleteRows(ctx, table, deviceID)
		result := TableResult{Table: table, Rows: n}
		if err != nil {
			result.Err = err.Error()
			o.logger.Warn("lifecycle: cascade delete failed",
				"device_id", deviceID, "table", table, "error", err.Error())
		} else {
			o.metrics.DeletedRows.WithLabelValues(table).Add(float64(n))
		}
		report.Tables = append(report.Tables, result)
	}

	if err := o.store.DeleteDevice(ctx, deviceID); err != nil {
		o.logger.Error("lifecycle: device row not removed",
			"device_id", deviceID, "error", err.Error())
	} else {
		report.DeviceRemoved = true
	}

	if removeRRD && o.cfg.RRDDir != "" {
		dir := filepath.Join(o.cfg.RRDDir, dev.Hostname)
		if err := os.RemoveAll(dir); err != nil {
			o.logger.Warn("lifecycle: rrd directory not removed", "dir", dir, "error", err.Error())
		} else {
			report.RRDRemoved = true
		}
	}

	if o.cache != nil {
		o.cache.Invalidate(deviceID)
	}
	o.gate.Forget(dev.Hostname)

	o.audit(ctx, deviceID, eventlog.SeverityInfo, report.String())
	return report, nil
}
