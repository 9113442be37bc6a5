package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/vpbank/device_registry/models"
)

// DetectSNMPAuth finds the first working SNMP version and credential set for
// a host without adding it. ICMP is skipped: the point is purely to discover
// credentials, and an unreachable host simply exhausts the attempts.
func (o *Orchestrator) DetectSNMPAuth(ctx context.Context, req AddRequest) (*models.Device, error) {
	hostname := models.NormalizeHostname(req.Hostname)
	if hostname == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidHostname)
	}
	snmpableOIDs, err := normalizeSNMPable(req.SNMPableOIDs)
	if err != nil {
		return nil, err
	}

	base := o.baseDevice(hostname, req, snmpableOIDs)
	ip, err := o.prober.Resolve(ctx, &base)
	if err != nil {
		return nil, err
	}
	base.IP = ip

	versions := []models.SNMPVersion{req.Version}
	if req.Version == "" {
		versions = o.cfg.VersionOrder()
	}
	for _, version := range versions {
		for _, cred := range o.credentialSets(version, req) {
			dev := base
			applyCredential(&dev, version, cred)

			o.metrics.CredentialAttempts.WithLabelValues(string(version)).Inc()
			if _, _, err := o.prober.CheckSNMP(ctx, &dev); err != nil {
				continue
			}
			o.logger.Info("lifecycle: snmp auth detected",
				"host", hostname, "version", version, "credential", o.describeCredential(version, cred))
			return &dev, nil
		}
	}
	return nil, fmt.Errorf("%w: could not reach %s with given parameters", models.ErrSNMPUnreachable, hostname)
}

// DeviceStatus is the point-in-time reachability of a known device.
type DeviceStatus struct {
	Reachable bool          `json:"reachable"`
	PingRTT   time.Duration `json:"ping_rtt,omitempty"`
	SNMPable  bool          `json:"snmpable"`
	SNMPRTT   time.Duration `json:"snmp_rtt,omitempty"`
}

// Status refreshes ICMP and SNMP reachability for one stored device using
// its persisted credentials. Devices flagged ping_skip are treated as ICMP
// reachable without being pinged.
func (o *Orchestrator) Status(ctx context.Context, deviceID int64) (*DeviceStatus, error) {
	dev, err := o.getDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	status := &DeviceStatus{}
	if _, skip, _ := o.store.DeviceAttribute(ctx, deviceID, "ping_skip"); skip {
		status.Reachable = true
	} else if rtt, err := o.prober.Ping(ctx, dev.IP); err == nil {
		status.Reachable = true
		status.PingRTT = rtt
	}
	if !status.Reachable {
		return status, nil
	}

	if _, rtt, err := o.prober.CheckSNMP(ctx, dev); err == nil {
		status.SNMPable = true
		status.SNMPRTT = rtt
	}
	return status, nil
}

// getDevice reads through the cache when one is configured.
func (o *Orchestrator) getDevice(ctx context.Context, deviceID int64) (*models.Device, error) {
	if o.cache != nil {
		return o.cache.GetDevice(ctx, deviceID)
	}
	return o.store.GetDevice(ctx, deviceID)
}

// ListDevices exposes the repository listing for the admin surface.
func (o *Orchestrator) ListDevices(ctx context.Context) ([]*models.Device, error) {
	return o.store.ListDevices(ctx)
}

// GetDevice exposes a single-device read for the admin surface.
func (o *Orchestrator) GetDevice(ctx context.Context, deviceID int64) (*models.Device, error) {
	return o.getDevice(ctx, deviceID)
}
