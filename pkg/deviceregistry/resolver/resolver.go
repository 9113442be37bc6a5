// Package resolver decides whether a candidate device duplicates an
// already-known one. Three tiers of identity signals are consulted in order,
// short-circuiting on the first decisive match: exact hostname, network
// address plus credentials, and system identity (snmpEngineID, sysName,
// physical serial, other system OIDs). Weaker overlaps are reported as
// non-decisive "possible" collisions for the operator, never as automatic
// duplicates.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vpbank/device_registry/models"
	"github.com/vpbank/device_registry/pkg/deviceregistry/registry"
	"github.com/vpbank/device_registry/snmp"
)

// entPhysicalIndexAttr is the device attribute naming the chassis entity
// index whose serial identifies the hardware.
const entPhysicalIndexAttr = "entPhysicalIndex"

// Verdict is the transient outcome of a duplicate check.
type Verdict struct {
	// Kind classifies the match; models.VerdictNone means no duplicate.
	Kind models.DuplicateVerdict

	// Matched lists the existing device(s) behind a decisive verdict.
	Matched []*models.Device

	// Possible lists non-decisive collisions: same address but different
	// credentials, or shared identity signals that could not be confirmed.
	Possible []*models.Device
}

// Duplicate reports whether the verdict is decisive.
func (v Verdict) Duplicate() bool { return v.Kind != models.VerdictNone }

// Identifier resolves a device's OS; used when the candidate reports an
// empty sysName and the search must be narrowed by OS instead.
type Identifier interface {
	Identify(ctx context.Context, client snmp.Client, dev *models.Device, priorOS string) string
}

// OIDComparer is the external capability comparing two devices over a
// broader set of system OIDs. The resolver only consumes its boolean
// outcome.
type OIDComparer interface {
	CompareOIDs(ctx context.Context, candidate, existing *models.Device) (bool, error)
}

// Resolver implements the deduplication tiers over a Store.
type Resolver struct {
	store      registry.Store
	dialer     snmp.Dialer
	identifier Identifier
	comparer   OIDComparer
	logger     *slog.Logger
}

// New builds a Resolver. identifier may be nil, disabling the OS-narrowed
// empty-sysName search; comparer may be nil, making the other-OIDs fallback
// always non-decisive.
func New(store registry.Store, dialer snmp.Dialer, identifier Identifier, comparer OIDComparer, logger *slog.Logger) *Resolver {
	if dialer == nil {
		dialer = snmp.Dial
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Resolver{
		store:      store,
		dialer:     dialer,
		identifier: identifier,
		comparer:   comparer,
		logger:     logger,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// FindDuplicate
// ─────────────────────────────────────────────────────────────────────────────

// FindDuplicate runs the three tiers against dev. client is the live session
// that already proved SNMP reachability; a nil client skips the system
// identity tier. The check is read-only and idempotent for unchanged
// repository state.
func (r *Resolver) FindDuplicate(ctx context.Context, dev *models.Device, client snmp.Client) (Verdict, error) {
	var verdict Verdict

	// Tier 1: hostname. Always decisive.
	exists, err := r.store.DeviceExists(ctx, dev.Hostname, dev.DeviceID)
	if err != nil {
		return verdict, fmt.Errorf("resolver: hostname check: %w", err)
	}
	if exists {
		verdict.Kind = models.VerdictHostname
		if existing, err := r.store.GetDeviceByHostname(ctx, dev.Hostname); err == nil {
			verdict.Matched = append(verdict.Matched, existing)
		}
		return verdict, nil
	}

	// Tier 2: resolved address + credentials.
	if dev.IP != "" {
		matches, err := r.store.FindByAddress(ctx, dev.IP, dev.SNMPPort, dev.SNMPContext, dev.DeviceID)
		if err != nil {
			return verdict, fmt.Errorf("resolver: address check: %w", err)
		}
		for _, existing := range matches {
			if existing.SNMPVersion == dev.SNMPVersion && models.CredentialsEqual(dev, existing) {
				verdict.Kind = models.ForVersion(dev.SNMPVersion)
				verdict.Matched = append(verdict.Matched, existing)
				return verdict, nil
			}
			// Same address, weaker credential overlap: record, keep looking.
			verdict.Possible = append(verdict.Possible, existing)
		}
	}

	// Tier 3: system identity signals, fetched live.
	if client == nil {
		return verdict, nil
	}
	engineID := dev.SNMPEngineID
	if engineID == "" {
		engineID, _ = client.Get(ctx, models.OIDSnmpEngineID)
	}
	sysName := dev.SysName
	if sysName == "" {
		sysName, _ = client.Get(ctx, models.OIDSysName)
	}
	sysName = strings.ToLower(sysName)

	var suspects []*models.Device
	switch {
	case engineID != "":
		all, err := r.store.FindByEngineID(ctx, engineID, dev.DeviceID)
		if err != nil {
			return verdict, fmt.Errorf("resolver: engine id check: %w", err)
		}
		for _, existing := range all {
			if strings.EqualFold(existing.SysName, sysName) {
				suspects = append(suspects, existing)
			}
		}
	case sysName == "":
		if r.identifier == nil {
			return verdict, nil
		}
		// No engine ID and no sysName: narrow the blank-sysName search by
		// fingerprinted OS so unrelated agents do not collide.
		os := r.identifier.Identify(ctx, client, dev, dev.OS)
		suspects, err = r.store.FindBySysNameOS(ctx, "", os, dev.DeviceID)
		if err != nil {
			return verdict, fmt.Errorf("resolver: sysname/os check: %w", err)
		}
	default:
		suspects, err = r.store.FindBySysName(ctx, sysName, dev.DeviceID)
		if err != nil {
			return verdict, fmt.Errorf("resolver: sysname check: %w", err)
		}
	}

	for _, existing := range suspects {
		decisive, possible := r.systemMatch(ctx, client, dev, existing, sysName)
		if decisive {
			verdict.Kind = models.VerdictSystem
			verdict.Matched = append(verdict.Matched, existing)
			return verdict, nil
		}
		if possible {
			verdict.Possible = append(verdict.Possible, existing)
		}
	}
	return verdict, nil
}

// systemMatch decides whether one suspect sharing the candidate's identity
// signals is the same physical device. Order: physical serial when both
// sides expose one, the fully-qualified sysName shortcut, then the broader
// OID comparison.
func (r *Resolver) systemMatch(ctx context.Context, client snmp.Client, dev, existing *models.Device, sysName string) (decisive, possible bool) {
	candSerial, candOK := r.candidateSerial(ctx, client, existing)
	existSerial, existOK := r.existingSerial(ctx, existing)
	if candOK && existOK {
		if candSerial == existSerial {
			r.logger.Debug("resolver: serial confirmed duplicate",
				"candidate", dev.Hostname, "existing", existing.Hostname, "serial", candSerial)
			return true, false
		}
		// Distinct hardware behind shared identity signals.
		return false, false
	}

	if sysName != "" && isFQDN(sysName) {
		return true, false
	}

	if r.comparer != nil {
		same, err := r.comparer.CompareOIDs(ctx, dev, existing)
		if err != nil {
			r.logger.Warn("resolver: oid comparison failed",
				"candidate", dev.Hostname, "existing", existing.Hostname, "error", err.Error())
			return false, true
		}
		if same {
			return true, false
		}
	}
	return false, true
}

// candidateSerial reads the candidate's chassis serial over its live
// session, at the entity index known for the existing device.
func (r *Resolver) candidateSerial(ctx context.Context, client snmp.Client, existing *models.Device) (string, bool) {
	index, ok, err := r.store.DeviceAttribute(ctx, existing.DeviceID, entPhysicalIndexAttr)
	if err != nil || !ok || index == "" {
		return "", false
	}
	serial, err := client.Get(ctx, models.OIDEntPhysicalSerialNum+"."+index)
	if err != nil || serial == "" {
		return "", false
	}
	return serial, true
}

// existingSerial reads the existing device's chassis serial over a fresh
// session with its stored credentials.
func (r *Resolver) existingSerial(ctx context.Context, existing *models.Device) (string, bool) {
	index, ok, err := r.store.DeviceAttribute(ctx, existing.DeviceID, entPhysicalIndexAttr)
	if err != nil || !ok || index == "" {
		return "", false
	}
	client, err := r.dialer(existing)
	if err != nil {
		return "", false
	}
	defer client.Close()
	serial, err := client.Get(ctx, models.OIDEntPhysicalSerialNum+"."+index)
	if err != nil || serial == "" {
		return "", false
	}
	return serial, true
}

// ─────────────────────────────────────────────────────────────────────────────
// CheckDuplicate
// ─────────────────────────────────────────────────────────────────────────────

// CheckDuplicate layers operator messaging over FindDuplicate and maps the
// verdict to the typed duplicate errors. nil means the candidate is clear to
// add; possible collisions are logged as warnings but do not block.
func (r *Resolver) CheckDuplicate(ctx context.Context, dev *models.Device, client snmp.Client) error {
	verdict, err := r.FindDuplicate(ctx, dev, client)
	if err != nil {
		return err
	}

	for _, p := range verdict.Possible {
		r.logger.Warn("resolver: possible duplicate, not confirmed",
			"candidate", dev.Hostname, "existing", p.Hostname, "existing_id", p.DeviceID)
	}

	if !verdict.Duplicate() {
		return nil
	}

	matched := "unknown"
	if len(verdict.Matched) > 0 {
		matched = fmt.Sprintf("%s (id %d)", verdict.Matched[0].Hostname, verdict.Matched[0].DeviceID)
	}
	switch verdict.Kind {
	case models.VerdictHostname:
		return fmt.Errorf("%w: %s", models.ErrDuplicateHostname, matched)
	case models.VerdictIPSNMPv1, models.VerdictIPSNMPv2c, models.VerdictIPSNMPv3:
		return fmt.Errorf("%w: %s via %s on %s:%d", models.ErrDuplicateNetworkIdentity,
			matched, verdict.Kind, dev.IP, dev.SNMPPort)
	default:
		return fmt.Errorf("%w: %s", models.ErrDuplicateSystemIdentity, matched)
	}
}

// isFQDN reports whether sysName looks like a fully-qualified hostname: at
// least two non-empty dot-separated labels of hostname characters.
func isFQDN(sysName string) bool {
	if !strings.Contains(sysName, ".") {
		return false
	}
	labels := strings.Split(sysName, ".")
	for _, label := range labels {
		if label == "" {
			return false
		}
		for _, c := range label {
			ok := c == '-' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
			if !ok {
				return false
			}
		}
	}
	return true
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
