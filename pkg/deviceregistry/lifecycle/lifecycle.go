// Package lifecycle drives the end-to-end device workflows: the add-device
// state machine (validate, probe credentials, deduplicate, fingerprint,
// persist), SNMP credential detection, status refresh, and cascading delete.
// It owns the retry loop across credential sets that the probe deliberately
// does not have.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vpbank/device_registry/eventlog"
	"github.com/vpbank/device_registry/models"
	"github.com/vpbank/device_registry/pkg/deviceregistry/config"
	"github.com/vpbank/device_registry/pkg/deviceregistry/registry"
	"github.com/vpbank/device_registry/pkg/deviceregistry/resolver"
	"github.com/vpbank/device_registry/snmp"
)

var (
	// ErrInvalidHostname rejects empty hostnames, and literal-IP hostnames
	// when require_hostname is configured.
	ErrInvalidHostname = errors.New("invalid hostname")

	// ErrUnknownPoller rejects adds targeting an unregistered poller.
	ErrUnknownPoller = errors.New("unknown poller")

	// ErrAlreadyQueued rejects adds already waiting in a poller's queue.
	ErrAlreadyQueued = errors.New("add already queued for this poller")

	// ErrRRDConflict rejects adds whose time-series directory already
	// exists, unless overridden.
	ErrRRDConflict = errors.New("time-series directory already exists for hostname")
)

// ─────────────────────────────────────────────────────────────────────────────
// Requests and results
// ─────────────────────────────────────────────────────────────────────────────

// AddRequest carries the caller-supplied parameters of one add-device
// operation. Zero values defer to configuration defaults.
type AddRequest struct {
	Hostname  string
	Version   models.SNMPVersion // empty: try versions in configured order
	Port      int
	Transport models.SNMPTransport
	Community string           // explicit v1/v2c community; empty: configured list
	V3        *models.V3Params // explicit v3 credentials; nil: configured list
	Context   string

	// SNMPableOIDs overrides the reachability OID; numeric or well-known
	// symbolic names, validated all-or-nothing.
	SNMPableOIDs []string

	// PollerID targets a poller; zero means the local poller.
	PollerID int

	PingSkip  bool // skip the ICMP gate
	Test      bool // probe and fingerprint only, never persist
	IgnoreRRD bool // skip the pre-existing time-series directory check
}

// Outcome classifies a successful add-device result.
type Outcome int

const (
	// OutcomeAdded means the device was persisted; DeviceID is set.
	OutcomeAdded Outcome = iota

	// OutcomeTested means test mode confirmed reachability without
	// persisting anything.
	OutcomeTested

	// OutcomeQueued means the add was recorded for a remote poller.
	OutcomeQueued
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTested:
		return "tested"
	case OutcomeQueued:
		return "queued"
	default:
		return "added"
	}
}

// AddResult is the success result of AddDevice.
type AddResult struct {
	Outcome  Outcome
	DeviceID int64
	Device   *models.Device
}

// credential is one concrete secret to try for a version.
type credential struct {
	community string
	v3        models.V3Params
}

// wellKnownOIDs maps the symbolic names accepted in snmpable OID lists.
var wellKnownOIDs = map[string]string{
	"sysDescr":    models.OIDSysDescr,
	"sysObjectID": models.OIDSysObjectID,
	"sysUpTime":   models.OIDSysUpTime,
	"sysContact":  models.OIDSysContact,
	"sysName":     models.OIDSysName,
	"sysLocation": models.OIDSysLocation,
	"sysServices": models.OIDSysServices,
}

// ─────────────────────────────────────────────────────────────────────────────
// Orchestrator
// ─────────────────────────────────────────────────────────────────────────────

// Prober is the observational capability the orchestrator drives; satisfied
// by probe.Prober.
type Prober interface {
	Resolve(ctx context.Context, dev *models.Device) (string, error)
	Ping(ctx context.Context, ip string) (time.Duration, error)
	CheckSNMP(ctx context.Context, dev *models.Device) (string, time.Duration, error)
}

// Orchestrator wires the probe, matcher, resolver and store into the device
// workflows.
type Orchestrator struct {
	cfg      *config.Config
	store    registry.Store
	cache    *registry.DeviceCache
	prober   Prober
	dialer   snmp.Dialer
	gate     *snmp.HostGate
	matcher  resolver.Identifier
	resolver *resolver.Resolver
	events   eventlog.Sink
	metrics  *Metrics
	logger   *slog.Logger

	// rediscover, when set, is invoked after a successful local insert so
	// a full discovery pass can start immediately.
	rediscover func(deviceID int64)
}

// Options configures optional orchestrator collaborators.
type Options struct {
	Cache      *registry.DeviceCache
	Dialer     snmp.Dialer
	Gate       *snmp.HostGate
	Events     eventlog.Sink
	Metrics    *Metrics
	Logger     *slog.Logger
	Rediscover func(deviceID int64)
}

// New builds an Orchestrator. Optional collaborators default to working
// no-op or production implementations.
func New(cfg *config.Config, store registry.Store, prober Prober, matcher resolver.Identifier, res *resolver.Resolver, opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		cache:      opts.Cache,
		prober:     prober,
		dialer:     opts.Dialer,
		gate:       opts.Gate,
		matcher:    matcher,
		resolver:   res,
		events:     opts.Events,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		rediscover: opts.Rediscover,
	}
	if o.dialer == nil {
		o.dialer = snmp.Dial
	}
	if o.gate == nil {
		o.gate = snmp.NewHostGate()
	}
	if o.events == nil {
		o.events = eventlog.NopSink{}
	}
	if o.metrics == nil {
		o.metrics = NopMetrics()
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return o
}

// ─────────────────────────────────────────────────────────────────────────────
// AddDevice
// ─────────────────────────────────────────────────────────────────────────────

// AddDevice runs the add-device state machine. On failure the error is one
// of the taxonomy sentinels (wrapped); the per-attempt progress trace goes
// to the logger.
func (o *Orchestrator) AddDevice(ctx context.Context, req AddRequest) (*AddResult, error) {
	o.metrics.AddAttempts.Inc()
	res, err := o.addDevice(ctx, req)
	o.metrics.AddOutcomes.WithLabelValues(outcomeLabel(res, err)).Inc()
	return res, err
}

func (o *Orchestrator) addDevice(ctx context.Context, req AddRequest) (*AddResult, error) {
	// Validating.
	hostname := models.NormalizeHostname(req.Hostname)
	if hostname == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidHostname)
	}
	if o.cfg.RequireHostname && net.ParseIP(hostname) != nil {
		return nil, fmt.Errorf("%w: %q is a literal IP and require_hostname is set", ErrInvalidHostname, hostname)
	}
	if req.Version != "" && !req.Version.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedSNMPVersion, req.Version)
	}
	snmpableOIDs, err := normalizeSNMPable(req.SNMPableOIDs)
	if err != nil {
		return nil, err
	}

	exists, err := o.store.DeviceExists(ctx, hostname, 0)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: hostname pre-check: %w", err)
	}
	if exists {
		o.audit(ctx, 0, eventlog.SeverityWarning,
			fmt.Sprintf("add rejected: device %s already exists", hostname))
		return nil, fmt.Errorf("%w: %s", models.ErrDuplicateHostname, hostname)
	}

	// Remote-poller branch: no probing, queue and return.
	pollerID := req.PollerID
	if pollerID == 0 {
		pollerID = o.cfg.PollerID
	}
	if pollerID != o.cfg.PollerID {
		return o.queueRemote(ctx, hostname, pollerID, req, snmpableOIDs)
	}

	if err := o.checkRRD(hostname, req); err != nil {
		return nil, err
	}

	base := o.baseDevice(hostname, req, snmpableOIDs)

	// DNS and ICMP run once per host, not per credential; their failures
	// abort the whole operation.
	ip, err := o.prober.Resolve(ctx, &base)
	if err != nil {
		return nil, err
	}
	base.IP = ip
	if !req.PingSkip {
		if _, err := o.prober.Ping(ctx, ip); err != nil {
			return nil, fmt.Errorf("%w: %s (%s): %v", models.ErrUnreachable, hostname, ip, err)
		}
	}

	// ProbingCredentials: strict, deterministic order; the first credential
	// that answers wins.
	versions := []models.SNMPVersion{req.Version}
	if req.Version == "" {
		versions = o.cfg.VersionOrder()
	}
	for _, version := range versions {
		for _, cred := range o.credentialSets(version, req) {
			dev := base
			applyCredential(&dev, version, cred)

			o.metrics.CredentialAttempts.WithLabelValues(string(version)).Inc()
			o.logger.Info("lifecycle: trying credentials",
				"host", hostname, "version", version, "credential", o.describeCredential(version, cred))

			if _, _, err := o.prober.CheckSNMP(ctx, &dev); err != nil {
				o.logger.Info("lifecycle: no SNMP response",
					"host", hostname, "version", version,
					"credential", o.describeCredential(version, cred), "error", err.Error())
				continue
			}
			return o.finalize(ctx, &dev, req)
		}
	}

	o.audit(ctx, 0, eventlog.SeverityWarning,
		fmt.Sprintf("add failed: could not reach %s with given SNMP parameters", hostname))
	return nil, fmt.Errorf("%w: could not reach %s with given parameters", models.ErrSNMPUnreachable, hostname)
}

// finalize runs deduplication, fingerprinting and persistence for the first
// credential set that proved reachable. A decisive duplicate aborts the
// whole add; trying further credentials would be pointless since the
// duplicate already proves SNMP reachability.
func (o *Orchestrator) finalize(ctx context.Context, dev *models.Device, req AddRequest) (*AddResult, error) {
	release, err := o.gate.Acquire(ctx, dev.Hostname)
	if err != nil {
		return nil, err
	}
	defer release()

	client, err := o.dialer(dev)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSNMPUnreachable, err)
	}
	defer client.Close()

	o.fetchIdentity(ctx, client, dev)

	// Deduplicating.
	if err := o.resolver.CheckDuplicate(ctx, dev, client); err != nil {
		if models.IsDuplicate(err) {
			o.audit(ctx, 0, eventlog.SeverityWarning,
				fmt.Sprintf("add rejected: %s duplicates an existing device: %v", dev.Hostname, err))
		}
		return nil, err
	}

	// Fingerprinting.
	dev.OS = o.matcher.Identify(ctx, client, dev, "")
	o.logger.Info("lifecycle: device identified",
		"host", dev.Hostname, "os", dev.OS, "sys_object_id", dev.SysObjectID)

	if req.Test {
		return &AddResult{Outcome: OutcomeTested, Device: dev}, nil
	}

	// Persisting. Locally-owned inserts carry the fingerprint fields.
	dev.Status = 1
	dev.PollerID = o.cfg.PollerID
	id, err := o.store.InsertDevice(ctx, dev)
	if err != nil {
		return nil, err
	}

	o.audit(ctx, id, eventlog.SeverityInfo,
		fmt.Sprintf("device added: %s (os %s, version %s)", dev.Hostname, dev.OS, dev.SNMPVersion))
	if dev.SysObjectID != "" {
		o.audit(ctx, id, eventlog.SeverityInfo, "sysObjectID -> "+dev.SysObjectID)
	}
	if dev.SNMPEngineID != "" {
		o.audit(ctx, id, eventlog.SeverityInfo, "snmpEngineID -> "+dev.SNMPEngineID)
	}

	if req.PingSkip {
		if err := o.store.SetDeviceAttribute(ctx, id, "ping_skip", "1"); err != nil {
			o.logger.Warn("lifecycle: ping_skip attribute not stored", "device_id", id, "error", err.Error())
		}
		// Sanity check after the fact: the device is in, but the operator
		// should know ICMP does not answer.
		if _, err := o.prober.Ping(ctx, dev.IP); err != nil {
			o.audit(ctx, id, eventlog.SeverityWarning,
				fmt.Sprintf("device %s added with ping_skip and does not answer ICMP", dev.Hostname))
		}
	}

	if o.cache != nil {
		o.cache.Invalidate(id)
	}
	if o.rediscover != nil {
		o.rediscover(id)
	}
	return &AddResult{Outcome: OutcomeAdded, DeviceID: id, Device: dev}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Remote-poller queue
// ─────────────────────────────────────────────────────────────────────────────

// queueRemote persists the device with blank identity fields for the owning
// poller and records the add in its action queue. The device is never
// contacted from here.
func (o *Orchestrator) queueRemote(ctx context.Context, hostname string, pollerID int, req AddRequest, snmpableOIDs []string) (*AddResult, error) {
	ok, err := o.store.PollerExists(ctx, pollerID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: poller check: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownPoller, pollerID)
	}
	queued, err := o.store.QueuedAction(ctx, pollerID, hostname)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: queue check: %w", err)
	}
	if queued {
		return nil, fmt.Errorf("%w: %s for poller %d", ErrAlreadyQueued, hostname, pollerID)
	}

	dev := o.baseDevice(hostname, req, snmpableOIDs)
	version := req.Version
	if version == "" {
		version = o.cfg.DefaultVersion
	}
	applyCredential(&dev, version, o.firstCredential(version, req))
	dev.PollerID = pollerID

	id, err := o.store.InsertDevice(ctx, &dev)
	if err != nil {
		return nil, err
	}

	action := registry.Action{
		ID:       uuid.New(),
		PollerID: pollerID,
		Action:   "add_device",
		Hostname: hostname,
		Params: map[string]string{
			"device_id": strconv.FormatInt(id, 10),
			"version":   string(version),
		},
	}
	if err := o.store.EnqueueAction(ctx, action); err != nil {
		return nil, fmt.Errorf("lifecycle: enqueue: %w", err)
	}

	o.audit(ctx, id, eventlog.SeverityInfo,
		fmt.Sprintf("device %s queued for poller %d", hostname, pollerID))
	return &AddResult{Outcome: OutcomeQueued, DeviceID: id, Device: &dev}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// baseDevice builds the device skeleton shared by every credential attempt.
func (o *Orchestrator) baseDevice(hostname string, req AddRequest, snmpableOIDs []string) models.Device {
	dev := models.Device{
		Hostname:      hostname,
		SNMPPort:      req.Port,
		SNMPTransport: req.Transport,
		SNMPContext:   req.Context,
		SNMPTimeout:   o.cfg.TimeoutMs,
		SNMPRetries:   o.cfg.Retries,
		SNMPableOIDs:  snmpableOIDs,
	}
	if dev.SNMPPort == 0 {
		dev.SNMPPort = o.cfg.Port
	}
	if dev.SNMPTransport == "" {
		dev.SNMPTransport = o.cfg.Transport
	}
	return dev
}

// credentialSets returns the ordered secrets to try for one version:
// the caller's explicit credential alone when given, the configured list
// otherwise.
func (o *Orchestrator) credentialSets(version models.SNMPVersion, req AddRequest) []credential {
	if version == models.SNMPv3 {
		if req.V3 != nil {
			return []credential{{v3: *req.V3}}
		}
		creds := make([]credential, 0, len(o.cfg.V3Credentials))
		for _, v3 := range o.cfg.V3Credentials {
			creds = append(creds, credential{v3: v3})
		}
		return creds
	}
	if req.Community != "" {
		return []credential{{community: req.Community}}
	}
	creds := make([]credential, 0, len(o.cfg.Communities))
	for _, c := range o.cfg.Communities {
		creds = append(creds, credential{community: c})
	}
	return creds
}

func (o *Orchestrator) firstCredential(version models.SNMPVersion, req AddRequest) credential {
	creds := o.credentialSets(version, req)
	if len(creds) == 0 {
		return credential{}
	}
	return creds[0]
}

func applyCredential(dev *models.Device, version models.SNMPVersion, cred credential) {
	dev.SNMPVersion = version
	if version == models.SNMPv3 {
		dev.SNMPV3 = cred.v3
		dev.SNMPCommunity = ""
		return
	}
	dev.SNMPCommunity = cred.community
	dev.SNMPV3 = models.V3Params{}
}

// describeCredential renders the per-attempt trace identity, redacted when
// hide_auth is configured.
func (o *Orchestrator) describeCredential(version models.SNMPVersion, cred credential) string {
	if o.cfg.HideAuth {
		return "***"
	}
	if version == models.SNMPv3 {
		return fmt.Sprintf("v3 user %q (%s)", cred.v3.AuthName, cred.v3.AuthLevel)
	}
	return fmt.Sprintf("community %q", cred.community)
}

// checkRRD rejects the add when the host's time-series directory already
// exists, unless the caller or configuration overrides the check. Only the
// path is computed here.
func (o *Orchestrator) checkRRD(hostname string, req AddRequest) error {
	if o.cfg.RRDDir == "" || req.IgnoreRRD || o.cfg.RRDOverride {
		return nil
	}
	dir := filepath.Join(o.cfg.RRDDir, hostname)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("%w: %s", ErrRRDConflict, dir)
	}
	return nil
}

// fetchIdentity populates the fingerprint fields from the live session.
// Individual fetch failures leave fields empty; an empty sysDescr is a
// legitimate answer.
func (o *Orchestrator) fetchIdentity(ctx context.Context, client snmp.Client, dev *models.Device) {
	if dev.SysDescr == "" {
		dev.SysDescr, _ = client.Get(ctx, models.OIDSysDescr)
	}
	dev.SysObjectID, _ = client.Get(ctx, models.OIDSysObjectID)
	dev.SysName, _ = client.Get(ctx, models.OIDSysName)
	dev.SNMPEngineID, _ = client.Get(ctx, models.OIDSnmpEngineID)
	dev.Location, _ = client.Get(ctx, models.OIDSysLocation)
	dev.SysContact, _ = client.Get(ctx, models.OIDSysContact)

	if ticks, err := client.Get(ctx, models.OIDSysUpTime); err == nil {
		if n, err := strconv.ParseInt(ticks, 10, 64); err == nil {
			dev.Uptime = n / 100 // TimeTicks are hundredths of a second
		}
	}
	dev.LastPolled = time.Now().UTC()
}

// normalizeSNMPable validates and canonicalizes the reachability OID list.
// All-or-nothing: one bad entry rejects the whole list.
func normalizeSNMPable(oids []string) ([]string, error) {
	if len(oids) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(oids))
	for _, oid := range oids {
		if numeric, ok := wellKnownOIDs[oid]; ok {
			out = append(out, numeric)
			continue
		}
		if !snmp.IsNumericOID(oid) {
			return nil, fmt.Errorf("%w: %q", models.ErrInvalidOID, oid)
		}
		out = append(out, snmp.CanonOID(oid))
	}
	return out, nil
}

// audit records one event, logging instead when the sink fails.
func (o *Orchestrator) audit(ctx context.Context, deviceID int64, severity eventlog.Severity, message string) {
	if err := o.events.Record(ctx, eventlog.New(deviceID, severity, message)); err != nil {
		o.logger.Warn("lifecycle: audit event not recorded", "message", message, "error", err.Error())
	}
}

func outcomeLabel(res *AddResult, err error) string {
	switch {
	case err == nil && res != nil:
		return res.Outcome.String()
	case models.IsDuplicate(err):
		return "duplicate"
	case errors.Is(err, models.ErrSNMPUnreachable),
		errors.Is(err, models.ErrUnreachable),
		errors.Is(err, models.ErrDNSFailure):
		return "unreachable"
	default:
		return "rejected"
	}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
