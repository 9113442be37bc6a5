package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/vpbank/device_registry/eventlog"
	"github.com/vpbank/device_registry/models"
	"github.com/vpbank/device_registry/pkg/deviceregistry/config"
	"github.com/vpbank/device_registry/pkg/deviceregistry/fingerprint"
	"github.com/vpbank/device_registry/pkg/deviceregistry/registry"
	"github.com/vpbank/device_registry/pkg/deviceregistry/resolver"
	"github.com/vpbank/device_registry/snmp"
)

// ─────────────────────────────────────────────────────────────────────────────
// fakes
// ─────────────────────────────────────────────────────────────────────────────

// fakeProber resolves literal hostnames, answers ICMP per pingErr, and
// answers SNMP only for the credentials listed in answers.
type fakeProber struct {
	pingErr  error
	pings    int
	answers  map[string]bool // credential key → answers
	attempts []string
}

func credKey(dev *models.Device) string {
	if dev.SNMPVersion == models.SNMPv3 {
		return fmt.Sprintf("v3/%s", dev.SNMPV3.AuthName)
	}
	return fmt.Sprintf("%s/%s", dev.SNMPVersion, dev.SNMPCommunity)
}

func (f *fakeProber) Resolve(_ context.Context, dev *models.Device) (string, error) {
	return dev.Hostname, nil
}

func (f *fakeProber) Ping(context.Context, string) (time.Duration, error) {
	f.pings++
	if f.pingErr != nil {
		return 0, f.pingErr
	}
	return 2 * time.Millisecond, nil
}

func (f *fakeProber) CheckSNMP(_ context.Context, dev *models.Device) (string, time.Duration, error) {
	key := credKey(dev)
	f.attempts = append(f.attempts, key)
	if f.answers[key] {
		return "", 10 * time.Millisecond, nil
	}
	return "", 0, fmt.Errorf("%w: %s", models.ErrSNMPUnreachable, dev.Hostname)
}

type fakeClient struct {
	values map[string]string
	status snmp.Status
}

func (f *fakeClient) Get(_ context.Context, oid string) (string, error) {
	v, ok := f.values[oid]
	if !ok {
		f.status = snmp.StatusTimeout
		return "", errors.New("request timeout")
	}
	if v == "" {
		f.status = snmp.StatusEmptyResponse
		return "", nil
	}
	f.status = snmp.StatusOK
	return v, nil
}

func (f *fakeClient) GetNext(context.Context, string) (snmp.Varbind, error) {
	return snmp.Varbind{}, errors.New("not implemented")
}

func (f *fakeClient) Walk(context.Context, string) ([]snmp.Varbind, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) Status() snmp.Status { return f.status }
func (f *fakeClient) RTT() time.Duration  { return 0 }
func (f *fakeClient) Close() error        { return nil }

// ─────────────────────────────────────────────────────────────────────────────
// fixture
// ─────────────────────────────────────────────────────────────────────────────

func ciscoIdentity() map[string]string {
	return map[string]string{
		models.OIDSysDescr:     "Cisco IOS Software, C3750 Software",
		models.OIDSysObjectID:  ".1.3.6.1.4.1.9.1.1",
		models.OIDSysName:      "switch1.example.com",
		models.OIDSnmpEngineID: "80001f888070b1",
		models.OIDSysLocation:  "dc1-rack4",
		models.OIDSysContact:   "noc@example.com",
		models.OIDSysUpTime:    "12345600",
	}
}

type fixture struct {
	cfg    *config.Config
	store  *registry.MemoryStore
	prober *fakeProber
	orch   *Orchestrator
}

func newFixture(t *testing.T, prober *fakeProber, identity map[string]string) *fixture {
	t.Helper()

	cfg := &config.Config{
		PollerID:       0,
		DefaultVersion: models.SNMPv2c,
		Communities:    []string{"wrong", "public"},
		TimeoutMs:      1000,
		Retries:        1,
		Port:           161,
		Transport:      models.TransportUDP,
	}

	corpus, err := fingerprint.NewCorpus([]models.OSDefinition{
		{
			Name:   "ios",
			Vendor: "Cisco",
			Discovery: []models.ComplexRule{{
				Conditions: []models.OIDCondition{
					{OID: "sysObjectID", Op: "prefix", Value: ".1.3.6.1.4.1.9.1"},
				},
			}},
		},
		{Name: "linux", SysDescr: []string{`^Linux `}},
	})
	if err != nil {
		t.Fatalf("NewCorpus: %v", err)
	}
	matcher := fingerprint.NewMatcher(corpus, nil)

	store := registry.NewMemoryStore()
	dialer := func(dev *models.Device) (snmp.Client, error) {
		return &fakeClient{values: identity}, nil
	}
	res := resolver.New(store, dialer, matcher, nil, nil)

	orch := New(cfg, store, prober, matcher, res, Options{
		Dialer: dialer,
		Events: eventlog.NewStoreSink(store),
	})
	return &fixture{cfg: cfg, store: store, prober: prober, orch: orch}
}

func eventMessages(s *registry.MemoryStore) []string {
	var out []string
	for _, ev := range s.Events() {
		out = append(out, ev.Message)
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// AddDevice
// ─────────────────────────────────────────────────────────────────────────────

func TestAddDeviceSuccess(t *testing.T) {
	prober := &fakeProber{answers: map[string]bool{"v2c/public": true}}
	f := newFixture(t, prober, ciscoIdentity())

	res, err := f.orch.AddDevice(context.Background(), AddRequest{Hostname: "10.0.0.5"})
	if err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if res.Outcome != OutcomeAdded || res.DeviceID == 0 {
		t.Fatalf("result = %+v", res)
	}

	// Credentials were tried in configured order, stopping at the winner.
	want := []string{"v2c/wrong", "v2c/public"}
	if strings.Join(prober.attempts, ",") != strings.Join(want, ",") {
		t.Fatalf("attempts = %v, want %v", prober.attempts, want)
	}

	dev, err := f.store.GetDevice(context.Background(), res.DeviceID)
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if dev.OS != "ios" {
		t.Fatalf("os = %q, want ios via complex rule", dev.OS)
	}
	if dev.SysName != "switch1.example.com" || dev.SNMPEngineID != "80001f888070b1" {
		t.Fatalf("fingerprint fields not persisted: %+v", dev)
	}
	if dev.Uptime != 123456 {
		t.Fatalf("uptime = %d, want ticks/100", dev.Uptime)
	}
	if dev.Status != 1 {
		t.Fatalf("status = %d, want up", dev.Status)
	}

	msgs := strings.Join(eventMessages(f.store), "\n")
	if !strings.Contains(msgs, "device added") || !strings.Contains(msgs, "sysObjectID -> .1.3.6.1.4.1.9.1.1") {
		t.Fatalf("audit events missing:\n%s", msgs)
	}
}

func TestAddDeviceHostnamePrecheck(t *testing.T) {
	prober := &fakeProber{answers: map[string]bool{"v2c/public": true}}
	f := newFixture(t, prober, ciscoIdentity())

	if _, err := f.store.InsertDevice(context.Background(), &models.Device{Hostname: "10.0.0.5"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := f.orch.AddDevice(context.Background(), AddRequest{Hostname: "10.0.0.5"})
	if !errors.Is(err, models.ErrDuplicateHostname) {
		t.Fatalf("err = %v, want ErrDuplicateHostname", err)
	}
	if len(prober.attempts) != 0 {
		t.Fatalf("probed %v before the hostname pre-check", prober.attempts)
	}
}

// A decisive duplicate after SNMP success aborts the whole add; remaining
// credentials are never tried because the duplicate already proves
// reachability.
func TestAddDeviceDuplicateAbortsAllCredentials(t *testing.T) {
	prober := &fakeProber{answers: map[string]bool{"v2c/wrong": true, "v2c/public": true}}
	f := newFixture(t, prober, ciscoIdentity())

	// Existing device shares the candidate's engine ID and FQDN sysName.
	if _, err := f.store.InsertDevice(context.Background(), &models.Device{
		Hostname:     "old.example.com",
		SNMPEngineID: "80001f888070b1",
		SysName:      "switch1.example.com",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := f.orch.AddDevice(context.Background(), AddRequest{Hostname: "10.0.0.5"})
	if !errors.Is(err, models.ErrDuplicateSystemIdentity) {
		t.Fatalf("err = %v, want ErrDuplicateSystemIdentity", err)
	}
	if len(prober.attempts) != 1 {
		t.Fatalf("attempts = %v, want abort after the first success", prober.attempts)
	}
}

func TestAddDeviceTestMode(t *testing.T) {
	prober := &fakeProber{answers: map[string]bool{"v2c/public": true}}
	f := newFixture(t, prober, ciscoIdentity())

	res, err := f.orch.AddDevice(context.Background(), AddRequest{Hostname: "10.0.0.5", Test: true})
	if err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if res.Outcome != OutcomeTested || res.DeviceID != 0 {
		t.Fatalf("result = %+v, want tested without id", res)
	}
	if res.Device.OS != "ios" {
		t.Fatalf("test mode os = %q, want fingerprint to run", res.Device.OS)
	}

	devices, _ := f.store.ListDevices(context.Background())
	if len(devices) != 0 {
		t.Fatalf("test mode persisted %d devices", len(devices))
	}
}

func TestAddDevicePingFailureAborts(t *testing.T) {
	prober := &fakeProber{
		pingErr: errors.New("no echo reply"),
		answers: map[string]bool{"v2c/public": true},
	}
	f := newFixture(t, prober, ciscoIdentity())

	_, err := f.orch.AddDevice(context.Background(), AddRequest{Hostname: "10.0.0.6"})
	if !errors.Is(err, models.ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
	if len(prober.attempts) != 0 {
		t.Fatalf("SNMP attempted %v against unreachable host", prober.attempts)
	}
}

func TestAddDeviceExhaustsCredentials(t *testing.T) {
	prober := &fakeProber{answers: map[string]bool{}}
	f := newFixture(t, prober, ciscoIdentity())
	f.cfg.V3Credentials = []models.V3Params{{AuthLevel: models.AuthPriv, AuthName: "admin"}}

	_, err := f.orch.AddDevice(context.Background(), AddRequest{Hostname: "10.0.0.7"})
	if !errors.Is(err, models.ErrSNMPUnreachable) {
		t.Fatalf("err = %v, want ErrSNMPUnreachable", err)
	}

	// Default version first (v2c), then the rest of the fixed order.
	want := []string{"v2c/wrong", "v2c/public", "v3/admin", "v1/wrong", "v1/public"}
	if strings.Join(prober.attempts, ",") != strings.Join(want, ",") {
		t.Fatalf("attempts = %v, want %v", prober.attempts, want)
	}
}

func TestAddDeviceInvalidSnmpableOID(t *testing.T) {
	prober := &fakeProber{answers: map[string]bool{"v2c/public": true}}
	f := newFixture(t, prober, ciscoIdentity())

	_, err := f.orch.AddDevice(context.Background(), AddRequest{
		Hostname:     "10.0.0.8",
		SNMPableOIDs: []string{"sysDescr", "not-an-oid"},
	})
	if !errors.Is(err, models.ErrInvalidOID) {
		t.Fatalf("err = %v, want ErrInvalidOID (all-or-nothing)", err)
	}
}

func TestAddDeviceRequireHostname(t *testing.T) {
	prober := &fakeProber{answers: map[string]bool{"v2c/public": true}}
	f := newFixture(t, prober, ciscoIdentity())
	f.cfg.RequireHostname = true

	_, err := f.orch.AddDevice(context.Background(), AddRequest{Hostname: "10.0.0.9"})
	if !errors.Is(err, ErrInvalidHostname) {
		t.Fatalf("err = %v, want ErrInvalidHostname", err)
	}
}

func TestAddDeviceRemoteQueue(t *testing.T) {
	prober := &fakeProber{answers: map[string]bool{"v2c/public": true}}
	f := newFixture(t, prober, ciscoIdentity())
	f.store.AddPoller(7)

	res, err := f.orch.AddDevice(context.Background(), AddRequest{Hostname: "remote.example.com", PollerID: 7})
	if err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if res.Outcome != OutcomeQueued || res.DeviceID == 0 {
		t.Fatalf("result = %+v, want queued with id", res)
	}
	if len(prober.attempts) != 0 || prober.pings != 0 {
		t.Fatal("remote add contacted the device")
	}

	dev, _ := f.store.GetDevice(context.Background(), res.DeviceID)
	if dev.SysObjectID != "" || dev.OS != "" || dev.PollerID != 7 {
		t.Fatalf("remote row = %+v, want blank identity owned by poller 7", dev)
	}

	actions := f.store.Actions()
	if len(actions) != 1 || actions[0].Action != "add_device" || actions[0].Hostname != "remote.example.com" {
		t.Fatalf("actions = %+v", actions)
	}

	// Re-queueing the same hostname is rejected.
	f.store.AddPoller(7)
	_, err = f.orch.AddDevice(context.Background(), AddRequest{Hostname: "remote2.example.com", PollerID: 7})
	if err != nil {
		t.Fatalf("second queue: %v", err)
	}
	_, err = f.orch.AddDevice(context.Background(), AddRequest{Hostname: "remote3.example.com", PollerID: 99})
	if !errors.Is(err, ErrUnknownPoller) {
		t.Fatalf("unknown poller err = %v", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// DetectSNMPAuth
// ─────────────────────────────────────────────────────────────────────────────

func TestDetectSNMPAuth(t *testing.T) {
	prober := &fakeProber{answers: map[string]bool{"v2c/public": true}}
	f := newFixture(t, prober, ciscoIdentity())

	dev, err := f.orch.DetectSNMPAuth(context.Background(), AddRequest{Hostname: "10.0.0.5"})
	if err != nil {
		t.Fatalf("DetectSNMPAuth: %v", err)
	}
	if dev.SNMPVersion != models.SNMPv2c || dev.SNMPCommunity != "public" {
		t.Fatalf("detected = %s/%s", dev.SNMPVersion, dev.SNMPCommunity)
	}
	if prober.pings != 0 {
		t.Fatal("detect must not ping")
	}

	devices, _ := f.store.ListDevices(context.Background())
	if len(devices) != 0 {
		t.Fatalf("detect persisted %d devices", len(devices))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// DeleteDevice
// ─────────────────────────────────────────────────────────────────────────────

func TestDeleteDeviceReport(t *testing.T) {
	prober := &fakeProber{answers: map[string]bool{"v2c/public": true}}
	f := newFixture(t, prober, ciscoIdentity())

	id, err := f.store.InsertDevice(context.Background(), &models.Device{Hostname: "victim.example.com"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.store.SeedRows(registry.PortsTable, id, 3)
	f.store.SeedRows("sensors", id, 2)

	report, err := f.orch.DeleteDevice(context.Background(), id, false)
	if err != nil {
		t.Fatalf("DeleteDevice: %v", err)
	}
	if !report.DeviceRemoved {
		t.Fatal("device row survived")
	}

	rows := map[string]int64{}
	for _, tr := range report.Tables {
		rows[tr.Table] = tr.Rows
		if tr.Err != "" {
			t.Fatalf("table %s failed: %s", tr.Table, tr.Err)
		}
	}
	if rows[registry.PortsTable] != 3 || rows["sensors"] != 2 {
		t.Fatalf("report rows = %v, want 3 ports and 2 sensors", rows)
	}
	// Ports are deleted first.
	if report.Tables[0].Table != registry.PortsTable {
		t.Fatalf("first table = %s, want ports", report.Tables[0].Table)
	}

	if _, err := f.store.GetDevice(context.Background(), id); !errors.Is(err, registry.ErrDeviceNotFound) {
		t.Fatalf("GetDevice after delete = %v", err)
	}

	msgs := strings.Join(eventMessages(f.store), "\n")
	if !strings.Contains(msgs, "deleted device") {
		t.Fatalf("missing delete audit event:\n%s", msgs)
	}
}
