package fingerprint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vpbank/device_registry/models"
	"github.com/vpbank/device_registry/snmp"
)

// ─────────────────────────────────────────────────────────────────────────────
// fake client
// ─────────────────────────────────────────────────────────────────────────────

// fakeClient serves canned OID values. Missing OIDs report a timeout, the
// worst case for the network rule tier.
type fakeClient struct {
	values map[string]string
	gets   int
	status snmp.Status
}

func (f *fakeClient) Get(_ context.Context, oid string) (string, error) {
	f.gets++
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

func (f *fakeClient) Status() snmp.Status     { return f.status }
func (f *fakeClient) RTT() time.Duration      { return 0 }
func (f *fakeClient) Close() error            { return nil }

// ─────────────────────────────────────────────────────────────────────────────
// corpus fixtures
// ─────────────────────────────────────────────────────────────────────────────

func testDefs() []models.OSDefinition {
	return []models.OSDefinition{
		{
			Name:        "ios",
			Vendor:      "Cisco",
			SysObjectID: []string{"1.3.6.1.4.1.9.1"},
			SysDescr:    []string{`Cisco IOS Software`},
		},
		{
			Name:        "nxos",
			Vendor:      "Cisco",
			SysObjectID: []string{"1.3.6.1.4.1.9.12.3.1"},
			Discovery: []models.ComplexRule{
				{
					Conditions: []models.OIDCondition{
						{OID: "sysObjectID", Op: "prefix", Value: ".1.3.6.1.4.1.9"},
						{OID: "sysDescr", Op: "contains", Value: "NX-OS"},
					},
				},
			},
		},
		{
			Name:        "linux",
			SysObjectID: []string{"1.3.6.1.4.1.8072.3.2.10"},
			SysDescr:    []string{`^Linux `},
		},
		{
			Name: "airos",
			Discovery: []models.ComplexRule{
				{
					Network: true,
					Conditions: []models.OIDCondition{
						{OID: ".1.3.6.1.4.1.41112.1.4.1.1.2.1", Op: "exists"},
					},
				},
			},
		},
	}
}

func testMatcher(t *testing.T) *Matcher {
	t.Helper()
	corpus, err := NewCorpus(testDefs())
	if err != nil {
		t.Fatalf("NewCorpus: %v", err)
	}
	return NewMatcher(corpus, nil)
}

// ─────────────────────────────────────────────────────────────────────────────
// tests
// ─────────────────────────────────────────────────────────────────────────────

func TestIdentifySysObjectID(t *testing.T) {
	m := testMatcher(t)
	dev := &models.Device{
		Hostname:    "sw1.example.com",
		SysObjectID: ".1.3.6.1.4.1.9.1.1",
		SysDescr:    "Cisco Catalyst",
	}
	if got := m.Identify(context.Background(), nil, dev, ""); got != "ios" {
		t.Fatalf("Identify = %q, want ios", got)
	}
}

// A sysObjectID pattern matches on arc boundaries only: enterprise 90 is not
// under enterprise 9.
func TestIdentifyArcBoundary(t *testing.T) {
	m := testMatcher(t)
	dev := &models.Device{
		Hostname:    "mystery",
		SysObjectID: ".1.3.6.1.4.1.90.1.1",
	}
	if got := m.Identify(context.Background(), nil, dev, ""); got != models.OSGeneric {
		t.Fatalf("Identify = %q, want %q", got, models.OSGeneric)
	}
}

// A multi-OID rule outranks the single-OID table: a Nexus reports a
// sysObjectID under the shared Cisco arc, but the sysDescr condition pins it
// to nxos before ios gets a look.
func TestComplexRuleOutranksSysObjectID(t *testing.T) {
	m := testMatcher(t)
	dev := &models.Device{
		Hostname:    "n9k.example.com",
		SysObjectID: ".1.3.6.1.4.1.9.1.2066",
		SysDescr:    "Cisco NX-OS(tm) n9000, Software",
	}
	if got := m.Identify(context.Background(), nil, dev, ""); got != "nxos" {
		t.Fatalf("Identify = %q, want nxos", got)
	}
}

func TestIdentifySysDescr(t *testing.T) {
	m := testMatcher(t)
	dev := &models.Device{
		Hostname: "srv1",
		SysDescr: "Linux srv1 5.15.0-91-generic #101-Ubuntu SMP x86_64",
	}
	if got := m.Identify(context.Background(), nil, dev, ""); got != "linux" {
		t.Fatalf("Identify = %q, want linux", got)
	}
}

func TestIdentifyNetworkRule(t *testing.T) {
	m := testMatcher(t)
	dev := &models.Device{Hostname: "ap1", SysDescr: "Linux ap1 2.6.32"}

	// The live OID answers, so the network rule beats the generic fallback
	// after sysDescr already claimed linux; rule order is sysDescr first.
	client := &fakeClient{values: map[string]string{
		".1.3.6.1.4.1.41112.1.4.1.1.2.1": "ath0",
	}}
	if got := m.Identify(context.Background(), client, dev, ""); got != "linux" {
		t.Fatalf("Identify = %q, want linux (sysDescr tier runs first)", got)
	}

	// Without a usable sysDescr only the network rule can claim it.
	dev = &models.Device{Hostname: "ap2"}
	client = &fakeClient{values: map[string]string{
		".1.3.6.1.4.1.41112.1.4.1.1.2.1": "ath0",
	}}
	if got := m.Identify(context.Background(), client, dev, ""); got != "airos" {
		t.Fatalf("Identify = %q, want airos", got)
	}
}

// A timeout while evaluating a network rule fails that rule, it does not
// abort identification.
func TestNetworkRuleTimeoutIsNoMatch(t *testing.T) {
	m := testMatcher(t)
	dev := &models.Device{Hostname: "ap3"}
	client := &fakeClient{values: map[string]string{}}

	if got := m.Identify(context.Background(), client, dev, ""); got != models.OSGeneric {
		t.Fatalf("Identify = %q, want %q", got, models.OSGeneric)
	}
}

// The recheck fast path tests only the prior OS's complex rules. Both
// definitions' rules match the device, and a full scan would pick "first"
// by definition order; recheck must short-circuit to the prior OS.
func TestIdentifyRecheckFastPath(t *testing.T) {
	corpus, err := NewCorpus([]models.OSDefinition{
		{
			Name: "first",
			Discovery: []models.ComplexRule{{
				Conditions: []models.OIDCondition{
					{OID: "sysDescr", Op: "contains", Value: "Cisco"},
				},
			}},
		},
		{
			Name: "second",
			Discovery: []models.ComplexRule{{
				Conditions: []models.OIDCondition{
					{OID: "sysDescr", Op: "contains", Value: "NX-OS"},
				},
			}},
		},
	})
	if err != nil {
		t.Fatalf("NewCorpus: %v", err)
	}
	m := NewMatcher(corpus, nil)

	dev := &models.Device{Hostname: "n9k", SysDescr: "Cisco NX-OS(tm) n9000"}

	if got := m.Identify(context.Background(), nil, dev, "second"); got != "second" {
		t.Fatalf("Identify recheck = %q, want second", got)
	}
	if got := m.Identify(context.Background(), nil, dev, ""); got != "first" {
		t.Fatalf("Identify full scan = %q, want first", got)
	}
}

// A prior OS whose rules no longer match falls through to a full scan; the
// recheck path never consults the prior OS's pattern tables.
func TestIdentifyRecheckFallsThrough(t *testing.T) {
	m := testMatcher(t)
	dev := &models.Device{
		Hostname:    "migrated",
		SysObjectID: ".1.3.6.1.4.1.8072.3.2.10",
		SysDescr:    "Linux migrated 6.1.0",
	}
	if got := m.Identify(context.Background(), nil, dev, "nxos"); got != "linux" {
		t.Fatalf("Identify = %q, want linux after stale recheck", got)
	}
}

func TestIdentifyGenericFallback(t *testing.T) {
	m := testMatcher(t)
	dev := &models.Device{Hostname: "printer", SysDescr: "LaserJet thing"}
	if got := m.Identify(context.Background(), nil, dev, ""); got != models.OSGeneric {
		t.Fatalf("Identify = %q, want %q", got, models.OSGeneric)
	}
}

func TestCustomMatcher(t *testing.T) {
	defs := append(testDefs(), models.OSDefinition{
		Name:          "ilo",
		CustomMatcher: "ilo-legacy",
	})
	corpus, err := NewCorpus(defs)
	if err != nil {
		t.Fatalf("NewCorpus: %v", err)
	}
	m := NewMatcher(corpus, nil)

	dev := &models.Device{
		Hostname: "ilo-r710",
		SysDescr: "Integrated Lights-Out 2, rib board",
	}
	if got := m.Identify(context.Background(), nil, dev, ""); got != "ilo" {
		t.Fatalf("Identify = %q, want ilo", got)
	}
}

func TestMatchSysObjectIDDeepestWins(t *testing.T) {
	defs := []models.OSDefinition{
		{Name: "cisco-generic", SysObjectID: []string{"1.3.6.1.4.1.9"}},
		{Name: "ios", SysObjectID: []string{"1.3.6.1.4.1.9.1"}},
	}
	corpus, err := NewCorpus(defs)
	if err != nil {
		t.Fatalf("NewCorpus: %v", err)
	}

	tests := []struct {
		oid  string
		want string
	}{
		{".1.3.6.1.4.1.9.1.1", "ios"},
		{".1.3.6.1.4.1.9.12.3", "cisco-generic"},
		{".1.3.6.1.4.1.9", "cisco-generic"},
	}
	for _, tt := range tests {
		got, ok := corpus.MatchSysObjectID(tt.oid)
		if !ok || got != tt.want {
			t.Errorf("MatchSysObjectID(%s) = %q ok=%v, want %q", tt.oid, got, ok, tt.want)
		}
	}
}

func TestNewCorpusRejectsBadRegex(t *testing.T) {
	_, err := NewCorpus([]models.OSDefinition{
		{Name: "bad", SysDescr: []string{`(`}},
	})
	if err == nil {
		t.Fatal("NewCorpus accepted an invalid sysDescr pattern")
	}
}
