package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vpbank/device_registry/models"
	"github.com/vpbank/device_registry/pkg/deviceregistry/config"
)

func tmpDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func load(t *testing.T, snmpDir, osDir string) *config.Config {
	t.Helper()
	cfg, err := config.Load(config.Paths{SNMP: snmpDir, OSDefs: osDir}, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

// ── PathsFromEnv ─────────────────────────────────────────────────────────────

func TestPathsFromEnvDefaults(t *testing.T) {
	t.Setenv("REGISTRY_SNMP_CONFIG_DIRECTORY_PATH", "")
	t.Setenv("REGISTRY_OS_DEFINITIONS_DIRECTORY_PATH", "")

	p := config.PathsFromEnv()
	if p.SNMP != "/etc/device_registry/snmp" {
		t.Errorf("SNMP = %q", p.SNMP)
	}
	if p.OSDefs != "/etc/device_registry/os.d" {
		t.Errorf("OSDefs = %q", p.OSDefs)
	}
}

func TestPathsFromEnvOverride(t *testing.T) {
	t.Setenv("REGISTRY_SNMP_CONFIG_DIRECTORY_PATH", "/custom/snmp")
	p := config.PathsFromEnv()
	if p.SNMP != "/custom/snmp" {
		t.Errorf("SNMP = %q, want /custom/snmp", p.SNMP)
	}
}

// ── SNMP settings ────────────────────────────────────────────────────────────

func TestLoadSNMPMergeOrder(t *testing.T) {
	snmpDir := tmpDir(t, map[string]string{
		"10-base.yml": `
version: v2c
communities: [public]
timeout: 5000
`,
		"20-site.yml": `
version: v3
communities: [private]
port: 1161
v3:
  - authlevel: AuthPriv
    authname: admin
    authpass: secret123
    authalgo: sha
    cryptopass: secret456
    cryptoalgo: aes
`,
	})

	cfg := load(t, snmpDir, t.TempDir())

	// First file wins for scalars, lists concatenate in file order.
	if cfg.DefaultVersion != models.SNMPv2c {
		t.Errorf("DefaultVersion = %q, want v2c", cfg.DefaultVersion)
	}
	if cfg.TimeoutMs != 5000 {
		t.Errorf("TimeoutMs = %d, want 5000", cfg.TimeoutMs)
	}
	if cfg.Port != 1161 {
		t.Errorf("Port = %d, want 1161", cfg.Port)
	}
	want := []string{"public", "private"}
	if len(cfg.Communities) != 2 || cfg.Communities[0] != want[0] || cfg.Communities[1] != want[1] {
		t.Errorf("Communities = %v, want %v", cfg.Communities, want)
	}
	if len(cfg.V3Credentials) != 1 {
		t.Fatalf("V3Credentials = %d, want 1", len(cfg.V3Credentials))
	}
	if cfg.V3Credentials[0].AuthLevel != models.AuthPriv {
		t.Errorf("AuthLevel = %q, want authpriv (lowercased)", cfg.V3Credentials[0].AuthLevel)
	}
}

func TestLoadSNMPDefaults(t *testing.T) {
	cfg := load(t, t.TempDir(), t.TempDir())

	if cfg.DefaultVersion != models.SNMPv2c {
		t.Errorf("DefaultVersion = %q", cfg.DefaultVersion)
	}
	if len(cfg.Communities) != 1 || cfg.Communities[0] != "public" {
		t.Errorf("Communities = %v", cfg.Communities)
	}
	if cfg.TimeoutMs != 3000 || cfg.Retries != 2 || cfg.Port != 161 {
		t.Errorf("probe defaults = %d/%d/%d", cfg.TimeoutMs, cfg.Retries, cfg.Port)
	}
	if cfg.Transport != models.TransportUDP {
		t.Errorf("Transport = %q", cfg.Transport)
	}
	if cfg.OIDMatchThreshold != 1.0 {
		t.Errorf("OIDMatchThreshold = %v", cfg.OIDMatchThreshold)
	}
}

func TestLoadSNMPSkipsMalformedFile(t *testing.T) {
	snmpDir := tmpDir(t, map[string]string{
		"bad.yml":  "version: [this is: not valid\n",
		"good.yml": "communities: [internal]\n",
	})

	cfg := load(t, snmpDir, t.TempDir())
	if len(cfg.Communities) != 1 || cfg.Communities[0] != "internal" {
		t.Errorf("Communities = %v, want [internal]", cfg.Communities)
	}
}

func TestVersionOrder(t *testing.T) {
	cases := []struct {
		def  models.SNMPVersion
		want []models.SNMPVersion
	}{
		{models.SNMPv2c, []models.SNMPVersion{models.SNMPv2c, models.SNMPv3, models.SNMPv1}},
		{models.SNMPv3, []models.SNMPVersion{models.SNMPv3, models.SNMPv2c, models.SNMPv1}},
		{models.SNMPv1, []models.SNMPVersion{models.SNMPv1, models.SNMPv2c, models.SNMPv3}},
	}
	for _, tc := range cases {
		cfg := &config.Config{DefaultVersion: tc.def}
		got := cfg.VersionOrder()
		if len(got) != 3 {
			t.Fatalf("%s: order = %v", tc.def, got)
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Errorf("%s: order = %v, want %v", tc.def, got, tc.want)
				break
			}
		}
	}
}

// ── OS definition corpus ─────────────────────────────────────────────────────

const osYAML = `
nxos:
  text: Cisco NX-OS
  vendor: Cisco
  discovery:
    - conditions:
        - { oid: sysObjectID, op: prefix, value: ".1.3.6.1.4.1.9" }
        - { oid: sysDescr, op: contains, value: "NX-OS" }

ios:
  text: Cisco IOS
  vendor: Cisco
  sysobjectid:
    - .1.3.6.1.4.1.9.1
  sysdescr:
    - "Cisco IOS Software"

airos:
  text: Ubiquiti AirOS
  vendor: Ubiquiti
  discovery:
    - conditions:
        - { oid: 1.3.6.1.4.1.41112.1.4.1.1.4.1, op: exists }
`

func TestLoadOSDefs(t *testing.T) {
	osDir := tmpDir(t, map[string]string{"cisco.yml": osYAML})

	cfg := load(t, t.TempDir(), osDir)
	defs := cfg.OSDefinitions
	if len(defs) != 3 {
		t.Fatalf("definitions = %d, want 3", len(defs))
	}

	// Names sorted within a file for a stable match order.
	if defs[0].Name != "airos" || defs[1].Name != "ios" || defs[2].Name != "nxos" {
		t.Fatalf("order = %s, %s, %s", defs[0].Name, defs[1].Name, defs[2].Name)
	}

	ios := defs[1]
	if len(ios.SysObjectID) != 1 || ios.SysObjectID[0] != "1.3.6.1.4.1.9.1" {
		t.Errorf("ios sysObjectID = %v, want leading dot stripped", ios.SysObjectID)
	}

	nxos := defs[2]
	if len(nxos.Discovery) != 1 {
		t.Fatalf("nxos rules = %d", len(nxos.Discovery))
	}
	if nxos.Discovery[0].Network {
		t.Error("sysObjectID/sysDescr rule wrongly marked network")
	}

	airos := defs[0]
	if len(airos.Discovery) != 1 || !airos.Discovery[0].Network {
		t.Error("live-OID rule should be forced into the network tier")
	}
	cond := airos.Discovery[0].Conditions[0]
	if cond.OID != ".1.3.6.1.4.1.41112.1.4.1.1.4.1" {
		t.Errorf("live OID = %q, want canonical dotted form", cond.OID)
	}
	if cond.Op != "exists" {
		t.Errorf("op = %q", cond.Op)
	}
}

func TestLoadOSDefsDefaultsOpToEquals(t *testing.T) {
	osDir := tmpDir(t, map[string]string{"one.yml": `
someos:
  text: Some OS
  discovery:
    - conditions:
        - { oid: sysDescr, value: "Exact Banner" }
`})

	cfg := load(t, t.TempDir(), osDir)
	if len(cfg.OSDefinitions) != 1 {
		t.Fatalf("definitions = %d", len(cfg.OSDefinitions))
	}
	cond := cfg.OSDefinitions[0].Discovery[0].Conditions[0]
	if cond.Op != "equals" {
		t.Errorf("op = %q, want equals", cond.Op)
	}
}

func TestLoadOSDefsMissingDirIsEmpty(t *testing.T) {
	cfg := load(t, t.TempDir(), filepath.Join(t.TempDir(), "does-not-exist"))
	if len(cfg.OSDefinitions) != 0 {
		t.Errorf("definitions = %d, want 0", len(cfg.OSDefinitions))
	}
}
