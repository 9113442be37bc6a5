// Package config provides YAML configuration loading for the Device Registry.
//
// It reads two directory trees (driven by environment variables) and produces
// an immutable Config value passed into every component at construction:
//
//	REGISTRY_SNMP_CONFIG_DIRECTORY_PATH → credential sets, probe defaults
//	REGISTRY_OS_DEFINITIONS_DIRECTORY_PATH → OS fingerprint rule corpus
package config

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vpbank/device_registry/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Paths
// ─────────────────────────────────────────────────────────────────────────────

// Paths holds the directory locations for both configuration trees.
type Paths struct {
	SNMP   string // REGISTRY_SNMP_CONFIG_DIRECTORY_PATH
	OSDefs string // REGISTRY_OS_DEFINITIONS_DIRECTORY_PATH
}

// PathsFromEnv reads each path from its environment variable, falling back
// to the documented default when the variable is unset or empty.
func PathsFromEnv() Paths {
	return Paths{
		SNMP:   envOr("REGISTRY_SNMP_CONFIG_DIRECTORY_PATH", "/etc/device_registry/snmp"),
		OSDefs: envOr("REGISTRY_OS_DEFINITIONS_DIRECTORY_PATH", "/etc/device_registry/os.d"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ─────────────────────────────────────────────────────────────────────────────
// Load
// ─────────────────────────────────────────────────────────────────────────────

// Load reads both configuration trees and returns a fully resolved Config.
// Errors from individual files are accumulated and returned together so that
// operators see all problems at once. A missing directory leaves its section
// empty, allowing partial deployments.
func Load(paths Paths, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}

	var errs []string

	cfg, err := loadSNMP(paths.SNMP, logger)
	if err != nil {
		errs = append(errs, err.Error())
	}

	defs, err := loadOSDefs(paths.OSDefs, logger)
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.OSDefinitions = defs

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %d error(s):\n  %s", len(errs), strings.Join(errs, "\n  "))
	}
	return cfg, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// SNMP / probe settings
// ─────────────────────────────────────────────────────────────────────────────

func loadSNMP(dir string, logger *slog.Logger) (*Config, error) {
	cfg := &Config{}

	files, err := yamlFiles(dir)
	if err != nil && !os.IsNotExist(err) {
		return cfg.withDefaults(), fmt.Errorf("list snmp config dir %q: %w", dir, err)
	}

	for _, path := range files {
		var raw rawSNMPFile
		if err := decodeFile(path, &raw); err != nil {
			logger.Warn("config: skip malformed snmp file", "file", path, "error", err.Error())
			continue
		}
		mergeSNMP(cfg, raw)
		logger.Debug("config: loaded snmp file", "file", path)
	}

	return cfg.withDefaults(), nil
}

// mergeSNMP fills zero fields in cfg with values from raw and appends
// credential lists, preserving file order.
func mergeSNMP(cfg *Config, raw rawSNMPFile) {
	if cfg.PollerID == 0 && raw.PollerID != 0 {
		cfg.PollerID = raw.PollerID
	}
	if cfg.PollerName == "" && raw.PollerName != "" {
		cfg.PollerName = raw.PollerName
	}
	if raw.RequireHostname != nil {
		cfg.RequireHostname = *raw.RequireHostname
	}
	if raw.HideAuth != nil {
		cfg.HideAuth = *raw.HideAuth
	}
	if cfg.RRDDir == "" && raw.RRDDir != "" {
		cfg.RRDDir = raw.RRDDir
	}
	if raw.RRDOverride != nil {
		cfg.RRDOverride = *raw.RRDOverride
	}
	if cfg.DefaultVersion == "" && raw.Version != "" {
		cfg.DefaultVersion = models.SNMPVersion(raw.Version)
	}
	cfg.Communities = append(cfg.Communities, raw.Communities...)
	for _, v3 := range raw.V3 {
		cfg.V3Credentials = append(cfg.V3Credentials, models.V3Params{
			AuthLevel:  models.AuthLevel(strings.ToLower(v3.AuthLevel)),
			AuthName:   v3.AuthName,
			AuthPass:   v3.AuthPass,
			AuthAlgo:   v3.AuthAlgo,
			CryptoPass: v3.CryptoPass,
			CryptoAlgo: v3.CryptoAlgo,
		})
	}
	if cfg.TimeoutMs == 0 && raw.Timeout != 0 {
		cfg.TimeoutMs = raw.Timeout
	}
	if cfg.Retries == 0 && raw.Retries != 0 {
		cfg.Retries = raw.Retries
	}
	if cfg.Port == 0 && raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if cfg.Transport == "" && raw.Transport != "" {
		cfg.Transport = models.SNMPTransport(strings.ToLower(raw.Transport))
	}
	if cfg.PingTimeoutMs == 0 && raw.PingTimeout != 0 {
		cfg.PingTimeoutMs = raw.PingTimeout
	}
	if cfg.PingCount == 0 && raw.PingCount != 0 {
		cfg.PingCount = raw.PingCount
	}
	if cfg.OIDMatchThreshold == 0 && raw.OIDThreshold != 0 {
		cfg.OIDMatchThreshold = raw.OIDThreshold
	}
}

// withDefaults applies hard-coded fallbacks for zero-valued fields.
func (c *Config) withDefaults() *Config {
	if c.DefaultVersion == "" {
		c.DefaultVersion = models.SNMPv2c
	}
	if len(c.Communities) == 0 {
		c.Communities = []string{"public"}
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 3000
	}
	if c.Retries == 0 {
		c.Retries = 2
	}
	if c.Port == 0 {
		c.Port = 161
	}
	if c.Transport == "" {
		c.Transport = models.TransportUDP
	}
	if c.PingTimeoutMs == 0 {
		c.PingTimeoutMs = 2000
	}
	if c.PingCount == 0 {
		c.PingCount = 1
	}
	if c.OIDMatchThreshold == 0 {
		c.OIDMatchThreshold = 1.0
	}
	return c
}

// ─────────────────────────────────────────────────────────────────────────────
// OS definition corpus
// ─────────────────────────────────────────────────────────────────────────────

// loadOSDefs reads every YAML file under dir and returns the definitions in
// deterministic order: files sorted by path, OS names sorted within a file.
// Definition order is the tiebreaker for rule matching, so it must be stable
// across runs.
func loadOSDefs(dir string, logger *slog.Logger) ([]models.OSDefinition, error) {
	var defs []models.OSDefinition

	files, err := yamlFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return defs, nil
		}
		return defs, fmt.Errorf("list os definitions dir %q: %w", dir, err)
	}

	for _, path := range files {
		var raw rawOSFile
		if err := decodeFile(path, &raw); err != nil {
			logger.Warn("config: skip malformed os file", "file", path, "error", err.Error())
			continue
		}

		names := make([]string, 0, len(raw))
		for name := range raw {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			defs = append(defs, convertOSDef(name, raw[name]))
		}
		logger.Debug("config: loaded os file", "file", path, "count", len(raw))
	}
	return defs, nil
}

func convertOSDef(name string, b rawOSBody) models.OSDefinition {
	def := models.OSDefinition{
		Name:          name,
		Text:          b.Text,
		Vendor:        b.Vendor,
		SysDescr:      b.SysDescr,
		CustomMatcher: b.Matcher,
	}
	for _, oid := range b.SysObjectID {
		def.SysObjectID = append(def.SysObjectID, normaliseOID(oid))
	}
	for _, d := range b.Discovery {
		rule := models.ComplexRule{Network: d.Network}
		for _, c := range d.Conditions {
			op := c.Op
			if op == "" {
				op = "equals"
			}
			oid := c.OID
			if oid != "sysObjectID" && oid != "sysDescr" {
				oid = "." + normaliseOID(oid)
			}
			rule.Conditions = append(rule.Conditions, models.OIDCondition{
				OID:   oid,
				Op:    op,
				Value: c.Value,
			})
		}
		// Live OIDs force the rule into the network tier even when the
		// file does not flag it.
		rule.Network = d.Network || ruleNeedsNetwork(rule)
		def.Discovery = append(def.Discovery, rule)
	}
	return def
}

// ruleNeedsNetwork reports whether any condition targets a live OID rather
// than the already-fetched sysObjectID/sysDescr fields.
func ruleNeedsNetwork(rule models.ComplexRule) bool {
	for _, c := range rule.Conditions {
		if c.OID != "sysObjectID" && c.OID != "sysDescr" {
			return true
		}
	}
	return false
}

// normaliseOID strips a leading dot so OIDs are in canonical form.
func normaliseOID(oid string) string {
	return strings.TrimPrefix(strings.TrimSpace(oid), ".")
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// yamlFiles returns all *.yml / *.yaml files under dir, sorted by path.
func yamlFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		if ext == ".yml" || ext == ".yaml" {
			paths = append(paths, p)
		}
		return nil
	})
	sort.Strings(paths)
	return paths, err
}

// decodeFile opens path and unmarshals the YAML content into out.
func decodeFile(path string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(false) // extra keys are fine
	return dec.Decode(out)
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
