package fingerprint

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/vpbank/device_registry/models"
	"github.com/vpbank/device_registry/snmp"
)

// ─────────────────────────────────────────────────────────────────────────────
// Matcher
// ─────────────────────────────────────────────────────────────────────────────

// Matcher resolves a device's OS identifier against the rule corpus.
type Matcher struct {
	corpus *Corpus
	logger *slog.Logger
}

// NewMatcher builds a Matcher over the given corpus. A nil logger is
// replaced with a no-op logger.
func NewMatcher(corpus *Corpus, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Matcher{corpus: corpus, logger: logger}
}

// Identify determines the OS for dev. The device must already carry its
// fetched sysObjectID and sysDescr; client is used only for the network rule
// tier and may be nil when no network rules exist in the corpus.
//
// Match order, first hit wins:
//
//	0. recheck fast path: priorOS still matches, skip the full scan
//	1. non-network complex rules, definition order
//	2. sysObjectID arc trie, deepest pattern wins
//	3. sysDescr regex, definition order
//	4. network complex rules, definition order (live SNMP gets)
//	5. registered custom matchers, definition order
//
// When nothing matches, the sentinel "generic" is returned so the device is
// still usable; Identify never fails outright. An SNMP timeout while
// evaluating a network rule makes that rule not match, it does not abort
// identification.
func (m *Matcher) Identify(ctx context.Context, client snmp.Client, dev *models.Device, priorOS string) string {
	if priorOS != "" && priorOS != models.OSGeneric {
		if def, ok := m.corpus.Definition(priorOS); ok && m.defMatches(ctx, client, dev, def) {
			m.logger.Debug("fingerprint: recheck confirmed", "device", dev.Hostname, "os", priorOS)
			return priorOS
		}
	}

	for _, or := range m.corpus.plain {
		for _, rule := range or.rules {
			if m.evalRule(ctx, nil, dev, rule) {
				m.logger.Debug("fingerprint: complex rule match", "device", dev.Hostname, "os", or.os)
				return or.os
			}
		}
	}

	if dev.SysObjectID != "" {
		if os, ok := m.corpus.MatchSysObjectID(dev.SysObjectID); ok {
			m.logger.Debug("fingerprint: sysObjectID match", "device", dev.Hostname, "os", os)
			return os
		}
	}

	if dev.SysDescr != "" {
		if os, ok := m.corpus.MatchSysDescr(dev.SysDescr); ok {
			m.logger.Debug("fingerprint: sysDescr match", "device", dev.Hostname, "os", os)
			return os
		}
	}

	if client != nil {
		for _, or := range m.corpus.network {
			for _, rule := range or.rules {
				if m.evalRule(ctx, client, dev, rule) {
					m.logger.Debug("fingerprint: network rule match", "device", dev.Hostname, "os", or.os)
					return or.os
				}
			}
		}
	}

	for _, def := range m.corpus.defs {
		if def.CustomMatcher == "" {
			continue
		}
		fn, ok := customMatcher(def.CustomMatcher)
		if !ok {
			m.logger.Warn("fingerprint: unknown custom matcher", "os", def.Name, "matcher", def.CustomMatcher)
			continue
		}
		if fn(ctx, client, dev) {
			m.logger.Debug("fingerprint: custom matcher hit", "device", dev.Hostname, "os", def.Name)
			return def.Name
		}
	}

	return models.OSGeneric
}

// defMatches reports whether the prior OS's complex rules still match the
// device: non-network rules first, then network rules. Only this
// definition's rules are evaluated; the pattern tables are not consulted, a
// device that drifted off its rules gets the full scan.
func (m *Matcher) defMatches(ctx context.Context, client snmp.Client, dev *models.Device, def models.OSDefinition) bool {
	for _, rule := range def.Discovery {
		if rule.Network {
			continue
		}
		if m.evalRule(ctx, nil, dev, rule) {
			return true
		}
	}
	if client == nil {
		return false
	}
	for _, rule := range def.Discovery {
		if !rule.Network {
			continue
		}
		if m.evalRule(ctx, client, dev, rule) {
			return true
		}
	}
	return false
}

// ─────────────────────────────────────────────────────────────────────────────
// Rule evaluation
// ─────────────────────────────────────────────────────────────────────────────

// evalRule evaluates every condition of one rule; all must hold. Conditions
// over live OIDs fetch through client, and any fetch failure (timeout
// included) fails the condition.
func (m *Matcher) evalRule(ctx context.Context, client snmp.Client, dev *models.Device, rule models.ComplexRule) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	for _, cond := range rule.Conditions {
		value, ok := m.condValue(ctx, client, dev, cond)
		if !ok {
			return false
		}
		if !condHolds(cond, value, ok) {
			return false
		}
	}
	return true
}

// condValue resolves the observed value for a condition's OID. The second
// return is false when the value is unavailable.
func (m *Matcher) condValue(ctx context.Context, client snmp.Client, dev *models.Device, cond models.OIDCondition) (string, bool) {
	switch cond.OID {
	case "sysObjectID":
		return dev.SysObjectID, dev.SysObjectID != ""
	case "sysDescr":
		// An empty sysDescr is a legitimate response; only the regex and
		// value ops care about content.
		return dev.SysDescr, true
	}
	if client == nil {
		return "", false
	}
	value, err := client.Get(ctx, cond.OID)
	if err != nil || client.Status() != snmp.StatusOK {
		return "", false
	}
	return value, true
}

func condHolds(cond models.OIDCondition, value string, present bool) bool {
	switch cond.Op {
	case "exists":
		return present
	case "equals", "":
		return value == cond.Value
	case "prefix":
		return strings.HasPrefix(value, cond.Value)
	case "contains":
		return strings.Contains(value, cond.Value)
	case "regex":
		re, err := regexp.Compile(cond.Value)
		if err != nil {
			return false
		}
		return re.MatchString(value)
	default:
		return false
	}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
