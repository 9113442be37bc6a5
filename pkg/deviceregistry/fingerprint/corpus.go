// Package fingerprint determines a device's operating-system identity from
// SNMP-observable signals.
//
// The rule corpus is loaded once into an indexed form: an arc trie over
// sysObjectID patterns, compiled sysDescr regex lists, and per-OS complex
// rule lists split into network and non-network tiers. Matching consults the
// tiers in a fixed priority order; complex multi-OID rules outrank the
// single-OID sysObjectID table because one sysObjectID can be shared by
// several product families while a combination of OIDs disambiguates.
package fingerprint

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vpbank/device_registry/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Corpus: indexed OS definitions
// ─────────────────────────────────────────────────────────────────────────────

// Corpus is the immutable, indexed form of the OS definition rule set.
type Corpus struct {
	// defs preserves definition order, the tiebreaker everywhere.
	defs []models.OSDefinition

	// byName maps OS identifier → index into defs.
	byName map[string]int

	// oidTrie indexes sysObjectID patterns by OID arc; the deepest
	// (most specific) match wins, ties broken by definition order.
	oidTrie *oidNode

	// sysDescr holds the per-OS compiled patterns in definition order.
	sysDescr []compiledDescr

	// plain / network are the complex rules split by tier, in definition
	// order.
	plain   []osRules
	network []osRules
}

type compiledDescr struct {
	os       string
	patterns []*regexp.Regexp
}

type osRules struct {
	os    string
	rules []models.ComplexRule
}

// NewCorpus indexes the given definitions. Invalid sysDescr patterns are
// reported as an error: a corpus that silently drops rules would change
// match outcomes in a way nobody can see.
func NewCorpus(defs []models.OSDefinition) (*Corpus, error) {
	c := &Corpus{
		defs:    defs,
		byName:  make(map[string]int, len(defs)),
		oidTrie: &oidNode{children: map[string]*oidNode{}},
	}

	for i, def := range defs {
		if _, dup := c.byName[def.Name]; dup {
			return nil, fmt.Errorf("fingerprint: duplicate os definition %q", def.Name)
		}
		c.byName[def.Name] = i

		for _, pattern := range def.SysObjectID {
			c.oidTrie.insert(strings.Split(pattern, "."), def.Name, i)
		}

		if len(def.SysDescr) > 0 {
			cd := compiledDescr{os: def.Name}
			for _, p := range def.SysDescr {
				re, err := regexp.Compile(p)
				if err != nil {
					return nil, fmt.Errorf("fingerprint: os %q sysdescr pattern %q: %w", def.Name, p, err)
				}
				cd.patterns = append(cd.patterns, re)
			}
			c.sysDescr = append(c.sysDescr, cd)
		}

		var plain, network []models.ComplexRule
		for _, rule := range def.Discovery {
			if rule.Network {
				network = append(network, rule)
			} else {
				plain = append(plain, rule)
			}
		}
		if len(plain) > 0 {
			c.plain = append(c.plain, osRules{os: def.Name, rules: plain})
		}
		if len(network) > 0 {
			c.network = append(c.network, osRules{os: def.Name, rules: network})
		}
	}
	return c, nil
}

// Len returns the number of OS definitions in the corpus.
func (c *Corpus) Len() int { return len(c.defs) }

// Definition returns the definition for an OS identifier.
func (c *Corpus) Definition(os string) (models.OSDefinition, bool) {
	i, ok := c.byName[os]
	if !ok {
		return models.OSDefinition{}, false
	}
	return c.defs[i], true
}

// MatchSysObjectID returns the OS whose pattern is the deepest match for the
// device sysObjectID, honouring arc boundaries: "1.3.6.1.4.1.9" matches
// "1.3.6.1.4.1.9.1.1" but not "1.3.6.1.4.1.90".
func (c *Corpus) MatchSysObjectID(sysObjectID string) (string, bool) {
	arcs := strings.Split(strings.TrimPrefix(sysObjectID, "."), ".")
	if len(arcs) == 0 || arcs[0] == "" {
		return "", false
	}
	os, _, ok := c.oidTrie.lookup(arcs)
	return os, ok
}

// MatchSysDescr returns the first OS (in definition order) whose pattern
// list matches the given sysDescr.
func (c *Corpus) MatchSysDescr(sysDescr string) (string, bool) {
	for _, cd := range c.sysDescr {
		for _, re := range cd.patterns {
			if re.MatchString(sysDescr) {
				return cd.os, true
			}
		}
	}
	return "", false
}

// ─────────────────────────────────────────────────────────────────────────────
// sysObjectID arc trie
// ─────────────────────────────────────────────────────────────────────────────

type oidNode struct {
	children map[string]*oidNode

	// terminal marks a pattern ending at this node.
	terminal bool
	os       string
	defOrder int
}

func (n *oidNode) insert(arcs []string, os string, order int) {
	if len(arcs) == 0 || arcs[0] == "" {
		if !n.terminal || order < n.defOrder {
			n.terminal = true
			n.os = os
			n.defOrder = order
		}
		return
	}
	child, ok := n.children[arcs[0]]
	if !ok {
		child = &oidNode{children: map[string]*oidNode{}}
		n.children[arcs[0]] = child
	}
	child.insert(arcs[1:], os, order)
}

// lookup walks the trie along the device OID arcs and returns the deepest
// terminal seen.
func (n *oidNode) lookup(arcs []string) (string, int, bool) {
	var (
		os    string
		depth = -1
		found bool
	)
	node := n
	for i := 0; ; i++ {
		if node.terminal {
			os, depth, found = node.os, i, true
		}
		if i >= len(arcs) {
			break
		}
		next, ok := node.children[arcs[i]]
		if !ok {
			break
		}
		node = next
	}
	return os, depth, found
}
