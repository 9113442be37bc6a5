package models

// Well-known SNMPv2-MIB and related identity OIDs used throughout discovery.
const (
	OIDSysDescr     = ".1.3.6.1.2.1.1.1.0"
	OIDSysObjectID  = ".1.3.6.1.2.1.1.2.0"
	OIDSysUpTime    = ".1.3.6.1.2.1.1.3.0"
	OIDSysContact   = ".1.3.6.1.2.1.1.4.0"
	OIDSysName      = ".1.3.6.1.2.1.1.5.0"
	OIDSysLocation  = ".1.3.6.1.2.1.1.6.0"
	OIDSysServices  = ".1.3.6.1.2.1.1.7.0"
	OIDSnmpEngineID = ".1.3.6.1.6.3.10.2.1.1.0"

	// OIDEntPhysicalSerialNum is the ENTITY-MIB serial column; append the
	// entPhysicalIndex to address one row.
	OIDEntPhysicalSerialNum = ".1.3.6.1.2.1.47.1.1.1.1.11"
)

// OSDefinition is the parsed form of a single OS YAML file in the rule
// corpus. Definitions are static reference data, never mutated at runtime.
type OSDefinition struct {
	// Name is the OS identifier, e.g. "ios".
	Name string

	// Text is the human-readable OS name, e.g. "Cisco IOS".
	Text string

	// Vendor labels the manufacturer, informational only.
	Vendor string

	// SysObjectID lists exact or prefix patterns matched against the
	// device sysObjectID. A pattern matches either the full OID or a
	// leading sequence of whole arcs.
	SysObjectID []string

	// SysDescr lists regular expressions matched against sysDescr.
	SysDescr []string

	// Discovery lists complex multi-OID rules. Rules flagged Network
	// require reaching the device for extra OIDs and are consulted in a
	// later pass than static rules.
	Discovery []ComplexRule

	// CustomMatcher optionally names a registered matcher routine
	// consulted as a last resort.
	CustomMatcher string
}

// ComplexRule is a conjunction of conditions; the rule matches only when
// every condition holds.
type ComplexRule struct {
	// Network marks rules that must query the live device beyond the
	// already-fetched sysObjectID/sysDescr.
	Network bool

	Conditions []OIDCondition
}

// OIDCondition is one "OID op value" test within a complex rule.
//
// OID may be the special names "sysObjectID" or "sysDescr", which are
// evaluated against the fingerprint fields already fetched; any other value
// must be a numeric OID fetched live (making the enclosing rule
// network-dependent).
type OIDCondition struct {
	OID string

	// Op is one of: "equals", "prefix", "regex", "exists", "contains".
	Op string

	Value string
}
