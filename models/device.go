// Package models defines the core data structures shared across all layers of
// the Device Registry. These types represent the canonical in-memory form of a
// monitored device and its identity signals; every other package depends on
// this package and nothing here depends on any other internal package.
package models

import (
	"strings"
	"time"
)

// SNMPVersion identifies the SNMP protocol version used to talk to a device.
type SNMPVersion string

const (
	SNMPv1  SNMPVersion = "v1"
	SNMPv2c SNMPVersion = "v2c"
	SNMPv3  SNMPVersion = "v3"
)

// Valid reports whether v is one of the three supported versions.
func (v SNMPVersion) Valid() bool {
	return v == SNMPv1 || v == SNMPv2c || v == SNMPv3
}

// SNMPTransport identifies the transport used for SNMP requests.
// The v6 variants force AAAA-only hostname resolution.
type SNMPTransport string

const (
	TransportUDP  SNMPTransport = "udp"
	TransportUDP6 SNMPTransport = "udp6"
	TransportTCP  SNMPTransport = "tcp"
	TransportTCP6 SNMPTransport = "tcp6"
)

// IPv6 reports whether the transport restricts resolution to IPv6.
func (t SNMPTransport) IPv6() bool {
	return t == TransportUDP6 || t == TransportTCP6
}

// ForFamily returns the transport variant matching the given IP family,
// preserving the udp/tcp base. ipv6=false yields udp/tcp, true yields
// udp6/tcp6.
func (t SNMPTransport) ForFamily(ipv6 bool) SNMPTransport {
	tcp := strings.HasPrefix(string(t), "tcp")
	switch {
	case tcp && ipv6:
		return TransportTCP6
	case tcp:
		return TransportTCP
	case ipv6:
		return TransportUDP6
	default:
		return TransportUDP
	}
}

// AuthLevel is the SNMPv3 security level.
type AuthLevel string

const (
	NoAuthNoPriv AuthLevel = "noauthnopriv"
	AuthNoPriv   AuthLevel = "authnopriv"
	AuthPriv     AuthLevel = "authpriv"
)

// V3Params holds a single set of SNMPv3 security parameters.
type V3Params struct {
	// AuthLevel is one of noauthnopriv, authnopriv, authpriv.
	AuthLevel AuthLevel `yaml:"authlevel" json:"authlevel"`

	// AuthName is the SNMPv3 security name (username).
	AuthName string `yaml:"authname" json:"authname"`

	// AuthPass is the authentication passphrase.
	AuthPass string `yaml:"authpass" json:"authpass,omitempty"`

	// AuthAlgo is one of: md5, sha, sha224, sha256, sha384, sha512.
	AuthAlgo string `yaml:"authalgo" json:"authalgo,omitempty"`

	// CryptoPass is the privacy passphrase.
	CryptoPass string `yaml:"cryptopass" json:"cryptopass,omitempty"`

	// CryptoAlgo is one of: des, aes, aes192, aes256, aes192c, aes256c.
	CryptoAlgo string `yaml:"cryptoalgo" json:"cryptoalgo,omitempty"`
}

// Device is the central entity of the registry. Identity attributes are set
// when the record is built, fingerprint attributes after a successful probe,
// operational attributes by the polling processes outside this module.
type Device struct {
	// DeviceID is assigned by the store on successful insert and is
	// immutable thereafter. Zero means "not yet persisted".
	DeviceID int64 `json:"device_id"`

	// Hostname is the configured name, possibly a literal IP address.
	// Unique among non-deleted devices, stored lowercased.
	Hostname string `json:"hostname"`

	// IP is the resolved management address. Empty until resolution.
	IP string `json:"ip,omitempty"`

	// SNMP access parameters.
	SNMPVersion   SNMPVersion   `json:"snmp_version"`
	SNMPTransport SNMPTransport `json:"snmp_transport"`
	SNMPPort      int           `json:"snmp_port"`
	SNMPCommunity string        `json:"snmp_community,omitempty"` // v1 / v2c
	SNMPV3        V3Params      `json:"snmp_v3,omitempty"`        // v3
	SNMPContext   string        `json:"snmp_context,omitempty"`
	SNMPTimeout   int           `json:"snmp_timeout,omitempty"` // milliseconds, 0 = default
	SNMPRetries   int           `json:"snmp_retries,omitempty"` // 0 = default
	SNMPMaxRep    int           `json:"snmp_maxrep,omitempty"`

	// SNMPableOIDs optionally overrides the OID probed for reachability
	// (default sysDescr.0). All entries are numeric OIDs.
	SNMPableOIDs []string `json:"snmpable,omitempty"`

	// Fingerprint attributes, populated after a successful probe on the
	// local poller only.
	SysObjectID  string `json:"sys_object_id,omitempty"`
	SysDescr     string `json:"sys_descr,omitempty"`
	SysName      string `json:"sys_name,omitempty"`
	SNMPEngineID string `json:"snmp_engine_id,omitempty"`
	Location     string `json:"location,omitempty"`
	SysContact   string `json:"sys_contact,omitempty"`
	OS           string `json:"os,omitempty"`

	// Operational attributes.
	Status     int       `json:"status"` // 0 = down, 1 = up
	Disabled   bool      `json:"disabled"`
	PollerID   int       `json:"poller_id"`
	LastPolled time.Time `json:"last_polled,omitempty"`
	Uptime     int64     `json:"uptime,omitempty"` // seconds
}

// OSGeneric is the sentinel OS identifier returned when no fingerprint rule
// matches.
const OSGeneric = "generic"

// DuplicateVerdict classifies the outcome of a duplicate check.
type DuplicateVerdict string

const (
	// VerdictNone means no existing device matches the candidate.
	VerdictNone DuplicateVerdict = ""

	// VerdictHostname means an existing device has the same hostname.
	VerdictHostname DuplicateVerdict = "hostname"

	// VerdictIPSNMP* mean an existing device shares the resolved IP, SNMP
	// port and context, and the credentials match decisively.
	VerdictIPSNMPv1  DuplicateVerdict = "ip_snmp_v1"
	VerdictIPSNMPv2c DuplicateVerdict = "ip_snmp_v2c"
	VerdictIPSNMPv3  DuplicateVerdict = "ip_snmp_v3"

	// VerdictSystem means an existing device shares the candidate's system
	// identity signals (snmpEngineID / sysName / serial / other OIDs).
	VerdictSystem DuplicateVerdict = "system"
)

// ForVersion returns the ip_snmp verdict matching an SNMP version.
func ForVersion(v SNMPVersion) DuplicateVerdict {
	switch v {
	case SNMPv1:
		return VerdictIPSNMPv1
	case SNMPv3:
		return VerdictIPSNMPv3
	default:
		return VerdictIPSNMPv2c
	}
}

// NormalizeHostname lowercases and trims a hostname the way every entry point
// into the registry must before comparing or storing it.
func NormalizeHostname(hostname string) string {
	return strings.ToLower(strings.TrimSpace(hostname))
}

// CredentialsEqual reports whether two devices carry the same SNMP secret for
// their (shared) version. For v3 the comparison follows the auth-level
// ladder: noauthnopriv needs only the same name, authnopriv adds the auth
// triplet, authpriv adds the crypto pair.
func CredentialsEqual(a, b *Device) bool {
	if a.SNMPVersion != SNMPv3 {
		return a.SNMPCommunity == b.SNMPCommunity
	}
	if !strings.EqualFold(string(a.SNMPV3.AuthLevel), string(b.SNMPV3.AuthLevel)) {
		return false
	}
	switch AuthLevel(strings.ToLower(string(a.SNMPV3.AuthLevel))) {
	case NoAuthNoPriv:
		return a.SNMPV3.AuthName == b.SNMPV3.AuthName
	case AuthNoPriv:
		return a.SNMPV3.AuthName == b.SNMPV3.AuthName &&
			a.SNMPV3.AuthPass == b.SNMPV3.AuthPass &&
			a.SNMPV3.AuthAlgo == b.SNMPV3.AuthAlgo
	case AuthPriv:
		return a.SNMPV3.AuthName == b.SNMPV3.AuthName &&
			a.SNMPV3.AuthPass == b.SNMPV3.AuthPass &&
			a.SNMPV3.AuthAlgo == b.SNMPV3.AuthAlgo &&
			a.SNMPV3.CryptoPass == b.SNMPV3.CryptoPass &&
			a.SNMPV3.CryptoAlgo == b.SNMPV3.CryptoAlgo
	}
	return false
}
