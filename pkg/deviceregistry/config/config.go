package config

import (
	"github.com/vpbank/device_registry/models"
)

// Config is the fully-resolved, immutable registry configuration. It is
// built once by Load and passed into each component at construction; nothing
// reads configuration ambiently.
type Config struct {
	// PollerID identifies the poller instance executing this process.
	// Devices added for another poller are queued, not probed.
	PollerID int

	// PollerName is the optional human name of this poller.
	PollerName string

	// RequireHostname rejects literal-IP hostnames when true.
	RequireHostname bool

	// HideAuth redacts credentials in the per-attempt progress trace.
	HideAuth bool

	// RRDDir is the base directory for time-series artifacts. Only the
	// path is computed here; file internals belong to the RRD layer.
	RRDDir string

	// RRDOverride skips the pre-existing RRD directory check on add.
	RRDOverride bool

	// DefaultVersion is tried first when the caller specifies no version.
	// The remaining versions follow in the fixed order v2c, v3, v1.
	DefaultVersion models.SNMPVersion

	// Communities is the ordered list of v1/v2c community strings to try.
	Communities []string

	// V3Credentials is the ordered list of SNMPv3 credential sets to try.
	V3Credentials []models.V3Params

	// TimeoutMs / Retries / Port / Transport are the probe defaults used
	// when a request does not override them.
	TimeoutMs int
	Retries   int
	Port      int
	Transport models.SNMPTransport

	// PingTimeoutMs bounds a single ICMP reachability check.
	PingTimeoutMs int

	// PingCount is the number of echo requests per reachability check.
	PingCount int

	// OIDMatchThreshold is the minimum fraction of comparable system OIDs
	// that must agree before the resolver treats two devices with matching
	// sysName as the same physical device. 1.0 reproduces the legacy
	// all-must-match behaviour.
	OIDMatchThreshold float64

	// OSDefinitions is the parsed OS rule corpus in definition order.
	OSDefinitions []models.OSDefinition
}

// VersionOrder returns the version preference order for "try everything"
// adds: the configured default first, then the remaining of v2c, v3, v1.
func (c *Config) VersionOrder() []models.SNMPVersion {
	order := make([]models.SNMPVersion, 0, 3)
	order = append(order, c.DefaultVersion)
	for _, v := range []models.SNMPVersion{models.SNMPv2c, models.SNMPv3, models.SNMPv1} {
		if v != c.DefaultVersion {
			order = append(order, v)
		}
	}
	return order
}

// rawSNMPFile is the YAML-decoded form of one file in the snmp config tree.
// Files are merged in path order; the first non-zero value for each field
// wins, lists are concatenated.
type rawSNMPFile struct {
	PollerID        int      `yaml:"poller_id"`
	PollerName      string   `yaml:"poller_name"`
	RequireHostname *bool    `yaml:"require_hostname"`
	HideAuth        *bool    `yaml:"hide_auth"`
	RRDDir          string   `yaml:"rrd_dir"`
	RRDOverride     *bool    `yaml:"rrd_override"`
	Version         string   `yaml:"version"`
	Communities     []string `yaml:"communities"`
	V3              []rawV3  `yaml:"v3"`
	Timeout         int      `yaml:"timeout"`
	Retries         int      `yaml:"retries"`
	Port            int      `yaml:"port"`
	Transport       string   `yaml:"transport"`
	PingTimeout     int      `yaml:"ping_timeout"`
	PingCount       int      `yaml:"ping_count"`
	OIDThreshold    float64  `yaml:"oid_match_threshold"`
}

type rawV3 struct {
	AuthLevel  string `yaml:"authlevel"`
	AuthName   string `yaml:"authname"`
	AuthPass   string `yaml:"authpass"`
	AuthAlgo   string `yaml:"authalgo"`
	CryptoPass string `yaml:"cryptopass"`
	CryptoAlgo string `yaml:"cryptoalgo"`
}

// rawOSFile is the YAML-decoded form of one OS definition file: a map of
// OS identifier → definition body, matching the corpus file layout.
type rawOSFile map[string]rawOSBody

type rawOSBody struct {
	Text        string         `yaml:"text"`
	Vendor      string         `yaml:"vendor"`
	SysObjectID []string       `yaml:"sysobjectid"`
	SysDescr    []string       `yaml:"sysdescr"`
	Discovery   []rawDiscovery `yaml:"discovery"`
	Matcher     string         `yaml:"matcher"`
}

type rawDiscovery struct {
	Network    bool           `yaml:"network"`
	Conditions []rawCondition `yaml:"conditions"`
}

type rawCondition struct {
	OID   string `yaml:"oid"`
	Op    string `yaml:"op"`
	Value string `yaml:"value"`
}
