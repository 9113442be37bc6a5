// Package snmp provides the SNMP capability consumed by discovery: it turns a
// models.Device into a live gosnmp session and exposes Get / GetNext / Walk
// with a status side channel that distinguishes timeouts, authentication
// failures and empty responses. Absence of a reply is a normal outcome here,
// not a fatal error.
package snmp

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/vpbank/device_registry/models"
)

// Session defaults applied when the device carries no override.
const (
	DefaultTimeoutMs = 3000
	DefaultRetries   = 2
	DefaultPort      = 161
)

// ─────────────────────────────────────────────────────────────────────────────
// Session factory: models.Device to *gosnmp.GoSNMP
// ─────────────────────────────────────────────────────────────────────────────

// NewSession creates and connects a gosnmp session for the given device.
// The target address is dev.IP when resolved, dev.Hostname otherwise. The
// caller is responsible for closing the returned session.
func NewSession(dev *models.Device) (*gosnmp.GoSNMP, error) {
	target := dev.IP
	if target == "" {
		target = dev.Hostname
	}

	port := dev.SNMPPort
	if port <= 0 || port > 65535 {
		port = DefaultPort
	}
	timeout := dev.SNMPTimeout
	if timeout <= 0 {
		timeout = DefaultTimeoutMs
	}
	retries := dev.SNMPRetries
	if retries < 0 {
		retries = DefaultRetries
	}

	g := &gosnmp.GoSNMP{
		Target:    target,
		Port:      uint16(port),
		Transport: transportString(dev.SNMPTransport),
		Timeout:   time.Duration(timeout) * time.Millisecond,
		Retries:   retries,
		MaxOids:   60,
	}
	if dev.SNMPMaxRep > 0 {
		g.MaxRepetitions = uint32(dev.SNMPMaxRep)
	}
	if dev.SNMPContext != "" {
		g.ContextName = dev.SNMPContext
	}

	switch dev.SNMPVersion {
	case models.SNMPv1:
		g.Version = gosnmp.Version1
		g.Community = dev.SNMPCommunity
	case models.SNMPv2c:
		g.Version = gosnmp.Version2c
		g.Community = dev.SNMPCommunity
	case models.SNMPv3:
		g.Version = gosnmp.Version3
		g.SecurityModel = gosnmp.UserSecurityModel
		g.MsgFlags = v3MsgFlags(dev.SNMPV3)
		g.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 dev.SNMPV3.AuthName,
			AuthenticationProtocol:   mapAuthProto(dev.SNMPV3.AuthAlgo),
			AuthenticationPassphrase: dev.SNMPV3.AuthPass,
			PrivacyProtocol:          mapPrivProto(dev.SNMPV3.CryptoAlgo),
			PrivacyPassphrase:        dev.SNMPV3.CryptoPass,
		}
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedSNMPVersion, dev.SNMPVersion)
	}

	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s:%d: %w", target, port, err)
	}
	return g, nil
}

// transportString maps the registry transport to the gosnmp network name.
func transportString(t models.SNMPTransport) string {
	switch t {
	case models.TransportTCP:
		return "tcp"
	case models.TransportTCP6:
		return "tcp6"
	case models.TransportUDP6:
		return "udp6"
	default:
		return "udp"
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// SNMPv3 helpers
// ─────────────────────────────────────────────────────────────────────────────

func v3MsgFlags(p models.V3Params) gosnmp.SnmpV3MsgFlags {
	switch models.AuthLevel(strings.ToLower(string(p.AuthLevel))) {
	case models.AuthPriv:
		return gosnmp.AuthPriv
	case models.AuthNoPriv:
		return gosnmp.AuthNoPriv
	default:
		return gosnmp.NoAuthNoPriv
	}
}

func mapAuthProto(s string) gosnmp.SnmpV3AuthProtocol {
	switch strings.ToLower(s) {
	case "md5":
		return gosnmp.MD5
	case "sha":
		return gosnmp.SHA
	case "sha224":
		return gosnmp.SHA224
	case "sha256":
		return gosnmp.SHA256
	case "sha384":
		return gosnmp.SHA384
	case "sha512":
		return gosnmp.SHA512
	default:
		return gosnmp.NoAuth
	}
}

func mapPrivProto(s string) gosnmp.SnmpV3PrivProtocol {
	switch strings.ToLower(s) {
	case "des":
		return gosnmp.DES
	case "aes":
		return gosnmp.AES
	case "aes192":
		return gosnmp.AES192
	case "aes256":
		return gosnmp.AES256
	case "aes192c":
		return gosnmp.AES192C
	case "aes256c":
		return gosnmp.AES256C
	default:
		return gosnmp.NoPriv
	}
}
