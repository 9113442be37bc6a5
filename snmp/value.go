package snmp

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/gosnmp/gosnmp"
)

// ─────────────────────────────────────────────────────────────────────────────
// SNMP PDU Type → String
// ─────────────────────────────────────────────────────────────────────────────

// TypeString returns the human-readable name for a gosnmp Asn1BER type tag.
func TypeString(t gosnmp.Asn1BER) string {
	switch t {
	case gosnmp.Integer:
		return "Integer"
	case gosnmp.OctetString:
		return "OctetString"
	case gosnmp.Null:
		return "Null"
	case gosnmp.ObjectIdentifier:
		return "ObjectIdentifier"
	case gosnmp.IPAddress:
		return "IpAddress"
	case gosnmp.Counter32:
		return "Counter32"
	case gosnmp.Gauge32:
		return "Gauge32"
	case gosnmp.TimeTicks:
		return "TimeTicks"
	case gosnmp.Counter64:
		return "Counter64"
	case gosnmp.NoSuchObject:
		return "NoSuchObject"
	case gosnmp.NoSuchInstance:
		return "NoSuchInstance"
	case gosnmp.EndOfMibView:
		return "EndOfMibView"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", byte(t))
	}
}

// IsNoSuch reports whether the PDU carries one of the "no such value" error
// types rather than data.
func IsNoSuch(pdu gosnmp.SnmpPDU) bool {
	switch pdu.Type {
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return true
	}
	return false
}

// ─────────────────────────────────────────────────────────────────────────────
// PDU value coercion
// ─────────────────────────────────────────────────────────────────────────────

// ValueString converts a PDU value to its canonical string form. Octet
// strings that are not printable (e.g. snmpEngineID) are hex-encoded; OIDs
// keep a leading dot; numeric types render in decimal.
func ValueString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case []byte:
		if printable(v) {
			return strings.TrimSpace(string(v))
		}
		return hex.EncodeToString(v)
	case string:
		if pdu.Type == gosnmp.ObjectIdentifier {
			return CanonOID(v)
		}
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// CanonOID returns the OID in canonical leading-dot form.
func CanonOID(oid string) string {
	oid = strings.TrimSpace(oid)
	if oid == "" || strings.HasPrefix(oid, ".") {
		return oid
	}
	return "." + oid
}

// IsNumericOID reports whether s is a plain dotted-numeric OID (with or
// without a leading dot).
func IsNumericOID(s string) bool {
	s = strings.TrimPrefix(strings.TrimSpace(s), ".")
	if s == "" {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if label == "" {
			return false
		}
		for _, r := range label {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

// printable reports whether b is text safe to keep as-is.
func printable(b []byte) bool {
	for _, c := range b {
		if c == '\n' || c == '\r' || c == '\t' {
			continue
		}
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return len(b) > 0 && hasGraphic(b)
}

func hasGraphic(b []byte) bool {
	for _, c := range b {
		if unicode.IsGraphic(rune(c)) && c != ' ' {
			return true
		}
	}
	return false
}
