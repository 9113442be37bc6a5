package models

import "errors"

// Failure taxonomy for the add/delete device workflows. DNS and ICMP
// failures abort the whole attempt; SNMP unreachability is local to one
// credential attempt and means "try the next one"; duplicate verdicts abort
// immediately and are user-visible.
var (
	// ErrDNSFailure means the hostname could not be resolved.
	ErrDNSFailure = errors.New("hostname could not be resolved")

	// ErrUnreachable means the host did not answer ICMP echo.
	ErrUnreachable = errors.New("host is not reachable by ping")

	// ErrSNMPUnreachable means one credential set got no SNMP reply.
	// The caller continues with the next credential or version.
	ErrSNMPUnreachable = errors.New("no SNMP reply with given credentials")

	// ErrDuplicateHostname means a device with the same hostname exists.
	ErrDuplicateHostname = errors.New("device with same hostname already exists")

	// ErrDuplicateNetworkIdentity means an existing device shares the
	// resolved IP, SNMP port/context and credentials.
	ErrDuplicateNetworkIdentity = errors.New("device with same address and SNMP credentials already exists")

	// ErrDuplicateSystemIdentity means an existing device shares the
	// candidate's engine ID / sysName / serial identity signals.
	ErrDuplicateSystemIdentity = errors.New("device with same system identity already exists")

	// ErrUnsupportedSNMPVersion rejects versions outside v1/v2c/v3.
	ErrUnsupportedSNMPVersion = errors.New("unsupported SNMP version")

	// ErrInvalidOID rejects reachability OIDs that are neither numeric nor
	// resolvable symbolic names.
	ErrInvalidOID = errors.New("invalid or unknown OID")

	// ErrPersistenceFailure wraps store insert errors, including the
	// hostname unique-constraint violation raised by a concurrent add.
	ErrPersistenceFailure = errors.New("device could not be persisted")
)

// IsDuplicate reports whether err is one of the duplicate verdict errors.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateHostname) ||
		errors.Is(err, ErrDuplicateNetworkIdentity) ||
		errors.Is(err, ErrDuplicateSystemIdentity)
}
