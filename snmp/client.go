package snmp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/vpbank/device_registry/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Status side channel
// ─────────────────────────────────────────────────────────────────────────────

// Status classifies the outcome of the most recent request on a Client.
// Callers that treat empty responses specially (the OS matcher does) inspect
// this instead of the error alone.
type Status int

const (
	// StatusOK means the request succeeded with a usable value.
	StatusOK Status = iota

	// StatusTimeout means the device did not answer in time.
	StatusTimeout

	// StatusAuthFailure means the device rejected the credentials.
	StatusAuthFailure

	// StatusEmptyResponse means the device answered but the OID carried no
	// value (NoSuchObject / NoSuchInstance / empty string).
	StatusEmptyResponse

	// StatusError covers every other transport or protocol failure.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimeout:
		return "timeout"
	case StatusAuthFailure:
		return "auth_failure"
	case StatusEmptyResponse:
		return "empty_response"
	default:
		return "error"
	}
}

// Varbind is one OID/value pair returned by GetNext or Walk, with the value
// already coerced to its canonical string form.
type Varbind struct {
	OID   string
	Value string
	Type  string
}

// ─────────────────────────────────────────────────────────────────────────────
// Client interface
// ─────────────────────────────────────────────────────────────────────────────

// Client is the SNMP capability consumed by probe, fingerprint and resolver.
// A Client is bound to one device's credentials. It is not safe for
// concurrent use; discovery serializes requests per host anyway (see
// HostGate).
type Client interface {
	// Get fetches a single scalar OID value.
	Get(ctx context.Context, oid string) (string, error)

	// GetNext fetches the lexicographically next varbind after oid.
	GetNext(ctx context.Context, oid string) (Varbind, error)

	// Walk fetches the subtree rooted at oid. Plain getnext walk, no bulk:
	// discovery keeps requests small to avoid fetch timeouts on slow gear.
	Walk(ctx context.Context, oid string) ([]Varbind, error)

	// Status reports the classification of the most recent request.
	Status() Status

	// RTT reports the round-trip time of the most recent successful request.
	RTT() time.Duration

	// Close releases the underlying session.
	Close() error
}

// Dialer creates a Client for a device. Injected so tests can supply fakes.
type Dialer func(dev *models.Device) (Client, error)

// ─────────────────────────────────────────────────────────────────────────────
// gosnmp-backed implementation
// ─────────────────────────────────────────────────────────────────────────────

type session struct {
	conn   *gosnmp.GoSNMP
	status Status
	rtt    time.Duration
	logger *slog.Logger
}

// Dial opens a session for dev using NewSession. It is the production Dialer.
func Dial(dev *models.Device) (Client, error) {
	conn, err := NewSession(dev)
	if err != nil {
		return nil, err
	}
	return &session{conn: conn, logger: slog.New(slog.NewTextHandler(noopWriter{}, nil))}, nil
}

// DialerWithLogger returns a Dialer whose clients log request failures.
func DialerWithLogger(logger *slog.Logger) Dialer {
	return func(dev *models.Device) (Client, error) {
		conn, err := NewSession(dev)
		if err != nil {
			return nil, err
		}
		if logger == nil {
			logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
		}
		return &session{conn: conn, logger: logger}, nil
	}
}

func (s *session) Get(ctx context.Context, oid string) (string, error) {
	s.conn.Context = ctx
	started := time.Now()
	pkt, err := s.conn.Get([]string{CanonOID(oid)})
	if err != nil {
		s.status = classifyError(err)
		return "", fmt.Errorf("snmp get %s: %w", oid, err)
	}
	s.rtt = time.Since(started)

	if len(pkt.Variables) == 0 || IsNoSuch(pkt.Variables[0]) {
		s.status = StatusEmptyResponse
		return "", nil
	}
	value := ValueString(pkt.Variables[0])
	if value == "" {
		s.status = StatusEmptyResponse
		return "", nil
	}
	s.status = StatusOK
	return value, nil
}

func (s *session) GetNext(ctx context.Context, oid string) (Varbind, error) {
	s.conn.Context = ctx
	started := time.Now()
	pkt, err := s.conn.GetNext([]string{CanonOID(oid)})
	if err != nil {
		s.status = classifyError(err)
		return Varbind{}, fmt.Errorf("snmp getnext %s: %w", oid, err)
	}
	s.rtt = time.Since(started)

	if len(pkt.Variables) == 0 || IsNoSuch(pkt.Variables[0]) {
		s.status = StatusEmptyResponse
		return Varbind{}, nil
	}
	pdu := pkt.Variables[0]
	s.status = StatusOK
	return Varbind{
		OID:   CanonOID(pdu.Name),
		Value: ValueString(pdu),
		Type:  TypeString(pdu.Type),
	}, nil
}

func (s *session) Walk(ctx context.Context, oid string) ([]Varbind, error) {
	s.conn.Context = ctx
	started := time.Now()
	pdus, err := s.conn.WalkAll(CanonOID(oid))
	if err != nil {
		s.status = classifyError(err)
		return nil, fmt.Errorf("snmp walk %s: %w", oid, err)
	}
	s.rtt = time.Since(started)

	out := make([]Varbind, 0, len(pdus))
	for i := range pdus {
		if IsNoSuch(pdus[i]) {
			continue
		}
		out = append(out, Varbind{
			OID:   CanonOID(pdus[i].Name),
			Value: ValueString(pdus[i]),
			Type:  TypeString(pdus[i].Type),
		})
	}
	if len(out) == 0 {
		s.status = StatusEmptyResponse
		return nil, nil
	}
	s.status = StatusOK
	return out, nil
}

func (s *session) Status() Status      { return s.status }
func (s *session) RTT() time.Duration  { return s.rtt }
func (s *session) Close() error        { return s.conn.Conn.Close() }

// classifyError maps gosnmp / net errors onto the status taxonomy. gosnmp
// does not export typed errors for these cases, so the match is textual.
func classifyError(err error) Status {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return StatusTimeout
	case strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "unknown user") ||
		strings.Contains(msg, "usmstats") ||
		strings.Contains(msg, "wrong digest"):
		return StatusAuthFailure
	default:
		return StatusError
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
