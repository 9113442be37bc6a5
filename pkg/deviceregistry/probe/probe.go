// Package probe performs the observational half of discovery: DNS
// resolution, ICMP reachability, and a single SNMP credential check against
// one host. It persists nothing and never retries across credentials; the
// orchestrator owns the retry loop.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/vpbank/device_registry/models"
	"github.com/vpbank/device_registry/pkg/deviceregistry/config"
	"github.com/vpbank/device_registry/snmp"
)

// ─────────────────────────────────────────────────────────────────────────────
// Result
// ─────────────────────────────────────────────────────────────────────────────

// Stage names the furthest step a probe reached, for operator display.
type Stage string

const (
	StageDNS  Stage = "dns"
	StagePing Stage = "ping"
	StageSNMP Stage = "snmp"
	StageOK   Stage = "ok"
)

// Result is the outcome of probing one host with one credential set.
type Result struct {
	// IP is the resolved address, empty when resolution failed.
	IP string

	// Reachable reports ICMP reachability (true when the ping was skipped).
	Reachable bool

	// SNMPable reports whether the credentials produced an SNMP response.
	SNMPable bool

	// PingRTT / SNMPRTT are the measured round-trip times where available.
	PingRTT time.Duration
	SNMPRTT time.Duration

	// SysDescr carries the fetched system description on SNMP success; it
	// may legitimately be empty.
	SysDescr string

	// Stage is the step the probe stopped at; StageOK means full success.
	Stage Stage

	// Err explains a stop before StageOK, wrapping the models sentinel for
	// that stage.
	Err error
}

// ─────────────────────────────────────────────────────────────────────────────
// Prober
// ─────────────────────────────────────────────────────────────────────────────

// lookupFunc resolves a hostname to addresses. Injected for tests.
type lookupFunc func(ctx context.Context, host string) ([]net.IPAddr, error)

// pingFunc checks ICMP reachability of a literal IP and returns the average
// round-trip time. Injected for tests.
type pingFunc func(ctx context.Context, ip string) (time.Duration, error)

// Prober runs the probe pipeline. Safe for concurrent use; per-host
// serialization of SNMP requests goes through the shared HostGate.
type Prober struct {
	cfg    *config.Config
	dialer snmp.Dialer
	gate   *snmp.HostGate
	lookup lookupFunc
	ping   pingFunc
	logger *slog.Logger
}

// New builds a Prober with production DNS and ICMP backends. A nil dialer
// defaults to snmp.Dial, a nil gate to a fresh one, a nil logger to no-op.
func New(cfg *config.Config, dialer snmp.Dialer, gate *snmp.HostGate, logger *slog.Logger) *Prober {
	if dialer == nil {
		dialer = snmp.Dial
	}
	if gate == nil {
		gate = snmp.NewHostGate()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	p := &Prober{
		cfg:    cfg,
		dialer: dialer,
		gate:   gate,
		logger: logger,
	}
	p.lookup = net.DefaultResolver.LookupIPAddr
	p.ping = p.icmpPing
	return p
}

// Probe runs resolve, ping, SNMP in order against dev's current credential
// fields. Absence of reachability is a normal outcome reported in Result,
// never a hard failure.
func (p *Prober) Probe(ctx context.Context, dev *models.Device, skipPing bool) Result {
	var res Result

	ip, err := p.Resolve(ctx, dev)
	if err != nil {
		res.Stage = StageDNS
		res.Err = err
		return res
	}
	res.IP = ip
	dev.IP = ip

	if skipPing {
		res.Reachable = true
	} else {
		rtt, err := p.ping(ctx, ip)
		if err != nil {
			res.Stage = StagePing
			res.Err = fmt.Errorf("%w: icmp %s: %v", models.ErrUnreachable, ip, err)
			return res
		}
		res.Reachable = true
		res.PingRTT = rtt
	}

	sysDescr, rtt, err := p.CheckSNMP(ctx, dev)
	if err != nil {
		res.Stage = StageSNMP
		res.Err = err
		return res
	}
	res.SNMPable = true
	res.SNMPRTT = rtt
	res.SysDescr = sysDescr
	res.Stage = StageOK
	return res
}

// Ping runs one ICMP reachability check against a literal IP and returns
// the measured round-trip time.
func (p *Prober) Ping(ctx context.Context, ip string) (time.Duration, error) {
	return p.ping(ctx, ip)
}

// Resolve maps dev.Hostname to a literal IP. A literal hostname resolves to
// itself when its family fits the transport. IPv6 addresses are considered
// only when the transport is an IPv6 variant or no IPv4 address exists.
func (p *Prober) Resolve(ctx context.Context, dev *models.Device) (string, error) {
	wantV6 := dev.SNMPTransport.IPv6()

	if ip := net.ParseIP(dev.Hostname); ip != nil {
		if (ip.To4() == nil) != wantV6 {
			return "", fmt.Errorf("%w: literal %q does not fit transport %s",
				models.ErrDNSFailure, dev.Hostname, dev.SNMPTransport)
		}
		return ip.String(), nil
	}

	addrs, err := p.lookup(ctx, dev.Hostname)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", models.ErrDNSFailure, dev.Hostname, err)
	}

	var v4, v6 string
	for _, a := range addrs {
		if a.IP.To4() != nil {
			if v4 == "" {
				v4 = a.IP.String()
			}
		} else if v6 == "" {
			v6 = a.IP.String()
		}
	}

	if wantV6 {
		if v6 == "" {
			return "", fmt.Errorf("%w: %q has no AAAA record", models.ErrDNSFailure, dev.Hostname)
		}
		return v6, nil
	}
	if v4 != "" {
		return v4, nil
	}
	if v6 != "" {
		// No A record; fall back to v6 and switch the transport family so
		// the SNMP session dials the right stack.
		dev.SNMPTransport = dev.SNMPTransport.ForFamily(true)
		return v6, nil
	}
	return "", fmt.Errorf("%w: %q resolved to no addresses", models.ErrDNSFailure, dev.Hostname)
}

// CheckSNMP issues a GET for each snmpable OID (sysDescr when none are
// configured) with dev's credentials; the first answered OID proves
// SNMP reachability. An empty value is still an answer. The returned
// sysDescr is only populated when sysDescr itself was the probed OID.
func (p *Prober) CheckSNMP(ctx context.Context, dev *models.Device) (string, time.Duration, error) {
	release, err := p.gate.Acquire(ctx, dev.Hostname)
	if err != nil {
		return "", 0, err
	}
	defer release()

	client, err := p.dialer(dev)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", models.ErrSNMPUnreachable, err)
	}
	defer client.Close()

	oids := dev.SNMPableOIDs
	if len(oids) == 0 {
		oids = []string{models.OIDSysDescr}
	}

	var lastStatus snmp.Status
	for _, oid := range oids {
		value, err := client.Get(ctx, oid)
		if err == nil {
			switch client.Status() {
			case snmp.StatusOK, snmp.StatusEmptyResponse:
				var sysDescr string
				if oid == models.OIDSysDescr {
					sysDescr = value
				}
				return sysDescr, client.RTT(), nil
			}
		}
		lastStatus = client.Status()
		p.logger.Debug("probe: snmpable oid failed",
			"host", dev.Hostname, "oid", oid, "status", lastStatus.String())
	}
	return "", 0, fmt.Errorf("%w: %s (%s)", models.ErrSNMPUnreachable, dev.Hostname, lastStatus)
}

// icmpPing is the production pingFunc.
func (p *Prober) icmpPing(ctx context.Context, ip string) (time.Duration, error) {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return 0, err
	}
	pinger.Count = p.cfg.PingCount
	pinger.Timeout = time.Duration(p.cfg.PingTimeoutMs) * time.Millisecond

	if err := pinger.RunWithContext(ctx); err != nil {
		return 0, err
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, fmt.Errorf("no echo reply from %s", ip)
	}
	return stats.AvgRtt, nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
