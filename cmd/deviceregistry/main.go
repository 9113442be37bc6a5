// Command deviceregistry is the Device Registry binary.
//
// It loads YAML configuration from directories specified by environment
// variables (or command-line flags) and runs in one of two modes:
//
//   - server: -serve starts the admin HTTP API and the periodic OS recheck
//     scheduler, and runs until interrupted (SIGINT / SIGTERM).
//   - one-shot: -add, -detect or -remove performs a single device operation
//     and exits. -add prints the new device id on stdout; with -test it
//     prints -1 when the device answers but nothing is persisted, matching
//     the legacy tooling this replaces.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vpbank/device_registry/models"
	"github.com/vpbank/device_registry/pkg/deviceregistry/app"
	"github.com/vpbank/device_registry/pkg/deviceregistry/config"
	"github.com/vpbank/device_registry/pkg/deviceregistry/lifecycle"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "deviceregistry: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ── Flags ────────────────────────────────────────────────────────────
	var (
		logLevel string
		logFmt   string

		serve      bool
		listenAddr string
		dbDSN      string
		recheckMin int

		addHost    string
		detectHost string
		removeID   int64
		removeRRD  bool

		snmpVersion   string
		snmpPort      int
		snmpTransport string
		community     string
		v3Level       string
		v3User        string
		v3AuthPass    string
		v3AuthAlgo    string
		v3CryptoPass  string
		v3CryptoAlgo  string
		snmpContext   string

		pollerID  int
		pingSkip  bool
		testOnly  bool
		ignoreRRD bool

		auditPath    string
		auditBytes   int64
		auditBackups int

		cfgSNMP   string
		cfgOSDefs string
	)

	flag.StringVar(&logLevel, "log.level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&logFmt, "log.fmt", "json", "Log format: json, text")

	flag.BoolVar(&serve, "serve", false, "Run the admin HTTP server and recheck scheduler")
	flag.StringVar(&listenAddr, "listen", ":8161", "Admin HTTP listen address (server mode)")
	flag.StringVar(&dbDSN, "db.dsn", "", "PostgreSQL DSN (default: REGISTRY_DATABASE_URL; empty = in-memory store)")
	flag.IntVar(&recheckMin, "recheck.interval", 360, "OS recheck interval in minutes (0 = disabled)")

	flag.StringVar(&addHost, "add", "", "Add a device by hostname and exit")
	flag.StringVar(&detectHost, "detect", "", "Detect working SNMP credentials for a hostname and exit")
	flag.Int64Var(&removeID, "remove", 0, "Remove a device by id and exit")
	flag.BoolVar(&removeRRD, "remove.rrd", false, "Also delete the device's time-series directory on remove")

	flag.StringVar(&snmpVersion, "snmp.version", "", "SNMP version: v1, v2c, v3 (default: try configured order)")
	flag.IntVar(&snmpPort, "snmp.port", 0, "SNMP port override")
	flag.StringVar(&snmpTransport, "snmp.transport", "", "SNMP transport: udp, udp6, tcp, tcp6")
	flag.StringVar(&community, "snmp.community", "", "Explicit v1/v2c community (default: configured list)")
	flag.StringVar(&v3Level, "snmp.v3.level", "", "SNMPv3 security level: noauthnopriv, authnopriv, authpriv")
	flag.StringVar(&v3User, "snmp.v3.user", "", "SNMPv3 security name")
	flag.StringVar(&v3AuthPass, "snmp.v3.authpass", "", "SNMPv3 authentication passphrase")
	flag.StringVar(&v3AuthAlgo, "snmp.v3.authalgo", "sha", "SNMPv3 authentication algorithm")
	flag.StringVar(&v3CryptoPass, "snmp.v3.cryptopass", "", "SNMPv3 privacy passphrase")
	flag.StringVar(&v3CryptoAlgo, "snmp.v3.cryptoalgo", "aes", "SNMPv3 privacy algorithm")
	flag.StringVar(&snmpContext, "snmp.context", "", "SNMP context name")

	flag.IntVar(&pollerID, "poller.id", 0, "Target poller id (0 = local poller)")
	flag.BoolVar(&pingSkip, "ping.skip", false, "Skip the ICMP reachability gate")
	flag.BoolVar(&testOnly, "test", false, "Probe and fingerprint without persisting (-add only)")
	flag.BoolVar(&ignoreRRD, "ignore.rrd", false, "Ignore a pre-existing time-series directory")

	flag.StringVar(&auditPath, "audit.file", "", "Append audit events to this JSON-lines file")
	flag.Int64Var(&auditBytes, "audit.max.bytes", 0, "Max audit file size in bytes before rotation (0=disabled)")
	flag.IntVar(&auditBackups, "audit.max.backups", 5, "Max rotated audit files to keep")

	flag.StringVar(&cfgSNMP, "config.snmp", "", "Override REGISTRY_SNMP_CONFIG_DIRECTORY_PATH")
	flag.StringVar(&cfgOSDefs, "config.os", "", "Override REGISTRY_OS_DEFINITIONS_DIRECTORY_PATH")

	flag.Parse()

	// ── Logger ───────────────────────────────────────────────────────────
	logger, err := buildLogger(logLevel, logFmt)
	if err != nil {
		return err
	}

	// ── Config paths ─────────────────────────────────────────────────────
	paths := config.PathsFromEnv()
	if cfgSNMP != "" {
		paths.SNMP = cfgSNMP
	}
	if cfgOSDefs != "" {
		paths.OSDefs = cfgOSDefs
	}

	if dbDSN == "" {
		dbDSN = os.Getenv("REGISTRY_DATABASE_URL")
	}

	// ── Build App ────────────────────────────────────────────────────────
	appCfg := app.Config{
		ConfigPaths:        paths,
		DatabaseDSN:        dbDSN,
		RecheckInterval:    time.Duration(recheckMin) * time.Minute,
		AuditLogPath:       auditPath,
		AuditLogMaxBytes:   auditBytes,
		AuditLogMaxBackups: auditBackups,
	}
	if serve {
		appCfg.ListenAddr = listenAddr
	} else {
		// One-shot mode: no HTTP surface, no background rechecks.
		appCfg.RecheckInterval = 0
	}

	application := app.New(appCfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer application.Stop()

	// ── One-shot modes ───────────────────────────────────────────────────
	req := lifecycle.AddRequest{
		Version:   models.SNMPVersion(snmpVersion),
		Port:      snmpPort,
		Transport: models.SNMPTransport(snmpTransport),
		Community: community,
		Context:   snmpContext,
		PollerID:  pollerID,
		PingSkip:  pingSkip,
		Test:      testOnly,
		IgnoreRRD: ignoreRRD,
	}
	if v3User != "" {
		req.V3 = &models.V3Params{
			AuthLevel:  models.AuthLevel(v3Level),
			AuthName:   v3User,
			AuthPass:   v3AuthPass,
			AuthAlgo:   v3AuthAlgo,
			CryptoPass: v3CryptoPass,
			CryptoAlgo: v3CryptoAlgo,
		}
	}

	switch {
	case addHost != "":
		req.Hostname = addHost
		return addDevice(ctx, application.Orchestrator(), req)
	case detectHost != "":
		req.Hostname = detectHost
		return detectAuth(ctx, application.Orchestrator(), req)
	case removeID != 0:
		return removeDevice(ctx, application.Orchestrator(), removeID, removeRRD)
	case serve:
		logger.Info("deviceregistry: running, press Ctrl-C to stop")
		<-ctx.Done()
		logger.Info("deviceregistry: received shutdown signal")
		return nil
	default:
		flag.Usage()
		return errors.New("nothing to do: pass -serve, -add, -detect or -remove")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// One-shot operations
// ─────────────────────────────────────────────────────────────────────────────

// addDevice prints the legacy result value on stdout: the device id on a
// persisted add, -1 when test mode confirms the device answers, 0 when the
// add was queued for a remote poller.
func addDevice(ctx context.Context, orch *lifecycle.Orchestrator, req lifecycle.AddRequest) error {
	res, err := orch.AddDevice(ctx, req)
	if err != nil {
		return err
	}
	switch res.Outcome {
	case lifecycle.OutcomeTested:
		fmt.Println(-1)
	case lifecycle.OutcomeQueued:
		fmt.Println(0)
	default:
		fmt.Println(res.DeviceID)
	}
	return nil
}

func detectAuth(ctx context.Context, orch *lifecycle.Orchestrator, req lifecycle.AddRequest) error {
	dev, err := orch.DetectSNMPAuth(ctx, req)
	if err != nil {
		return err
	}
	if dev.SNMPVersion == models.SNMPv3 {
		fmt.Printf("%s: %s user %s (%s)\n", dev.Hostname, dev.SNMPVersion, dev.SNMPV3.AuthName, dev.SNMPV3.AuthLevel)
		return nil
	}
	fmt.Printf("%s: %s community %s\n", dev.Hostname, dev.SNMPVersion, dev.SNMPCommunity)
	return nil
}

func removeDevice(ctx context.Context, orch *lifecycle.Orchestrator, deviceID int64, removeRRD bool) error {
	report, err := orch.DeleteDevice(ctx, deviceID, removeRRD)
	if err != nil {
		return err
	}
	fmt.Println(report.String())
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q (expected debug|info|warn|error)", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json|text)", format)
	}

	return slog.New(handler), nil
}
