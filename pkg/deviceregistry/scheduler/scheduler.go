// Package scheduler re-verifies the OS identity of known devices on a fixed
// interval. Rechecks ride the identify fast path: a device still matching
// its current OS's rules costs a handful of SNMP requests, and the stored os
// is rewritten only when the identity actually changed.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vpbank/device_registry/eventlog"
	"github.com/vpbank/device_registry/models"
	"github.com/vpbank/device_registry/pkg/deviceregistry/registry"
	"github.com/vpbank/device_registry/pkg/deviceregistry/resolver"
	"github.com/vpbank/device_registry/snmp"
)

// entry tracks the next recheck time for one device.
type entry struct {
	deviceID int64
	hostname string
	nextRun  time.Time
}

// Scheduler owns the periodic recheck loop.
type Scheduler struct {
	store    registry.Store
	cache    *registry.DeviceCache
	dialer   snmp.Dialer
	matcher  resolver.Identifier
	events   eventlog.Sink
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	entries []entry

	done chan struct{}
}

// New creates a Scheduler over the stored device set. interval <= 0
// defaults to 6 hours. Nothing runs until Start is called.
func New(store registry.Store, cache *registry.DeviceCache, dialer snmp.Dialer, matcher resolver.Identifier, events eventlog.Sink, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if dialer == nil {
		dialer = snmp.Dial
	}
	if events == nil {
		events = eventlog.NopSink{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Scheduler{
		store:    store,
		cache:    cache,
		dialer:   dialer,
		matcher:  matcher,
		events:   events,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs the recheck loop. It blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.done)

	if err := s.Reload(ctx); err != nil {
		s.logger.Error("scheduler: initial device load failed", "error", err.Error())
	}

	for {
		s.mu.Lock()
		if len(s.entries) == 0 {
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Minute):
				if err := s.Reload(ctx); err != nil {
					s.logger.Warn("scheduler: device reload failed", "error", err.Error())
				}
				continue
			}
		}

		sort.Slice(s.entries, func(i, j int) bool {
			return s.entries[i].nextRun.Before(s.entries[j].nextRun)
		})
		next := s.entries[0].nextRun
		s.mu.Unlock()

		delay := time.Until(next)
		if delay < 0 {
			delay = 0
		}
		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		now := time.Now()
		s.mu.Lock()
		due := make([]entry, 0, 1)
		for i := range s.entries {
			if s.entries[i].nextRun.After(now) {
				break
			}
			due = append(due, s.entries[i])
			s.entries[i].nextRun = now.Add(s.interval)
		}
		s.mu.Unlock()

		for _, e := range due {
			s.RecheckDevice(ctx, e.deviceID)
		}
	}
}

// Stop waits for the recheck loop to exit. The caller must cancel the
// context passed to Start before calling Stop.
func (s *Scheduler) Stop() {
	<-s.done
}

// Reload rebuilds the entry list from the store. New devices get their
// first recheck a full interval out; removed devices drop off.
func (s *Scheduler) Reload(ctx context.Context) error {
	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		return err
	}
	next := time.Now().Add(s.interval)
	entries := make([]entry, 0, len(devices))
	for _, dev := range devices {
		if dev.Disabled {
			continue
		}
		entries = append(entries, entry{deviceID: dev.DeviceID, hostname: dev.Hostname, nextRun: next})
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	s.logger.Debug("scheduler: device list reloaded", "devices", len(entries))
	return nil
}

// Entries returns the number of scheduled devices (for monitoring / tests).
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RecheckDevice re-identifies one device now. The stored os changes only
// when the device no longer satisfies its current OS's rules and a full
// scan lands elsewhere; the change is audited.
func (s *Scheduler) RecheckDevice(ctx context.Context, deviceID int64) {
	dev, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		s.logger.Warn("scheduler: recheck skipped", "device_id", deviceID, "error", err.Error())
		return
	}

	client, err := s.dialer(dev)
	if err != nil {
		s.logger.Warn("scheduler: recheck unreachable", "host", dev.Hostname, "error", err.Error())
		return
	}
	defer client.Close()

	os := s.matcher.Identify(ctx, client, dev, dev.OS)
	if os == dev.OS || os == "" {
		return
	}

	if err := s.store.UpdateDeviceOS(ctx, deviceID, os); err != nil {
		s.logger.Error("scheduler: os update failed", "host", dev.Hostname, "error", err.Error())
		return
	}
	if s.cache != nil {
		s.cache.Invalidate(deviceID)
	}
	if err := s.events.Record(ctx, eventlog.New(deviceID, eventlog.SeverityWarning,
		fmt.Sprintf("OS changed: %s -> %s", orGeneric(dev.OS), os))); err != nil {
		s.logger.Warn("scheduler: audit event not recorded", "device_id", deviceID, "error", err.Error())
	}
	s.logger.Info("scheduler: device re-identified", "host", dev.Hostname, "old", dev.OS, "new", os)
}

func orGeneric(os string) string {
	if os == "" {
		return models.OSGeneric
	}
	return os
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
