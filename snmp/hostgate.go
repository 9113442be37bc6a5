package snmp

import (
	"context"
	"sync"
)

// HostGate serializes SNMP probes per host. Devices with login-attempt
// throttling lock out rapid concurrent auth attempts, so all credential
// probing against one host must run one request at a time; probes against
// different hosts proceed in parallel.
type HostGate struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

// NewHostGate creates an empty gate table.
func NewHostGate() *HostGate {
	return &HostGate{gates: make(map[string]chan struct{})}
}

// Acquire blocks until the per-host slot for host is free or ctx is done.
// On success it returns a release function that must be called exactly once.
func (g *HostGate) Acquire(ctx context.Context, host string) (func(), error) {
	g.mu.Lock()
	gate, ok := g.gates[host]
	if !ok {
		gate = make(chan struct{}, 1)
		g.gates[host] = gate
	}
	g.mu.Unlock()

	select {
	case gate <- struct{}{}:
		return func() { <-gate }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Forget drops the gate for a host. Call after a device is deleted so the
// table does not grow without bound.
func (g *HostGate) Forget(host string) {
	g.mu.Lock()
	delete(g.gates, host)
	g.mu.Unlock()
}
