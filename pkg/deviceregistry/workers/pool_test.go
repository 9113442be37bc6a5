package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vpbank/device_registry/pkg/deviceregistry/lifecycle"
)

// trackingAdder records per-host concurrency.
type trackingAdder struct {
	mu      sync.Mutex
	active  map[string]int
	overlap bool
	calls   int
}

func (a *trackingAdder) AddDevice(_ context.Context, req lifecycle.AddRequest) (*lifecycle.AddResult, error) {
	a.mu.Lock()
	if a.active == nil {
		a.active = make(map[string]int)
	}
	a.active[req.Hostname]++
	if a.active[req.Hostname] > 1 {
		a.overlap = true
	}
	a.calls++
	a.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	a.mu.Lock()
	a.active[req.Hostname]--
	a.mu.Unlock()

	if req.Hostname == "bad.example.com" {
		return nil, errors.New("probe failed")
	}
	return &lifecycle.AddResult{Outcome: lifecycle.OutcomeAdded, DeviceID: 1}, nil
}

func TestPoolSerializesPerHost(t *testing.T) {
	adder := &trackingAdder{}
	pool := NewPool(adder, 8, nil)

	var reqs []lifecycle.AddRequest
	for i := 0; i < 4; i++ {
		reqs = append(reqs,
			lifecycle.AddRequest{Hostname: "sw1.example.com"},
			lifecycle.AddRequest{Hostname: "sw2.example.com"},
			lifecycle.AddRequest{Hostname: "bad.example.com"},
		)
	}

	results := pool.Run(context.Background(), reqs)

	if adder.overlap {
		t.Fatal("two jobs for the same host ran concurrently")
	}
	if adder.calls != len(reqs) {
		t.Fatalf("calls = %d, want %d", adder.calls, len(reqs))
	}
	for i, r := range results {
		if r.Request.Hostname != reqs[i].Hostname {
			t.Fatalf("result %d out of order: %s", i, r.Request.Hostname)
		}
		if r.Request.Hostname == "bad.example.com" && r.Err == nil {
			t.Fatalf("result %d: expected error for bad host", i)
		}
		if r.Request.Hostname != "bad.example.com" && r.Err != nil {
			t.Fatalf("result %d: %v", i, r.Err)
		}
	}
}

func TestPoolCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adder := &trackingAdder{}
	pool := NewPool(adder, 2, nil)
	results := pool.Run(ctx, []lifecycle.AddRequest{{Hostname: "sw1"}, {Hostname: "sw2"}})

	for _, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", r.Err)
		}
	}
}
