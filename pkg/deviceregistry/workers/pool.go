// Package workers runs batch add-device operations: parallel across
// different hosts, strictly serialized for jobs targeting the same host so
// devices with login-attempt throttling never see concurrent credential
// probes from a batch.
package workers

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/vpbank/device_registry/models"
	"github.com/vpbank/device_registry/pkg/deviceregistry/lifecycle"
)

// Adder is the single operation the pool drives; satisfied by
// lifecycle.Orchestrator.
type Adder interface {
	AddDevice(ctx context.Context, req lifecycle.AddRequest) (*lifecycle.AddResult, error)
}

// BatchResult pairs one request with its outcome, in input order.
type BatchResult struct {
	Request lifecycle.AddRequest
	Result  *lifecycle.AddResult
	Err     error
}

// Pool fans a batch of add requests over a fixed number of workers. Jobs
// are sharded by hostname, so all jobs for one host land on the same worker
// and run in input order.
type Pool struct {
	adder  Adder
	size   int
	logger *slog.Logger
}

// NewPool builds a Pool with size workers; size <= 0 defaults to 4.
func NewPool(adder Adder, size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 4
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Pool{adder: adder, size: size, logger: logger}
}

// Run executes every request and returns the results in input order. A
// cancelled ctx fails the remaining jobs with ctx.Err() without abandoning
// in-flight ones.
func (p *Pool) Run(ctx context.Context, reqs []lifecycle.AddRequest) []BatchResult {
	results := make([]BatchResult, len(reqs))

	type job struct {
		index int
		req   lifecycle.AddRequest
	}

	queues := make([]chan job, p.size)
	for i := range queues {
		queues[i] = make(chan job, len(reqs))
	}
	for i, req := range reqs {
		shard := hostShard(models.NormalizeHostname(req.Hostname), p.size)
		queues[shard] <- job{index: i, req: req}
	}
	for _, q := range queues {
		close(q)
	}

	var wg sync.WaitGroup
	for w := 0; w < p.size; w++ {
		wg.Add(1)
		go func(queue chan job) {
			defer wg.Done()
			for j := range queue {
				if err := ctx.Err(); err != nil {
					results[j.index] = BatchResult{Request: j.req, Err: err}
					continue
				}
				res, err := p.adder.AddDevice(ctx, j.req)
				if err != nil {
					p.logger.Warn("workers: add failed", "host", j.req.Hostname, "error", err.Error())
				}
				results[j.index] = BatchResult{Request: j.req, Result: res, Err: err}
			}
		}(queues[w])
	}
	wg.Wait()
	return results
}

func hostShard(hostname string, size int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(hostname))
	return int(h.Sum32() % uint32(size))
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
