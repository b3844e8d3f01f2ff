// Package serializer implements the Per-Tenant Serializer (C7, spec.md
// §4.6): a bounded FIFo channel per tenant feeding a single long-lived
// worker, guaranteeing at most one in-flight execution per tenant.
package serializer

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/web3-fighter/svm-mock-engine/internal/tenant"
)

// QueueCapacity is the bounded FIFO depth per tenant (spec.md §4.6).
const QueueCapacity = 100

// Job is one unit of work submitted for a tenant; Run executes to
// completion (commit or error) before the worker dequeues the next job.
type Job func(ctx context.Context)

type worker struct {
	jobs chan Job
	done chan struct{}
}

// Serializer owns one worker per tenant, created lazily on first Submit.
type Serializer struct {
	mu      sync.Mutex
	workers map[tenant.ID]*worker
}

func New() *Serializer {
	return &Serializer{workers: make(map[tenant.ID]*worker)}
}

// Submit enqueues job for t's worker, starting the worker if this is the
// tenant's first submission. It blocks (cooperatively, via the channel
// send) once the tenant's queue is at capacity — no timeout is imposed
// here; upstream HTTP timeouts apply (spec.md §4.6).
func (s *Serializer) Submit(ctx context.Context, t tenant.ID, job Job) {
	w := s.workerFor(t)
	select {
	case w.jobs <- job:
	case <-ctx.Done():
	}
}

func (s *Serializer) workerFor(t tenant.ID) *worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[t]
	if ok {
		return w
	}
	w = &worker{jobs: make(chan Job, QueueCapacity), done: make(chan struct{})}
	s.workers[t] = w
	go s.run(t, w)
	return w
}

func (s *Serializer) run(t tenant.ID, w *worker) {
	defer close(w.done)
	for job := range w.jobs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("serializer: job panicked", "tenant", t, "recover", r)
				}
			}()
			job(context.Background())
		}()
	}
}

// Stop closes every tenant's queue and waits for its worker to drain. A
// pending but unsent job is silently dropped, matching the engine's
// fire-and-forget cancellation policy (spec.md §4.6).
func (s *Serializer) Stop() {
	s.mu.Lock()
	workers := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	for _, w := range workers {
		close(w.jobs)
		<-w.done
	}
}

// Pending reports the current depth of t's queue, for tests and metrics.
func (s *Serializer) Pending(t tenant.ID) int {
	s.mu.Lock()
	w, ok := s.workers[t]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return len(w.jobs)
}
