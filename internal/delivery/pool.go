package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hookline/hookline/internal/storage"
)

// Pool drives the delivery queue: a ticker polls for due deliveries and
// dispatches each onto a semaphore-bounded goroutine. Retries live in
// storage as next_retry_at timestamps, so there are no dangling timers to
// cancel when an endpoint disappears.
type Pool struct {
	store    storage.Storage
	worker   *Worker
	workers  int
	pollRate time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	wg       sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewPool(store storage.Storage, worker *Worker, workers int, pollRate time.Duration, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 10
	}
	if pollRate <= 0 {
		pollRate = time.Second
	}
	return &Pool{
		store:    store,
		worker:   worker,
		workers:  workers,
		pollRate: pollRate,
		log:      log,
		stop:     make(chan struct{}),
		inflight: map[string]struct{}{},
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.log.Info().Int("workers", p.workers).Msg("starting delivery worker pool")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.pollLoop(ctx)
	}()
}

func (p *Pool) Stop() {
	p.log.Info().Msg("stopping delivery worker pool")
	close(p.stop)
	p.wg.Wait()
	p.log.Info().Msg("delivery worker pool stopped")
}

func (p *Pool) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.pollRate)
	defer ticker.Stop()

	sem := make(chan struct{}, p.workers)

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainOnce(ctx, sem)
		}
	}
}

func (p *Pool) drainOnce(ctx context.Context, sem chan struct{}) {
	deliveries, err := p.store.GetDueDeliveries(ctx, p.workers)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to fetch due deliveries")
		return
	}

	for _, d := range deliveries {
		// An attempt can outlive a poll interval; skip deliveries that are
		// already being worked so one slow endpoint does not double-send.
		if !p.claim(d.ID) {
			continue
		}
		d := d
		sem <- struct{}{}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer func() { <-sem }()
			defer p.release(d.ID)
			p.worker.Process(ctx, d)
		}()
	}
}

func (p *Pool) claim(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[id]; busy {
		return false
	}
	p.inflight[id] = struct{}{}
	return true
}

func (p *Pool) release(id string) {
	p.mu.Lock()
	delete(p.inflight, id)
	p.mu.Unlock()
}
