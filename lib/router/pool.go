package router

import (
	"context"
	"sync"

	"github.com/go-i2p/logger"
	"golang.org/x/time/rate"
)

// RetryPoolConfig tunes a RetryPool.
type RetryPoolConfig struct {
	// Workers is the number of goroutines running jobs. Zero runs every
	// job inline on the submitting goroutine.
	Workers int
	// QueueSize bounds the jobs waiting for a worker. A job submitted to a
	// full queue runs inline.
	QueueSize int
	// Rate caps job starts per second across all workers. Zero or negative
	// means unlimited.
	Rate float64
}

// RetryPool runs retry jobs off the presence notification path.
type RetryPool struct {
	jobs    chan func(context.Context)
	limiter *rate.Limiter
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRetryPool starts a pool with cfg.Workers workers.
func NewRetryPool(cfg RetryPoolConfig) *RetryPool {
	p := &RetryPool{}
	if cfg.Rate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), max(1, cfg.Workers))
	}
	if cfg.Workers <= 0 {
		return p
	}

	p.jobs = make(chan func(context.Context), max(0, cfg.QueueSize))
	p.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go p.worker()
	}
	log.WithFields(logger.Fields{
		"at":      "(RetryPool) NewRetryPool",
		"workers": cfg.Workers,
		"queue":   cfg.QueueSize,
		"rate":    cfg.Rate,
	}).Debug("retry pool started")
	return p
}

// Submit schedules job. It never blocks on a busy pool: when no worker can
// take the job, or the pool is closed, job runs on the calling goroutine.
func (p *RetryPool) Submit(job func(context.Context)) {
	p.mu.RLock()
	if !p.closed && p.jobs != nil {
		select {
		case p.jobs <- job:
			p.mu.RUnlock()
			return
		default:
		}
	}
	p.mu.RUnlock()

	log.WithFields(logger.Fields{
		"at": "(RetryPool) Submit",
	}).Debug("running retry inline")
	p.run(job)
}

func (p *RetryPool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *RetryPool) run(job func(context.Context)) {
	ctx := context.Background()
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			log.WithError(err).WithField("at", "(RetryPool) run").Warn("rate limiter wait failed")
		}
	}
	job(ctx)
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *RetryPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.jobs != nil {
		close(p.jobs)
	}
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}
