package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/commercekit/eventrelay/webhook"
)

/* Pool polls one job kind and fans claimed jobs out to a bounded set
 * of goroutines. The bound is the pool's concurrency limit: at most
 * that many handlers of the kind run at once, whatever the backlog.
 */

const (
	defaultPollInterval = time.Second
	defaultJobTimeout   = 60 * time.Second
)

// Handler processes one claimed job.
type Handler func(ctx context.Context, job webhook.Job) error

// PoolOption is a functional option for configuring a pool.
type PoolOption func(*Pool)

// WithPollInterval overrides how often the pool polls its queue.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		p.pollInterval = d
	}
}

// WithJobTimeout bounds how long one handler invocation may run.
func WithJobTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		p.jobTimeout = d
	}
}

type Pool struct {
	kind        webhook.JobKind
	queue       webhook.Queue
	handler     Handler
	concurrency int

	pollInterval time.Duration
	jobTimeout   time.Duration
}

// NewPool creates a pool of the given concurrency for one job kind.
func NewPool(kind webhook.JobKind, queue webhook.Queue, concurrency int, handler Handler, options ...PoolOption) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	p := &Pool{
		kind:         kind,
		queue:        queue,
		handler:      handler,
		concurrency:  concurrency,
		pollInterval: defaultPollInterval,
		jobTimeout:   defaultJobTimeout,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Start runs the poll loop until the context is cancelled. It blocks;
// run it in its own goroutine. In-flight handlers finish before Start
// returns.
func (p *Pool) Start(ctx context.Context) {
	jobs := make(chan webhook.Job)

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				p.handle(ctx, job)
			}
		}()
	}

	slog.Info("worker pool started",
		slog.String("code", "SYS_STARTUP"),
		slog.String("kind", p.kind.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Duration("pollInterval", p.pollInterval),
	)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			slog.Info("worker pool shutting down",
				slog.String("code", "SYS_SHUTDOWN"),
				slog.String("kind", p.kind.String()),
			)
			return
		case <-ticker.C:
			p.poll(ctx, jobs)
		}
	}
}

func (p *Pool) poll(ctx context.Context, jobs chan<- webhook.Job) {
	claimed, err := p.queue.Dequeue(ctx, p.kind, p.concurrency)
	if err != nil {
		slog.Error("dequeueing jobs",
			slog.String("code", "QUEUE_ERROR"),
			slog.String("kind", p.kind.String()),
			slog.Any("error", err),
		)
		return
	}

	for _, job := range claimed {
		select {
		case jobs <- job:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) handle(ctx context.Context, job webhook.Job) {
	// Detached from the pool context so a shutdown lets claimed jobs
	// finish instead of aborting them mid-attempt.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.jobTimeout)
	defer cancel()

	if err := p.handler(jobCtx, job); err != nil {
		slog.Error("job handler failed",
			slog.String("code", "JOB_ERROR"),
			slog.String("kind", job.Kind.String()),
			slog.String("refId", job.RefID),
			slog.Any("error", err),
		)
	}
}
