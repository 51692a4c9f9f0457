package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dskam73/interview-automation/internal/domain"
)

type Queue interface {
	Subscribe(durable string, maxAckPending int) (*nats.Subscription, error)
}

type EvictionStore interface {
	EvictOlderThan(ctx context.Context, maxAge time.Duration) ([]domain.Job, error)
}

type BlobCleaner interface {
	Delete(ctx context.Context, name string) error
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) error
}

// Runner pulls admitted job ids off the queue and hands each to a dedicated
// processing goroutine. Concurrency is bounded by the pool size; within a
// job everything runs sequentially.
type Runner struct {
	queue           Queue
	worker          *Worker
	store           EvictionStore
	blobs           BlobCleaner
	size            int
	retention       time.Duration
	cleanupInterval time.Duration

	done chan struct{}
	sub  *nats.Subscription
}

func NewRunner(
	queue Queue,
	worker *Worker,
	store EvictionStore,
	blobs BlobCleaner,
	size int,
	retention time.Duration,
	cleanupInterval time.Duration,
) *Runner {
	return &Runner{
		queue:           queue,
		worker:          worker,
		store:           store,
		blobs:           blobs,
		size:            size,
		retention:       retention,
		cleanupInterval: cleanupInterval,
		done:            make(chan struct{}, size),
	}
}

const consumerName = "interview-job-consumer"

// Run establishes the durable subscription and starts the worker pool. A
// subscribe failure means no worker can ever receive a job, so it is
// returned to the caller instead of limping along without a pool.
func (r *Runner) Run(ctx context.Context) error {
	sub, err := r.queue.Subscribe(consumerName, r.size*2)
	if err != nil {
		return fmt.Errorf("queue subscribe: %w", err)
	}
	r.sub = sub

	for i := 0; i < r.size; i++ {
		go func() {
			defer func() { r.done <- struct{}{} }()
			r.runWorker(ctx)
		}()
	}

	slog.Info("job runner is running", slog.Int("workers", r.size))
	return nil
}

func (r *Runner) Stop(ctx context.Context) {
	// no subscription means no workers were ever started
	if r.sub == nil {
		return
	}

	<-ctx.Done()

	for i := 0; i < r.size; i++ {
		<-r.done
	}

	if err := r.sub.Drain(); err != nil {
		slog.Warn("NATS subscription drain", slog.String("error", err.Error()))
	}

	slog.Info("job runner stopped")
}

func (r *Runner) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("runner worker stopping")
			return
		default:
		}

		msgs, err := r.sub.Fetch(1, nats.Context(ctx))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			slog.Warn("NATS Fetch", slog.String("error", err.Error()))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for _, msg := range msgs {
			jobID := string(msg.Data)
			slog.Debug("got message", slog.String("job_id", jobID))

			// Ack up front. The job store is the source of truth: a job
			// that dies mid-run stays non-terminal until retention evicts
			// it, and a redelivered id is skipped by the queued-status
			// check. Re-running half-finished jobs is worse than that.
			if err := msg.Ack(); err != nil {
				slog.Warn("NATS Ack", slog.String("error", err.Error()))
			}

			r.worker.Process(ctx, jobID)
		}
	}
}

// StartCleanup evicts jobs past the retention window on a fixed interval and
// reclaims their stored blobs. A second, age-doubled sweep over the blob
// store catches anything orphaned by earlier failures.
func (r *Runner) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(r.cleanupInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.evictExpired(ctx)

				if err := r.blobs.CleanupOlderThan(ctx, 2*r.retention); err != nil && !errors.Is(err, context.Canceled) {
					slog.Warn("cleanup old blobs", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

func (r *Runner) evictExpired(ctx context.Context) {
	evicted, err := r.store.EvictOlderThan(ctx, r.retention)
	if err != nil {
		slog.Warn("evict expired jobs", slog.String("error", err.Error()))
	}
	if len(evicted) == 0 {
		return
	}

	slog.Info("cleanup", slog.Int("evicted_jobs", len(evicted)))

	for _, job := range evicted {
		for _, file := range job.InputFiles {
			if err := r.blobs.Delete(ctx, file.PayloadRef); err != nil {
				slog.Warn("cleanup payload blob", slog.String("error", err.Error()))
			}
		}
		if job.State.OutputBundleRef != "" {
			if err := r.blobs.Delete(ctx, job.State.OutputBundleRef); err != nil {
				slog.Warn("cleanup bundle blob", slog.String("error", err.Error()))
			}
		}
	}
}
