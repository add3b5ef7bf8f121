package pantryusage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"souschef"
	"souschef/store"
)

// Processor handles one task.
type Processor interface {
	Process(ctx context.Context, task Task) error
}

type WorkerOptions struct {
	Concurrency int
	// MaxRetries is how many times a failed task is put back on the queue.
	MaxRetries int
	// ErrorBackoff is waited after a queue error before dequeuing again.
	ErrorBackoff time.Duration
	Tracer       trace.Tracer
	Meter        metric.Meter
}

type Worker struct {
	queue     Queue
	processor Processor
	opts      WorkerOptions

	processed metric.Int64Counter
	retried   metric.Int64Counter
	dropped   metric.Int64Counter
}

func NewWorker(queue Queue, processor Processor, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = time.Second
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(souschef.TracerNamePantryUsage)
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter(souschef.TracerNamePantryUsage)
	}
	w := &Worker{queue: queue, processor: processor, opts: opts}
	w.processed, _ = opts.Meter.Int64Counter("pantry_usage_tasks_processed_total",
		metric.WithDescription("Total number of pantry usage tasks completed"))
	w.retried, _ = opts.Meter.Int64Counter("pantry_usage_tasks_retried_total",
		metric.WithDescription("Total number of pantry usage tasks put back on the queue"))
	w.dropped, _ = opts.Meter.Int64Counter("pantry_usage_tasks_dropped_total",
		metric.WithDescription("Total number of pantry usage tasks given up on"))
	return w
}

// Run consumes the queue with Concurrency goroutines until ctx is done or
// the queue is closed. It returns nil on either.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("WORKER: Starting pantry usage workers", "concurrency", w.opts.Concurrency, "max_retries", w.opts.MaxRetries)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.opts.Concurrency; i++ {
		id := i
		g.Go(func() error { return w.loop(gctx, id) })
	}
	err := g.Wait()
	slog.Info("WORKER: Stopped")
	return err
}

func (w *Worker) loop(ctx context.Context, id int) error {
	for {
		task, err := w.queue.Dequeue(ctx)
		switch {
		case errors.Is(err, ErrQueueClosed), ctx.Err() != nil:
			return nil
		case err != nil:
			slog.Error("WORKER: Dequeue failed", "worker", id, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.opts.ErrorBackoff):
			}
			continue
		}
		w.handle(ctx, id, task)
	}
}

func (w *Worker) handle(ctx context.Context, id int, task Task) {
	ctx, span := w.opts.Tracer.Start(ctx, "Worker.Process", trace.WithAttributes(
		attribute.String("plan_meal_id", task.PlanMealID),
		attribute.Int("attempts", task.Attempts),
	))
	defer span.End()

	err := w.processor.Process(ctx, task)
	if err == nil {
		w.processed.Add(ctx, 1)
		return
	}
	span.SetStatus(codes.Error, err.Error())

	if errors.Is(err, ErrStaleTask) || errors.Is(err, store.ErrNotFound) {
		w.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "stale")))
		slog.Info("WORKER: Dropping stale task", "worker", id, "plan_meal_id", task.PlanMealID, "error", err)
		return
	}
	if task.Attempts >= w.opts.MaxRetries {
		w.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "retries_exhausted")))
		slog.Error("WORKER: Giving up on task", "worker", id, "plan_meal_id", task.PlanMealID, "attempts", task.Attempts+1, "error", err)
		return
	}

	task.Attempts++
	if qerr := w.queue.Enqueue(ctx, task); qerr != nil {
		w.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "requeue_failed")))
		slog.Error("WORKER: Failed to requeue task", "worker", id, "plan_meal_id", task.PlanMealID, "error", qerr)
		return
	}
	w.retried.Add(ctx, 1)
	slog.Warn("WORKER: Task failed, requeued", "worker", id, "plan_meal_id", task.PlanMealID, "attempts", task.Attempts, "error", err)
}
