package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/imgref/internal/model"
)

// BatchProcessor resolves multiple documents concurrently.
// Each document gets a fresh pipeline from the factory.
type BatchProcessor struct {
	pipelineFactory func() *Pipeline

	// concurrency is the maximum number of documents in flight.
	concurrency int

	logger *slog.Logger
	now    func() time.Time
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent documents.
// Default is 10 if not specified.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithBatchClock sets the time source for Resolution.CreatedAt.
func WithBatchClock(now func() time.Time) BatchOption {
	return func(b *BatchProcessor) {
		b.now = now
	}
}

// NewBatchProcessor creates a new BatchProcessor.
func NewBatchProcessor(pipelineFactory func() *Pipeline, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		pipelineFactory: pipelineFactory,
		concurrency:     10,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(bp)
	}
	if bp.logger == nil {
		bp.logger = slog.Default()
	}
	return bp
}

// ProcessBatch runs every document through its own pipeline with bounded
// concurrency. Results keep the order of docs and include failed
// documents; their Error field says why. Documents that never started
// because the batch was cancelled are nil, and the context error is
// returned.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, docs []model.Document) ([]*model.Resolution, error) {
	results := make([]*model.Resolution, len(docs))
	err := bp.ProcessBatchWithCallback(ctx, docs, func(res *model.Resolution, index int) {
		results[index] = res
	})
	return results, err
}

// ProcessBatchWithCallback runs every document and calls callback as each
// one completes. The callback runs on the worker goroutine.
func (bp *BatchProcessor) ProcessBatchWithCallback(
	ctx context.Context,
	docs []model.Document,
	callback func(res *model.Resolution, index int),
) error {
	bp.logger.Debug("starting batch processing",
		"documents", len(docs),
		"concurrency", bp.concurrency,
	)
	startTime := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, doc := range docs {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			job := NewJob(uuid.NewString(), doc, bp.now())
			if err := bp.pipelineFactory().Execute(ctx, job); err != nil {
				bp.logger.Warn("document failed",
					"source", doc.Name,
					"error", err,
				)
			}
			callback(job.Resolution, i)
			return nil
		})
	}

	err := g.Wait()
	bp.logger.Debug("batch processing complete",
		"documents", len(docs),
		"elapsed", time.Since(startTime),
	)
	return err
}
