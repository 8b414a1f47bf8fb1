package application

import (
	"context"
	"sync"

	"github.com/hospital-supply/replenishment-service/pkg/logging"

	"github.com/hospital-supply/replenishment-service/internal/domain"
)

// DefaultBatchWorkers is the default size of the batch worker pool.
const DefaultBatchWorkers = 4

// BatchResult pairs a report's position in the batch with its outcome.
type BatchResult struct {
	Index   int      `json:"index"`
	Outcome *Outcome `json:"outcome,omitempty"`
	Err     error    `json:"-"`
}

// BatchProcessor fans a batch of reports out over a bounded worker pool.
// Order within the batch is not preserved across workers; results are
// returned indexed by input position.
type BatchProcessor struct {
	pipeline *Pipeline
	workers  int
	logger   *logging.Logger
}

// NewBatchProcessor creates a BatchProcessor with the given pool size.
// Sizes below 1 fall back to DefaultBatchWorkers.
func NewBatchProcessor(pipeline *Pipeline, workers int, logger *logging.Logger) *BatchProcessor {
	if workers < 1 {
		workers = DefaultBatchWorkers
	}
	return &BatchProcessor{
		pipeline: pipeline,
		workers:  workers,
		logger:   logger.WithComponent("batch"),
	}
}

// ProcessBatch runs every report in the batch through the pipeline and
// returns one result per input, in input order. Context cancellation stops
// workers from picking up further reports; reports already in flight run to
// completion so no decision is left half-committed.
func (b *BatchProcessor) ProcessBatch(ctx context.Context, reports []*StockReportRequest, source domain.SourceTransport) []BatchResult {
	results := make([]BatchResult, len(reports))
	if len(reports) == 0 {
		return results
	}

	workers := b.workers
	if workers > len(reports) {
		workers = len(reports)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcome, err := b.pipeline.ProcessRequest(ctx, reports[i], source)
				results[i] = BatchResult{Index: i, Outcome: outcome, Err: err}
			}
		}()
	}

	dispatched := 0
dispatch:
	for i := range reports {
		select {
		case jobs <- i:
			dispatched++
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	// Mark reports the cancellation kept out of the pool.
	for i := dispatched; i < len(reports); i++ {
		results[i] = BatchResult{Index: i, Err: ctx.Err()}
	}

	b.logger.Info("Processed report batch",
		"batchSize", len(reports),
		"dispatched", dispatched,
		"workers", workers)

	return results
}
