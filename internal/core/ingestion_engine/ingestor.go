package ingestion_engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueClosed is returned by Enqueue after the workers stopped.
var ErrQueueClosed = errors.New("ingestion queue closed")

// Processor runs one ingestion job.
type Processor interface {
	Process(ctx context.Context, job Job) (Result, error)
}

type Ingestor interface {
	Start(ctx context.Context, numWorkers int)
	Enqueue(ctx context.Context, job Job) error
	Wait()
}

var _ Ingestor = (*DocumentIngestor)(nil)

// DocumentIngestor feeds jobs from a bounded queue to a pool of workers.
// Delivery is at least once per Enqueue; repeated deliveries for the same
// document are absorbed by the processing guard.
type DocumentIngestor struct {
	proc Processor
	jobs chan Job
	done chan struct{}
	wg   sync.WaitGroup
	log  *slog.Logger
}

// NewDocumentIngestor constructs the ingestor with a bounded job queue.
func NewDocumentIngestor(proc Processor, queueSize int, logger *slog.Logger) *DocumentIngestor {
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentIngestor{
		proc: proc,
		jobs: make(chan Job, queueSize),
		done: make(chan struct{}),
		log:  logger.With("component", "ingestor"),
	}
}

// Start runs numWorkers goroutines reading from the jobs channel until ctx
// is cancelled. Cancelling ctx stops workers from taking new jobs; a run
// already in progress finishes on a context detached from ctx. Jobs still
// queued leave their documents UPLOADED for the next ResumePending.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	numWorkers = max(numWorkers, 1)
	runCtx := context.WithoutCancel(ctx)
	for w := 1; w <= numWorkers; w++ {
		i.wg.Add(1)
		go func(w int) {
			defer i.wg.Done()
			for {
				select {
				case <-ctx.Done():
					i.log.Debug("worker shutting down", "worker", w)
					return
				case job := <-i.jobs:
					if ctx.Err() != nil {
						i.log.Info("job left for resume", "document_id", job.DocumentID)
						return
					}
					i.log.Debug("job picked up", "worker", w, "document_id", job.DocumentID)
					if _, err := i.proc.Process(runCtx, job); err != nil {
						if errors.Is(err, ErrAlreadyProcessed) {
							i.log.Debug("duplicate job skipped", "document_id", job.DocumentID)
							continue
						}
						i.log.Warn("job failed", "document_id", job.DocumentID, "err", err)
					}
				}
			}
		}(w)
	}
	go func() {
		i.wg.Wait()
		close(i.done)
	}()
}

// Enqueue schedules a job. It blocks while the queue is full, until ctx is
// done or the workers have stopped.
func (i *DocumentIngestor) Enqueue(ctx context.Context, job Job) error {
	select {
	case <-i.done:
		return ErrQueueClosed
	default:
	}
	select {
	case i.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-i.done:
		return ErrQueueClosed
	}
}

// Wait blocks until every worker has returned.
func (i *DocumentIngestor) Wait() {
	i.wg.Wait()
}
