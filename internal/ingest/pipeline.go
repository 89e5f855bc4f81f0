// Package ingest implements the asynchronous extraction pipeline: a bounded
// queue of accepted turns drained by a worker pool, plus the recovery and
// expiry sweeps. The ingest HTTP response never waits on any of this; a turn
// is durable before it is enqueued.
package ingest

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/scrypster/memlayer/internal/extract"
	"github.com/scrypster/memlayer/internal/index"
	"github.com/scrypster/memlayer/internal/storage"
	"github.com/scrypster/memlayer/pkg/types"
)

// retryDelays is the backoff schedule for a failing extraction stage.
var retryDelays = []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}

// recoveryGrace bounds how far back the startup sweep looks for turns that
// were accepted but never extracted.
const recoveryGrace = 24 * time.Hour

// expirySweepInterval is how often expired memories are removed.
const expirySweepInterval = time.Hour

// backpressureRatio is the queue fill level at which Backpressured trips.
const backpressureRatio = 0.8

// PipelineStore is the storage surface the pipeline needs.
type PipelineStore interface {
	storage.TurnStore
	storage.MemoryStore
	storage.HierarchyStore
}

// Pipeline owns the extraction queue and worker pool.
type Pipeline struct {
	store     PipelineStore
	extractor *extract.Extractor
	organizer *Organizer
	evolver   *index.Evolver

	queue   chan *types.Turn
	workers int
	wg      sync.WaitGroup
}

// NewPipeline creates a pipeline with the given worker count and queue
// capacity.
func NewPipeline(store PipelineStore, extractor *extract.Extractor, evolver *index.Evolver, workers, queueSize int) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pipeline{
		store:     store,
		extractor: extractor,
		organizer: NewOrganizer(store),
		evolver:   evolver,
		queue:     make(chan *types.Turn, queueSize),
		workers:   workers,
	}
}

// Start launches the workers and background sweeps. They run until ctx is
// cancelled; Wait blocks until the workers drain.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	go p.recoverySweep(ctx)
	go p.expirySweep(ctx)
}

// Wait blocks until all workers have exited.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Enqueue hands a turn to the worker pool without blocking. A full queue
// returns ErrUnavailable so the client can back off.
func (p *Pipeline) Enqueue(turn *types.Turn) error {
	select {
	case p.queue <- turn:
		return nil
	default:
		return fmt.Errorf("%w: extraction queue full", storage.ErrUnavailable)
	}
}

// Backpressured reports whether the queue is at or past the backpressure
// fill level.
func (p *Pipeline) Backpressured() bool {
	return float64(len(p.queue)) >= backpressureRatio*float64(cap(p.queue))
}

// QueueDepth returns current fill and capacity, for the stats endpoint.
func (p *Pipeline) QueueDepth() (int, int) {
	return len(p.queue), cap(p.queue)
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case turn := <-p.queue:
			p.processWithRetry(ctx, turn)
		}
	}
}

// processWithRetry runs the extraction stage with bounded exponential
// backoff. A turn that still fails after the budget is left for the next
// recovery sweep.
func (p *Pipeline) processWithRetry(ctx context.Context, turn *types.Turn) {
	err := p.process(ctx, turn)
	for attempt := 0; err != nil && attempt < len(retryDelays); attempt++ {
		log.Printf("ingest: extraction of %s failed (attempt %d): %v", turn.ID, attempt+1, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelays[attempt]):
		}
		err = p.process(ctx, turn)
	}
	if err != nil {
		log.Printf("ingest: extraction of %s abandoned after retries: %v", turn.ID, err)
	}
}

// process runs the full per-turn pipeline: extract, persist, organize into
// the hierarchy, then hand each memory to the evolution pass.
func (p *Pipeline) process(ctx context.Context, turn *types.Turn) error {
	memories := p.extractor.Extract(ctx, turn)
	if len(memories) == 0 {
		// Sentinel so the recovery sweep does not re-enqueue forever.
		return p.store.MarkTurnSkipped(ctx, turn.ID)
	}

	if err := p.store.InsertMemories(ctx, memories); err != nil {
		return fmt.Errorf("ingest: persist memories: %w", err)
	}

	for _, mem := range memories {
		topicID, err := p.organizer.Organize(ctx, mem, turn)
		if err != nil {
			log.Printf("ingest: organizing %s skipped: %v", mem.ID, err)
		} else if err := p.store.SetMemoryTopicID(ctx, mem.ID, topicID); err != nil {
			log.Printf("ingest: topic assignment for %s skipped: %v", mem.ID, err)
		}

		if err := p.evolver.IngestMemory(ctx, mem, turn.Source.App); err != nil {
			log.Printf("ingest: evolution for %s skipped: %v", mem.ID, err)
		}
	}
	return nil
}

// recoverySweep re-enqueues turns accepted within the grace window that have
// no extracted memory and no skip sentinel. It runs once at startup.
func (p *Pipeline) recoverySweep(ctx context.Context) {
	turns, err := p.store.UnextractedTurns(ctx, time.Now().Add(-recoveryGrace))
	if err != nil {
		log.Printf("ingest: recovery sweep failed: %v", err)
		return
	}
	if len(turns) == 0 {
		return
	}
	log.Printf("ingest: recovery sweep re-enqueueing %d turns", len(turns))
	for i := range turns {
		turn := turns[i]
		select {
		case <-ctx.Done():
			return
		case p.queue <- &turn:
		}
	}
}

// expirySweep periodically removes memories whose TTL has elapsed.
func (p *Pipeline) expirySweep(ctx context.Context) {
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := p.store.DeleteExpiredMemories(ctx, time.Now())
			if err != nil {
				log.Printf("ingest: expiry sweep failed: %v", err)
			} else if removed > 0 {
				log.Printf("ingest: expiry sweep removed %d memories", removed)
			}
		}
	}
}
