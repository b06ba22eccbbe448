// Package embedworker implements the Embedding Worker Pool: N cooperating
// poll loops that claim batches of pending embedding jobs, call the
// embedder, upsert vectors into the store, and settle the job and its
// owning position in one transaction.
package embedworker

import (
	"context"
	"errors"
	"time"

	"github.com/chessmate/chessmate/internal/data/repos/embedqueue"
	"github.com/chessmate/chessmate/internal/data/repos/metadata"
	"github.com/chessmate/chessmate/internal/domain"
	"github.com/chessmate/chessmate/internal/observability"
	"github.com/chessmate/chessmate/internal/pkg/dbctx"
	"github.com/chessmate/chessmate/internal/platform/logger"
	"github.com/chessmate/chessmate/internal/platform/openai"
	"github.com/chessmate/chessmate/internal/platform/qdrant"
	"gorm.io/gorm"
)

const batchSize = 16

// pruneBatchSize is the row-batch size used by PruneCompletedAgainstPositions
// during the janitor pass.
const pruneBatchSize = 500

// janitorInterval is how often the stale-reclaim and prune passes repeat
// after the initial startup pass, to catch jobs that go stale mid-run.
const janitorInterval = 5 * time.Minute

// Embedder is the subset of openai.Client the worker calls; named here so
// tests can substitute a fake without depending on the openai package.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

var _ Embedder = (openai.Client)(nil)

type Deps struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Queue    *embedqueue.Repo
	Metadata *metadata.Repo
	Embedder Embedder
	Vectors  qdrant.Store
}

type Pool struct {
	db       *gorm.DB
	log      *logger.Logger
	queue    *embedqueue.Repo
	metadata *metadata.Repo
	embedder Embedder
	vectors  qdrant.Store

	workers   int
	pollSleep time.Duration
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithPollSleep(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.pollSleep = d
		}
	}
}

func New(deps Deps, opts ...Option) *Pool {
	p := &Pool{
		db:        deps.DB,
		log:       deps.Log.With("component", "embedworker.Pool"),
		queue:     deps.Queue,
		metadata:  deps.Metadata,
		embedder:  deps.Embedder,
		vectors:   deps.Vectors,
		workers:   4,
		pollSleep: time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run reclaims stale in_progress jobs and prunes already-embedded positions
// once at startup, then launches the configured number of poll loops and
// blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	p.runJanitorPass(ctx)

	p.log.Info("starting embedding worker pool", "workers", p.workers, "poll_sleep", p.pollSleep)

	if observability.Current() != nil {
		go p.reportQueueDepth(ctx)
	}
	go p.runJanitorLoop(ctx)

	done := make(chan struct{})
	for i := 0; i < p.workers; i++ {
		go func(workerID int) {
			p.runLoop(ctx, workerID)
			done <- struct{}{}
		}(i + 1)
	}
	for i := 0; i < p.workers; i++ {
		<-done
	}
}

// runJanitorLoop repeats the startup janitor pass on janitorInterval, so
// jobs that go stale or positions that get embedded out-of-band mid-run
// still get reconciled without waiting for the next restart.
func (p *Pool) runJanitorLoop(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runJanitorPass(ctx)
		}
	}
}

func (p *Pool) runJanitorPass(ctx context.Context) {
	if n, err := p.queue.ReclaimStale(dbctx.Context{Ctx: ctx}); err != nil {
		p.log.Warn("janitor reclaim failed", "error", err)
	} else if n > 0 {
		p.log.Info("reclaimed stale jobs", "count", n)
	}
	if n, err := p.queue.PruneCompletedAgainstPositions(dbctx.Context{Ctx: ctx}, pruneBatchSize); err != nil {
		p.log.Warn("janitor prune failed", "error", err)
	} else if n > 0 {
		p.log.Info("pruned completed jobs", "count", n)
	}
}

func (p *Pool) reportQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	statuses := []domain.JobStatus{domain.JobPending, domain.JobInProgress, domain.JobFailed}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := observability.Current()
			if m == nil {
				return
			}
			for _, status := range statuses {
				n, err := p.queue.CountByStatus(dbctx.Context{Ctx: ctx}, status)
				if err != nil {
					continue
				}
				m.SetQueueDepth(string(status), n)
			}
		}
	}
}

func (p *Pool) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(p.pollSleep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			p.pollOnce(ctx, workerID)
		}
	}
}

func (p *Pool) pollOnce(ctx context.Context, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker batch panic", "worker_id", workerID, "panic", r)
		}
	}()

	jobs, err := p.queue.ClaimBatch(dbctx.Context{Ctx: ctx}, batchSize)
	if err != nil {
		p.log.Warn("claim batch failed", "worker_id", workerID, "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	p.processBatch(ctx, workerID, jobs)
}

func (p *Pool) processBatch(ctx context.Context, workerID int, jobs []domain.EmbeddingJob) {
	inputs := make([]string, len(jobs))
	for i, job := range jobs {
		inputs[i] = job.FEN
	}

	vectors, err := p.embedder.Embed(ctx, inputs)
	if err != nil {
		p.log.Warn("embed batch failed", "worker_id", workerID, "batch_size", len(jobs), "error", err)
		for _, job := range jobs {
			p.failJob(ctx, job.ID, err)
		}
		return
	}
	if len(vectors) != len(jobs) {
		err := errors.New("embedworker: embedder returned mismatched vector count")
		for _, job := range jobs {
			p.failJob(ctx, job.ID, err)
		}
		return
	}

	positionIDs := make([]string, len(jobs))
	for i, job := range jobs {
		positionIDs[i] = job.PositionID
	}
	payloads, err := p.metadata.FetchPositionPayloads(dbctx.Context{Ctx: ctx}, positionIDs)
	if err != nil {
		p.log.Warn("fetch position payloads failed", "worker_id", workerID, "error", err)
		for _, job := range jobs {
			p.failJob(ctx, job.ID, err)
		}
		return
	}

	for i, job := range jobs {
		p.settle(ctx, workerID, job, vectors[i], payloads[job.PositionID])
	}
}

// settle upserts one vector and completes its job/position inside one
// transaction; a per-item failure here only fails that job, matching
// §4.6's "rare: validation" per-item branch.
func (p *Pool) settle(ctx context.Context, workerID int, job domain.EmbeddingJob, vector []float32, payload metadata.PositionPayload) {
	txErr := p.db.Transaction(func(tx *gorm.DB) error {
		dc := dbctx.Context{Ctx: ctx, Tx: tx}

		if err := p.vectors.Upsert(ctx, []qdrant.Vector{{
			ID:       job.FEN,
			Values:   vector,
			Metadata: vectorPayload(payload, job.PositionID),
		}}); err != nil {
			return err
		}
		if err := p.metadata.SetVectorID(dc, job.PositionID, job.FEN); err != nil {
			return err
		}
		if err := p.queue.Complete(dc, job.ID); err != nil {
			return err
		}
		return nil
	})
	if txErr != nil {
		p.log.Warn("settle job failed", "worker_id", workerID, "job_id", job.ID, "error", txErr)
		p.failJob(ctx, job.ID, txErr)
		return
	}
	if m := observability.Current(); m != nil {
		m.IncWorkerJob("completed")
	}
}

func (p *Pool) failJob(ctx context.Context, jobID string, cause error) {
	if err := p.queue.Fail(dbctx.Context{Ctx: ctx}, jobID, cause.Error()); err != nil {
		p.log.Error("fail job failed", "job_id", jobID, "error", err)
	}
	if m := observability.Current(); m != nil {
		m.IncWorkerJob("failed")
	}
}

func vectorPayload(p metadata.PositionPayload, positionID string) map[string]any {
	payload := map[string]any{
		"position_id": positionID,
		"game_id":     p.GameID,
		"white_name":  p.WhiteName,
		"black_name":  p.BlackName,
		"ply":         p.Ply,
		"result":      string(p.Result),
	}
	if p.WhiteRating != nil {
		payload["white_elo"] = *p.WhiteRating
	}
	if p.BlackRating != nil {
		payload["black_elo"] = *p.BlackRating
	}
	if p.OpeningSlug != nil {
		payload["opening_slug"] = *p.OpeningSlug
	}
	if p.ECOCode != nil {
		payload["eco_code"] = *p.ECOCode
	}
	return payload
}
