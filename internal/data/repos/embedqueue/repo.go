// Package embedqueue implements the embedding job queue: enqueue, claim
// under SKIP LOCKED, and the completion/failure/reclaim transitions the
// embedding worker pool drives.
package embedqueue

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chessmate/chessmate/internal/domain"
	"github.com/chessmate/chessmate/internal/pkg/dbctx"
	"github.com/chessmate/chessmate/internal/platform/logger"
	"github.com/chessmate/chessmate/internal/platform/operr"
)

// MaxAttempts caps retries before a job is marked terminally failed.
const MaxAttempts = 5

// InProgressTimeout is how long a claimed job may sit in_progress before
// the janitor treats its runner as dead and reclaims it to pending.
const InProgressTimeout = 15 * time.Minute

type Repo struct {
	db  *gorm.DB
	log *logger.Logger
}

func New(db *gorm.DB, log *logger.Logger) *Repo {
	return &Repo{db: db, log: log.With("component", "embedqueue.Repo")}
}

func (r *Repo) tx(dc dbctx.Context) *gorm.DB {
	if dc.Tx != nil {
		return dc.Tx.WithContext(dc.Ctx)
	}
	return r.db.WithContext(dc.Ctx)
}

// Enqueue creates one pending job per position; PositionID's unique index
// makes a duplicate enqueue a no-op rather than an error.
func (r *Repo) Enqueue(dc dbctx.Context, positionID, fen string) error {
	const op = "enqueue"
	tx := r.tx(dc)

	var existing domain.EmbeddingJob
	err := tx.Where("position_id = ?", positionID).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return operr.New(op, operr.KindTransient, "lookup existing job failed", err)
	}

	job := domain.EmbeddingJob{
		PositionID: positionID,
		FEN:        fen,
		Status:     domain.JobPending,
		EnqueuedAt: time.Now(),
	}
	if err := tx.Create(&job).Error; err != nil {
		return operr.New(op, operr.KindTransient, "insert job failed", err)
	}
	return nil
}

// ClaimBatch takes up to n pending jobs whose attempts are still below
// MaxAttempts under SKIP LOCKED, marking them in_progress within the same
// transaction so no two workers ever see the same row. Failed jobs are
// never claimed.
func (r *Repo) ClaimBatch(dc dbctx.Context, n int) ([]domain.EmbeddingJob, error) {
	const op = "claim"
	if n <= 0 {
		return nil, nil
	}
	base := r.tx(dc)

	var claimed []domain.EmbeddingJob
	err := base.Transaction(func(txx *gorm.DB) error {
		var jobs []domain.EmbeddingJob
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND attempts < ?", domain.JobPending, MaxAttempts).
			Order("enqueued_at ASC").
			Limit(n)
		if err := q.Find(&jobs).Error; err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		now := time.Now()
		ids := make([]string, 0, len(jobs))
		for i := range jobs {
			ids = append(ids, jobs[i].ID)
			jobs[i].Status = domain.JobInProgress
			jobs[i].StartedAt = &now
			jobs[i].Attempts++
		}
		if err := txx.Model(&domain.EmbeddingJob{}).Where("id IN ?", ids).Updates(map[string]interface{}{
			"status":     domain.JobInProgress,
			"started_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error; err != nil {
			return err
		}
		claimed = jobs
		return nil
	})
	if err != nil {
		return nil, operr.New(op, operr.KindTransient, "claim batch failed", err)
	}
	return claimed, nil
}

// Complete marks a job completed and never reconsiders it again.
func (r *Repo) Complete(dc dbctx.Context, jobID string) error {
	const op = "complete"
	now := time.Now()
	tx := r.tx(dc)
	if err := tx.Model(&domain.EmbeddingJob{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":       domain.JobCompleted,
		"completed_at": now,
	}).Error; err != nil {
		return operr.New(op, operr.KindTransient, "complete job failed", err)
	}
	return nil
}

// Fail records the error and either returns the job to pending (attempts
// still below MaxAttempts) or marks it terminally failed.
func (r *Repo) Fail(dc dbctx.Context, jobID string, reason string) error {
	const op = "fail"
	tx := r.tx(dc)

	var job domain.EmbeddingJob
	if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
		return operr.New(op, operr.KindTransient, "load job failed", err)
	}

	// job.Attempts already reflects this round's claim; Fail only decides
	// whether that attempt count crossed MaxAttempts, it never increments
	// again on top of Claim's bump.
	status := domain.JobPending
	if job.Attempts >= MaxAttempts {
		status = domain.JobFailed
	}
	updates := map[string]interface{}{
		"status":     status,
		"last_error": reason,
	}
	if status == domain.JobFailed {
		updates["completed_at"] = time.Now()
	} else {
		updates["started_at"] = nil
	}
	if err := tx.Model(&domain.EmbeddingJob{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
		return operr.New(op, operr.KindTransient, "record failure failed", err)
	}
	return nil
}

// CountByStatus counts jobs in any of the given statuses. The ingestion
// controller's admission control passes only pending and compares the
// count with CHESSMATE_MAX_PENDING_EMBEDDINGS.
func (r *Repo) CountByStatus(dc dbctx.Context, statuses ...domain.JobStatus) (int64, error) {
	const op = "count_by_status"
	if len(statuses) == 0 {
		return 0, nil
	}
	var count int64
	if err := r.tx(dc).Model(&domain.EmbeddingJob{}).Where("status IN ?", statuses).Count(&count).Error; err != nil {
		return 0, operr.New(op, operr.KindTransient, "count by status failed", err)
	}
	return count, nil
}

// ReclaimStale is the janitor pass: any job stuck in_progress past
// InProgressTimeout is assumed to have lost its worker and is returned to
// pending without incrementing attempts, since the worker never got a
// chance to report success or failure.
func (r *Repo) ReclaimStale(dc dbctx.Context) (int64, error) {
	const op = "reclaim_stale"
	cutoff := time.Now().Add(-InProgressTimeout)
	res := r.tx(dc).Model(&domain.EmbeddingJob{}).
		Where("status = ? AND started_at < ?", domain.JobInProgress, cutoff).
		Updates(map[string]interface{}{"status": domain.JobPending, "started_at": nil})
	if res.Error != nil {
		return 0, operr.New(op, operr.KindTransient, "reclaim stale jobs failed", res.Error)
	}
	return res.RowsAffected, nil
}

// PruneCompletedAgainstPositions flips pending jobs to completed, in
// batches of batch rows, whenever their owning position already carries a
// vector_id — the reconciliation path for a position embedded by some
// earlier, partially-committed ingest whose job row never got its own
// Complete call. It loops until a batch affects nothing, so the total rows
// affected can exceed batch.
func (r *Repo) PruneCompletedAgainstPositions(dc dbctx.Context, batch int) (int64, error) {
	const op = "prune_completed_against_positions"
	if batch <= 0 {
		batch = 500
	}
	tx := r.tx(dc)

	var total int64
	for {
		var ids []string
		if err := tx.Model(&domain.EmbeddingJob{}).
			Joins("JOIN positions ON positions.id = embedding_jobs.position_id").
			Where("embedding_jobs.status = ? AND positions.vector_id IS NOT NULL", domain.JobPending).
			Limit(batch).
			Pluck("embedding_jobs.id", &ids).Error; err != nil {
			return total, operr.New(op, operr.KindTransient, "select prune candidates failed", err)
		}
		if len(ids) == 0 {
			return total, nil
		}
		res := tx.Model(&domain.EmbeddingJob{}).Where("id IN ?", ids).Updates(map[string]interface{}{
			"status":       domain.JobCompleted,
			"completed_at": time.Now(),
		})
		if res.Error != nil {
			return total, operr.New(op, operr.KindTransient, "prune completed jobs failed", res.Error)
		}
		total += res.RowsAffected
		if len(ids) < batch {
			return total, nil
		}
	}
}
