// Package workers runs the background jobs of the service.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"certproof/ledger"
	"certproof/logger"
	"certproof/metrics"
	"certproof/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type Anchorer interface {
	Anchor(ctx context.Context, prn, digest string) (string, error)
	Confirmed(ctx context.Context, txRef string) (bool, error)
}

type ReferenceWriter interface {
	AttachLedgerReference(ctx context.Context, prn, txRef string) (*models.Certificate, error)
}

// Summary counts what one run did. Skipped jobs were claimed by another
// worker between the pick and the claim.
type Summary struct {
	Picked    int
	Skipped   int
	Submitted int
	Confirmed int
	Retried   int
	Failed    int
}

// AnchorWorker drains the anchor_jobs outbox: QUEUED jobs are submitted to the
// ledger, SUBMITTED jobs are polled until final and then back-filled on the
// certificate. Every job is claimed before it is touched, so replicas sharing
// the database never submit the same job twice.
type AnchorWorker struct {
	db             *gorm.DB
	ledger         Anchorer
	store          ReferenceWriter
	maxAttempts    int
	batchSize      int
	baseDelay      time.Duration
	maxDelay       time.Duration
	claimTTL       time.Duration
	confirmTimeout time.Duration
	running        atomic.Bool
	now            func() time.Time
	log            zerolog.Logger
}

func NewAnchorWorker(db *gorm.DB, anchorer Anchorer, store ReferenceWriter, maxAttempts int) *AnchorWorker {
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	return &AnchorWorker{
		db:             db,
		ledger:         anchorer,
		store:          store,
		maxAttempts:    maxAttempts,
		batchSize:      50,
		baseDelay:      15 * time.Second,
		maxDelay:       time.Hour,
		claimTTL:       2 * time.Minute,
		confirmTimeout: 10 * time.Minute,
		now:            time.Now,
		log:            logger.Component("anchor-worker"),
	}
}

// SetConfirmTimeout bounds how long a submitted transaction may stay
// unfinalized before the job is submitted again.
func (w *AnchorWorker) SetConfirmTimeout(d time.Duration) {
	if d > 0 {
		w.confirmTimeout = d
	}
}

// Start schedules RunOnce on a cron spec such as "@every 15s".
func (w *AnchorWorker) Start(schedule string) (*cron.Cron, error) {
	w.log.Info().Msg("[ANCHOR-WORKER] Initializing anchoring scheduler...")

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		w.RunOnce(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("schedule anchor worker %q: %w", schedule, err)
	}

	c.Start()
	w.log.Info().Str("schedule", schedule).Msg("[ANCHOR-WORKER] Anchoring scheduler started")
	return c, nil
}

// RunOnce processes the jobs that are due. Overlapping runs are skipped.
func (w *AnchorWorker) RunOnce(ctx context.Context) Summary {
	var sum Summary
	if !w.running.CompareAndSwap(false, true) {
		w.log.Debug().Msg("[ANCHOR-WORKER] previous run still active, skipping")
		return sum
	}
	defer w.running.Store(false)

	var jobs []models.AnchorJob
	err := w.db.WithContext(ctx).
		Where("state IN ? AND next_attempt_at <= ?",
			[]string{models.AnchorQueued, models.AnchorSubmitting, models.AnchorSubmitted}, w.now()).
		Order("next_attempt_at asc").
		Limit(w.batchSize).
		Find(&jobs).Error
	if err != nil {
		w.log.Error().Err(err).Msg("[ANCHOR-WORKER] Error fetching due jobs")
		return sum
	}

	sum.Picked = len(jobs)
	for i := range jobs {
		claimed, err := w.claim(ctx, &jobs[i])
		if err != nil {
			continue
		}
		if !claimed {
			sum.Skipped++
			continue
		}
		w.process(ctx, &jobs[i], &sum)
	}
	if sum.Picked > 0 {
		w.log.Info().
			Int("picked", sum.Picked).
			Int("skipped", sum.Skipped).
			Int("submitted", sum.Submitted).
			Int("confirmed", sum.Confirmed).
			Int("retried", sum.Retried).
			Int("failed", sum.Failed).
			Msg("[ANCHOR-WORKER] run finished")
	}
	return sum
}

// claim takes the job if it is still in the state it was picked in and still
// due, pushing its next attempt past the claim window. A QUEUED job moves to
// SUBMITTING. Only one of several concurrent claimers matches the row.
func (w *AnchorWorker) claim(ctx context.Context, job *models.AnchorJob) (bool, error) {
	now := w.now()
	updates := map[string]interface{}{"next_attempt_at": now.Add(w.claimTTL)}
	if job.State == models.AnchorQueued {
		updates["state"] = models.AnchorSubmitting
	}

	res := w.db.WithContext(ctx).Model(&models.AnchorJob{}).
		Where("id = ? AND state = ? AND next_attempt_at <= ?", job.ID, job.State, now).
		Updates(updates)
	if res.Error != nil {
		w.log.Error().Err(res.Error).Uint("job", job.ID).Msg("[ANCHOR-WORKER] Error claiming job")
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (w *AnchorWorker) process(ctx context.Context, job *models.AnchorJob, sum *Summary) {
	log := w.log.With().Str("prn", job.PRN).Uint("job", job.ID).Logger()

	switch job.State {
	case models.AnchorSubmitting:
		// the worker holding this claim never recorded its submission
		w.retry(job, models.AnchorQueued, errors.New("submission interrupted before it was recorded"), sum)
		return
	case models.AnchorQueued:
		txRef, err := w.ledger.Anchor(ctx, job.PRN, job.Digest)
		if err != nil {
			w.retry(job, models.AnchorQueued, err, sum)
			return
		}
		submittedAt := w.now()
		if err := w.update(job, map[string]interface{}{
			"state":           models.AnchorSubmitted,
			"tx_ref":          txRef,
			"submitted_at":    submittedAt,
			"last_error":      "",
			"next_attempt_at": submittedAt,
		}); err != nil {
			log.Error().Err(err).Str("txRef", txRef).Msg("[ANCHOR-WORKER] Error recording submission")
			return
		}
		job.State = models.AnchorSubmitted
		job.TxRef = txRef
		job.SubmittedAt = &submittedAt
		sum.Submitted++
		metrics.AnchorJobs.WithLabelValues("submitted").Inc()
	}

	ok, err := w.ledger.Confirmed(ctx, job.TxRef)
	if errors.Is(err, ledger.ErrRejected) {
		// dropped by the ledger: submit again
		w.retry(job, models.AnchorQueued, err, sum)
		return
	}
	if err != nil || !ok {
		if w.confirmExpired(job) {
			w.retry(job, models.AnchorQueued, fmt.Errorf("transaction %s not finalized within %s", job.TxRef, w.confirmTimeout), sum)
			return
		}
		// the transaction may still land; keep polling without spending an attempt
		updates := map[string]interface{}{"next_attempt_at": w.now().Add(w.baseDelay)}
		if err != nil {
			log.Warn().Err(err).Str("txRef", job.TxRef).Msg("[ANCHOR-WORKER] confirmation check failed")
			updates["last_error"] = err.Error()
		}
		if err := w.update(job, updates); err != nil {
			log.Error().Err(err).Str("txRef", job.TxRef).Msg("[ANCHOR-WORKER] Error rescheduling confirmation")
		}
		return
	}

	if _, err := w.store.AttachLedgerReference(ctx, job.PRN, job.TxRef); err != nil {
		log.Error().Err(err).Str("txRef", job.TxRef).Msg("[ANCHOR-WORKER] Error attaching ledger reference")
		return
	}
	sum.Confirmed++
	metrics.AnchorJobs.WithLabelValues("confirmed").Inc()
	log.Info().Str("txRef", job.TxRef).Msg("[ANCHOR-WORKER] certificate anchored")
}

func (w *AnchorWorker) confirmExpired(job *models.AnchorJob) bool {
	submitted := job.CreatedAt
	if job.SubmittedAt != nil {
		submitted = *job.SubmittedAt
	}
	return w.now().Sub(submitted) >= w.confirmTimeout
}

func (w *AnchorWorker) retry(job *models.AnchorJob, state string, cause error, sum *Summary) {
	attempts := job.Attempts + 1
	updates := map[string]interface{}{
		"attempts":   attempts,
		"last_error": cause.Error(),
	}

	if attempts >= w.maxAttempts {
		updates["state"] = models.AnchorFailed
		if err := w.update(job, updates); err == nil {
			sum.Failed++
			metrics.AnchorJobs.WithLabelValues("failed").Inc()
		}
		w.log.Error().Err(cause).Str("prn", job.PRN).Int("attempts", attempts).Msg("[ANCHOR-WORKER] giving up; requeue from the admin dashboard")
		return
	}

	updates["state"] = state
	updates["next_attempt_at"] = w.now().Add(w.backoff(attempts))
	if state == models.AnchorQueued {
		updates["tx_ref"] = ""
		updates["submitted_at"] = nil
	}
	if err := w.update(job, updates); err == nil {
		sum.Retried++
		metrics.AnchorJobs.WithLabelValues("retried").Inc()
	}
	w.log.Warn().Err(cause).Str("prn", job.PRN).Int("attempts", attempts).Msg("[ANCHOR-WORKER] anchoring failed, will retry")
}

func (w *AnchorWorker) backoff(attempts int) time.Duration {
	d := w.baseDelay
	for i := 1; i < attempts && d < w.maxDelay; i++ {
		d *= 2
	}
	if d > w.maxDelay {
		d = w.maxDelay
	}
	return d
}

func (w *AnchorWorker) update(job *models.AnchorJob, updates map[string]interface{}) error {
	err := w.db.Model(&models.AnchorJob{}).Where("id = ?", job.ID).Updates(updates).Error
	if err != nil {
		w.log.Error().Err(err).Uint("job", job.ID).Msg("[ANCHOR-WORKER] Error updating job")
	}
	return err
}
