package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticket-ledger/internal/events"
	"ticket-ledger/internal/metrics"
	"ticket-ledger/internal/models"
	"ticket-ledger/internal/repositories/redisrepo"
	"ticket-ledger/internal/services"

	"github.com/go-playground/validator/v10"
)

type Queue interface {
	Claim(ctx context.Context, timeout time.Duration) (*redisrepo.ClaimedJob, error)
	Ack(ctx context.Context, claimed *redisrepo.ClaimedJob) error
	Retry(ctx context.Context, claimed *redisrepo.ClaimedJob, job models.TransactionJob) error
	DeadLetter(ctx context.Context, claimed *redisrepo.ClaimedJob, job *models.TransactionJob) error
}

type Handler interface {
	Apply(ctx context.Context, job models.TransactionJob) (bool, error)
	CancelTransaction(ctx context.Context, transactionID string) (bool, error)
}

type Options struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	ClaimTimeout time.Duration
	ErrorPause   time.Duration
}

// Worker drains the pending queue one job at a time. Every claimed job ends up
// removed (applied), back on pending with one more attempt, or dead-lettered.
type Worker struct {
	queue     Queue
	handler   Handler
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	opts      Options
	validate  *validator.Validate
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

func New(
	queue Queue,
	handler Handler,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	opts Options,
) *Worker {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Worker{
		queue:     queue,
		handler:   handler,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		opts:      opts,
		validate:  validator.New(),
		sleep:     sleepContext,
		now:       time.Now,
	}
}

// Run processes jobs until ctx is canceled. A job already claimed when shutdown
// starts is still carried to a queue before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "max_attempts", w.opts.MaxAttempts, "base_delay", w.opts.BaseDelay)

	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return nil
		}

		if _, err := w.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("queue error", "error", err)
			_ = w.sleep(ctx, w.opts.ErrorPause)
		}
	}
}

// ProcessNext claims at most one job and carries it to a terminal or retry
// state. It reports false when nothing was claimed before the claim timeout.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	claimed, err := w.queue.Claim(ctx, w.opts.ClaimTimeout)
	if err != nil {
		if errors.Is(err, redisrepo.ErrQueueEmpty) {
			return false, nil
		}
		return false, err
	}
	w.metrics.JobsClaimed.Inc()

	// Queue moves for a claimed job must finish even during shutdown, or the job
	// would be stranded in processing.
	settleCtx := context.WithoutCancel(ctx)

	if claimed.DecodeErr != nil {
		w.logger.Error("undecodable job", "error", claimed.DecodeErr)
		return true, w.deadLetter(settleCtx, claimed, nil, "undecodable", claimed.DecodeErr)
	}

	job := claimed.Job
	log := w.logger.With("transaction_id", job.TransactionID, "job_type", job.Type, "attempt", job.Attempts+1)

	if err := job.Validate(w.validate); err != nil {
		log.Error("invalid job", "error", err)
		return true, w.deadLetter(settleCtx, claimed, &job, "invalid", err)
	}

	started := time.Now()
	applied, err := w.apply(ctx, job)
	w.metrics.HandlerDuration.WithLabelValues(string(job.Type)).Observe(time.Since(started).Seconds())

	if err == nil {
		if applied {
			w.metrics.JobsApplied.WithLabelValues(string(job.Type)).Inc()
			log.Info("job applied")
		} else {
			w.metrics.JobsReplayed.WithLabelValues(string(job.Type)).Inc()
			log.Info("job already applied, skipping")
		}
		if err := w.queue.Ack(settleCtx, claimed); err != nil {
			return true, fmt.Errorf("failed to ack job %s: %w", job.IdempotencyKey(), err)
		}
		w.publish(settleCtx, job, models.OutcomeApplied, "")
		return true, nil
	}

	// A failure caused by shutdown says nothing about the job. Put it back as it
	// was so the next worker gets the full attempt budget.
	if ctx.Err() != nil {
		log.Warn("job interrupted by shutdown, requeueing", "error", err)
		if err := w.queue.Retry(settleCtx, claimed, job); err != nil {
			return true, fmt.Errorf("failed to requeue job %s: %w", job.IdempotencyKey(), err)
		}
		return true, nil
	}

	job.Attempts++
	if services.IsPermanent(err) {
		log.Warn("job failed permanently", "error", err)
		return true, w.deadLetter(settleCtx, claimed, &job, "permanent", err)
	}
	if job.Attempts >= w.opts.MaxAttempts {
		log.Warn("job out of attempts", "error", err)
		return true, w.deadLetter(settleCtx, claimed, &job, "exhausted", err)
	}

	delay := w.backoff(job.Attempts)
	log.Warn("job failed, retrying", "error", err, "delay", delay)
	// An interrupted sleep only shortens the wait; the job is requeued either way.
	_ = w.sleep(ctx, delay)

	if err := w.queue.Retry(settleCtx, claimed, job); err != nil {
		return true, fmt.Errorf("failed to requeue job %s: %w", job.IdempotencyKey(), err)
	}
	w.metrics.JobsRetried.WithLabelValues(string(job.Type)).Inc()
	return true, nil
}

// backoff is 2^attempts * BaseDelay.
func (w *Worker) backoff(attempts int) time.Duration {
	return w.opts.BaseDelay * time.Duration(1<<uint(attempts))
}

func (w *Worker) apply(ctx context.Context, job models.TransactionJob) (applied bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler.Apply(ctx, job)
}

// deadLetter parks the job and cancels the transaction it was meant to move.
func (w *Worker) deadLetter(ctx context.Context, claimed *redisrepo.ClaimedJob, job *models.TransactionJob, cause string, reason error) error {
	if err := w.queue.DeadLetter(ctx, claimed, job); err != nil {
		return fmt.Errorf("failed to dead-letter job: %w", err)
	}

	outcome := models.TransactionJob{}
	if job != nil {
		outcome = *job
	} else {
		outcome.TransactionID, outcome.Type = partialJobOf(claimed.Raw)
	}
	w.metrics.JobsDeadLettered.WithLabelValues(string(outcome.Type), cause).Inc()

	if outcome.TransactionID != "" {
		canceled, err := w.handler.CancelTransaction(ctx, outcome.TransactionID)
		if err != nil {
			w.logger.Error("failed to cancel dead-lettered transaction", "transaction_id", outcome.TransactionID, "error", err)
		} else if canceled {
			w.logger.Info("transaction canceled", "transaction_id", outcome.TransactionID)
		}
	}

	w.publish(ctx, outcome, models.OutcomeDeadLettered, reason.Error())
	return nil
}

func (w *Worker) publish(ctx context.Context, job models.TransactionJob, status, reason string) {
	if job.TransactionID == "" {
		return
	}
	outcome := models.JobOutcome{
		TransactionID:  job.TransactionID,
		Type:           job.Type,
		IdempotencyKey: job.IdempotencyKey(),
		Status:         status,
		Attempts:       job.Attempts,
		Reason:         reason,
		At:             w.now().UTC(),
	}
	if err := w.publisher.Publish(ctx, outcome); err != nil {
		w.logger.Warn("failed to publish outcome", "transaction_id", job.TransactionID, "error", err)
	}
}

// partialJobOf digs the transaction id and type out of a payload that did not
// decode as a whole job.
func partialJobOf(raw string) (string, models.JobType) {
	var partial struct {
		TransactionID string `json:"transactionId"`
		Type          any    `json:"type"`
	}
	if err := json.Unmarshal([]byte(raw), &partial); err != nil {
		return "", ""
	}
	typ, _ := partial.Type.(string)
	return partial.TransactionID, models.JobType(typ)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
