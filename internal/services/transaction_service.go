package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticket-ledger/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrMissingTransaction = errors.New("refund needs the purchase transaction id")

type TransactionRecorder interface {
	CreateTransaction(ctx context.Context, t models.Transaction) error
	CancelTransaction(ctx context.Context, id string, at time.Time) (bool, error)
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, job models.TransactionJob) error
}

// SubmitRequest is what a request handler hands over for a balance change. For
// PAYOUT, UserID is the organiser whose wallet pays out; for REFUND,
// TransactionID names the purchase being reversed.
type SubmitRequest struct {
	Type          models.JobType  `validate:"required,oneof=DEPOSIT WITHDRAWAL REFUND PAYOUT"`
	UserID        string          `validate:"required,uuid"`
	CardID        string          `validate:"omitempty,uuid"`
	TransactionID string          `validate:"omitempty,uuid"`
	Token         string
	Amount        decimal.Decimal
}

// TransactionService is the producer side of the pipeline. It never touches
// balances; it records the intent and queues it.
type TransactionService struct {
	store    TransactionRecorder
	queue    JobEnqueuer
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func NewTransactionService(store TransactionRecorder, queue JobEnqueuer, logger *slog.Logger) *TransactionService {
	return &TransactionService{
		store:    store,
		queue:    queue,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Submit queues a balance change and returns the transaction id the caller can
// poll. The change itself is applied later by the worker.
func (s *TransactionService) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := s.validate.Struct(req); err != nil {
		return "", fmt.Errorf("invalid request: %w", err)
	}

	job := models.TransactionJob{
		Type:          req.Type,
		TransactionID: req.TransactionID,
		CardID:        req.CardID,
		UserID:        req.UserID,
		Token:         req.Token,
		Amount:        req.Amount,
	}

	if req.Type == models.JobTypeRefund {
		if req.TransactionID == "" {
			return "", ErrMissingTransaction
		}
		if err := job.Validate(s.validate); err != nil {
			return "", err
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return "", fmt.Errorf("failed to queue refund: %w", err)
		}
		s.logger.Info("refund queued", "transaction_id", job.TransactionID)
		return job.TransactionID, nil
	}

	job.TransactionID = s.newID()
	if err := job.Validate(s.validate); err != nil {
		return "", err
	}

	record := models.Transaction{
		ID:        job.TransactionID,
		UserID:    req.UserID,
		Amount:    req.Amount,
		Type:      models.TransactionTypePending,
		CreatedAt: s.now(),
	}
	if req.CardID != "" {
		cardID := req.CardID
		record.CardID = &cardID
	}
	if err := s.store.CreateTransaction(ctx, record); err != nil {
		return "", err
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		// A row that no job will ever move must not stay PENDING.
		if _, cancelErr := s.store.CancelTransaction(ctx, job.TransactionID, s.now()); cancelErr != nil {
			return "", fmt.Errorf("enqueue error: %w, cancel error: %v", err, cancelErr)
		}
		return "", fmt.Errorf("failed to queue transaction: %w", err)
	}

	s.logger.Info("transaction queued", "transaction_id", job.TransactionID, "job_type", job.Type)
	return job.TransactionID, nil
}
