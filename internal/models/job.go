package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type JobType string

const (
	JobTypeDeposit    JobType = "DEPOSIT"
	JobTypeWithdrawal JobType = "WITHDRAWAL"
	JobTypeRefund     JobType = "REFUND"
	JobTypePayout     JobType = "PAYOUT"
)

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrMissingCard   = errors.New("card id is required")
	ErrMissingUser   = errors.New("user id is required")
)

// TransactionJob is one unit of queued financial work. It is serialized as UTF-8
// JSON onto the pending queue; Attempts is only ever changed by the worker.
type TransactionJob struct {
	Type          JobType         `json:"type" validate:"required,oneof=DEPOSIT WITHDRAWAL REFUND PAYOUT"`
	TransactionID string          `json:"transactionId" validate:"required,uuid"`
	CardID        string          `json:"cardId,omitempty" validate:"omitempty,uuid"`
	UserID        string          `json:"userId,omitempty" validate:"omitempty,uuid"`
	Token         string          `json:"token,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Attempts      int             `json:"attempts" validate:"gte=0"`
}

// IdempotencyKey identifies the ledger effect of a job: a transaction can be moved
// into a given type exactly once.
func (j TransactionJob) IdempotencyKey() string {
	return j.TransactionID + ":" + string(j.Type)
}

// Validate checks the job shape. Amount is checked by hand since decimal.Decimal is
// a struct the validator cannot compare.
func (j TransactionJob) Validate(v *validator.Validate) error {
	if err := v.Struct(j); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	if !j.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	switch j.Type {
	case JobTypeDeposit, JobTypeWithdrawal:
		if j.CardID == "" {
			return ErrMissingCard
		}
	case JobTypePayout:
		if j.CardID == "" {
			return ErrMissingCard
		}
		if j.UserID == "" {
			return ErrMissingUser
		}
	}
	return nil
}

// Outcome status constants
const (
	OutcomeApplied      = "applied"
	OutcomeDeadLettered = "dead_lettered"
)

// JobOutcome is published once a job reaches a terminal state.
type JobOutcome struct {
	TransactionID  string    `json:"transactionId"`
	Type           JobType   `json:"type"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Status         string    `json:"status"`
	Attempts       int       `json:"attempts"`
	Reason         string    `json:"reason,omitempty"`
	At             time.Time `json:"at"`
}
