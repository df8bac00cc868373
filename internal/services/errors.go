package services

import (
	"errors"
	"fmt"

	"ticket-ledger/internal/models"
	"ticket-ledger/internal/repositories/postgresrepo"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownJobType    = errors.New("unknown job type")
)

// PermanentError marks a job failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent failure: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err should skip retries and go straight to the
// dead-letter queue.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// classify wraps the errors that describe the data rather than the environment.
func classify(err error) error {
	if err == nil || IsPermanent(err) {
		return err
	}
	switch {
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrUnknownJobType),
		errors.Is(err, postgresrepo.ErrCardNotFound),
		errors.Is(err, postgresrepo.ErrWalletNotFound),
		errors.Is(err, postgresrepo.ErrTransactionNotFound),
		errors.Is(err, postgresrepo.ErrTicketNotFound),
		errors.Is(err, postgresrepo.ErrTransactionCanceled),
		errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrMissingCard),
		errors.Is(err, models.ErrMissingUser):
		return &PermanentError{Err: err}
	}
	return err
}
