package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"ticket-ledger/internal/models"
)

type fakeQueue struct {
	jobs []models.TransactionJob
	err  error
}

func (q *fakeQueue) Enqueue(ctx context.Context, job models.TransactionJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

const (
	testUser = "5b0b6d55-8c0c-4f0e-9f5c-0f3f7b0b3c11"
	testCard = "7c1f3f7e-3d59-4c53-8a3e-3f54e1fd1e01"
	testTxID = "0d6f1f0e-52b5-4c57-9b61-6b2f2c1e9a77"
)

func newTestTransactionService(store *fakeLedger, queue *fakeQueue) *TransactionService {
	s := NewTransactionService(store, queue, discardLogger())
	s.now = func() time.Time { return fixedNow }
	s.newID = func() string { return testTxID }
	return s
}

func TestTransactionService_Submit(t *testing.T) {
	t.Run("deposit records a pending row and queues the job", func(t *testing.T) {
		store, queue := newFakeLedger(), &fakeQueue{}
		s := newTestTransactionService(store, queue)

		id, err := s.Submit(context.Background(), SubmitRequest{
			Type: models.JobTypeDeposit, UserID: testUser, CardID: testCard, Amount: dec("12.50"),
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if id != testTxID {
			t.Fatalf("id: got %q, want %q", id, testTxID)
		}

		row := store.state.txns[testTxID]
		if row.Type != models.TransactionTypePending || row.CardID == nil || *row.CardID != testCard {
			t.Fatalf("row: %+v", row)
		}
		if len(queue.jobs) != 1 {
			t.Fatalf("queued %d jobs, want 1", len(queue.jobs))
		}
		job := queue.jobs[0]
		if job.TransactionID != testTxID || job.Attempts != 0 || !job.Amount.Equal(dec("12.5")) {
			t.Fatalf("job: %+v", job)
		}
	})

	t.Run("queue failure cancels the row", func(t *testing.T) {
		store, queue := newFakeLedger(), &fakeQueue{err: errors.New("redis down")}
		s := newTestTransactionService(store, queue)

		_, err := s.Submit(context.Background(), SubmitRequest{
			Type: models.JobTypeWithdrawal, UserID: testUser, CardID: testCard, Amount: dec("1"),
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if row := store.state.txns[testTxID]; row.Type != models.TransactionTypeCancel || row.CanceledAt == nil {
			t.Fatalf("row: %+v", row)
		}
	})

	t.Run("refund queues against the purchase without a new row", func(t *testing.T) {
		store, queue := newFakeLedger(), &fakeQueue{}
		s := newTestTransactionService(store, queue)
		purchase := "9a8f7e6d-1111-4222-8333-444455556666"

		id, err := s.Submit(context.Background(), SubmitRequest{
			Type: models.JobTypeRefund, UserID: testUser, TransactionID: purchase, Amount: dec("30"),
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if id != purchase || len(store.state.txns) != 0 || len(queue.jobs) != 1 {
			t.Fatalf("id=%s rows=%d jobs=%d", id, len(store.state.txns), len(queue.jobs))
		}
	})

	tests := []struct {
		name string
		req  SubmitRequest
		want error
	}{
		{name: "refund without purchase", req: SubmitRequest{Type: models.JobTypeRefund, UserID: testUser, Amount: dec("1")}, want: ErrMissingTransaction},
		{name: "deposit without card", req: SubmitRequest{Type: models.JobTypeDeposit, UserID: testUser, Amount: dec("1")}, want: models.ErrMissingCard},
		{name: "negative amount", req: SubmitRequest{Type: models.JobTypeDeposit, UserID: testUser, CardID: testCard, Amount: dec("-1")}, want: models.ErrInvalidAmount},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			store, queue := newFakeLedger(), &fakeQueue{}
			s := newTestTransactionService(store, queue)

			if _, err := s.Submit(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("error: got %v, want %v", err, tt.want)
			}
			if len(store.state.txns) != 0 || len(queue.jobs) != 0 {
				t.Fatal("rejected request left side effects")
			}
		})
	}

	t.Run("malformed ids are rejected", func(t *testing.T) {
		s := newTestTransactionService(newFakeLedger(), &fakeQueue{})
		_, err := s.Submit(context.Background(), SubmitRequest{
			Type: models.JobTypeDeposit, UserID: "not-a-uuid", CardID: testCard, Amount: dec("1"),
		})
		if err == nil {
			t.Fatal("expected validation error")
		}
	})
}
