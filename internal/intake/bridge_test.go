package intake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"ticket-ledger/internal/metrics"
	"ticket-ledger/internal/models"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type memQueue struct {
	pending []models.TransactionJob
	dead    [][]byte
	err     error
}

func (q *memQueue) Enqueue(ctx context.Context, job models.TransactionJob) error {
	if q.err != nil {
		return q.err
	}
	q.pending = append(q.pending, job)
	return nil
}

func (q *memQueue) PushDeadLetter(ctx context.Context, raw []byte) error {
	if q.err != nil {
		return q.err
	}
	q.dead = append(q.dead, raw)
	return nil
}

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string { return "member-1" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string) {}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) { s.marked = append(s.marked, msg.Offset) }

type fakeClaim struct {
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return "transaction-jobs" }
func (c *fakeClaim) Partition() int32 { return 0 }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

const validJob = `{"type":"DEPOSIT","transactionId":"0d6f1f0e-52b5-4c57-9b61-6b2f2c1e9a77","cardId":"7c1f3f7e-3d59-4c53-8a3e-3f54e1fd1e01","amount":"5.00","attempts":2}`

func newTestBridge(q *memQueue) (*Bridge, *metrics.Metrics) {
	m := metrics.New()
	return NewBridge(nil, "transaction-jobs", q, m, slog.New(slog.NewTextHandler(io.Discard, nil))), m
}

func claimOf(values ...string) *fakeClaim {
	c := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, len(values))}
	for i, v := range values {
		c.msgs <- &sarama.ConsumerMessage{Value: []byte(v), Offset: int64(i)}
	}
	close(c.msgs)
	return c
}

func TestBridge_ConsumeClaim(t *testing.T) {
	q := &memQueue{}
	b, m := newTestBridge(q)
	session := &fakeSession{ctx: context.Background()}

	err := b.ConsumeClaim(session, claimOf(validJob, `{"type":"DEPOSIT"`, `{"type":"BONUS","transactionId":"x","amount":"1"}`))
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	if len(q.pending) != 1 {
		t.Fatalf("pending: got %d, want 1", len(q.pending))
	}
	if q.pending[0].Attempts != 0 {
		t.Fatalf("attempts not reset: %d", q.pending[0].Attempts)
	}
	if len(q.dead) != 2 {
		t.Fatalf("dead: got %d, want 2", len(q.dead))
	}
	if len(session.marked) != 3 {
		t.Fatalf("marked offsets: %v", session.marked)
	}
	if got := testutil.ToFloat64(m.IntakeMessages.WithLabelValues("invalid")); got != 2 {
		t.Fatalf("invalid metric: %v", got)
	}
}

func TestBridge_QueueFailureLeavesOffset(t *testing.T) {
	q := &memQueue{err: errors.New("redis down")}
	b, _ := newTestBridge(q)
	session := &fakeSession{ctx: context.Background()}

	if err := b.ConsumeClaim(session, claimOf(validJob)); err == nil {
		t.Fatal("expected error")
	}
	if len(session.marked) != 0 {
		t.Fatalf("offset marked despite failure: %v", session.marked)
	}
}
