package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ticket-ledger/internal/models"

	"github.com/go-redis/redis/v8"
)

// maxWatchRetries bounds optimistic retries when the dead-letter list changes
// under a requeue.
const maxWatchRetries = 5

var (
	ErrQueueEmpty         = errors.New("no job available")
	ErrDeadLetterNotFound = errors.New("dead-lettered job not found")
)

// QueueNames are the Redis list keys the pipeline uses.
type QueueNames struct {
	Pending    string
	Processing string
	DeadLetter string
}

// ClaimedJob is a job moved into the processing list. Raw is the exact list value,
// which is what has to be removed again; DecodeErr is set for payloads that are not
// a valid job.
type ClaimedJob struct {
	Raw       string
	Job       models.TransactionJob
	DecodeErr error
}

// JobQueue implements the pending -> processing -> {removed | pending | dead-letter}
// list moves. Producers LPUSH and the consumer BRPOPLPUSHes from the other end, so
// each list is FIFO and a retried job goes to the back.
type JobQueue struct {
	client *redis.Client
	names  QueueNames
}

func NewJobQueue(client *redis.Client, names QueueNames) *JobQueue {
	return &JobQueue{client: client, names: names}
}

// Enqueue pushes a new job onto the pending list.
func (q *JobQueue) Enqueue(ctx context.Context, job models.TransactionJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.names.Pending, payload).Err(); err != nil {
		return fmt.Errorf("failed to push job to pending queue: %w", err)
	}
	return nil
}

// Claim atomically moves the oldest pending job into the processing list, blocking
// up to timeout. It returns ErrQueueEmpty when nothing arrived in time.
func (q *JobQueue) Claim(ctx context.Context, timeout time.Duration) (*ClaimedJob, error) {
	raw, err := q.client.BRPopLPush(ctx, q.names.Pending, q.names.Processing, timeout).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrQueueEmpty
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	claimed := &ClaimedJob{Raw: raw}
	if err := json.Unmarshal([]byte(raw), &claimed.Job); err != nil {
		claimed.DecodeErr = fmt.Errorf("failed to decode job: %w", err)
	}
	return claimed, nil
}

// Ack removes a finished job from the processing list.
func (q *JobQueue) Ack(ctx context.Context, claimed *ClaimedJob) error {
	if err := q.client.LRem(ctx, q.names.Processing, 1, claimed.Raw).Err(); err != nil {
		return fmt.Errorf("failed to remove job from processing queue: %w", err)
	}
	return nil
}

// Retry puts the updated job back on pending and drops the claimed copy from
// processing in one MULTI/EXEC.
func (q *JobQueue) Retry(ctx context.Context, claimed *ClaimedJob, job models.TransactionJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, q.names.Pending, payload)
		pipe.LRem(ctx, q.names.Processing, 1, claimed.Raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	return nil
}

// DeadLetter moves a job to the dead-letter list. When job is nil the raw claimed
// payload is kept as-is.
func (q *JobQueue) DeadLetter(ctx context.Context, claimed *ClaimedJob, job *models.TransactionJob) error {
	payload := []byte(claimed.Raw)
	if job != nil {
		var err error
		if payload, err = json.Marshal(job); err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
	}

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, q.names.DeadLetter, payload)
		pipe.LRem(ctx, q.names.Processing, 1, claimed.Raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to dead-letter job: %w", err)
	}
	return nil
}

// PushDeadLetter stores a payload that never made it onto the pending list.
func (q *JobQueue) PushDeadLetter(ctx context.Context, raw []byte) error {
	if err := q.client.LPush(ctx, q.names.DeadLetter, raw).Err(); err != nil {
		return fmt.Errorf("failed to push to dead-letter queue: %w", err)
	}
	return nil
}

// DeadLetters lists dead-lettered payloads, oldest first.
func (q *JobQueue) DeadLetters(ctx context.Context) ([]string, error) {
	return q.listOldestFirst(ctx, q.names.DeadLetter)
}

// Processing lists payloads currently claimed, oldest first.
func (q *JobQueue) Processing(ctx context.Context) ([]string, error) {
	return q.listOldestFirst(ctx, q.names.Processing)
}

// QueueLengths is a snapshot of the three list lengths.
type QueueLengths struct {
	Pending    int64
	Processing int64
	DeadLetter int64
}

// Lengths reads all three lengths in one MULTI so they describe the same moment.
func (q *JobQueue) Lengths(ctx context.Context) (QueueLengths, error) {
	var pending, processing, dead *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pending = pipe.LLen(ctx, q.names.Pending)
		processing = pipe.LLen(ctx, q.names.Processing)
		dead = pipe.LLen(ctx, q.names.DeadLetter)
		return nil
	})
	if err != nil {
		return QueueLengths{}, fmt.Errorf("failed to read queue lengths: %w", err)
	}
	return QueueLengths{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		DeadLetter: dead.Val(),
	}, nil
}

// RequeueDeadLetter moves one dead-lettered job back to pending with a fresh
// attempt budget. The removal and the push run in one MULTI under WATCH, so the
// job is on exactly one of the two lists at any moment.
func (q *JobQueue) RequeueDeadLetter(ctx context.Context, raw string) error {
	var job models.TransactionJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return fmt.Errorf("failed to decode dead-lettered job: %w", err)
	}
	job.Attempts = 0
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	requeue := func(tx *redis.Tx) error {
		items, err := tx.LRange(ctx, q.names.DeadLetter, 0, -1).Result()
		if err != nil {
			return err
		}
		if !contains(items, raw) {
			return ErrDeadLetterNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.names.DeadLetter, 1, raw)
			pipe.LPush(ctx, q.names.Pending, payload)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := q.client.Watch(ctx, requeue, q.names.DeadLetter)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrDeadLetterNotFound):
			return err
		default:
			return fmt.Errorf("failed to requeue dead-lettered job: %w", err)
		}
	}
	return fmt.Errorf("failed to requeue dead-lettered job: dead-letter list kept changing")
}

func (q *JobQueue) listOldestFirst(ctx context.Context, key string) ([]string, error) {
	items, err := q.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", key, err)
	}
	// LPUSH puts the newest at index 0.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func contains(items []string, raw string) bool {
	for _, item := range items {
		if item == raw {
			return true
		}
	}
	return false
}
