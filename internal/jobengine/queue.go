package jobengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rakunlabs/shinkai/internal/storage"
)

// Queue is the persistent, per-job-id FIFO message queue (spec §3.4/§4.7):
// every unprocessed inbound message is durably recorded before a worker
// claims it, and workers block on a job's queue becoming non-empty rather
// than polling.
type Queue struct {
	store storage.Store

	mu      sync.Mutex
	waiters map[string][]chan struct{} // jobID -> goroutines parked on Wait
}

// NewQueue constructs a Queue backed by store.
func NewQueue(store storage.Store) *Queue {
	return &Queue{store: store, waiters: map[string][]chan struct{}{}}
}

func queueKey(jobID string) []byte {
	return []byte("jobinbox_" + jobID)
}

func timeKeyedKey(jobID, messageHash string) []byte {
	return []byte("all_jobs_time_keyed_" + jobID + "_" + messageHash)
}

// Push durably appends raw (an encoded ShinkaiMessage) to jobID's queue and
// wakes every goroutine parked in Wait on jobID, if any (spec §5.2 "wake on
// push").
func (q *Queue) Push(ctx context.Context, jobID string, raw []byte) error {
	cur, err := q.load(ctx, jobID)
	if err != nil {
		return err
	}
	cur = append(cur, raw)

	encoded, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("jobengine: marshal queue for job %q: %w", jobID, err)
	}
	if err := q.store.Put(ctx, storage.ColumnJobs, queueKey(jobID), encoded); err != nil {
		return fmt.Errorf("jobengine: persist queue for job %q: %w", jobID, err)
	}

	q.wake(jobID)
	return nil
}

// Pop removes and returns the oldest queued message for jobID, or ok=false
// if the queue is currently empty.
func (q *Queue) Pop(ctx context.Context, jobID string) (raw []byte, ok bool, err error) {
	cur, err := q.load(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if len(cur) == 0 {
		return nil, false, nil
	}

	raw, rest := cur[0], cur[1:]
	encoded, err := json.Marshal(rest)
	if err != nil {
		return nil, false, fmt.Errorf("jobengine: marshal queue for job %q: %w", jobID, err)
	}
	if err := q.store.Put(ctx, storage.ColumnJobs, queueKey(jobID), encoded); err != nil {
		return nil, false, fmt.Errorf("jobengine: persist queue for job %q: %w", jobID, err)
	}
	return raw, true, nil
}

// Len reports how many messages are currently queued for jobID without
// removing any of them.
func (q *Queue) Len(ctx context.Context, jobID string) (int, error) {
	cur, err := q.load(ctx, jobID)
	if err != nil {
		return 0, err
	}
	return len(cur), nil
}

func (q *Queue) load(ctx context.Context, jobID string) ([][]byte, error) {
	val, err := q.store.Get(ctx, storage.ColumnJobs, queueKey(jobID))
	if err != nil {
		if err == storage.ErrKeyNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("jobengine: load queue for job %q: %w", jobID, err)
	}
	var cur [][]byte
	if err := json.Unmarshal(val, &cur); err != nil {
		return nil, fmt.Errorf("jobengine: decode queue for job %q: %w", jobID, err)
	}
	return cur, nil
}

// Wait blocks until jobID's queue is non-empty or ctx is done, then returns.
// It re-checks the queue itself after waking, since Pop by another goroutine
// may have already drained the push that woke it.
func (q *Queue) Wait(ctx context.Context, jobID string) error {
	for {
		cur, err := q.load(ctx, jobID)
		if err != nil {
			return err
		}
		if len(cur) > 0 {
			return nil
		}

		ch := make(chan struct{}, 1)
		q.mu.Lock()
		q.waiters[jobID] = append(q.waiters[jobID], ch)
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (q *Queue) wake(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.waiters[jobID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	delete(q.waiters, jobID)
}
