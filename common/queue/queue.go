package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/docpipe/docpipe/common/logger"
	redisWrapper "github.com/docpipe/docpipe/common/redis"
)

// Message is a single unit of queued work: a task to execute.
type Message struct {
	Collection string `json:"collection"`
	TaskID     int64  `json:"task_id"`
}

// Queue is a durable multi-consumer work queue with at-least-once delivery.
type Queue interface {
	// Enqueue appends a message to the named queue.
	Enqueue(ctx context.Context, queue string, msg Message) error
	// Dequeue pops one message from the first non-empty queue in keys,
	// blocking up to timeout. Returns nil on timeout.
	Dequeue(ctx context.Context, queues []string, timeout time.Duration) (*Message, error)
	// Depth returns the number of messages waiting on the named queue.
	Depth(ctx context.Context, queue string) (int64, error)
	Close() error
}

// Key builds the queue key for a collection and queue name.
func Key(collection, queue string) string {
	return fmt.Sprintf("tasks:%s:%s", collection, queue)
}

// RedisQueue is the production queue, backed by Redis lists (RPUSH/BLPOP).
type RedisQueue struct {
	redis *redisWrapper.Client
	log   *logger.Logger
}

// NewRedisQueue creates a Redis-backed work queue
func NewRedisQueue(redis *redisWrapper.Client, log *logger.Logger) *RedisQueue {
	return &RedisQueue{
		redis: redis,
		log:   log,
	}
}

// Enqueue appends a message to the named queue
func (q *RedisQueue) Enqueue(ctx context.Context, queue string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	if err := q.redis.PushToList(ctx, queue, payload); err != nil {
		return fmt.Errorf("failed to enqueue task %d on %s: %w", msg.TaskID, queue, err)
	}

	q.log.Debug("enqueued task", "queue", queue, "task_id", msg.TaskID)
	return nil
}

// Dequeue pops one message, blocking up to timeout
func (q *RedisQueue) Dequeue(ctx context.Context, queues []string, timeout time.Duration) (*Message, error) {
	result, err := q.redis.BlockingPopList(ctx, timeout, queues...)
	if err != nil {
		return nil, err
	}
	if result == nil {
		// Timeout, nothing queued
		return nil, nil
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("invalid BLPOP result: %v", result)
	}

	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue message: %w", err)
	}

	return &msg, nil
}

// Depth returns the queue length
func (q *RedisQueue) Depth(ctx context.Context, queue string) (int64, error) {
	return q.redis.ListLength(ctx, queue)
}

// Close closes the queue
func (q *RedisQueue) Close() error {
	return nil
}

// MemoryQueue is an in-memory queue for tests and single-process development
type MemoryQueue struct {
	queues map[string][]Message
	mu     sync.Mutex
	log    *logger.Logger
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(log *logger.Logger) *MemoryQueue {
	return &MemoryQueue{
		queues: make(map[string][]Message),
		log:    log,
	}
}

// Enqueue appends a message to the named queue
func (q *MemoryQueue) Enqueue(ctx context.Context, queue string, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queues[queue] = append(q.queues[queue], msg)
	return nil
}

// Dequeue pops one message, polling up to timeout
func (q *MemoryQueue) Dequeue(ctx context.Context, queues []string, timeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		for _, key := range queues {
			if pending := q.queues[key]; len(pending) > 0 {
				msg := pending[0]
				q.queues[key] = pending[1:]
				q.mu.Unlock()
				return &msg, nil
			}
		}
		q.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Depth returns the queue length
func (q *MemoryQueue) Depth(ctx context.Context, queue string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return int64(len(q.queues[queue])), nil
}

// Close closes the queue
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queues = make(map[string][]Message)
	return nil
}
