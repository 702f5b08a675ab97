package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheusscotini/payment-gateway/internal/clock"
	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "gateway:queue:"

func pendingKey(queue string) string    { return keyPrefix + queue + ":pending" }
func processingKey(queue string) string { return keyPrefix + queue + ":processing" }
func delayedKey(queue string) string    { return keyPrefix + queue + ":delayed" }

type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	delay time.Duration
}

// WithDelay holds the task back for d before it becomes claimable.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) { o.delay = d }
}

type Enqueuer interface {
	Enqueue(ctx context.Context, queue string, payload any, opts ...EnqueueOption) error
}

type redisEnqueuer struct {
	client *redis.Client
	clock  clock.Clock
}

func NewEnqueuer(client *redis.Client, clk clock.Clock) Enqueuer {
	return &redisEnqueuer{client: client, clock: clk}
}

func (e *redisEnqueuer) Enqueue(ctx context.Context, queue string, payload any, opts ...EnqueueOption) error {
	var options enqueueOptions
	for _, opt := range opts {
		opt(&options)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}
	task := Task{
		ID:         uuid.NewString(),
		Queue:      queue,
		Payload:    body,
		EnqueuedAt: e.clock.Now(),
	}
	return pushTask(ctx, e.client, e.clock, &task, options.delay)
}

func pushTask(ctx context.Context, client *redis.Client, clk clock.Clock, task *Task, delay time.Duration) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task envelope: %w", err)
	}
	if delay > 0 {
		score := float64(clk.Now().Add(delay).UnixMilli())
		return client.ZAdd(ctx, delayedKey(task.Queue), redis.Z{Score: score, Member: raw}).Err()
	}
	return client.LPush(ctx, pendingKey(task.Queue), raw).Err()
}
