package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/matheusscotini/payment-gateway/internal/clock"
	"github.com/matheusscotini/payment-gateway/internal/observability/metrics"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// promoteScript moves every due delayed task into the pending list in a
// single round trip so no consumer can observe a task in neither place.
const promoteScript = `
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 100)
for _, raw in ipairs(due) do
  redis.call("ZREM", KEYS[1], raw)
  redis.call("LPUSH", KEYS[2], raw)
end
return #due
`

// Handler consumes tasks from one queue.
type Handler interface {
	Handle(ctx context.Context, task *Task) error

	// OnFailure runs after every failed attempt, with task.Attempts
	// already counting the attempt that just failed. Errors it returns
	// are logged and swallowed so they cannot mask the original cause.
	OnFailure(ctx context.Context, task *Task, cause error) error
}

type Config struct {
	BaseRetryDelay time.Duration
	MaxAttempts    int
	Concurrency    int
	PollTimeout    time.Duration
}

type Worker struct {
	queue   string
	client  *redis.Client
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
	handler Handler
	cfg     Config
	promote *redis.Script

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewWorker(queue string, client *redis.Client, clk clock.Clock, log *zap.Logger, m *metrics.Metrics, handler Handler, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	return &Worker{
		queue:   queue,
		client:  client,
		clock:   clk,
		log:     log.With(zap.String("queue", queue)),
		metrics: m,
		handler: handler,
		cfg:     cfg,
		promote: redis.NewScript(promoteScript),
	}
}

// Start requeues tasks orphaned by a previous crash and launches the
// consumer goroutines.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.sweepOrphans(ctx); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.run(runCtx)
	}
	w.log.Info("worker started", zap.Int("concurrency", w.cfg.Concurrency))
	return nil
}

// Stop signals the consumers and waits for in-flight tasks to finish.
func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sweepOrphans drains the processing list back into pending. Tasks left
// there belong to a consumer that died mid-claim; redelivering them is
// safe because every handler tolerates repeats.
func (w *Worker) sweepOrphans(ctx context.Context) error {
	for {
		err := w.client.RPopLPush(ctx, processingKey(w.queue), pendingKey(w.queue)).Err()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		w.log.Warn("requeued orphaned task")
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.promoteDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error("promote delayed tasks", zap.Error(err))
		}

		raw, err := w.client.BRPopLPush(ctx, pendingKey(w.queue), processingKey(w.queue), w.cfg.PollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error("claim task", zap.Error(err))
			continue
		}
		w.process(ctx, raw)
	}
}

func (w *Worker) promoteDue(ctx context.Context) error {
	now := w.clock.Now().UnixMilli()
	return w.promote.Run(ctx, w.client,
		[]string{delayedKey(w.queue), pendingKey(w.queue)},
		now,
	).Err()
}

func (w *Worker) process(ctx context.Context, raw string) {
	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		w.log.Error("drop undecodable task", zap.Error(err))
		w.ack(ctx, raw)
		return
	}

	log := w.log.With(zap.String("task_id", task.ID), zap.Int("attempts", task.Attempts))
	if err := w.handler.Handle(ctx, &task); err != nil {
		w.fail(ctx, raw, &task, err, log)
		return
	}
	log.Debug("task done")
	w.ack(ctx, raw)
}

func (w *Worker) fail(ctx context.Context, raw string, task *Task, cause error, log *zap.Logger) {
	task.Attempts++
	log.Warn("task attempt failed", zap.Int("attempt", task.Attempts), zap.Error(cause))

	if err := w.handler.OnFailure(ctx, task, cause); err != nil {
		log.Error("failure hook", zap.Error(err))
	}

	if task.Attempts >= w.cfg.MaxAttempts {
		log.Error("task exhausted", zap.Error(cause))
		w.ack(ctx, raw)
		return
	}

	delay := Backoff(w.cfg.BaseRetryDelay, task.Attempts)
	if err := pushTask(ctx, w.client, w.clock, task, delay); err != nil {
		// Leave the claimed entry in the processing list so the next
		// startup sweep redelivers it.
		log.Error("reschedule task", zap.Error(err))
		return
	}
	w.metrics.RecordQueueRetry(ctx, w.queue)
	w.ack(ctx, raw)
}

func (w *Worker) ack(ctx context.Context, raw string) {
	if err := w.client.LRem(ctx, processingKey(w.queue), 1, raw).Err(); err != nil {
		w.log.Error("ack task", zap.Error(err))
	}
}
