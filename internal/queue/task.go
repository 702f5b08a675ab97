package queue

import (
	"encoding/json"
	"time"
)

// Queue names used across the gateway and its workers.
const (
	QueueChargeProcessing = "charge-processing"
	QueueWebhookDelivery  = "webhook-delivery"
)

// Task is the envelope pushed through redis. Attempts counts completed
// tries; a task picked up for the first time carries Attempts == 0.
type Task struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

func (t *Task) Decode(v any) error {
	return json.Unmarshal(t.Payload, v)
}

// Backoff returns the delay before retry number attempts, doubling on
// every failed try.
func Backoff(base time.Duration, attempts int) time.Duration {
	return base << attempts
}
