package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDoubles(t *testing.T) {
	base := time.Minute
	assert.Equal(t, 2*time.Minute, Backoff(base, 1))
	assert.Equal(t, 4*time.Minute, Backoff(base, 2))
	assert.Equal(t, 8*time.Minute, Backoff(base, 3))
}

func TestTaskDecode(t *testing.T) {
	payload, err := json.Marshal(map[string]string{"charge_id": "42"})
	require.NoError(t, err)
	task := Task{ID: "t1", Queue: QueueChargeProcessing, Payload: payload}

	var decoded struct {
		ChargeID string `json:"charge_id"`
	}
	require.NoError(t, task.Decode(&decoded))
	assert.Equal(t, "42", decoded.ChargeID)
}

func TestQueueKeys(t *testing.T) {
	assert.Equal(t, "gateway:queue:webhook-delivery:pending", pendingKey(QueueWebhookDelivery))
	assert.Equal(t, "gateway:queue:webhook-delivery:processing", processingKey(QueueWebhookDelivery))
	assert.Equal(t, "gateway:queue:webhook-delivery:delayed", delayedKey(QueueWebhookDelivery))
}
