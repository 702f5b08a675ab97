package domain

// DeliverPayload is the body of a webhook-delivery task.
type DeliverPayload struct {
	DeliveryID string `json:"delivery_id"`
}
