package domain

// ProcessPayload is the body of a charge-processing task.
type ProcessPayload struct {
	ChargeID string `json:"charge_id"`
}
