package events

import "context"

// Event types
const (
	EventEscrowCreated      = "escrow_created"
	EventDepositDetected    = "deposit_detected"
	EventSettlementReleased = "settlement_released"
	EventSettlementFailed   = "settlement_failed"
)

// StreamSettlement is the pub/sub channel consumed by the notification layer.
const StreamSettlement = "events:settlement"

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
