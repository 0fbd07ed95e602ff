package store

import (
	"context"
	"time"
)

// TurnRecord marks a client turn request as handled.
type TurnRecord struct {
	RequestID      string    `json:"request_id"`
	ConversationID string    `json:"conversation_id"`
	ReceivedAt     time.Time `json:"received_at"`
}

// TurnDedupRepo detects retried turn requests.
type TurnDedupRepo interface {
	// RecordTurn records requestID for the conversation. It returns false when
	// the request was already recorded.
	RecordTurn(ctx context.Context, conversationID, requestID string) (bool, error)
}
