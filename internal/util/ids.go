// Package util provides small helpers shared across FleetPipe components.
package util

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateID returns "{prefix}{32 hex chars}" backed by a random UUID.
func GenerateID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GenerateConversationID generates a unique conversation ID with "c_" prefix.
func GenerateConversationID() string {
	return GenerateID("c_")
}

// GenerateRequestID generates a unique tool request ID with "req_" prefix.
func GenerateRequestID() string {
	return GenerateID("req_")
}
