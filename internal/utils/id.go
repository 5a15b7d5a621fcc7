package utils

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewPushID returns a time-ordered identifier for appended children.
// UUIDv7 strings sort lexicographically in creation order.
func NewPushID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to timestamp if the random source is unavailable.
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return id.String()
}

// NewConnID returns a random identifier for a store connection.
func NewConnID() string {
	return uuid.NewString()
}
