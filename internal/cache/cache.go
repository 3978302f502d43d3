package cache

import (
	"context"
	"time"
)

type MessageCache interface {
	StoreSent(ctx context.Context, deliveryID, remoteMessageID string, sentAt time.Time) error
}

// Noop is used when Redis is not configured.
type Noop struct{}

func (Noop) StoreSent(context.Context, string, string, time.Time) error { return nil }
