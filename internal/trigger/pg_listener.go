package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// PGListener turns Postgres notifications on a channel into queued
// deliveries. The notification payload is the delivery id.
type PGListener struct {
	url     string
	channel string
	enqueue func(id string) bool

	baseDelay time.Duration
	maxDelay  time.Duration
}

func NewPGListener(url, channel string, enqueue func(id string) bool) *PGListener {
	return &PGListener{
		url:       url,
		channel:   channel,
		enqueue:   enqueue,
		baseDelay: time.Second,
		maxDelay:  30 * time.Second,
	}
}

// Run listens until ctx is done, reconnecting with exponential backoff
// when the connection drops.
func (l *PGListener) Run(ctx context.Context) error {
	attempt := 0
	for {
		connected, err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			attempt = 0
		}
		attempt++

		delay := backoff(attempt, l.baseDelay, l.maxDelay)
		slog.Warn("notification listener disconnected", "channel", l.channel, "error", err, "retry_in", delay.String())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (l *PGListener) listen(ctx context.Context) (connected bool, err error) {
	conn, err := pgx.Connect(ctx, l.url)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("listen %s: %w", l.channel, err)
	}
	slog.Info("notification listener connected", "channel", l.channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, fmt.Errorf("wait for notification: %w", err)
		}
		l.enqueue(n.Payload)
	}
}

// backoff doubles delay per attempt starting at base, capped at max.
func backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return max
	}
	delay := base << (attempt - 1)
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}
