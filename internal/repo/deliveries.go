package repo

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/LeventeLantos/flight-sms/internal/model"
)

var (
	ErrNotFound   = errors.New("delivery not found")
	ErrNotPending = errors.New("delivery is no longer pending")
)

type DeliveryRepository interface {
	Create(ctx context.Context, in model.NewDelivery) (model.Delivery, error)
	Get(ctx context.Context, id string) (model.Delivery, error)
	ListPending(ctx context.Context, limit int) ([]model.Delivery, error)
	ListByStatus(ctx context.Context, status model.Status, limit, offset int) ([]model.Delivery, error)

	// MarkSent and MarkFailed only apply to pending deliveries and return
	// ErrNotPending otherwise.
	MarkSent(ctx context.Context, id, messageID string, raw json.RawMessage) error
	MarkFailed(ctx context.Context, id, reason string) error
}
