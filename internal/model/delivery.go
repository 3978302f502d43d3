package model

import (
	"encoding/json"
	"time"
)

type Status string

const (
	Pending Status = "pending"
	Sent    Status = "sent"
	Failed  Status = "failed"
)

func (s Status) Terminal() bool {
	return s == Sent || s == Failed
}

func (s Status) Valid() bool {
	return s == Pending || s.Terminal()
}

// Delivery is one outbound SMS and its delivery lifecycle.
type Delivery struct {
	ID               string          `json:"id"`
	Phone            string          `json:"phone"`
	Message          string          `json:"message"`
	Sender           string          `json:"sender,omitempty"`
	Status           Status          `json:"status"`
	MessageID        *string         `json:"messageId,omitempty"`
	Error            *string         `json:"error,omitempty"`
	ProviderResponse json.RawMessage `json:"providerResponse,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	ProcessedAt      *time.Time      `json:"processedAt,omitempty"`
}

// NewDelivery is the input accepted from the composition side.
type NewDelivery struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
	Sender  string `json:"sender,omitempty"`
}

// Outcome reports what a single execution did to a delivery.
type Outcome struct {
	DeliveryID string `json:"id"`
	Status     Status `json:"status"`
	MessageID  string `json:"messageId,omitempty"`
	Error      string `json:"error,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
}

func (o Outcome) Success() bool {
	return o.Status == Sent
}
