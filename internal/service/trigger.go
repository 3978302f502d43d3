package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/LeventeLantos/flight-sms/internal/metrics"
	"github.com/LeventeLantos/flight-sms/internal/model"
	"github.com/LeventeLantos/flight-sms/internal/repo"
)

// TriggerHandler processes a single delivery right after it was created.
type TriggerHandler struct {
	repo    repo.DeliveryRepository
	exec    *Executor
	metrics *metrics.Metrics
}

func NewTriggerHandler(r repo.DeliveryRepository, exec *Executor) *TriggerHandler {
	return &TriggerHandler{repo: r, exec: exec}
}

func (h *TriggerHandler) WithMetrics(m *metrics.Metrics) *TriggerHandler {
	h.metrics = m
	return h
}

// Handle loads the delivery and hands it to the executor. The record is
// read again rather than trusted from the event, so a repeated trigger for
// an already processed delivery does nothing.
func (h *TriggerHandler) Handle(ctx context.Context, id string) (model.Outcome, error) {
	d, err := h.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Outcome{DeliveryID: id}, notFoundError(err, id)
		}
		return model.Outcome{DeliveryID: id}, err
	}

	out, err := h.exec.Execute(ctx, d)
	if err != nil {
		return out, err
	}

	if out.Skipped {
		slog.Info("trigger skipped delivery", "delivery_id", id, "status", out.Status)
		return out, nil
	}

	h.metrics.Delivery(string(out.Status), "trigger")
	return out, nil
}
