package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/LeventeLantos/flight-sms/internal/cache"
	"github.com/LeventeLantos/flight-sms/internal/metrics"
	"github.com/LeventeLantos/flight-sms/internal/model"
	"github.com/LeventeLantos/flight-sms/internal/provider"
	"github.com/LeventeLantos/flight-sms/internal/repo"
)

const writeTimeout = 5 * time.Second

type SendClient interface {
	Send(ctx context.Context, req provider.Request) (provider.Response, error)
}

// Executor sends one pending delivery and records its terminal status.
type Executor struct {
	client  SendClient
	repo    repo.DeliveryRepository
	policy  provider.Policy
	cache   cache.MessageCache
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewExecutor(client SendClient, r repo.DeliveryRepository, policy provider.Policy) *Executor {
	return &Executor{
		client: client,
		repo:   r,
		policy: policy,
		cache:  cache.Noop{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (e *Executor) WithCache(c cache.MessageCache) *Executor {
	if c != nil {
		e.cache = c
	}
	return e
}

func (e *Executor) WithMetrics(m *metrics.Metrics) *Executor {
	e.metrics = m
	return e
}

// Execute performs at most one provider call and exactly one terminal
// write for a pending delivery. Provider and transport failures end up in
// the failed status and are not returned; the returned error is only set
// when the status write itself failed.
//
// A delivery that is not pending is left untouched and reported as skipped.
// Cancelling ctx does not abort a provider call that already started; the
// client timeout bounds it.
func (e *Executor) Execute(ctx context.Context, d model.Delivery) (model.Outcome, error) {
	if d.Status != model.Pending {
		return model.Outcome{DeliveryID: d.ID, Status: d.Status, Skipped: true}, nil
	}

	log := slog.With("delivery_id", d.ID)

	start := time.Now()
	res, err := e.client.Send(context.WithoutCancel(ctx), e.policy.Request(d.Phone, d.Message, d.Sender))
	e.metrics.ProviderCall(time.Since(start))
	if err != nil {
		return e.fail(ctx, log, d, err.Error())
	}

	if !res.KnownID() {
		e.metrics.UnknownMessageID()
		log.Warn("provider accepted delivery without a message id", "provider_status", res.StatusCode)
	}

	wctx, cancel := writeContext(ctx)
	defer cancel()

	if err := e.repo.MarkSent(wctx, d.ID, res.MessageID, res.Raw); err != nil {
		return e.writeFailed(wctx, log, d, err)
	}

	sentAt := e.now()
	if err := e.cache.StoreSent(wctx, d.ID, res.MessageID, sentAt); err != nil {
		log.Warn("cache sent delivery failed", "error", err)
	}

	log.Info("delivery sent", "message_id", res.MessageID)
	return model.Outcome{DeliveryID: d.ID, Status: model.Sent, MessageID: res.MessageID}, nil
}

func (e *Executor) fail(ctx context.Context, log *slog.Logger, d model.Delivery, reason string) (model.Outcome, error) {
	wctx, cancel := writeContext(ctx)
	defer cancel()

	if err := e.repo.MarkFailed(wctx, d.ID, reason); err != nil {
		return e.writeFailed(wctx, log, d, err)
	}

	log.Warn("delivery failed", "error", reason)
	return model.Outcome{DeliveryID: d.ID, Status: model.Failed, Error: reason}, nil
}

// writeFailed handles a terminal write that did not apply. Losing the race
// to another execution is not an error.
func (e *Executor) writeFailed(ctx context.Context, log *slog.Logger, d model.Delivery, err error) (model.Outcome, error) {
	if errors.Is(err, repo.ErrNotPending) {
		out := model.Outcome{DeliveryID: d.ID, Skipped: true}
		if cur, gerr := e.repo.Get(ctx, d.ID); gerr == nil {
			out.Status = cur.Status
			if cur.MessageID != nil {
				out.MessageID = *cur.MessageID
			}
			if cur.Error != nil {
				out.Error = *cur.Error
			}
		}
		log.Info("delivery already terminal, write skipped", "status", out.Status)
		return out, nil
	}

	e.metrics.PersistenceFailure()
	log.Error("delivery status write failed", "error", err)
	return model.Outcome{DeliveryID: d.ID, Status: model.Pending, Error: err.Error()}, persistenceError(err, d.ID)
}

// writeContext keeps the status write alive when the caller's context was
// cancelled during the provider call.
func writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}
