package trigger

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/flight-sms/internal/metrics"
	"github.com/LeventeLantos/flight-sms/internal/model"
)

type Handler interface {
	Handle(ctx context.Context, id string) (model.Outcome, error)
}

// Dispatcher hands created delivery ids to a fixed pool of workers. The
// queue is bounded; ids that do not fit are dropped and left for the
// recovery job.
type Dispatcher struct {
	handler Handler
	workers int
	queue   chan string
	metrics *metrics.Metrics
}

func NewDispatcher(h Handler, workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		handler: h,
		workers: workers,
		queue:   make(chan string, queueSize),
	}
}

func (d *Dispatcher) WithMetrics(m *metrics.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// Enqueue never blocks. It reports whether the id was accepted.
func (d *Dispatcher) Enqueue(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}

	select {
	case d.queue <- id:
		return true
	default:
		d.metrics.TriggerDropped()
		slog.Warn("trigger queue full, delivery left for recovery", "delivery_id", id)
		return false
	}
}

// OnCreate matches the repository create hook.
func (d *Dispatcher) OnCreate(_ context.Context, del model.Delivery) {
	if del.Status != model.Pending {
		return
	}
	d.Enqueue(del.ID)
}

// Run processes queued ids until ctx is done. Ids still queued at that
// point stay pending in the store.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		worker := i
		g.Go(func() error {
			d.work(ctx, worker)
			return nil
		})
	}

	slog.Info("trigger dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
	err := g.Wait()
	slog.Info("trigger dispatcher stopped", "queued", len(d.queue))
	return err
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-d.queue:
			d.handle(ctx, worker, id)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, worker int, id string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("trigger handler panic recovered", "worker", worker, "delivery_id", id, "panic", r)
		}
	}()

	out, err := d.handler.Handle(ctx, id)
	if err != nil {
		slog.Error("trigger handling failed", "worker", worker, "delivery_id", id, "error", err)
		return
	}
	slog.Debug("trigger handled", "worker", worker, "delivery_id", id, "status", out.Status, "skipped", out.Skipped)
}
