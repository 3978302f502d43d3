package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/flight-sms/internal/auth"
	"github.com/LeventeLantos/flight-sms/internal/metrics"
	"github.com/LeventeLantos/flight-sms/internal/model"
	"github.com/LeventeLantos/flight-sms/internal/repo"
)

// MaxRecoveryBatch bounds how many pending deliveries one run picks up.
const MaxRecoveryBatch = 10

type BatchResult struct {
	Success   bool            `json:"success"`
	Processed int             `json:"processed"`
	Results   []model.Outcome `json:"results"`
}

// Recovery drives deliveries stuck in pending to a terminal status.
type Recovery struct {
	repo        repo.DeliveryRepository
	exec        *Executor
	concurrency int
	metrics     *metrics.Metrics
}

func NewRecovery(r repo.DeliveryRepository, exec *Executor) *Recovery {
	return &Recovery{repo: r, exec: exec, concurrency: 1}
}

// WithConcurrency sets how many deliveries of one batch are processed at
// the same time.
func (j *Recovery) WithConcurrency(n int) *Recovery {
	if n < 1 {
		n = 1
	}
	if n > MaxRecoveryBatch {
		n = MaxRecoveryBatch
	}
	j.concurrency = n
	return j
}

func (j *Recovery) WithMetrics(m *metrics.Metrics) *Recovery {
	j.metrics = m
	return j
}

// Run requires a caller in ctx. Only a missing caller or a failing
// selection query are returned as errors; per-delivery problems are
// reported in the results.
func (j *Recovery) Run(ctx context.Context) (BatchResult, error) {
	caller, ok := auth.CallerFrom(ctx)
	if !ok {
		j.metrics.RecoveryRun("unauthenticated")
		return BatchResult{}, unauthenticatedError()
	}

	start := time.Now()
	log := slog.With("caller", caller.ID, "caller_kind", string(caller.Kind))

	pending, err := j.repo.ListPending(ctx, MaxRecoveryBatch)
	if err != nil {
		j.metrics.RecoveryRun("error")
		log.Error("recovery selection failed", "error", err)
		return BatchResult{}, selectionError(err)
	}

	results := make([]model.Outcome, len(pending))

	var g errgroup.Group
	g.SetLimit(j.concurrency)
	for i, d := range pending {
		i, d := i, d
		g.Go(func() error {
			results[i] = j.processOne(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	var sent, failed int
	for _, out := range results {
		switch out.Status {
		case model.Sent:
			sent++
		case model.Failed:
			failed++
		}
	}

	j.metrics.RecoveryRun("ok")
	log.Info("recovery run completed",
		"processed", len(pending),
		"sent", sent,
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return BatchResult{
		Success:   true,
		Processed: len(pending),
		Results:   results,
	}, nil
}

func (j *Recovery) processOne(ctx context.Context, d model.Delivery) (out model.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovery delivery panic recovered", "delivery_id", d.ID, "panic", r)
			out = j.markFailed(ctx, d, fmt.Sprintf("internal error: %v", r))
		}
	}()

	out, err := j.exec.Execute(ctx, d)
	if err != nil {
		return j.markFailed(ctx, d, err.Error())
	}
	if !out.Skipped {
		j.metrics.Delivery(string(out.Status), "recovery")
	}
	return out
}

// markFailed is the last resort for one delivery. If this write fails too,
// the delivery stays pending for the next run.
func (j *Recovery) markFailed(ctx context.Context, d model.Delivery, reason string) model.Outcome {
	wctx, cancel := writeContext(ctx)
	defer cancel()

	if err := j.repo.MarkFailed(wctx, d.ID, reason); err != nil {
		slog.Error("recovery could not record failure", "delivery_id", d.ID, "error", err)
		return model.Outcome{DeliveryID: d.ID, Status: model.Pending, Error: reason + "; " + err.Error()}
	}

	j.metrics.Delivery(string(model.Failed), "recovery")
	return model.Outcome{DeliveryID: d.ID, Status: model.Failed, Error: reason}
}
