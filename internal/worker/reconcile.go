// Package worker runs background reconciliation of stale pending checkouts.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/storefrontapp/storefront/internal/gateway"
	"github.com/storefrontapp/storefront/internal/observability"
	"github.com/storefrontapp/storefront/internal/pending"
	"github.com/storefrontapp/storefront/internal/services"
)

const defaultBatchSize = 100

type finalizer interface {
	Finalize(ctx context.Context, orderRef string, source services.Source, notification *gateway.Notification) (*services.FinalizeResult, error)
}

type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// Reconciler polls the gateway for checkouts whose outcome never arrived on
// its own, so a lost webhook plus an abandoned browser tab still converge.
type Reconciler struct {
	pending   pending.Store
	finalizer finalizer
	cfg       Config
	logger    *slog.Logger
}

func NewReconciler(store pending.Store, finalizer finalizer, cfg Config, logger *slog.Logger) (*Reconciler, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("reconcile interval must be positive")
	}
	if cfg.StaleAfter <= 0 {
		return nil, fmt.Errorf("reconcile stale-after must be positive")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Reconciler{
		pending:   store,
		finalizer: finalizer,
		cfg:       cfg,
		logger:    logger.With("component", "reconcile_worker"),
	}, nil
}

// Run blocks until ctx is cancelled.
func (w *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.logger.Info("reconcile worker started", "interval", w.cfg.Interval.String(), "stale_after", w.cfg.StaleAfter.String())
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reconcile worker stopped")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("reconcile pass failed", "error", err)
			}
		}
	}
}

type PassSummary struct {
	Checked  int
	Resolved int
	Failed   int
	Swept    int
}

// RunOnce finalizes every stale checkout once and evicts expired entries.
func (w *Reconciler) RunOnce(ctx context.Context) (PassSummary, error) {
	span := sentry.StartSpan(
		ctx,
		"worker.reconcile",
		sentry.WithOpName("worker.reconcile"),
		sentry.WithDescription("RunOnce"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()
	ctx = observability.WithMeter(ctx, sentry.NewMeter(ctx))
	meter := observability.MeterFromContext(ctx)

	var summary PassSummary
	refs, err := w.pending.Stale(ctx, w.cfg.StaleAfter, w.cfg.BatchSize)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return summary, fmt.Errorf("failed to list stale checkouts: %w", err)
	}

	for _, orderRef := range refs {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Checked++
		result, err := w.finalizer.Finalize(ctx, orderRef, services.SourceManualQuery, nil)
		if err != nil {
			summary.Failed++
			w.logger.Warn("failed to reconcile checkout", "order_ref", orderRef, "error", err)
			continue
		}
		if result.Outcome != services.OutcomeInconclusive {
			summary.Resolved++
		}
		meter.Count("worker.reconcile.checked", 1, sentry.WithAttributes(
			attribute.String("outcome", string(result.Outcome)),
		))
	}

	swept, err := w.pending.Sweep(ctx)
	if err != nil {
		w.logger.Warn("failed to sweep expired checkouts", "error", err)
	}
	summary.Swept = swept

	if summary.Checked > 0 || summary.Swept > 0 {
		w.logger.Info("reconcile pass finished", "checked", summary.Checked, "resolved", summary.Resolved, "failed", summary.Failed, "swept", summary.Swept)
	}
	span.Status = sentry.SpanStatusOK
	return summary, nil
}
