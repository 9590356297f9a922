package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
)

const recoveryKey = "recover"

// OnHostStarted recovers a coordinator that lost its storage: if no storage is ready it
// creates one through the storage factory and replays Start. With a ready storage it
// does nothing, so redundant deliveries are harmless. Concurrent deliveries share one run.
//
// There is no caller to report to, so every failure is logged and never returned or panicked.
func (c *Coordinator) OnHostStarted(ctx context.Context) {
	_, _, _ = c.recovery.Do(recoveryKey, func() (any, error) {
		c.recoverStorage(ctx)
		return nil, nil
	})
}

func (c *Coordinator) recoverStorage(ctx context.Context) {
	ctx, span := c.tracer.Start(ctx, "OnHostStarted")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			recoveryTotal.WithLabelValues(resultFailed).Inc()
			c.logger.ErrorContext(ctx, "contribution recovery panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()

	if c.Ready() {
		recoveryTotal.WithLabelValues(resultSkipped).Inc()
		c.logger.DebugContext(ctx, "contribution storage ready, nothing to recover")
		return
	}

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := c.Initialize(ctx)
		if errors.Is(err, ErrNoStorageFactory) {
			return backoff.Permanent(err)
		}
		if err != nil {
			c.logger.WarnContext(ctx, "initializing contribution storage failed",
				slog.Int("attempt", attempt), slog.String("error", err.Error()))
		}
		return err
	}, backoff.WithContext(c.newBackOff(), ctx))
	if err != nil {
		recoveryTotal.WithLabelValues(resultFailed).Inc()
		span.RecordError(err)
		c.logger.ErrorContext(ctx, "contribution recovery failed, storage unavailable", slog.String("error", err.Error()))
		return
	}

	report, err := c.Start(ctx)
	if err != nil {
		recoveryTotal.WithLabelValues(resultFailed).Inc()
		if report == nil {
			c.logger.ErrorContext(ctx, "contribution recovery failed", slog.String("error", err.Error()))
			return
		}
		causes := unjoin(err)
		for i, name := range report.Failed {
			attrs := []any{slog.String("name", name)}
			if i < len(causes) {
				attrs = append(attrs, slog.String("error", causes[i].Error()))
			}
			c.logger.ErrorContext(ctx, "contribution could not be recovered", attrs...)
		}
		c.logger.ErrorContext(ctx, "contribution recovery finished with errors",
			slog.Int("installed", len(report.Succeeded)),
			slog.Int("failed", len(report.Failed)))
		return
	}
	recoveryTotal.WithLabelValues(resultSuccess).Inc()
	c.logger.InfoContext(ctx, "contributions recovered",
		slog.Int("installed", len(report.Succeeded)),
		slog.Int("rejected", len(report.Rejected)),
		slog.Int("skipped", len(report.Skipped)))
}

// unjoin returns the errors combined by errors.Join in their original order.
func unjoin(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
