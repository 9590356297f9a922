package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Report summarizes a Start or Stop run by contribution name.
type Report struct {
	// Succeeded lists contributions installed (Start) or uninstalled (Stop).
	Succeeded []string `json:"succeeded"`
	// Rejected lists contributions the runtime declined to deploy. Only filled by Start.
	Rejected []string `json:"rejected,omitempty"`
	// Skipped lists disabled contributions.
	Skipped []string `json:"skipped,omitempty"`
	// Failed lists contributions whose install or uninstall faulted.
	Failed []string `json:"failed,omitempty"`
}

// Start installs every enabled persisted contribution in storage order.
// A fault does not stop the run: all faults, panics included, are joined into the
// returned error and the report lists the outcome of every contribution.
func (c *Coordinator) Start(ctx context.Context) (_ *Report, err error) {
	ctx, span := c.tracer.Start(ctx, "Start")
	defer func() { endSpan(span, err) }()

	list, err := c.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing contributions to start failed: %w", err)
	}

	report := &Report{}
	var errs []error
	for _, contrib := range list {
		if contrib.Disabled {
			report.Skipped = append(report.Skipped, contrib.Name)
			continue
		}
		installed, err := isolate("installing", contrib.Name, func() (bool, error) { return c.InstallContribution(ctx, contrib) })
		switch {
		case err != nil:
			report.Failed = append(report.Failed, contrib.Name)
			errs = append(errs, err)
		case !installed:
			report.Rejected = append(report.Rejected, contrib.Name)
			c.logger.WarnContext(ctx, "contribution was not installed on start", slog.String("name", contrib.Name))
		default:
			report.Succeeded = append(report.Succeeded, contrib.Name)
		}
	}
	annotate(span, report)
	return report, errors.Join(errs...)
}

// Stop uninstalls every enabled persisted contribution in storage order with the
// same fault isolation as Start.
func (c *Coordinator) Stop(ctx context.Context) (_ *Report, err error) {
	ctx, span := c.tracer.Start(ctx, "Stop")
	defer func() { endSpan(span, err) }()

	list, err := c.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing contributions to stop failed: %w", err)
	}

	report := &Report{}
	var errs []error
	for _, contrib := range list {
		if contrib.Disabled {
			report.Skipped = append(report.Skipped, contrib.Name)
			continue
		}
		if _, err := isolate("uninstalling", contrib.Name, func() (bool, error) { return c.UninstallContribution(ctx, contrib) }); err != nil {
			report.Failed = append(report.Failed, contrib.Name)
			errs = append(errs, err)
			continue
		}
		report.Succeeded = append(report.Succeeded, contrib.Name)
	}
	annotate(span, report)
	return report, errors.Join(errs...)
}

// isolate runs one install or uninstall of a replay and turns a panic into an error.
func isolate(action, name string, fn func() (bool, error)) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("%s contribution %q: %w: %v", action, name, ErrPanicked, r)
		}
	}()
	return fn()
}

func annotate(span trace.Span, report *Report) {
	span.SetAttributes(
		attribute.Int("contributions.succeeded", len(report.Succeeded)),
		attribute.Int("contributions.rejected", len(report.Rejected)),
		attribute.Int("contributions.skipped", len(report.Skipped)),
		attribute.Int("contributions.failed", len(report.Failed)),
	)
}
