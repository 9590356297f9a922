package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"ocm.software/open-component-model/contribution/contribution"
	"ocm.software/open-component-model/contribution/coordinator"
	cctx "ocm.software/open-component-model/contribution/internal/context"
	"ocm.software/open-component-model/contribution/lifecycle"
	"ocm.software/open-component-model/contribution/registry"
	"ocm.software/open-component-model/contribution/server"
	"ocm.software/open-component-model/contribution/storage/memory"
)

const (
	FlagAddress   = "address"
	FlagEphemeral = "ephemeral"
)

func New() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Run a host installing all persisted contributions and serve the admin API",
		Long: `Run a host with an in-process component registry. Once the admin API listens,
the host reports itself as started and every enabled persisted contribution is installed.
On SIGINT or SIGTERM all contributions are uninstalled and the storage is released.`,
		Args: cobra.NoArgs,
		Example: strings.TrimSpace(`
serve
serve --address 127.0.0.1:9090 --storage-type sqlite --storage-path ./contributions.db
serve --ephemeral
`),
		RunE:              Serve,
		DisableAutoGenTag: true,
	}
	c.Flags().String(FlagAddress, "", "listen address of the admin API, defaults to server.address of the configuration")
	c.Flags().Bool(FlagEphemeral, false, "keep contributions in memory only, nothing survives the process")
	return c
}

func Serve(cmd *cobra.Command, _ []string) (err error) {
	cc := cctx.FromContext(cmd.Context())
	cfg, coord := cc.Configuration(), cc.Coordinator()
	if cfg == nil || coord == nil {
		return fmt.Errorf("could not retrieve coordinator from context")
	}

	address := cfg.Server.Address
	if cmd.Flags().Changed(FlagAddress) {
		if address, err = cmd.Flags().GetString(FlagAddress); err != nil {
			return fmt.Errorf("getting address flag failed: %w", err)
		}
	}
	if ephemeral, _ := cmd.Flags().GetBool(FlagEphemeral); ephemeral {
		coord.SetStorageFactory(func(context.Context) (contribution.Storage, error) {
			return memory.New(), nil
		})
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	coordinator.MustRegisterMetrics(metrics)
	registry.MustRegisterMetrics(metrics)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host := lifecycle.NewNotifier()
	if err := coord.Activate(ctx, host); err != nil {
		return fmt.Errorf("activating coordinator failed: %w", err)
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Join(fmt.Errorf("listening on %q failed: %w", address, err), coord.Deactivate(ctx))
	}
	srv := &http.Server{
		Handler:           server.New(coord, server.WithLogger(slog.Default()), server.WithGatherer(metrics)),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(listener)
	}()

	slog.InfoContext(ctx, "serving contributions admin API", slog.String("address", listener.Addr().String()))
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", listener.Addr()); err != nil {
		slog.WarnContext(ctx, "could not print listen address", slog.String("error", err.Error()))
	}
	host.HostStarted(ctx)
	startAll(ctx, coord)

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")
	case err = <-served:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(err, srv.Shutdown(shutdownCtx), stopAll(shutdownCtx, coord))
}

// startAll installs all enabled persisted contributions. Host started recovery only
// replays for a coordinator that lost its storage, the storage opened by Activate is
// replayed here. Faults are logged, the admin API keeps serving.
func startAll(ctx context.Context, coord *coordinator.Coordinator) {
	report, err := coord.Start(ctx)
	if report == nil {
		slog.ErrorContext(ctx, "installing contributions failed", slog.String("error", err.Error()))
		return
	}
	attrs := []any{
		slog.Int("installed", len(report.Succeeded)),
		slog.Int("rejected", len(report.Rejected)),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("failed", len(report.Failed)),
	}
	if err != nil {
		slog.ErrorContext(ctx, "contributions installed with errors", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	slog.InfoContext(ctx, "contributions installed", attrs...)
}

// stopAll uninstalls all contributions and releases the storage.
func stopAll(ctx context.Context, coord *coordinator.Coordinator) error {
	var stopErr error
	if coord.Ready() {
		report, err := coord.Stop(ctx)
		if report != nil {
			slog.InfoContext(ctx, "contributions uninstalled",
				slog.Int("uninstalled", len(report.Succeeded)), slog.Int("failed", len(report.Failed)))
		}
		stopErr = err
	}
	return errors.Join(stopErr, coord.Deactivate(ctx))
}
