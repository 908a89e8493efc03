package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/rollcall/internal/reconcile"
	"github.com/roach88/rollcall/internal/transport"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the authority API and run the push loop",
		Long: `Serve the batch API over the local store so stations can push to it:

  POST /api/v1/batches   apply a batch
  GET  /api/v1/status    store statistics (?day=YYYY-MM-DD)
  GET  /healthz          liveness
  GET  /metrics          Prometheus metrics

When authority.endpoint and sync.interval are configured the process also
pushes its own pending records upstream on that interval.

Example:
  rollcall serve --db authority.db --addr :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	e, err := openEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	addr := e.cfg.Server.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	importer, err := reconcile.NewImporter(e.store,
		reconcile.WithLogger(e.logger),
		reconcile.WithMetrics(e.metrics),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create importer", err)
	}

	var coord *reconcile.Coordinator
	if e.cfg.Authority.Endpoint != "" && e.cfg.Sync.Interval > 0 {
		if coord, err = newCoordinator(e); err != nil {
			return err
		}
	}

	handler := transport.NewHandler(importer, e.store, e.logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           transport.NewRouter(handler, e.metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.logger.Info("serving", "addr", addr, "station", e.cfg.Station)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		e.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if coord != nil {
		g.Go(func() error {
			e.logger.Info("push loop started", "endpoint", e.cfg.Authority.Endpoint, "interval", e.cfg.Sync.Interval)
			err := coord.Run(gctx, e.cfg.Sync.Interval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	e.logger.Info("server stopped gracefully")
	return nil
}
