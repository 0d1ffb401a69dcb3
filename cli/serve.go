package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hubenschmidt/go-visearch/reconcile"
	"github.com/hubenschmidt/go-visearch/vector"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API. When reconcile.schedule is set, the reconcile job
also runs on that cron schedule. SIGINT or SIGTERM drains in-flight requests.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Schema creation is retried by POST /index/schema, so a failure here is not fatal.
	if sm, ok := a.index.(vector.SchemaManager); ok {
		if err := sm.EnsureSchema(ctx); err != nil {
			logger.Warn("ensure schema failed", zap.String("index", a.index.Name()), zap.Error(err))
		}
	}

	var sched *reconcile.Scheduler
	if cfg.Reconcile.Schedule != "" {
		sched, err = reconcile.NewScheduler(a.reconcile, cfg.Reconcile.Schedule, logger)
		if err != nil {
			return err
		}
		sched.Start()
		logger.Info("reconcile scheduled", zap.String("schedule", cfg.Reconcile.Schedule))
	}

	srv := a.server().NewHTTPServer(cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if sched != nil {
			if err := sched.Stop(shutdownCtx); err != nil {
				logger.Warn("scheduler stop", zap.Error(err))
			}
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
