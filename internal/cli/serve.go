package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/taskyield/taskyield/internal/api"
	"github.com/taskyield/taskyield/internal/app/commission"
	"github.com/taskyield/taskyield/internal/infra/logging"
	"github.com/taskyield/taskyield/internal/infra/scheduler"
)

const shutdownTimeout = 15 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled evaluation pass",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := api.NewCreditHub()
	a.engine.Subscribe(hub.Publish)

	srv := api.NewServer(a.db, a.engine, a.wallet, a.accounts)
	srv.SetTracer(a.tracer)
	srv.SetCreditHub(hub)
	srv.SetLogger(logging.Named(a.logger, "api"))
	if a.cfg.API.Metrics {
		srv.EnableMetrics()
	}

	sched := scheduler.New(logging.Named(a.logger, "scheduler"))
	if a.cfg.Engine.Schedule != "" {
		err := sched.Add("evaluate", a.cfg.Engine.Schedule, func(ctx context.Context) error {
			_, err := a.engine.Evaluate(commission.WithTrigger(ctx, "cron"), time.Now().UTC())
			return err
		})
		if err != nil {
			return err
		}
	}
	sched.Start()

	httpSrv := &http.Server{
		Addr:              a.cfg.API.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	a.logger.Info("listening",
		zap.String("addr", httpSrv.Addr),
		zap.String("schedule", a.cfg.Engine.Schedule),
		zap.String("lock", a.cfg.Engine.LockBackend),
	)

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			sched.Stop(context.Background())
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	return sched.Stop(shutdownCtx)
}
