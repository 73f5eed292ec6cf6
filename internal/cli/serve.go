package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/countdown"
	spg "github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/storage/postgres"
	transport "github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/transport/http"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the calendar API",
		Long:  "Serve the calendar HTTP API, countdowns and Prometheus metrics until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("port", "", "listen port")
	_ = a.loader.Viper().BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}

func (a *app) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg
	a.log.Info().
		Str("version", a.version).
		Str("backend", cfg.Backend.Mode).
		Str("port", cfg.Server.Port).
		Msg("calendar-api starting")

	e, err := buildEngine(ctx, cfg, a.version, a.log)
	if err != nil {
		return err
	}
	defer e.Close()

	hub := countdown.NewHub(ctx, e.agg, e.store, e.countdownOptions())

	deps := &transport.ServerDeps{
		Cfg:        cfg.Server,
		Calendars:  e.calendars,
		Countdowns: hub,
		Metrics:    e.metrics,
		Ready:      e.ready,
		Now:        func() time.Time { return time.Now().UTC() },
	}
	if e.db != nil {
		deps.Totals = e.db
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           deps.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Backend.Timeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if werr := e.calendars.Wait(shutdownCtx); werr != nil {
			a.log.Warn().Err(werr).Msg("reschedule patches still pending at shutdown")
		}
		stop()
		hub.Wait()
		if e.journal != nil {
			select {
			case <-e.journal.Done():
			case <-shutdownCtx.Done():
				a.log.Warn().Msg("journal did not drain before shutdown deadline")
			}
		}
		a.log.Info().Msg("calendar-api stopped")
		return err
	})
	return g.Wait()
}

var _ transport.TotalsQuerier = (*spg.DB)(nil)
