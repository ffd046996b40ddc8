package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	gumetrics "github.com/xraph/go-utils/metrics"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/adapter"
	"github.com/xraph/bridge/adapter/discord"
	"github.com/xraph/bridge/adapter/telegram"
	"github.com/xraph/bridge/api"
	"github.com/xraph/bridge/config"
	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/observability"
)

func newRunCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and Telegram and relay messages",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if debug {
				cfg.LogLevel = "debug"
			}
			return run(cfg)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func run(cfg *config.Config) error {
	if err := cfg.RequireTokens(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	filters, err := cfg.Filters()
	if err != nil {
		return err
	}
	seeds, err := cfg.Pairs()
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Error("close stores", "error", err)
		}
	}()

	collector := gumetrics.NewMetricsCollector("bridge")
	if err := collector.Start(ctx); err != nil {
		return fmt.Errorf("start metrics: %w", err)
	}
	defer func() { _ = collector.Stop(context.Background()) }()

	sink := &adapter.Deferred{}
	dc, err := discord.New(cfg.DiscordToken, sink, logger)
	if err != nil {
		return err
	}
	tg, err := telegram.New(cfg.TelegramToken, sink, logger)
	if err != nil {
		return err
	}

	opts := append(st.options(),
		bridge.WithSender(event.Discord, dc),
		bridge.WithSender(event.Telegram, tg),
		bridge.WithLogger(logger),
		bridge.WithMetrics(observability.NewMetrics(collector)),
		bridge.WithTracer(observability.NewTracer()),
		bridge.WithFilters(filters),
		bridge.WithRetryPolicy(cfg.RetryPolicy()),
		bridge.WithDedupPolicy(cfg.DedupPolicy()),
		bridge.WithHeartbeatInterval(cfg.HeartbeatInterval),
		bridge.WithShutdownTimeout(cfg.ShutdownTimeout),
	)
	b, err := bridge.New(opts...)
	if err != nil {
		return err
	}
	if err := b.LoadPairs(ctx, seeds...); err != nil {
		return err
	}
	sink.Bind(b)

	// Start gets a context that outlives the signal so Stop can drain.
	if err := b.Start(context.Background()); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dc.Run(gctx) })
	g.Go(func() error { return tg.Run(gctx) })
	g.Go(func() error { return b.Heartbeat().Run(gctx) })
	if cfg.FiltersFile != "" {
		w := config.NewWatcher(cfg.FiltersFile, cfg.EnvFilters(), b.Filters(), logger)
		g.Go(func() error { return w.Run(gctx) })
	}
	if cfg.AdminAddr != "" {
		srv := &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           api.NewHandler(b, cfg.AdminToken, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error { return serve(gctx, srv, logger) })
	}

	runErr := g.Wait()
	if runErr != nil {
		logger.Error("bridge stopping", "error", runErr)
	} else {
		logger.Info("shutdown requested")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
	defer cancel()
	return errors.Join(runErr, b.Stop(stopCtx))
}

func serve(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "admin api listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("admin api: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("admin api shutdown: %w", err)
		}
		<-errCh
		return nil
	}
}
