package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wprank/backend/internal/api"
	"github.com/wprank/backend/pkg/logger"
)

func serveCommand() *cobra.Command {
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps()
			if err != nil {
				return err
			}
			defer d.Close()
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, d, withWorker)
		},
	}

	cmd.Flags().BoolVar(&withWorker, "worker", false, "also process the queue in this process")
	return cmd
}

func serve(ctx context.Context, d *deps, withWorker bool) error {
	apiDeps := api.Dependencies{
		Store:          d.store,
		Queue:          d.queue,
		LeaderboardTTL: cfg.Redis.LeaderboardTTL,
		AccessLog:      debug,
	}
	// Assigned only when set: a nil *Client in the interface is not nil.
	if d.cache != nil {
		apiDeps.Cache = d.cache
	}

	app, stopLimiter := api.NewApp(cfg.Server, apiDeps)
	defer stopLimiter()

	g, ctx := errgroup.WithContext(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	g.Go(func() error {
		logger.Info("Server starting", zap.String("address", addr))
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	if withWorker {
		g.Go(func() error {
			return runWorker(ctx, d)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Server shutting down gracefully...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Warn("Server shutdown incomplete", zap.Error(err))
		}
		return nil
	})

	err := g.Wait()
	logger.Info("Server stopped")
	return err
}
