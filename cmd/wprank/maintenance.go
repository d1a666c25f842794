package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wprank/backend/internal/queue"
	"github.com/wprank/backend/pkg/logger"
)

func rankCommand() *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Recompute every site's efficiency score and global rank",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps()
			if err != nil {
				return err
			}
			defer d.Close()
			defer logger.Sync()

			entries, err := d.rankingEngine().Recompute(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				if e.GlobalRank == 0 || (top > 0 && e.GlobalRank > top) {
					continue
				}
				fmt.Fprintf(out, "%4d  %-40s %.4f\n", e.GlobalRank, e.Domain, e.EfficiencyScore)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&top, "top", 20, "print the first N ranks (0 prints all)")
	return cmd
}

func cleanupCommand() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete finished queue items and old snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days == 0 {
				days = cfg.Retention.Days
			}
			if days < 1 {
				return fmt.Errorf("--days must be at least 1, got %d", days)
			}

			d, err := openDeps()
			if err != nil {
				return err
			}
			defer d.Close()
			defer logger.Sync()

			return runCleanup(cmd.Context(), d, days)
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default retention.days)")
	return cmd
}

func submitCommand() *cobra.Command {
	var (
		priority int
		source   string
	)

	cmd := &cobra.Command{
		Use:   "submit DOMAIN...",
		Short: "Queue one or more domains for crawling",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps()
			if err != nil {
				return err
			}
			defer d.Close()
			defer logger.Sync()

			out := cmd.OutOrStdout()
			var failed int
			for _, raw := range args {
				item, err := d.queue.Submit(cmd.Context(), raw, priority, source)
				switch {
				case err == nil:
					fmt.Fprintf(out, "queued   %s  %s\n", item.Domain, item.ID)
				case errors.Is(err, queue.ErrAlreadyQueued), errors.Is(err, queue.ErrRecentlyCrawled):
					fmt.Fprintf(out, "skipped  %s  %v\n", raw, err)
				default:
					failed++
					logger.Warn("Submission failed", zap.String("target", raw), zap.Error(err))
					fmt.Fprintf(out, "error    %s  %v\n", raw, err)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d submissions failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&priority, "priority", 0, "queue priority; higher is processed sooner")
	cmd.Flags().StringVar(&source, "source", "cli", "source tag recorded on the queue item")
	return cmd
}
