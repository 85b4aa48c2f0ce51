package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/warp/grd-engine/grd"
	"github.com/warp/grd-engine/store/sqlite"
)

var recalcWorkers int

var recalcCmd = &cobra.Command{
	Use:   "recalc",
	Short: "Recalculate every stored episode once and exit",
	Long:  "Refreshes the derived fields of every episode against the current catalog. Episodes whose values did not move are not written.",
	RunE:  runRecalc,
}

func init() {
	recalcCmd.Flags().IntVar(&recalcWorkers, "workers", 0, "Parallel recalculations (overrides scheduler.workers)")
	rootCmd.AddCommand(recalcCmd)
}

func runRecalc(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return withExit(exitConfig, err)
	}
	workers := cfg.Scheduler.Workers
	if recalcWorkers > 0 {
		workers = recalcWorkers
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return withExit(exitDatabase, fmt.Errorf("open database %s: %w", cfg.Database.Path, err))
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := grd.NewService(store, cfg.Engine.Defaults(), log)
	summary, err := svc.RecalculateAll(ctx, workers)
	if err != nil {
		return withExit(exitPartialRun, fmt.Errorf("recalculation interrupted: %w", err))
	}
	if summary.Failed > 0 || summary.Conflicts > 0 {
		return withExit(exitPartialRun, fmt.Errorf("%d episodes failed, %d conflicted", summary.Failed, summary.Conflicts))
	}
	return nil
}
