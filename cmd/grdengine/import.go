package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/grd-engine/factory"
	"github.com/warp/grd-engine/grd"
	"github.com/warp/grd-engine/store/sqlite"
)

var importRecalc bool

var importCmd = &cobra.Command{
	Use:   "import <catalog.json>",
	Short: "Load GRD rules and agreement price quotations from a JSON file",
	Long: `Upserts GRD rules by code and appends price quotations.

The file has the shape {"grd_rules": [...], "prices": [...]}; see the
factory package for field names. The whole file is validated before
anything is written.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().BoolVar(&importRecalc, "recalc", false, "Recalculate every episode after the import")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return withExit(exitConfig, err)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return withExit(exitImport, fmt.Errorf("read catalog: %w", err))
	}
	catalog, err := factory.NewCatalogFactory().ParseCatalog(data)
	if err != nil {
		return withExit(exitImport, fmt.Errorf("invalid catalog %s: %w", args[0], err))
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return withExit(exitDatabase, fmt.Errorf("open database %s: %w", cfg.Database.Path, err))
	}
	defer store.Close()

	svc := grd.NewService(store, cfg.Engine.Defaults(), log)
	if _, err := svc.ImportCatalog(cmd.Context(), catalog); err != nil {
		return withExit(exitImport, fmt.Errorf("import %s: %w", args[0], err))
	}

	if importRecalc {
		summary, err := svc.RecalculateAll(cmd.Context(), cfg.Scheduler.Workers)
		if err != nil {
			return withExit(exitPartialRun, fmt.Errorf("recalculate: %w", err))
		}
		if summary.Failed > 0 || summary.Conflicts > 0 {
			return withExit(exitPartialRun, fmt.Errorf("%d episodes failed, %d conflicted", summary.Failed, summary.Conflicts))
		}
	}
	return nil
}
