package main

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

	"github.com/warp/grd-engine/api"
	"github.com/warp/grd-engine/grd"
	"github.com/warp/grd-engine/store/sqlite"
)

var (
	servePort     int
	serveScenario string
	noScheduler   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the recalculation scheduler",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.IntVar(&servePort, "port", 0, "HTTP server port (overrides server.port)")
	f.StringVar(&serveScenario, "scenario", "", "Reset the database and load a demo scenario on start")
	f.BoolVar(&noScheduler, "no-scheduler", false, "Disable the periodic recalculation")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return withExit(exitConfig, err)
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if noScheduler {
		cfg.Scheduler.Enabled = false
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return withExit(exitDatabase, fmt.Errorf("open database %s: %w", cfg.Database.Path, err))
	}
	defer store.Close()

	svc := grd.NewService(store, cfg.Engine.Defaults(), log)
	handler := api.NewHandler(store, svc, log)
	handler.Workers = cfg.Scheduler.Workers

	if serveScenario != "" {
		if err := handler.LoadScenarioByID(cmd.Context(), serveScenario); err != nil {
			return withExit(exitUsage, fmt.Errorf("load scenario %s: %w", serveScenario, err))
		}
	}

	scheduler := api.NewRecalculationScheduler(svc, log)
	scheduler.Interval = cfg.Scheduler.Interval
	scheduler.Workers = cfg.Scheduler.Workers
	scheduler.Enabled = cfg.Scheduler.Enabled
	handler.Scheduler = scheduler
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler, cfg.Server.AllowedOrigins...),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("db", cfg.Database.Path).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}
