package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/warp/grd-engine/config"
	"github.com/warp/grd-engine/logging"
)

// Process exit codes.
const (
	exitUsage      = 1
	exitConfig     = 2
	exitDatabase   = 3
	exitImport     = 4
	exitPartialRun = 5
)

// exitError carries a process exit code out of a RunE so deferred cleanup
// (closing the store) runs before the process exits.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// withExit tags err with an exit code. A nil err stays nil.
func withExit(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// exitCodeFor maps a command error to the process exit code.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUsage
}

var (
	configPath string
	dbPath     string
	logFormat  string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "grdengine",
	Short:         "GRD hospital episode reimbursement engine",
	Long:          "Computes base price, stay classification, surcharges and final amount of hospital episodes under FONASA and CH0041 agreements.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to YAML config file")
	pf.StringVar(&dbPath, "db", "", "SQLite database path (\":memory:\" for in-memory)")
	pf.StringVar(&logFormat, "log-format", "", "Log format: text or json")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// loadConfig builds the effective configuration: defaults, then the config
// file, then flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, zerolog.Logger, error) {
	cfg := config.Default()
	if configPath != "" {
		if err := cfg.LoadFromFile(configPath); err != nil {
			return cfg, logging.Setup(cfg.LogFormat), err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database.Path = dbPath
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, logging.Setup("text"), fmt.Errorf("invalid configuration: %w", err)
	}

	log := logging.WithLevel(logging.Setup(cfg.LogFormat), cfg.LogLevel)
	return cfg, log, nil
}
