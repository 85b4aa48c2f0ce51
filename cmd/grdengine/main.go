/*
main.go - grdengine entry point

PURPOSE:
  Command-line entry for the GRD reimbursement engine. Subcommands:

    serve    Run the HTTP API and the recalculation scheduler
    recalc   Recalculate every stored episode once and exit
    import   Load a catalog JSON file (GRD rules + price quotations)

CONFIGURATION:
  Defaults, then --config YAML file, then explicit flags.

EXAMPLES:
  # Run with file database
  grdengine serve --db ./data/grd.db

  # Run in memory with a demo scenario
  grdengine serve --db :memory: --scenario fonasa-outlier

  # Nightly batch
  grdengine recalc --config /etc/grdengine.yaml --workers 8

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration file format
*/
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}
