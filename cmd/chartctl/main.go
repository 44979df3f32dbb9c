// Command chartctl talks to a running chartsnap server and manages its store.
package main

import (
	"context"
	"os"

	"github.com/charmbracelet/log"

	chartlog "github.com/okian/chartsnap/pkg/logger"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "chartctl"})
	// store adapters used by migrate log through the shared logger
	if err := chartlog.InitWithFormat(chartlog.FormatPretty, os.Stderr); err != nil {
		logger.Fatalf("chartctl: %v", err)
	}

	runner := NewRunner(RunnerOpts{Logger: logger})
	if err := newApp(runner).Run(context.Background(), os.Args); err != nil {
		logger.Fatalf("chartctl: %v", err)
	}
}
