package main

import (
	"os"

	"github.com/fatih/color"

	"fno-chain/internal/cli"
	"fno-chain/internal/logging"
	"fno-chain/internal/security"
)

func main() {
	// Replaced by the configured logger once config is loaded.
	logger := logging.NewLoggerWithConfig(logging.LogConfig{Level: "info", Console: true})

	if err := cli.NewRootCmd(logger).Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %s\n", security.RedactError(err))
		os.Exit(1)
	}
}
