// Command taskweave is the CLI entry point: it wires root-level flags into
// a config.Config/session.Session pair and dispatches to the subcommand
// tree.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"taskweave/internal/errs"
)

var logger *zap.Logger

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errs.KindOf(err).ExitCode())
	}
}

func initLogger(verbose bool) error {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	logger = l
	return nil
}
