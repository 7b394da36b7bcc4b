// X1-Arena: bytecode VM arena simulator
//
// This is the main entry point for X1-Arena. It runs agent simulations on
// the arena VM, manages the program library and inspects run ledgers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var logLevel string

	c := &cobra.Command{
		Use:           "arena",
		Short:         "Runs and inspects X1-Arena simulations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	logger := func() (*zap.Logger, error) {
		return newLogger(logLevel)
	}
	c.AddCommand(
		runCommand(logger),
		asmCommand(logger),
		programsCommand(logger),
		ledgerCommand(),
		versionCommand(),
	)
	return c
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg.Build()
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the version",
		Args:  cobra.NoArgs,
		Run: func(c *cobra.Command, _ []string) {
			fmt.Fprintf(c.OutOrStdout(), "X1-Arena %s (%s)\n", Version, GitCommit)
		},
	}
}
