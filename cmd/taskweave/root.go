package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"taskweave/internal/config"
)

var (
	rootDir              string
	manifestPath         string
	flagForce            bool
	flagDryRun           bool
	flagStopAfterFailure bool
	flagMaxFailures      int
	flagVerbose          bool
	flagFilterwarnings   []string
)

var rootCmd = &cobra.Command{
	Use:   "taskweave",
	Short: "A reproducible, dependency-aware task runner",
	Long: `taskweave builds a task graph from a manifest, detects which tasks
are stale against their recorded state, and executes only what changed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogger(flagVerbose)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "project root directory")
	rootCmd.PersistentFlags().StringVar(&manifestPath, "manifest", "tasks.yaml", "task manifest path, relative to --root")
	rootCmd.PersistentFlags().BoolVar(&flagForce, "force", false, "treat every task as stale")
	rootCmd.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "report what would execute without running task bodies")
	rootCmd.PersistentFlags().BoolVar(&flagStopAfterFailure, "stop-after-first-failure", false, "stop dispatching new tasks after the first failure")
	rootCmd.PersistentFlags().IntVar(&flagMaxFailures, "max-failures", 0, "stop dispatching new tasks after N failures (0 = unlimited)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringSliceVar(&flagFilterwarnings, "filterwarnings", nil, "warning filter specs, action:message:category")

	rootCmd.AddCommand(buildCmd, cleanCmd, collectCmd, dagCmd, profileCmd)
}

// resolvedConfig loads taskweave.toml from --root and layers the CLI flags
// on top of it, flags winning when explicitly set.
func resolvedConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.LoadFromRoot(rootDir)
	if err != nil {
		return config.Config{}, err
	}

	if cmd.Flags().Changed("force") {
		cfg.Force = flagForce
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun = flagDryRun
	}
	if cmd.Flags().Changed("stop-after-first-failure") {
		cfg.StopAfterFirstFailure = flagStopAfterFailure
	}
	if cmd.Flags().Changed("max-failures") {
		cfg.MaxFailures = flagMaxFailures
	}
	if cmd.Flags().Changed("filterwarnings") {
		cfg.Filterwarnings = flagFilterwarnings
	}
	return cfg, nil
}

func resolvedManifestPath() string {
	if filepath.IsAbs(manifestPath) {
		return manifestPath
	}
	return filepath.Join(rootDir, manifestPath)
}
