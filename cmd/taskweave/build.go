package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taskweave/internal/collect"
	"taskweave/internal/errs"
	"taskweave/internal/executor"
	"taskweave/internal/session"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Collect tasks from the manifest and run everything that is stale",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig(cmd)
		if err != nil {
			return err
		}

		tasks, err := collect.Load(resolvedManifestPath(), collect.Registry{})
		if err != nil {
			return err
		}

		sess, err := session.Open(rootDir, logger)
		if err != nil {
			return err
		}
		sess.Config = cfg
		sess.Tasks = tasks
		defer sess.Close()

		report, err := sess.Run(cmd.Context())
		if err != nil {
			return err
		}

		var failures int
		for _, r := range report.Results {
			logger.Info("task finished",
				zap.String("task", r.TaskID),
				zap.String("outcome", string(r.Outcome)),
				zap.Duration("duration", r.Duration))
			if r.Outcome == executor.OutcomeFailed {
				failures++
			}
		}
		fmt.Printf("%d tasks, %d failed, %d generations\n", len(report.Results), failures, report.Generations)

		if failures > 0 {
			return errs.New(errs.KindExecution, "", "%d task(s) failed", failures)
		}
		return nil
	},
}
