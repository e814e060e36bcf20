package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"taskweave/internal/change"
	"taskweave/internal/collect"
	"taskweave/internal/dag"
	"taskweave/internal/errs"
	"taskweave/internal/statestore"
)

var dagCmd = &cobra.Command{
	Use:   "dag",
	Short: "Print the manifest's tasks in topological order",
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := collect.Load(resolvedManifestPath(), collect.Registry{})
		if err != nil {
			return err
		}
		g, prov, err := dag.Build(tasks)
		if err != nil {
			return err
		}
		for i, sig := range g.TopologicalTaskOrder() {
			t, _ := g.Task(sig)
			fmt.Printf("%d. %s (%s)\n", i+1, t.BaseName, sig)
		}
		if prov.Any() {
			fmt.Println("note: some dependencies/products are provisional and will only be known at run time")
		}
		return nil
	},
}

var dagExplainCmd = &cobra.Command{
	Use:   "explain <task-signature-or-name>",
	Short: "Explain why a task will or will not run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig(cmd)
		if err != nil {
			return err
		}
		tasks, err := collect.Load(resolvedManifestPath(), collect.Registry{})
		if err != nil {
			return err
		}
		g, _, err := dag.Build(tasks)
		if err != nil {
			return err
		}
		store, err := statestore.Open(rootDir)
		if err != nil {
			return errs.Wrap(errs.KindInternal, "", err, "open state store")
		}
		defer store.Close()

		explanations, err := change.Detect(g, store, cfg.Force)
		if err != nil {
			return errs.Wrap(errs.KindInternal, "", err, "detect staleness")
		}

		target := args[0]
		expl, ok := explanations[target]
		if !ok {
			for _, sig := range g.TaskSignatures() {
				if t, _ := g.Task(sig); t != nil && t.BaseName == target {
					expl, ok = explanations[sig]
					break
				}
			}
		}
		if !ok {
			return errs.New(errs.KindConfiguration, target, "no such task in the current manifest")
		}

		printExplanation(expl)
		return nil
	},
}

func printExplanation(expl change.Explanation) {
	fmt.Printf("task: %s\n", expl.TaskID)
	fmt.Printf("stale: %v\n", expl.Stale)
	if expl.Forced {
		fmt.Println("reason: force mode")
	}
	if expl.CascadedFrom != "" {
		fmt.Printf("reason: cascaded from stale upstream task %s\n", expl.CascadedFrom)
	}
	if expl.ShouldPersist {
		fmt.Println("reason: persist marker, product differs but still present")
	}
	for _, s := range expl.Signals {
		fmt.Printf("  %-9s %s (old=%q new=%q)\n", s.Kind, s.ID, s.OldHash, s.NewHash)
	}
}

func init() {
	dagCmd.AddCommand(dagExplainCmd)
}
