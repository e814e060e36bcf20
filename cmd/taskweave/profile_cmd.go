package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"taskweave/internal/profiling"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Print recorded task runtimes from runtimes.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := profiling.Open(rootDir)
		if err != nil {
			return err
		}
		for _, id := range store.TaskIDs() {
			history := store.History(id)
			fmt.Printf("%s\truns=%d\tmean=%s\n", id, len(history), store.Mean(id))
		}
		return nil
	},
}
