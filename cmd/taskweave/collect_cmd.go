package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"taskweave/internal/collect"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "List the tasks described by the manifest without running anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := collect.Load(resolvedManifestPath(), collect.Registry{})
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Printf("%s\t%s\n", t.Signature(), t.BaseName)
		}
		return nil
	},
}
