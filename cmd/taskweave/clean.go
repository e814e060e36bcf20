package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the state store and profiling files under --root",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := []string{
			"taskweave.lock",
			"taskweave.lock.journal",
			"runtimes.json",
			"runtimes.journal",
		}
		removed := 0
		for _, name := range names {
			path := filepath.Join(rootDir, name)
			if err := os.Remove(path); err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return err
			}
			removed++
		}
		fmt.Printf("removed %d file(s)\n", removed)
		return nil
	},
}
