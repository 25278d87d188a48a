package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/codekb/internal/storage"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of codekb",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("codekb %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
