package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/codekb/internal/kb"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report index freshness and store statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		reg, p, err := openProject(ctx, cmd)
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()

		h := p.Health(ctx)
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(h)
		}
		fmt.Print(kb.FormatHealth(h))
		return nil
	},
}

var startupCmd = &cobra.Command{
	Use:   "startup",
	Short: "Run the session start check and any indexing it triggers",
	Long: `Startup inspects the project's index metadata and working tree and decides
whether to build a new index, refresh the changed files, or do nothing. Large
unindexed projects are left alone with a hint to run codekb index. Unlike a
server session, the command waits for the background work to finish.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		reg, p, err := openProject(ctx, cmd)
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()

		report := p.Startup(ctx)
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			if err := printJSON(report); err != nil {
				return err
			}
		} else {
			fmt.Printf("Decision: %s (changed files: %d, index age: %d min)\n",
				report.Reason, report.ChangedFiles, report.AgeMinutes)
			if report.Hint != "" {
				fmt.Println(report.Hint)
			}
		}
		p.Wait()
		return nil
	},
}

func init() {
	healthCmd.Flags().Bool("json", false, "output the report as JSON")
	startupCmd.Flags().Bool("json", false, "output the decision as JSON")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(startupCmd)
}
