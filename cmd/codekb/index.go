package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the graph of a project from scratch",
	Long: `Index discovers every source file under the project root, parses it into
symbols and call edges, and writes the graph, the file manifest and the index
metadata under .codekb/. Changed symbols are embedded afterwards unless
--no-embed is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		reg, p, err := openProject(ctx, cmd)
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()

		result, err := p.Index(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Indexed %d files: %d symbols, %d edges in %s\n",
			result.FileCount, result.SymbolCount, result.EdgeCount, result.Elapsed.Round(time.Millisecond))
		for _, e := range result.Errors {
			fmt.Printf("  parse error: %s\n", e)
		}

		if noEmbed, _ := cmd.Flags().GetBool("no-embed"); noEmbed {
			return nil
		}
		stats, err := p.Embed(ctx, true)
		if err != nil {
			return fmt.Errorf("indexed, but embedding failed: %w", err)
		}
		fmt.Printf("Embedded %d symbols (%d skipped, %d errors)\n", stats.Embedded, stats.Skipped, stats.Errors)
		return nil
	},
}

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed indexed symbols into the vector store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		reg, p, err := openProject(ctx, cmd)
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()

		full, _ := cmd.Flags().GetBool("full")
		stats, err := p.Embed(ctx, !full)
		if err != nil {
			return err
		}
		fmt.Printf("Embedded %d of %d symbols (%d skipped, %d errors)\n",
			stats.Embedded, stats.TotalSymbols, stats.Skipped, stats.Errors)
		return nil
	},
}

func init() {
	indexCmd.Flags().Bool("no-embed", false, "skip the embedding pass")
	embedCmd.Flags().Bool("full", false, "re-embed every file, not only changed ones")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(embedCmd)
}
