package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/codekb/internal/searcher"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>...",
	Short: "Search the project's functions and classes",
	Long: `Search embeds the query and ranks symbols by cosine similarity. When no
embedder or vector index is available it falls back to keyword matching over
the graph's symbol names.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		reg, p, err := openProject(ctx, cmd)
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()

		limit, _ := cmd.Flags().GetInt("limit")
		var filters searcher.Filters
		filters.File, _ = cmd.Flags().GetString("file")
		filters.Language, _ = cmd.Flags().GetString("language")
		filters.SymbolType, _ = cmd.Flags().GetString("type")

		resp := p.Search(ctx, strings.Join(args, " "), filters, limit)
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(resp)
		}
		if len(resp.Results) == 0 {
			fmt.Println("No results")
			return nil
		}
		for i, r := range resp.Results {
			fmt.Printf("%2d. %.3f  %s %s  %s:%d-%d\n", i+1, r.Score, r.SymbolType, r.SymbolName, r.File, r.LineStart, r.LineEnd)
		}
		fmt.Printf("(%s search, %s)\n", resp.Mode, resp.Duration)
		return nil
	},
}

var contextCmd = &cobra.Command{
	Use:   "context <task>...",
	Short: "Assemble knowledge base context for a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		reg, p, err := openProject(ctx, cmd)
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()

		file, _ := cmd.Flags().GetString("file")
		maxTokens, _ := cmd.Flags().GetInt("max-tokens")
		bundle, text := p.BuildContext(ctx, strings.Join(args, " "), file, maxTokens)
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(bundle)
		}
		fmt.Println(text)
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of results to return")
	searchCmd.Flags().String("file", "", "keep results under this path prefix")
	searchCmd.Flags().String("language", "", "keep results in this language")
	searchCmd.Flags().String("type", "", "keep results of this kind (function, method, class)")
	searchCmd.Flags().Bool("json", false, "output results as JSON")

	contextCmd.Flags().String("file", "", "file being worked on")
	contextCmd.Flags().Int("max-tokens", 0, "token budget (default from config)")
	contextCmd.Flags().Bool("json", false, "output the bundle as JSON")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(contextCmd)
}
