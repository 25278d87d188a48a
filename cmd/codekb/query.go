package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/codekb/internal/kb"
	"github.com/dshills/codekb/pkg/types"
)

// graphCommand builds a command that looks up one symbol in the graph
func graphCommand(use, short string, lookup func(*kb.Project, string) []types.RelatedSymbol) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <symbol>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			reg, p, err := openProject(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = reg.Close() }()

			symbols := lookup(p, args[0])
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				if symbols == nil {
					symbols = []types.RelatedSymbol{}
				}
				return printJSON(symbols)
			}
			if len(symbols) == 0 {
				fmt.Println("No results")
				return nil
			}
			for _, s := range symbols {
				fmt.Printf("%-8s %s  %s:%d-%d\n", s.Kind, s.Name, s.FilePath, s.LineStart, s.LineEnd)
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output results as JSON")
	return cmd
}

var impactCmd = &cobra.Command{
	Use:   "impact <file>",
	Short: "List the files that depend on a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		reg, p, err := openProject(ctx, cmd)
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()

		files := p.ImpactAnalysis(args[0])
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(files)
		}
		for _, f := range files {
			fmt.Println(f)
		}
		return nil
	},
}

func init() {
	impactCmd.Flags().Bool("json", false, "output results as JSON")

	rootCmd.AddCommand(
		graphCommand("callers", "List the functions that call a symbol", (*kb.Project).FindCallers),
		graphCommand("callees", "List the functions a symbol calls", (*kb.Project).FindCallees),
		graphCommand("refs", "List every symbol connected to a symbol", (*kb.Project).FindReferences),
		graphCommand("symbol", "Locate the definitions of a symbol", (*kb.Project).FindSymbol),
		graphCommand("bases", "List the base classes of a class, nearest first", (*kb.Project).InheritanceChain),
		impactCmd,
	)
}
