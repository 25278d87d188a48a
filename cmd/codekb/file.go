package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/codekb/internal/indexer"
)

var updateCmd = &cobra.Command{
	Use:   "update <file>...",
	Short: "Re-index files after they changed",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		reg, p, err := openProject(ctx, cmd)
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()

		var errs []error
		for _, file := range args {
			changed, err := p.UpdateFile(ctx, file)
			switch {
			case errors.Is(err, indexer.ErrParseFailed):
				fmt.Printf("%s: kept previous symbols (%v)\n", file, err)
			case err != nil:
				errs = append(errs, fmt.Errorf("%s: %w", file, err))
			case changed:
				fmt.Printf("%s: updated\n", file)
			default:
				fmt.Printf("%s: unchanged\n", file)
			}
		}
		return errors.Join(errs...)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <file>...",
	Short: "Drop files from the index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		reg, p, err := openProject(ctx, cmd)
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()

		for _, file := range args {
			if err := p.RemoveFile(ctx, file); err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			fmt.Printf("%s: removed\n", file)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(removeCmd)
}
