package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the index current while files change",
	Long: `Watch re-indexes source files as they are saved, created or deleted, after
a short debounce. A project that has no index yet is indexed in full once the
first burst of changes settles.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		reg, p, err := openProject(ctx, cmd)
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()

		w, err := p.Watch(ctx)
		if err != nil {
			return err
		}
		logger.Info("watching", slog.String("root", p.Root()), slog.String("mode", w.Mode().String()))
		<-ctx.Done()
		return p.StopWatching()
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
