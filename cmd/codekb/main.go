// Package main is the entry point for the codekb CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dshills/codekb/internal/config"
	"github.com/dshills/codekb/internal/kb"
)

// version is set at build time via ldflags.
var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	cfg       *config.Config
	configErr error
	logger    *slog.Logger
)

// rootCmd is the base command for the codekb CLI.
var rootCmd = &cobra.Command{
	Use:   "codekb",
	Short: "Code knowledge base for AI coding assistants",
	Long: `codekb indexes a project into a symbol and call graph, embeds its functions
and classes for semantic search, and assembles token-budgeted context from the
project and a global knowledge base of patterns and error fixes.

Each operation is a subcommand; serve exposes all of them as MCP tools on stdio.
Logs go to stderr, results to stdout.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configErr != nil {
			return configErr
		}
		logger = config.NewLogger(cfg.Log, os.Stderr)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./codekb.yaml or ~/.config/codekb/codekb.yaml)")
	rootCmd.PersistentFlags().StringP("root", "C", ".", "project root")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	v := viper.New()
	if err := v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		configErr = err
		return
	}
	cfg, configErr = config.Load(v, cfgFile)
	if configErr == nil && v.ConfigFileUsed() != "" {
		fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openProject opens the project named by --root in a fresh registry
func openProject(ctx context.Context, cmd *cobra.Command) (*kb.Registry, *kb.Project, error) {
	root, _ := cmd.Flags().GetString("root")
	reg := kb.NewRegistry(ctx, cfg, logger)
	p, err := reg.Project(ctx, root)
	if err != nil {
		_ = reg.Close()
		return nil, nil, err
	}
	return reg, p, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
