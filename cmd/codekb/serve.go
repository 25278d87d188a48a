package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codekb/internal/kb"
	"github.com/dshills/codekb/internal/mcp"
	"github.com/dshills/codekb/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the knowledge base as MCP tools on stdio",
	Long: `Serve runs an MCP server on stdin and stdout. Any project on disk can be
queried by passing its root as the path argument of a tool. With --startup the
project under --root gets the session start check before the first request.
When metrics.addr is set, Prometheus metrics are served on /metrics.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		reg := kb.NewRegistry(ctx, cfg, logger)
		defer func() { _ = reg.Close() }()

		if runStartup, _ := cmd.Flags().GetBool("startup"); runStartup {
			root, _ := cmd.Flags().GetString("root")
			p, err := reg.Project(ctx, root)
			if err != nil {
				return err
			}
			report := p.Startup(ctx)
			if report.Visible() {
				logger.Info("session start", slog.String("decision", report.Reason), slog.String("hint", report.Hint))
			}
		}

		if addr := cfg.Metrics.Addr; addr != "" {
			srv := &http.Server{Addr: addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
			go func() {
				logger.Info("serving metrics", slog.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", slog.String("error", err.Error()))
				}
			}()
			defer func() {
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		err := mcp.NewServer(reg, logger).Serve(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func init() {
	serveCmd.Flags().Bool("startup", false, "run the session start check for --root")

	rootCmd.AddCommand(serveCmd)
}
