package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatwarden/chatwarden/internal/conf"
	"github.com/chatwarden/chatwarden/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the admin API of a running instance as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := conf.LoadFromEnv()
		logger.Info("Starting MCP server", zap.String("api", cfg.API.BaseURL))

		server := mcp.NewServer(mcp.NewClient(cfg.API.BaseURL), version)
		return server.Run(ctx)
	},
}
