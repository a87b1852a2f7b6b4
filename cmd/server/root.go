package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "chat-gateway",
	Short:        "Real-time chat gateway with WebSocket sessions and unread counters",
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create chat tables for the configured database driver",
	RunE:  runMigrate,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed access token for local testing",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().Int64("user", 0, "user id to put into the token")
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (defaults to JWT_ACCESS_TTL)")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}
