package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"club_chat/internal/config"
	"club_chat/pkg/jwt"
)

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	userID, _ := cmd.Flags().GetInt64("user")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = cfg.JWT.AccessTTL
	}

	token, err := jwt.GenerateAccessToken(userID, cfg.JWT.Secret, cfg.JWT.Issuer, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
