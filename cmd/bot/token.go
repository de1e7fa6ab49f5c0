package main

import (
	"errors"
	"fmt"
	"time"

	"ladder-bot-go/internal/api"
	"ladder-bot-go/internal/config"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("无法加载配置文件: %w", err)
			}
			if cfg.API.JWTSecret == "" {
				return errors.New("LADDER_JWT_SECRET is not set")
			}
			if subject == "" {
				subject = cfg.Owner
			}
			token, err := api.IssueToken(cfg.API.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "caller identity (defaults to the configured owner)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
