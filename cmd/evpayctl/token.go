package main

import (
	"errors"
	"fmt"
	"time"

	"evshop-payment/config"
	"evshop-payment/internal/auth"

	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token [username]",
		Short: "Mint an admin bearer token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.Auth.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.Auth.AdminTokenTTLHours) * time.Hour
			}

			token, err := auth.NewIssuer(cfg.Auth.JWTSecret).IssueAdmin(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default ADMIN_TOKEN_TTL_HOURS)")
	return cmd
}
