package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanshika/checkout/backend/internal/auth"
	"github.com/vanshika/checkout/backend/internal/config"
	"github.com/vanshika/checkout/backend/internal/domain"
)

func tokenCmd() *cobra.Command {
	var (
		id   string
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with the configured JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			authenticator, err := auth.New(cfg.Auth.JWTSecret, cfg.Auth.Issuer, ttl)
			if err != nil {
				return err
			}
			token, err := authenticator.Issue(domain.Actor{ID: id, Role: domain.Role(role)})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Actor id (customer id for customers)")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleCustomer), "customer or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default from config)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
