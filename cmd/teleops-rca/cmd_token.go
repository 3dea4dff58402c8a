package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/miradorstack/teleops-rca/internal/api"
)

func newTokenCmd(g *globalFlags) *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a reviewer bearer token signed with auth.jwtSecret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			auth := api.NewReviewerAuth(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
			if auth == nil {
				return errors.New("auth.jwtSecret is not configured")
			}
			token, err := auth.IssueToken(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Reviewer id carried in the token (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
