package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/xmoney-bridge/internal/auth"
)

func adminTokenCmd() *cobra.Command {
	var (
		cfg     auth.Config
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Mint a bearer token for the admin settings API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			admin, err := auth.NewAdmin(cfg)
			if err != nil {
				return err
			}
			token, expires, err := admin.Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.Secret, "secret", envOr("ADMIN_JWT_SECRET", ""), "Signing secret (defaults to ADMIN_JWT_SECRET)")
	cmd.Flags().StringVar(&cfg.Issuer, "issuer", envOr("ADMIN_JWT_ISSUER", "xmoney-bridge"), "Token issuer")
	cmd.Flags().StringVar(&cfg.Audience, "audience", envOr("ADMIN_JWT_AUDIENCE", "xmoney-admin"), "Token audience")
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
