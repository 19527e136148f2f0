package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/noah-isme/xmoney-bridge/internal/settings"
)

func settingsCmd() *cobra.Command {
	var databaseURL string
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect or change the stored xMoney credentials",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", envOr("DATABASE_URL", ""), "Postgres URL (defaults to DATABASE_URL)")

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the active configuration with the secret masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), databaseURL, func(store settings.Store) error {
				return showSettings(cmd.Context(), cmd.OutOrStdout(), store)
			})
		},
	}

	var publicKey, secretKey string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store a public/secret key pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), databaseURL, func(store settings.Store) error {
				return storeKeys(cmd.Context(), cmd.OutOrStdout(), store, publicKey, secretKey)
			})
		},
	}
	set.Flags().StringVar(&publicKey, "public-key", "", "pk_live_ or pk_test_ key")
	set.Flags().StringVar(&secretKey, "secret-key", "", "sk_live_ or sk_test_ key")

	cmd.AddCommand(get, set)
	return cmd
}

func withStore(ctx context.Context, databaseURL string, fn func(settings.Store) error) error {
	if strings.TrimSpace(databaseURL) == "" {
		return errors.New("--database-url or DATABASE_URL is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(settings.PGStore{Pool: pool})
}

func showSettings(ctx context.Context, w io.Writer, store settings.Store) error {
	cfg, err := settings.Resolver{Store: store}.GetConfiguration(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "environment: %s\n", cfg.Environment())
	fmt.Fprintf(w, "configured:  %t\n", cfg.Configured())
	fmt.Fprintf(w, "public key:  %s\n", cfg.PublicKey)
	fmt.Fprintf(w, "secret key:  %s\n", settings.MaskSecret(cfg.SecretKey))
	if settings.KeyFamiliesDiffer(cfg.PublicKey, cfg.SecretKey) {
		fmt.Fprintln(w, "warning:     public and secret keys belong to different environments")
	}
	return nil
}

func storeKeys(ctx context.Context, w io.Writer, store settings.Store, publicKey, secretKey string) error {
	publicKey = strings.TrimSpace(publicKey)
	secretKey = strings.TrimSpace(secretKey)
	values := map[string]string{}
	if publicKey != "" {
		if !settings.IsValidPublicKey(publicKey) {
			return errors.New("public key must start with pk_live_ or pk_test_")
		}
		values[settings.OptionPublicKey] = publicKey
	}
	if secretKey != "" {
		if !settings.IsValidSecretKey(secretKey) {
			return errors.New("secret key must start with sk_live_ or sk_test_")
		}
		values[settings.OptionSecretKey] = secretKey
	}
	if len(values) == 0 {
		return errors.New("nothing to store: pass --public-key and/or --secret-key")
	}
	if err := store.SetOptions(ctx, values); err != nil {
		return err
	}
	fmt.Fprintf(w, "stored %d option(s)\n", len(values))
	return showSettings(ctx, w, store)
}
