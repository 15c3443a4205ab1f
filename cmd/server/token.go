package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		username string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development credential for a user",
		Example: `  roomcast token --username alice
  roomcast token --username bob --ttl 1h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("JWT_SECRET is required to sign tokens")
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL.Std()
			}

			store, _, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			user, err := store.UserByUsername(cmd.Context(), username)
			if err != nil {
				return fmt.Errorf("look up %q: %w", username, err)
			}
			validator, err := newValidator(cfg, store)
			if err != nil {
				return err
			}
			token, err := validator.Issue(user.ID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "user to mint the token for (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from JWT_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}
