package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/roomcast/internal/auth"
	"github.com/Tyrowin/roomcast/internal/config"
	"github.com/Tyrowin/roomcast/internal/store/sqlite"
)

var (
	version = "dev"
	commit  = "unknown"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "roomcast",
		Short: "Realtime room broadcast server",
		Long: `roomcast serves authenticated WebSocket connections, fans room events out
to subscribers, and tracks presence and typing indicators.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "YAML config file path")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newTokenCmd(opts),
		newSeedCmd(opts),
	)
	return root
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configFile, o.envFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured database, applying pending migrations.
func openStore(ctx context.Context, cfg config.Config) (*sqlite.Store, []string, error) {
	store, applied, err := sqlite.OpenAndMigrate(ctx, cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}
	return store, applied, nil
}

func newValidator(cfg config.Config, users auth.UserLookup) (*auth.Validator, error) {
	return auth.NewValidator(cfg.Auth.JWTSecret, users, auth.WithIssuer(cfg.Auth.Issuer))
}
