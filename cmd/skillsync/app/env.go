package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/promptops/skillsync/internal/config"
	"github.com/promptops/skillsync/internal/db"
	"github.com/promptops/skillsync/internal/registry"
	"github.com/promptops/skillsync/internal/state"
)

// env bundles the shared dependencies a command needs.
type env struct {
	cfg      *config.Config
	conn     *db.Connection
	registry *registry.Registry
	store    *state.Store
}

// setupEnv loads configuration and opens the state store for a command.
// The caller must Close the returned env.
func setupEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return nil, err
	}

	conn, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	return &env{
		cfg:      cfg,
		conn:     conn,
		registry: registry.New(conn),
		store:    state.New(conn),
	}, nil
}

// loadConfigFromFlags loads configuration, honoring the --config flag.
func loadConfigFromFlags(cmd *cobra.Command) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	var opts []config.Option
	if configPath != "" {
		opts = append(opts, config.WithConfigPath(configPath))
	}

	cfg, err := config.LoadConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Close releases the env's resources.
func (e *env) Close() error {
	return e.conn.Close()
}
