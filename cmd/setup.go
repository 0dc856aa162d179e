package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/setlist/internal/shared"
	"github.com/desertthunder/setlist/internal/ui"
	"github.com/urfave/cli/v3"
)

// SetupDatabase initializes the database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd.String("config"), cmd.String("env"))
	if err != nil {
		return err
	}

	db, err := r.openDatabase(config)
	if err != nil {
		return err
	}
	defer db.Close()

	r.logger.Infof("setup complete for database: %v", config.Database.Path)
	return r.writePlainln("%s", ui.Styles.OK("✓ Database ready: "+config.Database.Path))
}

// SetupRollback reverts the latest migration.
func (r *Runner) SetupRollback(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd.String("config"), cmd.String("env"))
	if err != nil {
		return err
	}

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	if err := shared.RollbackMigration(db); err != nil {
		return err
	}

	r.logger.Info("rolled back latest migration", "path", config.Database.Path)
	return r.writePlainln("%s", ui.Styles.Warn("Rolled back latest migration: "+config.Database.Path))
}

// SetupConfig writes the example configuration to the --config path. An existing file is left alone.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")

	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}

	r.logger.Info("config file created", "path", path)
	r.writePlainln("%s", ui.Styles.OK("✓ Config written: "+path))
	r.writePlainln("%s", ui.Styles.Help("Set credentials.spotify.client_id and client_secret, or SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET, to enable Spotify sign-in."))
	return nil
}
