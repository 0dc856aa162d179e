package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/setlist/internal/auth"
	"github.com/desertthunder/setlist/internal/repositories"
	"github.com/desertthunder/setlist/internal/shared"
	"github.com/desertthunder/setlist/internal/ui"
	"github.com/urfave/cli/v3"
)

// AccountsList prints every account with its Spotify link status and token expiry.
func (r *Runner) AccountsList(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd.String("config"), cmd.String("env"))
	if err != nil {
		return err
	}

	db, err := r.openDatabase(config)
	if err != nil {
		return err
	}
	defer db.Close()

	criteria := map[string]any{}
	if cmd.Bool("linked") {
		criteria["linked"] = true
	}

	accounts, err := repositories.NewAccountRepository(db).List(ctx, criteria)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(accounts, cmd.Bool("pretty"))
	}

	if len(accounts) == 0 {
		return r.writePlainln("%s", ui.Styles.Help("No accounts."))
	}
	return r.writePlainln("%s", ui.AccountTable(accounts, time.Now()))
}

// AccountsRefresh exchanges the stored refresh token of an account for a new access token.
func (r *Runner) AccountsRefresh(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd.String("config"), cmd.String("env"))
	if err != nil {
		return err
	}

	if !config.Credentials.Spotify.Configured() {
		return fmt.Errorf("%w: spotify client_id and client_secret", shared.ErrMissingCredentials)
	}

	db, err := r.openDatabase(config)
	if err != nil {
		return err
	}
	defer db.Close()

	accounts := repositories.NewAccountRepository(db)
	username := cmd.String("username")

	account, err := accounts.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to load account %q: %w", username, err)
	}
	if !account.HasExternalIdentity() {
		return fmt.Errorf("%w: %s has no linked Spotify identity", shared.ErrInvalidArgument, username)
	}

	provider, err := r.newProvider(config)
	if err != nil {
		return err
	}

	if _, ok := auth.NewRefresher(provider, accounts, r.logger).Refresh(ctx, account.ID()); !ok {
		return fmt.Errorf("%w: %s must sign in with Spotify again", auth.ErrReauthRequired, username)
	}

	refreshed, err := accounts.Get(ctx, account.ID())
	if err != nil {
		return fmt.Errorf("failed to reload account: %w", err)
	}

	r.writePlainln("%s", ui.Styles.OK("✓ Token refreshed for "+username))
	r.writePlainln("  Expires: %s", refreshed.TokenExpiry().Local().Format(time.RFC1123))
	return nil
}
