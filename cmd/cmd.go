// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "Path to a dotenv file overlaid onto the configuration",
		Value: ".env",
	}
}

// serveCommand runs the HTTP server.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the setlist web server",
		Flags: []cli.Flag{
			configFlag(),
			envFlag(),
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides server.host and server.port",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Action: r.Serve,
	}
}

// setupCommand handles setup operations for the database and configuration file.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Flags:  []cli.Flag{configFlag(), envFlag()},
				Action: r.SetupDatabase,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recently applied migration",
				Flags:  []cli.Flag{configFlag(), envFlag()},
				Action: r.SetupRollback,
			},
			{
				Name:   "config",
				Usage:  "Write an example configuration file",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupConfig,
			},
		},
	}
}

// accountsCommand handles account maintenance.
func accountsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "accounts",
		Aliases: []string{"acct"},
		Usage:   "Inspect accounts and their Spotify tokens",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List accounts with their link status and token expiry",
				Flags: []cli.Flag{
					configFlag(),
					envFlag(),
					&cli.BoolFlag{
						Name:  "linked",
						Usage: "Only show accounts with a linked Spotify identity",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
					},
				},
				Action: r.AccountsList,
			},
			{
				Name:  "refresh",
				Usage: "Refresh the Spotify access token of an account",
				Flags: []cli.Flag{
					configFlag(),
					envFlag(),
					&cli.StringFlag{
						Name:     "username",
						Aliases:  []string{"u"},
						Usage:    "Account username",
						Required: true,
					},
				},
				Action: r.AccountsRefresh,
			},
		},
	}
}
