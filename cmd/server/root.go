package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/lscinspector/internal/server"
	"github.com/dmitrijs2005/lscinspector/internal/server/config"
)

type application interface {
	Run(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

var newApp = func(cfg *config.Config) (application, error) {
	return server.NewApp(cfg)
}

// Flags are left to config.LoadConfig so that the file, environment and
// flag layers are resolved in one place.
func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:                "lscinspector",
		Short:              "LSC Inspector server",
		SilenceUsage:       true,
		SilenceErrors:      true,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), args)
		},
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())

	return rootCmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:                "serve",
		Short:              "Apply migrations and serve the HTTP API and gRPC health service",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), args)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:                "migrate",
		Short:              "Apply pending database migrations and exit",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := build(args)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Migrate(cmd.Context())
		},
	}
}

func build(args []string) (application, error) {
	cfg, err := config.LoadConfig(args)
	if err != nil {
		return nil, err
	}
	return newApp(cfg)
}

func serve(ctx context.Context, args []string) error {
	app, err := build(args)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.Run(ctx)
}
