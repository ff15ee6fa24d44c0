package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	appMigrations "github.com/yigit/hackhub/internal/app/migrations"
	"github.com/yigit/hackhub/internal/backend/postgres"
	"github.com/yigit/hackhub/internal/bootstrap"
	"github.com/yigit/hackhub/internal/seed"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply pending PostgreSQL migrations from database.migrations_dir,
or from the migrations built into the binary when that directory is absent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lgr, err := bootstrap.LoadConfigAndSetupLogger(rootOpts.ConfigPath)
			if err != nil {
				return err
			}

			if dryRun {
				files, err := appMigrations.Files(appMigrations.Source(cfg.Database.MigrationsDir))
				if err != nil {
					return err
				}
				for _, f := range files {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", appMigrations.Version(f), f)
				}
				return nil
			}

			database, err := bootstrap.ConnectDatabase(cmd.Context(), cfg, lgr)
			if err != nil {
				return err
			}
			defer database.Close()

			return bootstrap.RunMigrations(cmd.Context(), cfg, database, lgr)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the migrations that would be considered without connecting")

	return cmd
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var demoUser bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert the default badges and forums",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lgr, err := bootstrap.LoadConfigAndSetupLogger(rootOpts.ConfigPath)
			if err != nil {
				return err
			}

			database, err := bootstrap.ConnectDatabase(cmd.Context(), cfg, lgr)
			if err != nil {
				return err
			}
			defer database.Close()

			be := postgres.New(database, cfg.Realtime.Channel, cfg.Realtime.BufferSize)
			return seed.CreateDefaultData(cmd.Context(), be, demoUser, lgr)
		},
	}

	cmd.Flags().BoolVar(&demoUser, "demo-user", false, "also create "+seed.DemoUserEmail)

	return cmd
}
