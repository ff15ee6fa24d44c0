package cli

import (
	"github.com/spf13/cobra"

	"github.com/yigit/hackhub/internal/bootstrap"
	"github.com/yigit/hackhub/internal/config"
	"github.com/yigit/hackhub/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var driver string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lgr, err := bootstrap.LoadConfigAndSetupLogger(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			if driver != "" {
				cfg.Backend.Driver = driver
			}

			srv, err := server.NewServer(cmd.Context(), cfg, lgr)
			if err != nil {
				lgr.Error().Err(err).Msg("Failed to initialize server")
				return err
			}
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&driver, "driver", "", "override backend.driver ("+config.DriverPostgres+"|"+config.DriverMemory+")")

	return cmd
}
