package cli

import (
	"github.com/spf13/cobra"

	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/daemon"
)

func newDaemonCmd() *cobra.Command {
	var (
		port       int
		dev        bool
		seed       bool
		pprofAddr  string
		dbDriver   string
		dbURL      string
		enableOtel bool
	)

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Internal: run daemon process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			opts, err := startOptions(cmd, home, port, dev, seed, enableOtel, pprofAddr, dbDriver, dbURL)
			if err != nil {
				return err
			}
			return daemon.StartForeground(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "Port for the HTTP API")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode")
	cmd.Flags().BoolVar(&seed, "seed", false, "Seed a demo project on an empty store")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address")
	cmd.Flags().StringVar(&dbDriver, "db", "sqlite", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string")
	cmd.Flags().BoolVar(&enableOtel, "otel", false, "Enable OpenTelemetry metrics")

	return cmd
}
