package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/daemon"
)

// startOptions builds daemon options from config.yaml with flag overrides on top.
func startOptions(cmd *cobra.Command, home string, port int, dev, seed, enableOtel bool, pprofAddr, dbDriver, dbURL string) (daemon.StartOptions, error) {
	cfg, err := config.Load(home)
	if err != nil {
		return daemon.StartOptions{}, err
	}
	opts := daemon.StartOptions{
		Home:              home,
		Port:              cfg.Port,
		Dev:               cfg.Dev || dev,
		PprofAddr:         pprofAddr,
		DBDriver:          cfg.DB.Driver,
		DBURL:             cfg.DB.URL,
		APIKey:            cfg.APIKey,
		Seed:              seed,
		EnableOtel:        cfg.Otel || enableOtel,
		ReclaimMaxLockAge: cfg.Reclaim.MaxLockAge.Std(),
		ReclaimInterval:   cfg.Reclaim.Interval.Std(),
	}
	if cmd.Flags().Changed("port") {
		opts.Port = port
	}
	if cmd.Flags().Changed("db") {
		opts.DBDriver = dbDriver
	}
	if dbURL != "" {
		opts.DBURL = dbURL
	}
	return opts, nil
}

func newStartCmd() *cobra.Command {
	var (
		port       int
		foreground bool
		dev        bool
		seed       bool
		pprofAddr  string
		dbDriver   string
		dbURL      string
		enableOtel bool
		envFile    string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the TaskHive coordination server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := loadEnvFile(envFile); err != nil {
					return err
				}
			}
			home := config.MustHomeFrom(cmd.Context())
			opts, err := startOptions(cmd, home, port, dev, seed, enableOtel, pprofAddr, dbDriver, dbURL)
			if err != nil {
				return err
			}

			api := fmt.Sprintf("http://localhost:%d", opts.Port)
			if foreground {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starting TaskHive in foreground on %s\n", api)
				return daemon.StartForeground(cmd.Context(), opts)
			}

			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "TaskHive started (pid %d)\n", pid)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "API: %s\n", api)
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "Port for the HTTP API")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (do not daemonize)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode (CORS for dashboards on another origin)")
	cmd.Flags().BoolVar(&seed, "seed", false, "Seed a demo project on an empty store")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&dbDriver, "db", "sqlite", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().BoolVar(&enableOtel, "otel", false, "Enable OpenTelemetry metrics (Prometheus exporter + HTTP instrumentation)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load env vars from file (KEY=VALUE per line) before starting")

	return cmd
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, "=")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		if key != "" {
			_ = os.Setenv(key, value)
		}
	}
	return sc.Err()
}
