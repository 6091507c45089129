package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/open-beagle/framebridge/internal/config"
)

// runOptions are command line overrides applied on top of the config file.
type runOptions struct {
	configFile string
	logLevel   string
	logOutput  string
	logFile    string
	adminPort  int
	remote     string
	loopback   bool
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured bridge streams",
		Long: `Run every enabled stream from the configuration, the host tick
scheduler and the admin web server.

Examples:
  framebridge run
  framebridge run --config framebridge.yaml
  framebridge run --loopback --log-level debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return runApp(cmd, cfg)
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.Flags().StringVar(&opts.logOutput, "log-output", "", "Log output (stdout, stderr, file)")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "Log file path (when log-output is file)")
	cmd.Flags().IntVar(&opts.adminPort, "admin-port", 0, "Admin web server port")
	cmd.Flags().StringVar(&opts.remote, "remote", "", "Remote service address host:port for every stream")
	cmd.Flags().BoolVar(&opts.loopback, "loopback", false, "Start the reference processing service in process")

	return cmd
}

// loadConfig reads the config file (or defaults) and applies overrides.
func loadConfig(opts runOptions) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configFile != "" {
		loaded, err := config.LoadConfigFromFile(opts.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}

	cfg.Logging.ApplyEnv()
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logOutput != "" {
		cfg.Logging.Output = opts.logOutput
	}
	if opts.logFile != "" {
		cfg.Logging.File = opts.logFile
		if opts.logOutput == "" {
			cfg.Logging.Output = "file"
		}
	}

	if opts.adminPort > 0 {
		cfg.WebServer.Port = opts.adminPort
	}
	if opts.remote != "" {
		host, port, err := splitHostPort(opts.remote)
		if err != nil {
			return nil, err
		}
		for _, sc := range cfg.Streams {
			sc.Host, sc.Port = host, port
		}
	}
	if opts.loopback {
		cfg.Loopback.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runApp(cmd *cobra.Command, cfg *config.Config) error {
	if err := config.SetupLogger(cfg.Logging); err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}

	app, err := NewFrameBridgeApp(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Start(); err != nil {
		return err
	}
	printStartup(cmd, cfg)

	<-ctx.Done()
	config.GetLoggerWithPrefix("app").Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Lifecycle.ShutdownTimeout)
	defer cancel()
	return app.Stop(shutdownCtx)
}

func printStartup(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s %s started\n", AppName, version)
	for _, sc := range cfg.Streams {
		if !sc.Enabled {
			continue
		}
		fmt.Fprintf(out, "  Stream %-10s %s/%s -> %s:%d\n", sc.Name, sc.Source.Kind, sc.Source.Eye, sc.Host, sc.Port)
	}
	if cfg.WebServer.Enabled {
		protocol := "http"
		if cfg.WebServer.EnableTLS {
			protocol = "https"
		}
		fmt.Fprintf(out, "  Admin:     %s://%s\n", protocol, cfg.WebServer.Address())
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Port > 0 {
		fmt.Fprintf(out, "  Metrics:   http://%s:%d%s\n", cfg.Metrics.Host, cfg.Metrics.Port, cfg.Metrics.Path)
	}
	if cfg.Loopback.Enabled {
		fmt.Fprintf(out, "  Loopback:  %s (%s)\n", cfg.Loopback.Address(), cfg.Loopback.Processor)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")
}
