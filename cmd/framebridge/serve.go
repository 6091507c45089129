package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/open-beagle/framebridge/internal/config"
	"github.com/open-beagle/framebridge/internal/loopback"
)

func serveCmd() *cobra.Command {
	var (
		configFile string
		listen     string
		processor  string
		debugDir   string
		debugEvery int
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference processing service",
		Long: `Run the reference processing service alone. It accepts bridge
clients, tints masked pixels (or echoes frames unchanged) and
returns one JPEG per request.

Examples:
  framebridge serve
  framebridge serve --listen 0.0.0.0:5555 --processor echo
  framebridge serve --debug-dir /tmp/frames --debug-every 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				loaded, err := config.LoadConfigFromFile(configFile)
				if err != nil {
					return fmt.Errorf("failed to load configuration: %w", err)
				}
				cfg = loaded
			}

			lb := cfg.Loopback
			if listen != "" {
				host, port, err := splitHostPort(listen)
				if err != nil {
					return err
				}
				lb.Host, lb.Port = host, port
			}
			if processor != "" {
				lb.Processor = processor
			}
			if debugDir != "" {
				lb.DebugDir = debugDir
			}
			if debugEvery > 0 {
				lb.DebugEvery = debugEvery
			}
			if err := lb.Validate(); err != nil {
				return fmt.Errorf("invalid loopback configuration: %w", err)
			}

			cfg.Logging.ApplyEnv()
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if err := config.SetupLogger(cfg.Logging); err != nil {
				return fmt.Errorf("failed to setup logger: %w", err)
			}

			srv, err := newLoopbackServer(lb)
			if err != nil {
				return err
			}
			if err := srv.Listen(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reference service on %s (%s)\n", AppName, srv.Addr(), lb.Processor)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err = srv.Serve(ctx)
			st := srv.Stats()
			config.GetLoggerWithPrefix("loopback").Infof("Served %d frames over %d connections", st.Frames, st.Connections)
			if errors.Is(err, loopback.ErrServerClosed) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address host:port")
	cmd.Flags().StringVarP(&processor, "processor", "p", "", "Frame processor (overlay, echo)")
	cmd.Flags().StringVar(&debugDir, "debug-dir", "", "Write debug images to this directory")
	cmd.Flags().IntVar(&debugEvery, "debug-every", 0, "Dump every Nth frame of a connection")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")

	return cmd
}
