package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/folioworks/folio/internal/config"
	"github.com/folioworks/folio/internal/home"
	"github.com/folioworks/folio/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Folio server",
	Long: `Start the Folio HTTP server and pipeline worker.

The server accepts thesis jobs over HTTP, queues them in Redis, and
runs the generation pipeline in the background. Configuration is read
from --config, ~/.folio/config.yaml, or defaults (hot-reloaded on
change). When postgres.managed or redis.managed is set, the backing
services run as local Docker containers.

Examples:
  folio serve                    # Start on default port 8080
  folio serve --port 3000        # Start on custom port
  folio serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Set up logger
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		// Get home directory
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		// Resolve the config file: explicit flag wins, otherwise the
		// home config (written with defaults on first run).
		cfgPath := cfgFile
		if cfgPath == "" {
			cfgPath = h.ConfigPath()
			if !h.ConfigExists() {
				if err := config.WriteDefault(cfgPath); err != nil {
					return err
				}
				logger.Info("wrote default config", "path", cfgPath)
			}
		}

		cfgMgr, err := config.NewManager(cfgPath)
		if err != nil {
			return err
		}
		cfgMgr.WatchConfig()

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			ConfigManager: cfgMgr,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}
