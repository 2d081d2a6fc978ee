package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/folioworks/folio/internal/home"
	"github.com/folioworks/folio/internal/store"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the dev Postgres and Redis containers",
	Long: `Manage the development Postgres and Redis containers.

In production the backing services are provisioned externally. For
local development, these commands run them as Docker containers on
alternate ports (Postgres 5433, Redis 6380).

Examples:
  folio db start    # Start both containers
  folio db stop     # Stop them (data preserved)
  folio db status   # Check container status
  folio db remove   # Remove the containers`,
}

var dbStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the dev containers",
	Long: `Start the dev Postgres and Redis containers.

Containers that don't exist are created; stopped ones are started.
The command waits until both accept connections.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Starting Postgres and Redis...")
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("failed to start containers: %w", err)
		}

		fmt.Printf("Postgres: %s\n", mgr.PostgresDSN())
		fmt.Printf("Redis:    %s\n", mgr.RedisAddr())
		return nil
	},
}

var dbStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the dev containers",
	Long: `Stop the dev containers.

This stops the containers but preserves data. Use 'folio db start'
to restart them later.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Stopping containers...")
		if err := mgr.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop containers: %w", err)
		}

		fmt.Println("Containers stopped")
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dev container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		statuses, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		for _, name := range []string{store.PostgresContainer, store.RedisContainer} {
			status := statuses[name]
			switch status {
			case store.StatusRunning:
				fmt.Printf("%s: %s\n", name, status)
			case store.StatusStopped:
				fmt.Printf("%s: %s (use 'folio db start' to start)\n", name, status)
			case store.StatusNotFound:
				fmt.Printf("%s: %s (use 'folio db start' to create)\n", name, status)
			default:
				fmt.Printf("%s: %s\n", name, status)
			}
		}

		return nil
	},
}

var dbRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the dev containers",
	Long: `Remove the dev containers.

This stops and removes both containers. Postgres data lives in a
named volume and is NOT deleted - only the containers are removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Removing containers...")
		if err := mgr.Remove(ctx); err != nil {
			return fmt.Errorf("failed to remove containers: %w", err)
		}

		fmt.Println("Containers removed")
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbStartCmd)
	dbCmd.AddCommand(dbStopCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRemoveCmd)

	rootCmd.AddCommand(dbCmd)
}

// getHome returns the home directory manager.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return h, nil
}

// getDockerManager creates a DockerManager with the standard config.
func getDockerManager() (*store.DockerManager, error) {
	return store.NewDockerManager(store.DockerConfig{})
}
