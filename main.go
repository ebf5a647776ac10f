package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Vertexcore-AI/IoT/internal/logging"
	"github.com/Vertexcore-AI/IoT/internal/routes"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "agrisense",
	Short:         "Greenhouse telemetry ingestion and dashboard backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, simulator and optional MQTT broker",
	RunE:  runServe,
}

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the named page routes",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		for _, r := range routes.Default().All() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-6s %s\n", r.Name, r.Method, r.Path)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, routesCmd, versionCmd)
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: .env file not loaded: %v\n", err)
	}

	logger, err := logging.New(logging.FromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	if err := rootCmd.Execute(); err != nil {
		logger.Error("agrisense exited", zap.Error(err))
		logger.Sync() //nolint:errcheck
		os.Exit(1)
	}
}
