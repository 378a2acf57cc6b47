package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/design2code/internal/config"
	"github.com/jonathan/design2code/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "design2code",
	Short: "Design2Code Studio generation service",
	Long: `Design2Code turns a Figma frame into a project of generated source files.
It serves the HTTP API and runs the background generation jobs that populate
each generation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and installs the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(log)
	return cfg, nil
}
