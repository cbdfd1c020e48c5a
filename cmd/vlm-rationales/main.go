package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	jsonhandler "github.com/apex/log/handlers/json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/vlm-rationales/internal/config"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	rootCmd    = &cobra.Command{
		Use:   "vlm-rationales",
		Short: "VLM rationales - multilingual image rationale generation",
		Long: `vlm-rationales sends a dataset of images, optionally paired with reference
text, through eight reasoning tasks in several languages. Results are
checkpointed per (language, task) pair so interrupted runs resume where
they stopped, and written as sorted JSON artifacts.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// a missing .env is fine; the environment may already be set
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "cli", "log format (cli, json)")
}

// loadConfig reads the config and configures logging from it
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithLocalFallback(configPath)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	switch strings.ToLower(logFormat) {
	case "json":
		log.SetHandler(jsonhandler.New(os.Stderr))
	default:
		log.SetHandler(cli.New(os.Stderr))
	}
	level := cfg.General.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if l, err := log.ParseLevel(level); err == nil {
		log.SetLevel(l)
	} else {
		log.SetLevel(log.InfoLevel)
		log.Warnf("unknown log level %q, using info", level)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
