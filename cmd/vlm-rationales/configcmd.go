package main

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/vlm-rationales/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE:  runConfig,
}

var configCheck bool

func init() {
	configCmd.Flags().BoolVar(&configCheck, "check", false, "validate the configuration and exit")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if configCheck {
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Println(newUI().ok("config ok"))
		return nil
	}
	out, err := toml.Marshal(redacted(cfg))
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

// redacted returns a copy of cfg with secrets masked
func redacted(cfg *config.Config) *config.Config {
	c := *cfg
	c.Model.GoogleAPIKey = mask(c.Model.GoogleAPIKey)
	c.Model.OpenAIAPIKey = mask(c.Model.OpenAIAPIKey)
	c.Notifications.SlackWebhook = mask(c.Notifications.SlackWebhook)
	return &c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}
