package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	notifier "github.com/your-org/roadrunner-redmine-notifier"
)

// loadConfig reads the YAML file at path, if any, and fills the connection
// settings from the environment when the file leaves them empty.
func loadConfig(path string) (*notifier.Config, error) {
	cfg := &notifier.Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if cfg.RedmineURL == "" {
		cfg.RedmineURL = os.Getenv("REDMINE_URL")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("REDMINE_API_KEY")
	}

	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newNotifier() (*notifier.Notifier, *zap.Logger, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := newLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	n, err := notifier.New(cfg, logger.Named(notifier.PluginName))
	if err != nil {
		return nil, nil, err
	}

	return n, logger, nil
}
