package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// configFilePath returns the YAML config file to load, or "" when none is
// configured or present.
func configFilePath() string {
	if path := os.Getenv("MEDIAFORGE_CONFIG"); path != "" {
		return path
	}
	for _, path := range []string{"./mediaforge.yaml", "/etc/mediaforge/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
