package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the risk engine daemon.
type Config struct {
	ListenAddress string `yaml:"listen"`
	EnginePath    string `yaml:"engine_config"`
	DataDir       string `yaml:"data_dir"`
	EventBuffer   int    `yaml:"event_buffer"`
}

// Load reads the YAML configuration from disk and validates the result. A
// missing path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8090",
		EventBuffer:   256,
	}
	if path == "" {
		return cfg, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8090"
	}
	cfg.EnginePath = strings.TrimSpace(cfg.EnginePath)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	return nil
}
