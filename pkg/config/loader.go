package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "flowscope.yaml"

// FlowscopeYAMLConfig represents the complete flowscope.yaml file structure
type FlowscopeYAMLConfig struct {
	Reducer   *ReducerConfig   `yaml:"reducer"`
	Monitor   *MonitorConfig   `yaml:"monitor"`
	Server    *ServerConfig    `yaml:"server"`
	Ingest    *IngestConfig    `yaml:"ingest"`
	Retention *RetentionConfig `yaml:"retention"`
	Masking   *MaskingConfig   `yaml:"masking"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load flowscope.yaml from configDir (absent file means built-in defaults)
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user values over built-in defaults
//  5. Validate
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"max_sections", cfg.Reducer.MaxSections,
		"retain_sections", cfg.Reducer.RetainSections,
		"eviction_policy", cfg.Reducer.EvictionPolicy,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Ingest.GRPCAddr)

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return &Config{
		Reducer:   DefaultReducerConfig(),
		Monitor:   DefaultMonitorConfig(),
		Server:    DefaultServerConfig(),
		Ingest:    DefaultIngestConfig(),
		Retention: DefaultRetentionConfig(),
		Masking:   DefaultMaskingConfig(),
	}
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	cfg := Default()
	cfg.configDir = configDir

	user, err := loader.loadFlowscopeYAML()
	if errors.Is(err, ErrConfigNotFound) {
		slog.Info("No configuration file found, using built-in defaults",
			"path", filepath.Join(configDir, FileName))
		return cfg, nil
	}
	if err != nil {
		return nil, NewLoadError(FileName, err)
	}

	// Start with defaults, then merge user config on top to preserve unset defaults
	merges := []struct {
		name      string
		dst, user any
		present   bool
	}{
		{"reducer", cfg.Reducer, user.Reducer, user.Reducer != nil},
		{"monitor", cfg.Monitor, user.Monitor, user.Monitor != nil},
		{"server", cfg.Server, user.Server, user.Server != nil},
		{"ingest", cfg.Ingest, user.Ingest, user.Ingest != nil},
		{"retention", cfg.Retention, user.Retention, user.Retention != nil},
		{"masking", cfg.Masking, user.Masking, user.Masking != nil},
	}
	for _, m := range merges {
		if !m.present {
			continue
		}
		if err := mergo.Merge(m.dst, m.user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge %s config: %w", m.name, err)
		}
	}

	return cfg, nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadFlowscopeYAML() (*FlowscopeYAMLConfig, error) {
	var config FlowscopeYAMLConfig
	if err := l.loadYAML(FileName, &config); err != nil {
		return nil, err
	}
	return &config, nil
}
