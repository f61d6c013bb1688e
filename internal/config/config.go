// Package config loads service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration
type Config struct {
	Environment string         `yaml:"environment"`
	LogLevel    string         `yaml:"log_level"`
	Server      ServerConfig   `yaml:"server"`
	Neo4j       Neo4jConfig    `yaml:"neo4j"`
	Index       IndexConfig    `yaml:"index"`
	Executor    ExecutorConfig `yaml:"executor"`
}

// ServerConfig holds HTTP settings
type ServerConfig struct {
	Port         string `yaml:"port"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// Neo4jConfig holds graph store connection settings
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	// ResetOnSave clears the whole graph before each saved model
	ResetOnSave bool `yaml:"reset_on_save"`
}

// IndexConfig holds the reference index location
type IndexConfig struct {
	Path string `yaml:"path"`
}

// ExecutorConfig tunes the statement worker
type ExecutorConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// Default returns the configuration used when nothing else is set
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:         "8080",
			MaxBodyBytes: 64 << 20,
		},
		Neo4j: Neo4jConfig{
			URI:         "bolt://localhost:7687",
			User:        "neo4j",
			Password:    "password",
			Database:    "neo4j",
			ResetOnSave: true,
		},
		Index:    IndexConfig{Path: "modelgraph-index.db"},
		Executor: ExecutorConfig{QueueSize: 256},
	}
}

// Load reads path over the defaults and then applies environment
// overrides. An empty path or a missing file yields defaults plus
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Neo4j.URI, "NEO4J_URI")
	setString(&c.Neo4j.User, "NEO4J_USER")
	setString(&c.Neo4j.Password, "NEO4J_PASSWORD")
	setString(&c.Neo4j.Database, "NEO4J_DATABASE")
	setString(&c.Server.Port, "PORT")
	setString(&c.Index.Path, "INDEX_PATH")
	setString(&c.Environment, "ENVIRONMENT")
	setString(&c.LogLevel, "LOG_LEVEL")

	if v := os.Getenv("NEO4J_RESET_ON_SAVE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("NEO4J_RESET_ON_SAVE: %w", err)
		}
		c.Neo4j.ResetOnSave = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks required fields
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Neo4j.URI == "" {
		return errors.New("neo4j.uri is required")
	}
	if c.Executor.QueueSize < 0 {
		return fmt.Errorf("executor.queue_size must not be negative, got %d", c.Executor.QueueSize)
	}
	return nil
}
