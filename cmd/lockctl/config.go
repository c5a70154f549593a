package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	backendMemory   = "memory"
	backendRedis    = "redis"
	backendPostgres = "postgres"
	backendSQLite   = "sqlite"
)

// Config is the lockctl configuration file.
type Config struct {
	// Backend selects the lock store: memory, redis, postgres or sqlite.
	Backend string `yaml:"backend"`
	// Prefix must match the prefix the services use, or lockctl looks at
	// different keys.
	Prefix string `yaml:"prefix"`

	Redis struct {
		Addr             string        `yaml:"addr"`
		Username         string        `yaml:"username"`
		Password         string        `yaml:"password"`
		DB               int           `yaml:"db"`
		OperationTimeout time.Duration `yaml:"operation_timeout"`
	} `yaml:"redis"`

	Postgres struct {
		DSN   string `yaml:"dsn"`
		Table string `yaml:"table"`
	} `yaml:"postgres"`

	SQLite struct {
		Path  string `yaml:"path"`
		Table string `yaml:"table"`
	} `yaml:"sqlite"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Log struct {
		Verbosity int `yaml:"verbosity"`
	} `yaml:"log"`
}

func defaultConfig() Config {
	var c Config
	c.Backend = backendRedis
	c.Redis.Addr = "localhost:6379"
	c.Redis.OperationTimeout = 5 * time.Second
	c.HTTP.Addr = ":8080"
	return c
}

// loadConfig reads the YAML file at path over the defaults. An empty path
// returns the defaults.
func loadConfig(path string) (Config, error) {
	c := defaultConfig()
	if path == "" {
		return c, c.validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, c.validate()
}

func (c Config) validate() error {
	switch c.Backend {
	case backendMemory:
	case backendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required for backend %q", c.Backend)
		}
	case backendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("config: postgres.dsn is required for backend %q", c.Backend)
		}
	case backendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("config: sqlite.path is required for backend %q", c.Backend)
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	return nil
}
