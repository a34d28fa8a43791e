// Package config loads loreline's runtime configuration from a JSON config
// file with environment-variable overrides.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Storage StorageConfig
	API     APIConfig
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string // debug, info, warn, error
}

type StorageConfig struct {
	DataDir string
}

type APIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/loreline/config.json, then applies LORELINE_* environment
// overrides. If no API token is configured one is generated and persisted so
// that first run works out of the box.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.API.Token == "" {
		token, err := generateToken()
		if err != nil {
			return Config{}, fmt.Errorf("generating api token: %w", err)
		}
		cfg.API.Token = token
		if err := b.SetString("api.token", token); err != nil {
			return Config{}, fmt.Errorf("persisting api token: %w", err)
		}
	}

	return cfg, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
