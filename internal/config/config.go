// Package config loads qtermd's on-disk configuration and keeps its
// accepted-token set hot-reloadable without a restart.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qterm/qterm/internal/wire"
)

// Config is the on-disk YAML shape for qtermd serve.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	Shell           string        `yaml:"shell"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	KeepAlive       time.Duration `yaml:"keep_alive"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	BanThreshold    int           `yaml:"ban_threshold"`
	TokensFile      string        `yaml:"tokens_file"`
	CertFile        string        `yaml:"cert_file"`
	KeyFile         string        `yaml:"key_file"`
}

// Default returns the built-in defaults (spec §6 admission defaults),
// applied before any file on disk is read.
func Default() Config {
	return Config{
		ListenAddr:      "0.0.0.0:7421",
		Shell:           os.Getenv("SHELL"),
		IdleTimeout:     30 * time.Second,
		KeepAlive:       5 * time.Second,
		RateLimitPerSec: 5.0 / 60.0,
		RateLimitBurst:  5,
		BanThreshold:    3,
	}
}

// Load reads a YAML config file, overlaying it onto Default(). A missing
// file is not an error — qtermd runs on defaults alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// TokenFile is the on-disk shape of the accepted AuthToken allow-list,
// one hex-encoded token per entry.
type TokenFile struct {
	Tokens []string `yaml:"tokens"`
}

// LoadTokens reads and parses an allow-list file into AuthTokens.
func LoadTokens(path string) ([]wire.AuthToken, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokens file %s: %w", path, err)
	}
	var tf TokenFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse tokens file %s: %w", path, err)
	}
	tokens := make([]wire.AuthToken, 0, len(tf.Tokens))
	for _, hexTok := range tf.Tokens {
		tok, err := wire.AuthTokenFromHex(hexTok)
		if err != nil {
			return nil, fmt.Errorf("tokens file %s: %w", path, err)
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}
