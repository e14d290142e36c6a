// Package config loads engine settings from an optional YAML file, filling
// in defaults for anything unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Consensus ConsensusConfig `yaml:"consensus"`
	Storage   StorageConfig   `yaml:"storage"`
}

type LLMConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  *float64      `yaml:"temperature"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	GatewayURL   string        `yaml:"gateway_url"`
}

type ConsensusConfig struct {
	MaxRounds     int `yaml:"max_rounds"`
	MemoryLimit   int `yaml:"memory_limit"`
	EventBuffer   int `yaml:"event_buffer"`
	QueryCacheLen int `yaml:"query_cache_len"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

func Default() Config {
	return Config{
		LLM: LLMConfig{
			Timeout:      60 * time.Second,
			MaxTokens:    4096,
			MaxRetries:   2,
			RetryBackoff: 500 * time.Millisecond,
		},
		Consensus: ConsensusConfig{
			MaxRounds:     3,
			MemoryLimit:   10,
			EventBuffer:   256,
			QueryCacheLen: 256,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quorum"
	}
	return filepath.Join(home, ".quorum")
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.yaml")
}

// Load reads the config file at path, applying defaults for absent fields.
// A missing file yields the defaults without error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyFloors()
	return cfg, nil
}

func (c *Config) applyFloors() {
	d := Default()
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = d.LLM.Timeout
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = d.LLM.MaxTokens
	}
	if c.LLM.RetryBackoff <= 0 {
		c.LLM.RetryBackoff = d.LLM.RetryBackoff
	}
	if c.Consensus.MaxRounds <= 0 {
		c.Consensus.MaxRounds = d.Consensus.MaxRounds
	}
	if c.Consensus.MemoryLimit <= 0 {
		c.Consensus.MemoryLimit = d.Consensus.MemoryLimit
	}
	if c.Consensus.EventBuffer <= 0 {
		c.Consensus.EventBuffer = d.Consensus.EventBuffer
	}
	if c.Consensus.QueryCacheLen <= 0 {
		c.Consensus.QueryCacheLen = d.Consensus.QueryCacheLen
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = d.Storage.DataDir
	}
}

// DatabasePath returns the sqlite file path under the data directory.
func (c Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataDir, "quorum.db")
}
