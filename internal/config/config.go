package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	TmuxBinary       string
	ListenAddr       string
	AuthToken        string
	JournalPath      string
	JournalRetention time.Duration
	ConnectTimeout   time.Duration
	CommandTimeout   time.Duration
	RetryBackoff     []time.Duration
	OutputQueueSize  int
	LogLevel         string
}

func DefaultConfig() Config {
	return Config{
		TmuxBinary:       "tmux",
		ListenAddr:       "127.0.0.1:7320",
		JournalPath:      defaultJournalPath(),
		JournalRetention: 7 * 24 * time.Hour,
		ConnectTimeout:   5 * time.Second,
		CommandTimeout:   5 * time.Second,
		RetryBackoff:     []time.Duration{250 * time.Millisecond, 1 * time.Second},
		OutputQueueSize:  128,
		LogLevel:         "info",
	}
}

func defaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "termdeck.db"
	}
	return filepath.Join(home, ".local", "state", "termdeck", "journal.db")
}

// fileConfig is the YAML shape. Durations are strings in Go duration
// syntax ("5s", "250ms"); zero values fall back to the base config.
type fileConfig struct {
	TmuxBinary       string   `yaml:"tmux_binary"`
	ListenAddr       string   `yaml:"listen_addr"`
	AuthToken        string   `yaml:"auth_token"`
	JournalPath      string   `yaml:"journal_path"`
	JournalRetention string   `yaml:"journal_retention"`
	ConnectTimeout   string   `yaml:"connect_timeout"`
	CommandTimeout   string   `yaml:"command_timeout"`
	RetryBackoff     []string `yaml:"retry_backoff"`
	OutputQueueSize  int      `yaml:"output_queue_size"`
	LogLevel         string   `yaml:"log_level"`
}

// LoadFile overlays the YAML file at path onto base. Unset fields keep
// their base values.
func LoadFile(base Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := base
	if fc.TmuxBinary != "" {
		cfg.TmuxBinary = fc.TmuxBinary
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.AuthToken != "" {
		cfg.AuthToken = fc.AuthToken
	}
	if fc.JournalPath != "" {
		cfg.JournalPath = fc.JournalPath
	}
	if fc.OutputQueueSize > 0 {
		cfg.OutputQueueSize = fc.OutputQueueSize
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if err := overlayDuration(&cfg.JournalRetention, "journal_retention", fc.JournalRetention); err != nil {
		return Config{}, err
	}
	if err := overlayDuration(&cfg.ConnectTimeout, "connect_timeout", fc.ConnectTimeout); err != nil {
		return Config{}, err
	}
	if err := overlayDuration(&cfg.CommandTimeout, "command_timeout", fc.CommandTimeout); err != nil {
		return Config{}, err
	}
	if len(fc.RetryBackoff) > 0 {
		backoff := make([]time.Duration, 0, len(fc.RetryBackoff))
		for _, raw := range fc.RetryBackoff {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return Config{}, fmt.Errorf("config retry_backoff: %q: %w", raw, err)
			}
			backoff = append(backoff, d)
		}
		cfg.RetryBackoff = backoff
	}
	return cfg, nil
}

func overlayDuration(dst *time.Duration, name, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config %s: %q: %w", name, raw, err)
	}
	*dst = d
	return nil
}
