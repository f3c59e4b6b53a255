package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "termdeck.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFileOverlaysOntoDefaults(t *testing.T) {
	path := writeConfig(t, `
tmux_binary: /opt/tmux/bin/tmux
listen_addr: 127.0.0.1:9000
auth_token: secret
connect_timeout: 10s
retry_backoff: ["100ms", "500ms", "2s"]
output_queue_size: 64
log_level: debug
`)
	cfg, err := LoadFile(DefaultConfig(), path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.TmuxBinary != "/opt/tmux/bin/tmux" {
		t.Fatalf("TmuxBinary = %q", cfg.TmuxBinary)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" || cfg.AuthToken != "secret" {
		t.Fatalf("listen/auth not applied: %+v", cfg)
	}
	if cfg.ConnectTimeout != 10*time.Second {
		t.Fatalf("ConnectTimeout = %v", cfg.ConnectTimeout)
	}
	if len(cfg.RetryBackoff) != 3 || cfg.RetryBackoff[2] != 2*time.Second {
		t.Fatalf("RetryBackoff = %v", cfg.RetryBackoff)
	}
	if cfg.OutputQueueSize != 64 || cfg.LogLevel != "debug" {
		t.Fatalf("queue/log not applied: %+v", cfg)
	}
	// Untouched fields keep their defaults.
	if cfg.CommandTimeout != DefaultConfig().CommandTimeout {
		t.Fatalf("CommandTimeout = %v", cfg.CommandTimeout)
	}
	if cfg.JournalRetention != 7*24*time.Hour {
		t.Fatalf("JournalRetention = %v", cfg.JournalRetention)
	}
}

func TestLoadFileEmptyFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := LoadFile(DefaultConfig(), path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	want := DefaultConfig()
	if cfg.TmuxBinary != want.TmuxBinary || cfg.ListenAddr != want.ListenAddr {
		t.Fatalf("defaults disturbed: %+v", cfg)
	}
}

func TestLoadFileRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "command_timeout: soon\n")
	if _, err := LoadFile(DefaultConfig(), path); err == nil {
		t.Fatalf("expected error for bad duration")
	}
}

func TestLoadFileRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "tmux_binary: [unterminated\n")
	if _, err := LoadFile(DefaultConfig(), path); err == nil {
		t.Fatalf("expected error for bad yaml")
	}
}

func TestLoadFileMissingFile(t *testing.T) {
	if _, err := LoadFile(DefaultConfig(), filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
