package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/termdeck/termdeck/internal/config"
	"github.com/termdeck/termdeck/internal/daemon"
	"github.com/termdeck/termdeck/internal/journal"
	"github.com/termdeck/termdeck/internal/target"
)

func main() {
	cfg := config.DefaultConfig()
	configPath := flag.String("config", "", "YAML config file")
	flag.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "HTTP listen address")
	flag.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "SQLite journal path")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	flag.Parse()

	if *configPath != "" {
		loaded, err := config.LoadFile(cfg, *configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}

	level := &slog.LevelVar{}
	level.Set(parseLevel(cfg.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *configPath != "" {
		base := cfg
		go func() {
			err := config.Watch(ctx, base, *configPath, logger, func(next config.Config) {
				// Listen address and journal path need a restart; the
				// log level applies live.
				level.Set(parseLevel(next.LogLevel))
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	store, err := journal.Open(ctx, cfg.JournalPath)
	if err != nil {
		fatal(err)
	}
	defer store.Close() //nolint:errcheck

	if err := journal.ApplyMigrations(ctx, store.DB()); err != nil {
		fatal(err)
	}

	recorder := journal.NewRecorder(store, logger)
	defer recorder.Close()

	startRetentionLoop(ctx, store, cfg, logger)

	executor := target.NewExecutor(cfg)
	manager := daemon.NewManager(cfg, logger, executor, recorder)
	srv := daemon.NewServer(cfg, logger, manager, store)
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func startRetentionLoop(ctx context.Context, store *journal.Store, cfg config.Config, logger *slog.Logger) {
	if cfg.JournalRetention <= 0 {
		return
	}
	run := func() {
		cutoff := time.Now().UTC().Add(-cfg.JournalRetention)
		runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		deleted, err := store.DeleteEventsBefore(runCtx, cutoff)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("journal retention purge failed", "error", err)
			return
		}
		if deleted > 0 {
			logger.Info("journal retention purge", "deleted", deleted)
		}
	}

	run()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "termdeckd: %v\n", err)
	os.Exit(1)
}
