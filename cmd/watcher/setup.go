package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/derivwatch/internal/config"
	"github.com/rickgao/derivwatch/internal/dispatch"
	"github.com/rickgao/derivwatch/internal/natsink"
	"github.com/rickgao/derivwatch/internal/telegram"
)

const startupAttempts = 3

var startupWait = 2 * time.Second

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// usesChannel reports whether any destination is on the named channel.
func usesChannel(cfg *config.Config, name string) bool {
	for _, d := range cfg.Destinations {
		if d.Channel == name {
			return true
		}
	}
	return false
}

// newChannels connects every channel the destinations use. The returned
// Telegram client is nil when no destination uses Telegram.
func newChannels(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]dispatch.Channel, *telegram.Client, func(), error) {
	var channels []dispatch.Channel
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var tg *telegram.Client
	if usesChannel(cfg, "telegram") {
		tg = newTelegramClient(cfg.Telegram, logger)

		logger.Info("checking telegram bot")
		var me *telegram.User
		err := retryStartup(ctx, logger, "telegram getMe", func(ctx context.Context) error {
			var err error
			me, err = tg.GetMe(ctx)
			return err
		})
		if err != nil {
			return nil, nil, func() {}, fmt.Errorf("telegram unreachable: %w", err)
		}
		logger.Info("telegram bot ready", "username", me.Username, "id", me.ID)
		channels = append(channels, dispatch.NewTelegramChannel(tg))
	}

	if usesChannel(cfg, "nats") {
		logger.Info("connecting to nats", "url", cfg.NATS.URL)
		nc, err := natsink.Connect(cfg.NATS.URL, cfg.NATS.Name, logger)
		if err != nil {
			closeAll()
			return nil, nil, func() {}, err
		}
		closers = append(closers, func() {
			if err := nc.Drain(); err != nil {
				logger.Warn("nats drain", "err", err)
			}
		})
		channels = append(channels, natsink.NewSink(nc, logger))
	}

	return channels, tg, closeAll, nil
}

func newTelegramClient(cfg config.TelegramConfig, logger *slog.Logger) *telegram.Client {
	return telegram.NewClient(cfg.Token,
		telegram.WithBaseURL(cfg.BaseURL),
		telegram.WithTimeout(cfg.Timeout),
		telegram.WithLogger(logger),
	)
}

// retryStartup runs fn up to startupAttempts times.
func retryStartup(ctx context.Context, logger *slog.Logger, what string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= startupAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == startupAttempts {
			break
		}
		logger.Warn("startup check failed, retrying", "check", what, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startupWait):
		}
	}
	return err
}

// unruledMetrics lists the fetched metrics no rule evaluates. Their absence
// does not fail an instrument.
func unruledMetrics(cfg *config.Config) map[string]bool {
	out := make(map[string]bool)
	for name := range cfg.MetricFields {
		if _, ok := cfg.Rules[name]; !ok {
			out[name] = true
		}
	}
	return out
}

// allowedChats lists the chats the command listener answers: every
// Telegram destination plus bot.allowed_chats.
func allowedChats(cfg *config.Config) []string {
	var chats []string
	for _, d := range cfg.Destinations {
		if d.Channel == "telegram" {
			chats = append(chats, d.Target)
		}
	}
	for _, id := range cfg.Bot.AllowedChats {
		chats = append(chats, strconv.FormatInt(id, 10))
	}
	return chats
}
