package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/derivwatch/internal/coordinator"
	"github.com/rickgao/derivwatch/internal/detector"
	"github.com/rickgao/derivwatch/internal/telegram"
)

// API is the subset of the Bot API the listener uses. Satisfied by *telegram.Client.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
	SendMessage(ctx context.Context, req telegram.SendMessageRequest) (*telegram.Message, error)
}

// StatusSource reports coordinator state. Satisfied by *coordinator.Coordinator.
type StatusSource interface {
	Status() coordinator.Status
}

// Config holds listener settings.
type Config struct {
	PollTimeout  time.Duration
	ErrorBackoff time.Duration // Wait after a failed poll (default: 5s)
	AllowedChats []string      // Numeric chat ids or @channel names
}

// Bot polls for commands and replies with watcher state.
type Bot struct {
	cfg     Config
	api     API
	status  StatusSource
	rules   map[string]detector.Rule
	allowed map[string]bool
	logger  *slog.Logger

	offset int64
}

// New creates a Bot.
func New(cfg Config, api API, status StatusSource, rules map[string]detector.Rule, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	allowed := make(map[string]bool, len(cfg.AllowedChats))
	for _, c := range cfg.AllowedChats {
		allowed[strings.ToLower(c)] = true
	}
	return &Bot{
		cfg:     cfg,
		api:     api,
		status:  status,
		rules:   rules,
		allowed: allowed,
		logger:  logger,
	}
}

// Run polls until ctx is cancelled. Poll failures are logged and retried,
// except terminal Bot API errors, which are returned.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("telegram command listener started", "allowed_chats", len(b.allowed))

	for {
		updates, err := b.api.GetUpdates(ctx, b.offset, b.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Info("telegram command listener stopped")
				return nil
			}
			wait := b.cfg.ErrorBackoff
			var apiErr *telegram.APIError
			if errors.As(err, &apiErr) {
				if apiErr.IsTerminal() {
					return fmt.Errorf("get updates: %w", err)
				}
				if apiErr.RetryAfter > 0 {
					wait = apiErr.RetryAfter
				}
			}
			b.logger.Warn("get updates failed", "err", err, "wait", wait)

			select {
			case <-ctx.Done():
				b.logger.Info("telegram command listener stopped")
				return nil
			case <-time.After(wait):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
			b.handle(ctx, u)
		}

		if ctx.Err() != nil {
			b.logger.Info("telegram command listener stopped")
			return nil
		}
	}
}

func (b *Bot) handle(ctx context.Context, u telegram.Update) {
	msg := u.Message
	if msg == nil || msg.Text == "" {
		return
	}
	cmd, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	if !b.authorized(msg.Chat) {
		b.logger.Debug("ignoring command from unauthorized chat", "chat", msg.Chat.ID, "command", cmd)
		return
	}

	text, ok := b.Reply(cmd)
	if !ok {
		return
	}

	_, err := b.api.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID:                strconv.FormatInt(msg.Chat.ID, 10),
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		b.logger.Warn("command reply failed", "chat", msg.Chat.ID, "command", cmd, "err", err)
		return
	}
	b.logger.Debug("command answered", "chat", msg.Chat.ID, "command", cmd)
}

func (b *Bot) authorized(c telegram.Chat) bool {
	if b.allowed[strconv.FormatInt(c.ID, 10)] {
		return true
	}
	return c.Username != "" && b.allowed["@"+strings.ToLower(c.Username)]
}

// Reply renders the answer to cmd. ok is false for unknown commands.
func (b *Bot) Reply(cmd string) (text string, ok bool) {
	switch cmd {
	case "status":
		return renderStatus(b.status.Status()), true
	case "list":
		return renderList(b.status.Status()), true
	case "rules":
		return renderRules(b.rules), true
	case "help", "start":
		return helpText, true
	default:
		return "", false
	}
}

// parseCommand extracts the command name from "/cmd@botname args".
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	word := strings.Fields(text[1:])
	if len(word) == 0 {
		return "", false
	}
	cmd, _, _ := strings.Cut(word[0], "@")
	if cmd == "" {
		return "", false
	}
	return strings.ToLower(cmd), true
}
