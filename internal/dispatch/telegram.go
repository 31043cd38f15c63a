package dispatch

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/rickgao/derivwatch/internal/telegram"
)

// TelegramChannel sends messages through the Bot API.
type TelegramChannel struct {
	client *telegram.Client
}

// NewTelegramChannel wraps a Bot API client.
func NewTelegramChannel(client *telegram.Client) *TelegramChannel {
	return &TelegramChannel{client: client}
}

func (c *TelegramChannel) Name() string { return "telegram" }

// Send posts msg to the chat id or @channel in target.
func (c *TelegramChannel) Send(ctx context.Context, target string, msg Message) (string, error) {
	m, err := c.client.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID:                target,
		Text:                  msg.Text,
		ParseMode:             msg.ParseMode,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return "", classifyTelegram(err)
	}
	return strconv.FormatInt(m.MessageID, 10), nil
}

// classifyTelegram maps Bot API failures onto send error kinds.
func classifyTelegram(err error) error {
	var apiErr *telegram.APIError
	if !errors.As(err, &apiErr) {
		return Transient(err)
	}
	switch {
	case apiErr.IsRateLimited():
		return RateLimited(apiErr.RetryAfter, err)
	case apiErr.IsRetryable():
		return Transient(err)
	case apiErr.StatusCode == http.StatusRequestTimeout:
		return Transient(err)
	default:
		return Permanent(err)
	}
}
