// Package telegram is a minimal Telegram Bot API client.
//
// Endpoint: https://api.telegram.org/bot<token>/<method>
//
// Methods used: getMe, sendMessage, getUpdates. Every response carries
// {"ok":bool}; failures add error_code, description and, for 429,
// parameters.retry_after in seconds.
package telegram
