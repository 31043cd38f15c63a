// Package bot answers read-only Telegram commands from authorized chats.
//
// Commands: /status, /list, /rules and /help. Updates are received by
// getUpdates long polling; messages from other chats are ignored.
package bot
