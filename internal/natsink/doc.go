// Package natsink publishes alerts to NATS subjects. It implements
// dispatch.Channel so a subject can be configured as a destination next to
// Telegram chats.
//
// Each message carries the rendered text and the event as JSON. The
// Nats-Msg-Id header is set to the event ID so JetStream streams can
// deduplicate redelivered alerts.
package natsink
