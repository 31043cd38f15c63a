package natsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rickgao/derivwatch/internal/dispatch"
)

// ErrDisconnected is returned while the connection is down.
var ErrDisconnected = errors.New("nats not connected")

// Conn is the subset of *nats.Conn used by Sink.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	IsConnected() bool
}

// Sink publishes alerts on a NATS connection.
type Sink struct {
	nc     Conn
	logger *slog.Logger
}

// NewSink creates a Sink.
func NewSink(nc Conn, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{nc: nc, logger: logger}
}

func (s *Sink) Name() string { return "nats" }

// Send publishes msg on subject and waits for the server to acknowledge the
// flush. The returned message ID is the event ID.
func (s *Sink) Send(ctx context.Context, subject string, msg dispatch.Message) (string, error) {
	if !s.nc.IsConnected() {
		return "", dispatch.Transient(ErrDisconnected)
	}

	data, err := json.Marshal(dispatch.NewPayload(msg))
	if err != nil {
		return "", dispatch.Permanent(fmt.Errorf("marshal payload: %w", err))
	}

	id := msg.Event.ID.String()
	header := nats.Header{}
	header.Set(nats.MsgIdHdr, id)
	header.Set("Severity", string(msg.Event.Severity))

	if err := s.nc.PublishMsg(&nats.Msg{Subject: subject, Data: data, Header: header}); err != nil {
		if errors.Is(err, nats.ErrBadSubject) || errors.Is(err, nats.ErrMaxPayload) {
			return "", dispatch.Permanent(fmt.Errorf("publish %s: %w", subject, err))
		}
		return "", dispatch.Transient(fmt.Errorf("publish %s: %w", subject, err))
	}
	if err := s.nc.FlushWithContext(ctx); err != nil {
		return "", dispatch.Transient(fmt.Errorf("flush %s: %w", subject, err))
	}

	s.logger.Debug("alert published", "subject", subject, "event", id)
	return id, nil
}

// Connect dials NATS and keeps reconnecting for the life of the process.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(
		url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
				return
			}
			logger.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}
