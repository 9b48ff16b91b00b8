// Package console is a delivery sink that writes fired notifications to the
// structured log. It is the default sink for hosts without a chat transport.
package console

import (
	"context"

	kit "pookie/internal/transport"
	logx "pookie/pkg/logx"
)

type Sink struct {
	log logx.Logger
}

func New(log logx.Logger) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{log: log}
}

func (s *Sink) Name() string { return "console" }

func (s *Sink) Send(ctx context.Context, m kit.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields := []logx.Field{
		logx.String("id", m.ID),
		logx.String("kind", m.Kind),
		logx.String("title", m.Title),
		logx.String("body", m.Body),
		logx.Int("priority", m.Priority),
	}
	if m.Channel != "" {
		fields = append(fields, logx.String("channel", m.Channel))
	}
	if id := m.Data["eventId"]; id != "" {
		fields = append(fields, logx.String("event_id", id))
	}
	s.log.Info("notification", fields...)
	return nil
}
