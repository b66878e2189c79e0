package notify

import (
	"context"

	"github.com/joeblew999/plat-fields/internal/logger"
	"github.com/joeblew999/plat-fields/internal/service"
)

// LogSender writes every notification to the log.
type LogSender struct {
	Log logger.Logger
}

func (LogSender) Name() string { return "log" }

func (s LogSender) Send(_ context.Context, m Message) error {
	s.Log.Info("notification", "kind", m.Kind, "to", m.To, "text", m.Text())
	return nil
}

// BusSender publishes notifications on the event bus so connected clients of
// the recipient see them on their event stream.
type BusSender struct {
	Bus *service.EventBus
}

func (BusSender) Name() string { return "bus" }

func (s BusSender) Send(_ context.Context, m Message) error {
	s.Bus.Publish(service.Event{
		Resource: "notifications",
		Action:   string(m.Kind),
		Message:  m.Text(),
		Users:    []string{m.To},
	})
	return nil
}
