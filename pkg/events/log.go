package events

import (
	"context"

	"github.com/csremote/broker/pkg/logger"
	"github.com/goccy/go-json"
)

// LogPublisher writes events as audit log lines.
type LogPublisher struct {
	log *logger.Logger
}

func NewLogPublisher(log *logger.Logger) *LogPublisher {
	return &LogPublisher{log: log.Extend(log.With().Str(logger.ChannelField, "audit"))}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.log.Info().Str("topic", topic).RawJSON("event", data).Msg("audit")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// NoopPublisher is a Publisher that does nothing.
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(context.Context, string, any) error { return nil }
func (n *NoopPublisher) Close() error                               { return nil }
