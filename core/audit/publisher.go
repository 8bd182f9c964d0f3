package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/kochabx/vidchat/core/session"
	"github.com/kochabx/vidchat/log"
	kafkastore "github.com/kochabx/vidchat/store/kafka"
)

// StreamConfig 安全事件发布到 Kafka 主题
type StreamConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Topic   string `mapstructure:"topic" default:"vidchat.security-events"`

	kafkastore.Config `mapstructure:",squash"`
}

// MessageWriter 由 *kafka.Writer 实现
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher 实现 session.EventSink，按标识符分区保证同一用户事件有序
type Publisher struct {
	w      MessageWriter
	logger *log.Logger
}

var _ session.EventSink = (*Publisher)(nil)

func NewPublisher(w MessageWriter, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.G
	}
	return &Publisher{w: w, logger: logger.Component("audit.stream")}
}

func (p *Publisher) Write(ctx context.Context, event session.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := event.Identifier
	if key == "" {
		key = event.ID
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish security event: %w", err)
	}
	p.logger.Debug().Str("event_id", event.ID).Str("event", string(event.Type)).Msg("security event published")
	return nil
}
