// Package messaging 提供帧审计事件的 Kafka 发布实现
package messaging

import (
	"context"
	"log/slog"

	"github.com/wyfcoding/fixit/pkg/mq"
)

// KafkaEventPublisher 基于 Kafka 的事件发布器，实现 domain.EventPublisher
type KafkaEventPublisher struct {
	producer *mq.KafkaProducer
	topic    string
	logger   *slog.Logger
}

// NewKafkaEventPublisher 创建事件发布器
func NewKafkaEventPublisher(producer *mq.KafkaProducer, topic string, logger *slog.Logger) *KafkaEventPublisher {
	return &KafkaEventPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// Publish 发布事件。事件流是旁路审计数据，发布失败记日志但不影响线路转发。
func (p *KafkaEventPublisher) Publish(ctx context.Context, eventType, key string, event any) error {
	payload := map[string]any{
		"event_type": eventType,
		"payload":    event,
	}
	if err := p.producer.SendMessage(ctx, p.topic, key, payload); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish frame event",
			"event_type", eventType,
			"key", key,
			"error", err)
		return err
	}
	return nil
}
