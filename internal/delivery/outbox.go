package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"ats-workflow/internal/config"
	"ats-workflow/internal/storage/models"
)

// OutboxWriter 写入 outbox 表，由 storage.MySQL 实现
type OutboxWriter interface {
	EnqueueOutbox(ctx context.Context, msg *models.OutboxMessage) error
}

// OutboxChannel 把通知事件写入 outbox，由 relay 异步发布到 RabbitMQ
type OutboxChannel struct {
	writer     OutboxWriter
	exchange   string
	routingKey string
}

var _ Channel = (*OutboxChannel)(nil)

func NewOutboxChannel(writer OutboxWriter, cfg config.RabbitMQConfig) *OutboxChannel {
	return &OutboxChannel{
		writer:     writer,
		exchange:   cfg.NotificationExchange,
		routingKey: cfg.NotificationRoutingKey,
	}
}

func (o *OutboxChannel) Name() string { return "outbox" }

func (o *OutboxChannel) Deliver(ctx context.Context, env Envelope) error {
	msg, err := newOutboxMessage(env, o.exchange, o.routingKey)
	if err != nil {
		return err
	}
	return o.writer.EnqueueOutbox(ctx, msg)
}

func newOutboxMessage(env Envelope, exchange, routingKey string) (*models.OutboxMessage, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("序列化通知事件失败: %w", err)
	}
	return &models.OutboxMessage{
		EventID:          env.EventID,
		AggregateID:      env.CandidateID.String(),
		EventType:        string(env.Type),
		Payload:          string(payload),
		TargetExchange:   exchange,
		TargetRoutingKey: routingKey,
		Status:           models.OutboxStatusPending,
	}, nil
}
