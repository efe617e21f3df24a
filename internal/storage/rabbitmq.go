package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ats-workflow/internal/config"
	"ats-workflow/internal/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ErrPublishNacked broker 拒绝了消息
var ErrPublishNacked = errors.New("rabbitmq: publish not confirmed")

// RabbitMQ 通知事件发布端，单通道 + publisher confirm
// outbox relay 串行发布，不需要通道池
type RabbitMQ struct {
	conn   *amqp.Connection
	mu     sync.Mutex
	ch     *amqp.Channel
	cfg    *config.RabbitMQConfig
	logger zerolog.Logger
}

func NewRabbitMQ(cfg *config.RabbitMQConfig) (*RabbitMQ, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL配置不能为空")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("无法连接到RabbitMQ服务器: %w", err)
	}
	r := &RabbitMQ{conn: conn, cfg: cfg, logger: logger.Component("rabbitmq")}
	if _, err := r.channel(); err != nil {
		conn.Close()
		return nil, err
	}
	r.logger.Info().Str("exchange", cfg.NotificationExchange).Msg("成功连接到RabbitMQ服务器")
	return r, nil
}

// channel 返回可用通道，已关闭时重新打开并开启 confirm 模式；调用方持有 mu 或处于初始化阶段
func (r *RabbitMQ) channel() (*amqp.Channel, error) {
	if r.ch != nil && !r.ch.IsClosed() {
		return r.ch, nil
	}
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("创建RabbitMQ通道失败: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("开启 publisher confirm 失败: %w", err)
	}
	r.ch = ch
	return ch, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil && !r.ch.IsClosed() {
		_ = r.ch.Close()
	}
	return r.conn.Close()
}

// SetupNotificationTopology 声明 topic exchange；配置了队列时一并声明并绑定
func (r *RabbitMQ) SetupNotificationTopology() error {
	if r.cfg.NotificationExchange == "" {
		return fmt.Errorf("rabbitmq.notification_exchange 不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, err := r.channel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(r.cfg.NotificationExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("声明exchange失败: %w", err)
	}
	if r.cfg.NotificationQueue == "" {
		return nil
	}
	if _, err := ch.QueueDeclare(r.cfg.NotificationQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("声明队列失败: %w", err)
	}
	if err := ch.QueueBind(r.cfg.NotificationQueue, r.cfg.NotificationRoutingKey, r.cfg.NotificationExchange, false, nil); err != nil {
		return fmt.Errorf("绑定队列到exchange失败: %w", err)
	}
	r.logger.Info().
		Str("exchange", r.cfg.NotificationExchange).
		Str("queue", r.cfg.NotificationQueue).
		Str("routing_key", r.cfg.NotificationRoutingKey).
		Msg("通知拓扑已就绪")
	return nil
}

// notificationPublishing 通知事件的 AMQP 消息
func notificationPublishing(body []byte, persistent bool, now time.Time) amqp.Publishing {
	mode := amqp.Transient
	if persistent {
		mode = amqp.Persistent
	}
	return amqp.Publishing{
		DeliveryMode: mode,
		ContentType:  "application/json",
		Type:         "workflow.notification",
		Body:         body,
		Timestamp:    now,
	}
}

// PublishMessage 发布并等待 broker 确认，未确认返回 ErrPublishNacked
func (r *RabbitMQ) PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, err := r.channel()
	if err != nil {
		return err
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchangeName, routingKey, false, false,
		notificationPublishing(message, persistent, time.Now()))
	if err != nil {
		return fmt.Errorf("发布消息失败: %w", err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("等待发布确认失败: %w", err)
	}
	if !acked {
		return ErrPublishNacked
	}
	return nil
}
