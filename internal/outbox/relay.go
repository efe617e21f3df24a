package outbox // 发件箱模式：通知事件先落 outbox_messages，再由中继发布到 RabbitMQ

import (
	"context"
	"sync"
	"time"

	"ats-workflow/internal/config"
	"ats-workflow/internal/metrics"
	"ats-workflow/internal/storage/models"
	"ats-workflow/internal/tracing"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPollingInterval = 5 * time.Second // 默认轮询 outbox 表的间隔
	defaultBatchSize       = 10              // 每次轮询处理的消息数
	defaultMaxRetries      = 5               // 发布失败的最大重试次数
)

// Publisher 消息发布器，由 storage.RabbitMQ 实现
type Publisher interface {
	PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error
}

// MessageRelay 轮询 outbox 表并将消息发布到 RabbitMQ
type MessageRelay struct {
	db              *gorm.DB
	publisher       Publisher
	logger          zerolog.Logger
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	now             func() time.Time
	tracer          trace.Tracer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMessageRelay 按 rabbitmq 配置创建中继，无效值使用默认
func NewMessageRelay(db *gorm.DB, publisher Publisher, cfg config.RabbitMQConfig, logger zerolog.Logger) *MessageRelay {
	r := &MessageRelay{
		db:              db,
		publisher:       publisher,
		logger:          logger,
		pollingInterval: config.GetDuration(cfg.PollingInterval, defaultPollingInterval),
		batchSize:       cfg.BatchSize,
		maxRetries:      cfg.MaxRetries,
		now:             time.Now,
		tracer:          otel.Tracer("ats-workflow/outbox-relay"),
	}
	if r.pollingInterval <= 0 {
		r.pollingInterval = defaultPollingInterval
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxRetries <= 0 {
		r.maxRetries = defaultMaxRetries
	}
	return r
}

// Start 在后台开始轮询，ctx 取消或调用 Stop 时退出
func (r *MessageRelay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.logger.Info().Dur("interval", r.pollingInterval).Int("batch_size", r.batchSize).Msg("MessageRelay starting...")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.pollingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.logger.Info().Msg("MessageRelay stopped.")
				return
			case <-ticker.C:
				if _, err := r.ProcessPending(ctx); err != nil && ctx.Err() == nil {
					r.logger.Error().Err(err).Msg("处理 outbox 消息失败")
				}
			}
		}
	}()
}

// Stop 停止轮询并等待当前批次结束
func (r *MessageRelay) Stop() {
	if r.cancel == nil {
		return
	}
	r.logger.Info().Msg("MessageRelay stopping...")
	r.cancel()
	r.wg.Wait()
}

// applyPublishResult 根据发布结果更新消息状态
// 失败时累加重试次数，达到上限后标记为 FAILED
func applyPublishResult(msg *models.OutboxMessage, err error, now time.Time, maxRetries int) {
	if err != nil {
		msg.RetryCount++
		msg.ErrorMessage = tracing.TruncateString(err.Error(), tracing.DefaultMaxLength)
		if msg.RetryCount >= maxRetries {
			msg.Status = models.OutboxStatusFailed
		}
		return
	}
	msg.Status = models.OutboxStatusSent
	processed := now
	msg.ProcessedAt = &processed
	msg.ErrorMessage = ""
}

// ProcessPending 处理一批待发布的消息，返回处理条数
func (r *MessageRelay) ProcessPending(ctx context.Context) (int, error) {
	var messages []models.OutboxMessage

	// 空轮询不创建 span
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}
	defer tx.Rollback()

	// SKIP LOCKED 让多个实例可以并行处理不同的行
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", models.OutboxStatusPending).
		Order("created_at asc").
		Limit(r.batchSize).
		Find(&messages).Error
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, tx.Commit().Error
	}

	ctx, span := r.tracer.Start(ctx, "outbox.ProcessBatch",
		trace.WithAttributes(attribute.Int("messaging.batch.message_count", len(messages))),
	)
	defer span.End()

	for i := range messages {
		msg := &messages[i]
		err := r.publisher.PublishMessage(ctx, msg.TargetExchange, msg.TargetRoutingKey, []byte(msg.Payload), true)
		applyPublishResult(msg, err, r.now(), r.maxRetries)
		if err != nil {
			metrics.Deliveries.WithLabelValues("rabbitmq", "error").Inc()
			r.logger.Warn().Err(err).
				Uint64("outbox_id", msg.ID).
				Str("event_id", msg.EventID).
				Int("retry_count", msg.RetryCount).
				Str("status", msg.Status).
				Msg("outbox 消息发布失败")
		} else {
			metrics.Deliveries.WithLabelValues("rabbitmq", "ok").Inc()
		}

		// 更新失败时整个事务回滚，消息在下一次轮询时重新处理
		if err := tx.Save(msg).Error; err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
			return 0, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return 0, err
	}
	r.logger.Debug().Int("count", len(messages)).Msg("outbox 批次已处理")
	return len(messages), nil
}
