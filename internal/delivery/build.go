package delivery

import (
	"fmt"
	"strings"
	"time"

	"ats-workflow/internal/config"
	"ats-workflow/internal/ratelimit"

	"github.com/rs/zerolog"
)

// Build 按 delivery.channels 组装通道；outbox 为 nil 时不能启用 outbox 通道
// 返回的 closeFn 关闭 kafka 生产者
func Build(cfg *config.Config, outbox OutboxWriter, logger zerolog.Logger) (*FanOut, func() error, error) {
	var (
		channels []Channel
		closers  []func() error
	)
	closeAll := func() error {
		var first error
		for _, c := range closers {
			if err := c(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	for _, name := range cfg.Delivery.Channels {
		switch strings.ToLower(name) {
		case "teams":
			limiter := ratelimit.NewLimiter(cfg.Teams.RatePerMinute, cfg.Teams.Burst).
				WithRetryPolicy(config.GetDuration(cfg.Teams.RetryWait, time.Second), cfg.Teams.MaxRetries)
			timeout := config.GetDuration(cfg.Teams.Timeout, defaultTeamsTimeout)
			channels = append(channels, NewTeamsChannel(cfg.Teams.WebhookURL, timeout, limiter))
		case "outbox":
			if outbox == nil {
				_ = closeAll()
				return nil, nil, fmt.Errorf("outbox 通道需要 MySQL")
			}
			channels = append(channels, NewOutboxChannel(outbox, cfg.RabbitMQ))
		case "kafka":
			producer, err := NewKafkaProducer(cfg.Kafka)
			if err != nil {
				_ = closeAll()
				return nil, nil, err
			}
			kc := NewKafkaChannel(producer, cfg.Kafka.Topic)
			channels = append(channels, kc)
			closers = append(closers, kc.Close)
		default:
			_ = closeAll()
			return nil, nil, fmt.Errorf("未知的投递通道: %q", name)
		}
	}

	timeout := config.GetDuration(cfg.Delivery.Timeout, 0)
	fan := NewFanOut(channels, cfg.Delivery.Workers, timeout, logger)
	logger.Info().Strs("channels", fan.Channels()).Msg("通知投递通道已就绪")
	return fan, closeAll, nil
}
