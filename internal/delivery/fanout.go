package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ats-workflow/internal/metrics"
	"ats-workflow/internal/tracing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("ats-workflow/delivery")

// FanOut 并发投递到所有通道，单个通道失败不影响其他通道
type FanOut struct {
	channels []Channel
	workers  int
	timeout  time.Duration
	logger   zerolog.Logger
}

var _ Channel = (*FanOut)(nil)

func NewFanOut(channels []Channel, workers int, timeout time.Duration, logger zerolog.Logger) *FanOut {
	if workers <= 0 {
		workers = len(channels)
	}
	return &FanOut{channels: channels, workers: workers, timeout: timeout, logger: logger}
}

func (f *FanOut) Name() string { return "fanout" }

// Channels 已配置的通道名
func (f *FanOut) Channels() []string {
	names := make([]string, 0, len(f.channels))
	for _, ch := range f.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Deliver 返回所有失败通道的合并错误
func (f *FanOut) Deliver(ctx context.Context, env Envelope) error {
	if len(f.channels) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "delivery.FanOut", trace.WithAttributes(
		attribute.Int64("notification.id", int64(env.NotificationID)),
		attribute.String("notification.type", string(env.Type)),
		attribute.String("candidate.name", tracing.MaskName(env.CandidateName)),
		attribute.Int("delivery.channels", len(f.channels)),
	))
	defer span.End()

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for _, ch := range f.channels {
		ch := ch
		g.Go(func() error {
			cctx := gctx
			if f.timeout > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(gctx, f.timeout)
				defer cancel()
			}
			if err := ch.Deliver(cctx, env); err != nil {
				metrics.Deliveries.WithLabelValues(ch.Name(), "error").Inc()
				tracing.RecordError(span, err, tracing.ErrorTypeDelivery, attribute.String("delivery.channel", ch.Name()))
				f.logger.Warn().Err(err).Str("channel", ch.Name()).
					Int64("notification_id", int64(env.NotificationID)).Msg("通知投递失败")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
				mu.Unlock()
				return nil
			}
			metrics.Deliveries.WithLabelValues(ch.Name(), "ok").Inc()
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
