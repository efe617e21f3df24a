package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ats-workflow/internal/constants"
	"ats-workflow/internal/logger"
	"ats-workflow/internal/metrics"
	"ats-workflow/internal/tracing"
	"ats-workflow/internal/types"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var gatewayTracer = otel.Tracer("ats-workflow/storage/gateway")

// Gateway 在 CollectionBackend 之上提供类型化的集合读写
// 所有写入都走 Update*：读取、修改、按版本保存，冲突时重读重试
type Gateway struct {
	backend     CollectionBackend
	maxAttempts int
	backoff     time.Duration
	logger      zerolog.Logger
}

type GatewayOption func(*Gateway)

// WithRetry 设置冲突重试次数和间隔
func WithRetry(maxAttempts int, backoff time.Duration) GatewayOption {
	return func(g *Gateway) {
		if maxAttempts > 0 {
			g.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			g.backoff = backoff
		}
	}
}

func WithLogger(l zerolog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

func NewGateway(backend CollectionBackend, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		backend:     backend,
		maxAttempts: constants.DefaultUpdateAttempts,
		backoff:     constants.DefaultUpdateBackoff,
		logger:      logger.Component("storage.gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Backend 底层存储
func (g *Gateway) Backend() CollectionBackend { return g.backend }

// Retrying 返回使用另一组重试参数的副本，共享同一个后端
func (g *Gateway) Retrying(maxAttempts int, backoff time.Duration) *Gateway {
	c := *g
	WithRetry(maxAttempts, backoff)(&c)
	return &c
}

// collection 一次读取的结果；malformed 保存无法解析的元素，写回时原样附加
type collection[T any] struct {
	items     []T
	malformed []json.RawMessage
	version   Version
}

func loadCollection[T any](ctx context.Context, g *Gateway, name string) (collection[T], error) {
	data, version, err := g.backend.Load(ctx, name)
	if err != nil {
		return collection[T]{}, fmt.Errorf("加载集合 %s 失败: %w", name, err)
	}
	c := collection[T]{version: version}
	if len(data) == 0 {
		return c, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		// 整个集合损坏时按空集合处理
		g.logger.Warn().Err(err).Str("collection", name).Msg("集合内容无法解析，按空集合处理")
		return c, nil
	}
	c.items = make([]T, 0, len(raws))
	for i, raw := range raws {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			g.logger.Warn().Err(err).Str("collection", name).Int("index", i).Msg("跳过无法解析的记录")
			c.malformed = append(c.malformed, raw)
			continue
		}
		c.items = append(c.items, item)
	}
	return c, nil
}

func encodeCollection[T any](items []T, malformed []json.RawMessage) ([]byte, error) {
	out := make([]json.RawMessage, 0, len(items)+len(malformed))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	out = append(out, malformed...)
	return json.MarshalIndent(out, "", "    ")
}

// maxMalformedID 原样保留的记录里能读出的最大 id，新记录分配 id 时要避开
func maxMalformedID(raws []json.RawMessage) types.RecordID {
	var max types.RecordID
	for _, raw := range raws {
		var rec struct {
			ID types.RecordID `json:"id"`
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		if rec.ID > max {
			max = rec.ID
		}
	}
	return max
}

// updateCollection 读-改-写循环；fn 每次重试都会在最新数据上重新执行，返回 changed=false 时不写入
func updateCollection[T any](ctx context.Context, g *Gateway, name string, fn func([]T) ([]T, bool, error)) error {
	return updateCollectionWith(ctx, g, name, func(c collection[T]) ([]T, bool, error) {
		return fn(c.items)
	})
}

func updateCollectionWith[T any](ctx context.Context, g *Gateway, name string, fn func(collection[T]) ([]T, bool, error)) error {
	ctx, span := gatewayTracer.Start(ctx, "Gateway.Update",
		trace.WithAttributes(attribute.String("collection", name)))
	defer span.End()

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		span.SetAttributes(attribute.Int("attempts", attempt))

		c, err := loadCollection[T](ctx, g, name)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
			return err
		}
		next, changed, err := fn(c)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		data, err := encodeCollection(next, c.malformed)
		if err != nil {
			return fmt.Errorf("序列化集合 %s 失败: %w", name, err)
		}
		_, err = g.backend.Save(ctx, name, data, c.version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
			return fmt.Errorf("保存集合 %s 失败: %w", name, err)
		}

		metrics.StoreConflicts.WithLabelValues(name).Inc()
		g.logger.Debug().Str("collection", name).Int("attempt", attempt).Msg("集合版本冲突，重读后重试")
		if attempt == g.maxAttempts {
			break
		}
		if err := sleepCtx(ctx, g.backoff); err != nil {
			return err
		}
	}

	err := fmt.Errorf("%s: %w", name, ErrRetriesExhausted)
	tracing.RecordError(span, err, tracing.ErrorTypeConflict)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *Gateway) LoadCandidates(ctx context.Context) ([]types.Candidate, error) {
	c, err := loadCollection[types.Candidate](ctx, g, constants.CollectionCandidates)
	return c.items, err
}

func (g *Gateway) LoadNotifications(ctx context.Context) ([]types.Notification, error) {
	c, err := loadCollection[types.Notification](ctx, g, constants.CollectionNotifications)
	return c.items, err
}

func (g *Gateway) LoadJobs(ctx context.Context) ([]types.Job, error) {
	c, err := loadCollection[types.Job](ctx, g, constants.CollectionJobs)
	return c.items, err
}

// UpdateCandidates 以 CAS 方式修改候选人集合
func (g *Gateway) UpdateCandidates(ctx context.Context, fn func([]types.Candidate) ([]types.Candidate, bool, error)) error {
	return updateCollection(ctx, g, constants.CollectionCandidates, fn)
}

// UpdateNotifications 以 CAS 方式修改通知集合
func (g *Gateway) UpdateNotifications(ctx context.Context, fn func([]types.Notification) ([]types.Notification, bool, error)) error {
	return updateCollection(ctx, g, constants.CollectionNotifications, fn)
}

// AppendNotifications 同 UpdateNotifications，fn 额外拿到无法解析的记录中的最大 id
func (g *Gateway) AppendNotifications(ctx context.Context, fn func(items []types.Notification, reservedMax types.RecordID) ([]types.Notification, bool, error)) error {
	return updateCollectionWith(ctx, g, constants.CollectionNotifications, func(c collection[types.Notification]) ([]types.Notification, bool, error) {
		return fn(c.items, maxMalformedID(c.malformed))
	})
}

// UpdateJobs 以 CAS 方式修改岗位集合
func (g *Gateway) UpdateJobs(ctx context.Context, fn func([]types.Job) ([]types.Job, bool, error)) error {
	return updateCollection(ctx, g, constants.CollectionJobs, fn)
}
