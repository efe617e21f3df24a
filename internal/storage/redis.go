package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ats-workflow/internal/config"
	"ats-workflow/internal/constants"
	"ats-workflow/internal/tracing"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// 为Redis操作定义专用tracer
var redisTracer = otel.Tracer("ats-workflow/storage/redis")

// casScript 比较 hash 中的 version 字段，相等时递增版本并写入 data
// 返回 {1, 新版本} 或 {0, 当前版本}
const casScript = `
local cur = redis.call('HGET', KEYS[1], 'version')
if not cur then cur = '' end
if cur ~= ARGV[1] then
	return {0, cur}
end
local nv = redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('HSET', KEYS[1], 'data', ARGV[2])
return {1, tostring(nv)}
`

const releaseLockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Redis wraps the Redis client
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

var _ CollectionBackend = (*Redis)(nil)

// redisOptions 秒/毫秒/分钟配置转换为客户端选项
func redisOptions(cfg *config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:            cfg.Address,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:     time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:    time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute,
	}
}

// NewRedisAdapter 连接 Redis 并挂上 redisotel 追踪
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(redisOptions(cfg))
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}
	return &Redis{Client: client, config: cfg}, nil
}

func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

func collectionKey(name string) string {
	return fmt.Sprintf(constants.KeyCollection, name)
}

func (r *Redis) startSpan(ctx context.Context, op, cmd, key string) (context.Context, trace.Span) {
	ctx, span := redisTracer.Start(ctx, "Redis."+op, trace.WithSpanKind(trace.SpanKindClient))
	attrs := []attribute.KeyValue{
		semconv.DBSystemRedis,
		attribute.String("db.operation", cmd),
		attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
	}
	if r.config != nil {
		attrs = append(attrs,
			attribute.String("db.redis.database", strconv.Itoa(r.config.DB)),
			attribute.String("net.peer.name", r.config.Address),
		)
	}
	span.SetAttributes(attrs...)
	return ctx, span
}

// Load 读取集合 hash 的 data 与 version 字段
func (r *Redis) Load(ctx context.Context, name string) ([]byte, Version, error) {
	key := collectionKey(name)
	ctx, span := r.startSpan(ctx, "Load", "HMGET", key)
	defer span.End()

	if r.Client == nil {
		err := fmt.Errorf("redis client is not initialized")
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return nil, "", err
	}

	vals, err := r.Client.HMGet(ctx, key, "data", "version").Result()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return nil, "", fmt.Errorf("读取集合 %s 失败: %w", name, err)
	}
	if len(vals) != 2 || vals[1] == nil {
		span.SetAttributes(attribute.Bool("collection.exists", false))
		return nil, "", nil
	}

	data, _ := vals[0].(string)
	ver, _ := vals[1].(string)
	span.SetStatus(codes.Ok, "")
	return []byte(data), Version(ver), nil
}

// Save 通过 Lua 脚本原子地比较版本并写入
func (r *Redis) Save(ctx context.Context, name string, data []byte, expected Version) (Version, error) {
	key := collectionKey(name)
	ctx, span := r.startSpan(ctx, "Save", "EVAL", key)
	defer span.End()

	if r.Client == nil {
		err := fmt.Errorf("redis client is not initialized")
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return "", err
	}

	res, err := r.Client.Eval(ctx, casScript, []string{key}, string(expected), data).Result()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return "", fmt.Errorf("写入集合 %s 失败: %w", name, err)
	}

	ok, ver, err := decodeCASResult(res)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return "", err
	}
	if !ok {
		span.SetAttributes(attribute.String("collection.current_version", string(ver)))
		span.SetStatus(codes.Error, "version conflict")
		return "", ErrVersionConflict
	}
	span.SetStatus(codes.Ok, "")
	return ver, nil
}

// decodeCASResult 解析 casScript 的返回值
func decodeCASResult(res interface{}) (bool, Version, error) {
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return false, "", fmt.Errorf("意外的Redis返回类型: %T", res)
	}
	flag, ok := arr[0].(int64)
	if !ok {
		return false, "", fmt.Errorf("意外的CAS标志类型: %T", arr[0])
	}
	var ver string
	switch v := arr[1].(type) {
	case string:
		ver = v
	case int64:
		ver = strconv.FormatInt(v, 10)
	case nil:
	default:
		return false, "", fmt.Errorf("意外的版本类型: %T", arr[1])
	}
	return flag == 1, Version(ver), nil
}

// AcquireLock 尝试获取一个分布式锁，锁被占用时返回 ErrLockNotAcquired
func (r *Redis) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	// 持有者标识
	lockValue := fmt.Sprintf("%d", time.Now().UnixNano())
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, expiration).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrLockNotAcquired
	}
	return lockValue, nil
}

// ReleaseLock 释放一个分布式锁，使用Lua脚本保证原子性
func (r *Redis) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}
	res, err := r.Client.Eval(ctx, releaseLockScript, []string{lockKey}, lockValue).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}

	if released, ok := res.(int64); ok && released == 1 {
		return true, nil
	}
	// 锁不存在或不属于当前持有者
	return false, nil
}
