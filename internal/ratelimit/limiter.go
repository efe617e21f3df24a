// Package ratelimit 外部通知通道的限流与重试
package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	defaultPerMinute   = 60
	// 默认只尝试一次，重试需显式配置
	defaultMaxRetries  = 0
	defaultInitialWait = time.Second
)

// Limiter 按每分钟请求数限流，Do 在每次尝试前取令牌
type Limiter struct {
	lim         *rate.Limiter
	maxRetries  uint64
	initialWait time.Duration
}

// NewLimiter burst<=0 时取 perMinute 的一半
func NewLimiter(perMinute, burst int) *Limiter {
	if perMinute <= 0 {
		perMinute = defaultPerMinute
	}
	if burst <= 0 {
		burst = max(perMinute/2, 1)
	}
	return &Limiter{
		lim:         rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst),
		maxRetries:  defaultMaxRetries,
		initialWait: defaultInitialWait,
	}
}

// WithRetryPolicy 第一次重试前等待 initial，之后指数增长
func (l *Limiter) WithRetryPolicy(initial time.Duration, maxRetries int) *Limiter {
	l.initialWait = initial
	if maxRetries >= 0 {
		l.maxRetries = uint64(maxRetries)
	}
	return l
}

func (l *Limiter) allowAt(t time.Time) bool { return l.lim.AllowN(t, 1) }

func (l *Limiter) Wait(ctx context.Context) error { return l.lim.Wait(ctx) }

// Do 执行 fn，IsRetryable 的错误按指数退避重试，最多 maxRetries 次
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = l.initialWait
	policy.MaxElapsedTime = 0

	op := func() error {
		if err := l.lim.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := fn()
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, l.maxRetries), ctx))
}

// RetryableError 标记可以重试的错误，例如 429 或 5xx
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// transientMarkers 网络层的临时错误
var transientMarkers = []string{
	"timeout",
	"connection reset",
	"connection refused",
	"EOF",
	"no such host",
}

// IsRetryable 显式标记或网络临时错误；ctx 取消不重试
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re *RetryableError
	if errors.As(err, &re) {
		return true
	}
	msg := err.Error()
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
