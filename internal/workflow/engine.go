// Package workflow 候选人状态流转、通知派发、提醒升级与审批
package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"ats-workflow/internal/config"
	"ats-workflow/internal/constants"
	"ats-workflow/internal/delivery"
	"ats-workflow/internal/linktoken"
	"ats-workflow/internal/roles"
	"ats-workflow/internal/storage"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ats-workflow/workflow")

// Locker 分布式锁，storage.Redis 实现；锁被占用时返回 storage.ErrLockNotAcquired
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, value string) (bool, error)
}

// Settings 提醒与重试参数
type Settings struct {
	ReminderThreshold time.Duration
	ReminderRepeat    time.Duration
	// ReminderScopeByStatus 为 true 时，只有在候选人进入当前状态之后发出的提醒才会抑制新的提醒
	ReminderScopeByStatus bool
	SweepLockTTL          time.Duration
	// 后台写入(面试分析)的重试参数
	BackgroundAttempts int
	BackgroundBackoff  time.Duration
}

// DefaultSettings 24h 阈值、24h 重复窗口
func DefaultSettings() Settings {
	return Settings{
		ReminderThreshold:  constants.DefaultReminderThreshold,
		ReminderRepeat:     constants.DefaultReminderRepeat,
		SweepLockTTL:       constants.DefaultSweepLockTTL,
		BackgroundAttempts: constants.InterviewSaveAttempts,
		BackgroundBackoff:  constants.InterviewSaveBackoff,
	}
}

// SettingsFromConfig 从配置读取，无效值回退到默认
func SettingsFromConfig(cfg config.WorkflowConfig) Settings {
	s := DefaultSettings()
	s.ReminderThreshold = config.GetDuration(cfg.ReminderThreshold, s.ReminderThreshold)
	s.ReminderRepeat = config.GetDuration(cfg.ReminderRepeat, s.ReminderRepeat)
	s.ReminderScopeByStatus = cfg.ReminderScopeByStatus
	s.SweepLockTTL = config.GetDuration(cfg.SweepLockTTL, s.SweepLockTTL)
	return s
}

// Engine 工作流引擎，所有写操作都经过 Gateway 的 CAS 更新
type Engine struct {
	gw        *storage.Gateway
	registry  *roles.Registry
	jobs      storage.JobDirectory
	deliverer delivery.Channel
	links     linktoken.LinkBuilder
	locker    Locker
	settings  Settings
	now       func() time.Time
	logger    zerolog.Logger

	sweepMu  sync.Mutex
	inflight sync.WaitGroup
}

// Option 引擎选项
type Option func(*Engine)

// WithClock 注入时钟，测试使用
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithJobs(jobs storage.JobDirectory) Option {
	return func(e *Engine) { e.jobs = jobs }
}

// WithDeliverer 外部通道，默认 delivery.Noop
func WithDeliverer(ch delivery.Channel) Option {
	return func(e *Engine) {
		if ch != nil {
			e.deliverer = ch
		}
	}
}

func WithLinks(b linktoken.LinkBuilder) Option {
	return func(e *Engine) { e.links = b }
}

// WithLocker 多实例部署时给提醒扫描加锁
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithSettings(s Settings) Option {
	return func(e *Engine) { e.settings = s }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New 创建引擎；未指定 jobs 时使用 jobs 集合
func New(gw *storage.Gateway, registry *roles.Registry, opts ...Option) (*Engine, error) {
	if gw == nil {
		return nil, errors.New("workflow engine: gateway is required")
	}
	if registry == nil {
		return nil, errors.New("workflow engine: registry is required")
	}
	e := &Engine{
		gw:        gw,
		registry:  registry,
		deliverer: delivery.Noop{},
		settings:  DefaultSettings(),
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.jobs == nil {
		e.jobs = storage.NewCollectionJobs(gw)
	}
	if e.settings.BackgroundAttempts < 1 {
		e.settings.BackgroundAttempts = 1
	}
	return e, nil
}

// Registry 注入的用户注册表
func (e *Engine) Registry() *roles.Registry { return e.registry }

// Drain 等待所有异步投递结束或 ctx 到期
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}
