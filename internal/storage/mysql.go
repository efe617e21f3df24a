package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ats-workflow/internal/config"
	"ats-workflow/internal/logger"
	"ats-workflow/internal/storage/models"
	"ats-workflow/internal/tracing"
	"ats-workflow/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("ats-workflow/storage/mysql")

type spanCtxKey struct{}

// GormTracingPlugin 为每个 GORM 操作创建 span
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	disableErrSkip bool
}

func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册 before/after 回调
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	register := []struct {
		name   string
		op     string
		before func(string, func(*gorm.DB)) error
		after  func(string, func(*gorm.DB)) error
	}{
		{"create", "CREATE", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register},
		{"query", "SELECT", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register},
		{"update", "UPDATE", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register},
		{"delete", "DELETE", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register},
		{"row", "ROW", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register},
		{"raw", "RAW", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register},
	}
	for _, r := range register {
		if err := r.before("otel:before_"+r.name, p.before(r.op)); err != nil {
			return err
		}
		if err := r.after("otel:after_"+r.name, p.after()); err != nil {
			return err
		}
	}
	return nil
}

func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}

		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", table),
			),
		}
		if sql := db.Statement.SQL.String(); sql != "" {
			opts = append(opts, trace.WithAttributes(attribute.String("db.statement", tracing.SafeSQL(sql))))
		}

		newCtx, span := p.tracer.Start(ctx, operation+" "+table, opts...)
		db.Statement.Context = context.WithValue(newCtx, spanCtxKey{}, span)
	}
}

func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(spanCtxKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		switch {
		case db.Error == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(db.Error, gorm.ErrRecordNotFound):
			// 查不到记录是正常业务结果
			span.SetAttributes(attribute.String("error.type", "record_not_found"))
			span.SetStatus(codes.Ok, "record not found")
		default:
			tracing.RecordError(span, db.Error, tracing.ErrorTypeDB)
		}
	}
}

func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		disableErrSkip: true,
	}
}

var (
	_ CollectionBackend = (*MySQL)(nil)
	_ JobDirectory      = (*MySQL)(nil)
)

// MySQL 提供集合存储、岗位目录和 outbox 表
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// BuildDSN 按配置拼接 DSN
func BuildDSN(cfg *config.MySQLConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)
}

// newGormLogger gorm 日志写入 zerolog
func newGormLogger(level gormlogger.LogLevel) gormlogger.Interface {
	zl := logger.Component("gorm")
	return gormlogger.New(&zl, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}

func gormLogLevel(level int) gormlogger.LogLevel {
	switch level {
	case 1:
		return gormlogger.Silent
	case 2:
		return gormlogger.Error
	case 3:
		return gormlogger.Warn
	case 4:
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// NewMySQL 创建MySQL客户端并迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   newGormLogger(gormLogLevel(cfg.LogLevel)),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(BuildDSN(cfg)), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	m := &MySQL{db: db, cfg: cfg}

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	if err := m.autoMigrateSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	logger.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("成功连接到MySQL并迁移表结构")
	return m, nil
}

// autoMigrateSchema 迁移时关闭 SQL 日志
func (m *MySQL) autoMigrateSchema() error {
	silentDB := m.db.Session(&gorm.Session{Logger: newGormLogger(gormlogger.Silent)})

	if err := silentDB.AutoMigrate(
		&models.RecordCollection{},
		&models.Job{},
		&models.OutboxMessage{},
	); err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

func (m *MySQL) DB() *gorm.DB {
	return m.db
}

func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// Load 读取集合行，不存在时返回空版本
func (m *MySQL) Load(ctx context.Context, name string) ([]byte, Version, error) {
	var row models.RecordCollection
	err := m.db.WithContext(ctx).Where("name = ?", name).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("读取集合 %s 失败: %w", name, err)
	}
	return []byte(row.Payload), Version(strconv.FormatInt(row.Version, 10)), nil
}

// Save 首次写入用 INSERT ... ON DUPLICATE KEY 什么都不做，之后按 version 条件更新
func (m *MySQL) Save(ctx context.Context, name string, data []byte, expected Version) (Version, error) {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.SaveCollection",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("collection", name), attribute.String("expected_version", string(expected))))
	defer span.End()

	if expected == "" {
		row := models.RecordCollection{Name: name, Payload: datatypes.JSON(data), Version: 1}
		res := m.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			tracing.RecordError(span, res.Error, tracing.ErrorTypeDB)
			return "", fmt.Errorf("创建集合 %s 失败: %w", name, res.Error)
		}
		if res.RowsAffected == 0 {
			return "", fmt.Errorf("%s: %w", name, ErrVersionConflict)
		}
		return "1", nil
	}

	current, err := strconv.ParseInt(string(expected), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%s: 非法版本 %q: %w", name, expected, ErrVersionConflict)
	}
	res := m.db.WithContext(ctx).Model(&models.RecordCollection{}).
		Where("name = ? AND version = ?", name, current).
		Updates(map[string]interface{}{
			"payload": datatypes.JSON(data),
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		tracing.RecordError(span, res.Error, tracing.ErrorTypeDB)
		return "", fmt.Errorf("更新集合 %s 失败: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return "", fmt.Errorf("%s: %w", name, ErrVersionConflict)
	}
	return Version(strconv.FormatInt(current+1, 10)), nil
}

// LookupJob 从 jobs 表查岗位
func (m *MySQL) LookupJob(ctx context.Context, jobID string) (types.Job, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return types.Job{}, false, nil
	}
	var job models.Job
	err := m.db.WithContext(ctx).Where("job_id = ?", jobID).Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Job{}, false, nil
	}
	if err != nil {
		return types.Job{}, false, fmt.Errorf("查询岗位 %s 失败: %w", jobID, err)
	}
	return job.ToRecord(), true, nil
}

// UpsertJobs 同步岗位表，repair 工具从 jobs 集合导入时使用
func (m *MySQL) UpsertJobs(ctx context.Context, jobs []models.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"job_title", "department", "auto_shortlisting", "match_threshold", "updated_at"}),
	}).Create(&jobs).Error
}

// EnqueueOutbox 写入一条待发布的 outbox 消息
func (m *MySQL) EnqueueOutbox(ctx context.Context, msg *models.OutboxMessage) error {
	if err := m.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("写入 outbox 失败: %w", err)
	}
	return nil
}
