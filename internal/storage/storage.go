package storage

import (
	"context"
	"fmt"
	"strings"

	"ats-workflow/internal/config"
	"ats-workflow/internal/logger"
)

// Storage 存储管理器，聚合所有外部存储依赖
type Storage struct {
	// 对象存储
	MinIO *MinIO

	// 消息队列，outbox relay 使用
	RabbitMQ *RabbitMQ

	// 关系型数据库
	MySQL *MySQL

	// 键值存储，也提供扫描锁
	Redis *Redis
}

// NewStorage 按配置初始化各组件，未配置的组件跳过
// 当前 store.backend 依赖的组件初始化失败时返回错误，其余失败只记录日志
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	log := logger.Component("storage")
	storage := &Storage{}
	var err error
	var initErrors []string
	required := map[string]bool{cfg.Store.Backend: true}
	if cfg.Store.JobSource == "mysql" || cfg.HasChannel("outbox") {
		required["mysql"] = true
	}

	if cfg.MinIO.Endpoint != "" {
		storage.MinIO, err = NewMinIO(&cfg.MinIO, logger.Component("minio"))
		if err != nil {
			log.Warn().Err(err).Msg("初始化MinIO失败")
			initErrors = append(initErrors, fmt.Sprintf("MinIO: %v", err))
		}
	}

	if cfg.RabbitMQ.URL != "" {
		storage.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ)
		if err != nil {
			log.Warn().Err(err).Msg("初始化RabbitMQ失败")
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
		}
	}

	if cfg.MySQL.Host != "" {
		storage.MySQL, err = NewMySQL(&cfg.MySQL)
		if err != nil {
			log.Warn().Err(err).Msg("初始化MySQL失败")
			initErrors = append(initErrors, fmt.Sprintf("MySQL: %v", err))
		}
	}

	if cfg.Redis.Address != "" {
		storage.Redis, err = NewRedisAdapter(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("初始化Redis失败")
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
		}
	} else {
		log.Debug().Msg("Redis未配置, 跳过初始化")
	}

	missing := storage.missing(required)
	if len(missing) > 0 {
		storage.Close()
		return nil, fmt.Errorf("必需的存储组件不可用 %v: %s", missing, strings.Join(initErrors, "; "))
	}
	if len(initErrors) > 0 {
		log.Warn().Strs("errors", initErrors).Msg("部分存储组件初始化失败")
	}
	return storage, nil
}

func (s *Storage) missing(required map[string]bool) []string {
	var out []string
	if required["mysql"] && s.MySQL == nil {
		out = append(out, "mysql")
	}
	if required["redis"] && s.Redis == nil {
		out = append(out, "redis")
	}
	if required["minio"] && s.MinIO == nil {
		out = append(out, "minio")
	}
	return out
}

// NewCollectionBackend 根据 store.backend 选择集合存储
func NewCollectionBackend(cfg *config.Config, s *Storage) (CollectionBackend, error) {
	switch cfg.Store.Backend {
	case "file":
		return NewFileBackend(cfg.Store.DataDir)
	case "mysql":
		if s == nil || s.MySQL == nil {
			return nil, fmt.Errorf("MySQL 未初始化")
		}
		return s.MySQL, nil
	case "redis":
		if s == nil || s.Redis == nil {
			return nil, fmt.Errorf("Redis 未初始化")
		}
		return s.Redis, nil
	case "minio":
		if s == nil || s.MinIO == nil {
			return nil, fmt.Errorf("MinIO 未初始化")
		}
		return s.MinIO, nil
	default:
		return nil, fmt.Errorf("未知的 store.backend: %q", cfg.Store.Backend)
	}
}

// NewJobDirectory 根据 store.job_source 选择职位来源
func NewJobDirectory(cfg *config.Config, s *Storage, gw *Gateway) (JobDirectory, error) {
	if cfg.Store.JobSource == "mysql" {
		if s == nil || s.MySQL == nil {
			return nil, fmt.Errorf("job_source=mysql 但 MySQL 未初始化")
		}
		return s.MySQL, nil
	}
	return NewCollectionJobs(gw), nil
}

// Close 关闭所有连接
func (s *Storage) Close() {
	log := logger.Component("storage")
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			log.Error().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			log.Error().Err(err).Msg("关闭MySQL连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("关闭Redis连接失败")
		}
	}
}
