// repair 离线维护工具：补齐候选人部门、补齐审批人、执行一次提醒扫描、同步岗位表
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"ats-workflow/internal/config"
	"ats-workflow/internal/constants"
	appLogger "ats-workflow/internal/logger"
	"ats-workflow/internal/roles"
	"ats-workflow/internal/storage"
	"ats-workflow/internal/storage/models"
	"ats-workflow/internal/workflow"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const (
	taskDepartments = "departments"
	taskApprovals   = "approvals"
	taskSweep       = "sweep"
	taskJobs        = "jobs"
)

func main() {
	var (
		configPath string
		task       string
		dryRun     bool
		snapshot   bool
	)
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "Path to config file")
	pflag.StringVar(&task, "task", "", "departments | approvals | sweep | jobs")
	pflag.BoolVar(&dryRun, "dry-run", false, "只统计需要修复的记录，不写入")
	pflag.BoolVar(&snapshot, "snapshot", true, "写入前把集合快照保存到 MinIO (需要配置 minio)")
	pflag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "加载环境变量失败: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	appLogger.Init(appLogger.Config{Level: cfg.Logger.Level, Format: cfg.Logger.Format, TimeFormat: cfg.Logger.TimeFormat})
	log := appLogger.Component("repair").With().Str("run_id", uuid.NewString()).Str("task", task).Bool("dry_run", dryRun).Logger()

	if err := run(context.Background(), cfg, task, dryRun, snapshot, log); err != nil {
		log.Error().Err(err).Msg("修复任务失败")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, task string, dryRun, snapshot bool, log zerolog.Logger) error {
	switch task {
	case taskDepartments, taskApprovals, taskSweep, taskJobs:
	default:
		return fmt.Errorf("未知的任务 %q, 可选 departments | approvals | sweep | jobs", task)
	}

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("初始化存储失败: %w", err)
	}
	defer storageManager.Close()

	backend, err := storage.NewCollectionBackend(cfg, storageManager)
	if err != nil {
		return err
	}
	gw := storage.NewGateway(backend,
		storage.WithRetry(cfg.Workflow.UpdateMaxAttempts, config.GetDuration(cfg.Workflow.UpdateBackoff, 0)),
		storage.WithLogger(log),
	)
	jobs, err := storage.NewJobDirectory(cfg, storageManager, gw)
	if err != nil {
		return err
	}
	registry, err := roles.Load(cfg.Registry.Path)
	if err != nil {
		return fmt.Errorf("加载用户注册表失败: %w", err)
	}

	opts := []workflow.Option{
		workflow.WithJobs(jobs),
		workflow.WithSettings(workflow.SettingsFromConfig(cfg.Workflow)),
		workflow.WithLogger(log),
	}
	if storageManager.Redis != nil {
		opts = append(opts, workflow.WithLocker(storageManager.Redis))
	}
	engine, err := workflow.New(gw, registry, opts...)
	if err != nil {
		return err
	}

	if !dryRun && snapshot && storageManager.MinIO != nil {
		if err := snapshotCollections(ctx, backend, storageManager.MinIO, log); err != nil {
			return err
		}
	}

	start := time.Now()
	switch task {
	case taskJobs:
		if storageManager.MySQL == nil {
			return fmt.Errorf("jobs 任务需要配置 MySQL")
		}
		n, err := syncJobs(ctx, gw, storageManager.MySQL, dryRun)
		if err != nil {
			return err
		}
		log.Info().Int("jobs", n).Dur("took", time.Since(start)).Msg("岗位表同步完成")
	case taskDepartments:
		n, err := engine.BackfillDepartments(ctx, dryRun)
		if err != nil {
			return err
		}
		log.Info().Int("candidates", n).Dur("took", time.Since(start)).Msg("部门补齐完成")
	case taskApprovals:
		n, err := engine.BackfillApproverFields(ctx, dryRun)
		if err != nil {
			return err
		}
		log.Info().Int("notifications", n).Dur("took", time.Since(start)).Msg("审批人补齐完成")
	case taskSweep:
		if dryRun {
			log.Warn().Msg("sweep 不支持 dry-run, 跳过")
			return nil
		}
		res, err := engine.CheckPendingReminders(ctx)
		if err != nil {
			return err
		}
		log.Info().Str("sweep_run_id", res.RunID).Bool("skipped", res.Skipped).
			Int("escalated", len(res.Escalated)).Int("reminders", res.Reminders).Msg("提醒扫描完成")
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return engine.Drain(ctx)
	}
	return nil
}

// syncJobs 把 jobs 集合导入 MySQL jobs 表，供 store.job_source=mysql 使用
func syncJobs(ctx context.Context, gw *storage.Gateway, db *storage.MySQL, dryRun bool) (int, error) {
	records, err := gw.LoadJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("读取岗位集合失败: %w", err)
	}
	rows := make([]models.Job, 0, len(records))
	for _, r := range records {
		if row, ok := models.JobFromRecord(r); ok {
			rows = append(rows, row)
		}
	}
	if dryRun {
		return len(rows), nil
	}
	if err := db.UpsertJobs(ctx, rows); err != nil {
		return 0, fmt.Errorf("写入岗位表失败: %w", err)
	}
	return len(rows), nil
}

// snapshotCollections 修改前备份候选人和通知集合
func snapshotCollections(ctx context.Context, backend storage.CollectionBackend, store *storage.MinIO, log zerolog.Logger) error {
	for _, name := range []string{constants.CollectionCandidates, constants.CollectionNotifications} {
		data, _, err := backend.Load(ctx, name)
		if err != nil {
			return fmt.Errorf("读取集合 %s 失败: %w", name, err)
		}
		if len(data) == 0 {
			continue
		}
		object, err := store.PutSnapshot(ctx, name, data)
		if err != nil {
			return err
		}
		log.Info().Str("collection", name).Str("object", object).Msg("快照已保存")
	}
	return nil
}
