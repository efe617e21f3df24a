package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ats-workflow/internal/api/handler"
	"ats-workflow/internal/api/router"
	"ats-workflow/internal/config"
	"ats-workflow/internal/delivery"
	"ats-workflow/internal/linktoken"
	appLogger "ats-workflow/internal/logger"
	"ats-workflow/internal/metrics"
	"ats-workflow/internal/outbox"
	"ats-workflow/internal/roles"
	"ats-workflow/internal/storage"
	"ats-workflow/internal/tracing"
	"ats-workflow/internal/workflow"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
)

func main() {
	var configPath, envFile, sampleConfig string
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "Path to config file")
	pflag.StringVar(&envFile, "env", ".env", "Path to .env file")
	pflag.StringVar(&sampleConfig, "write-config", "", "写出默认配置到指定路径后退出")
	pflag.Parse()

	if sampleConfig != "" {
		if err := config.CreateSampleConfig(sampleConfig); err != nil {
			glog.Fatalf("写出示例配置失败: %v", err)
		}
		glog.Infof("示例配置已写入 %s", sampleConfig)
		return
	}

	if err := config.LoadDotEnv(envFile); err != nil {
		glog.Fatalf("加载环境变量失败: %v", err)
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		glog.Fatalf("加载配置失败: %v", err)
	}
	initLogger(cfg.Logger)
	log := appLogger.Component("main")
	log.Info().Str("store", cfg.Store.Backend).Msg("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("初始化链路追踪失败, 继续运行")
	}

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("初始化存储失败")
	}
	defer storageManager.Close()

	backend, err := storage.NewCollectionBackend(cfg, storageManager)
	if err != nil {
		log.Fatal().Err(err).Msg("初始化集合存储失败")
	}
	gw := storage.NewGateway(backend,
		storage.WithRetry(cfg.Workflow.UpdateMaxAttempts, config.GetDuration(cfg.Workflow.UpdateBackoff, 0)),
	)
	jobs, err := storage.NewJobDirectory(cfg, storageManager, gw)
	if err != nil {
		log.Fatal().Err(err).Msg("初始化岗位来源失败")
	}

	registry, err := roles.Load(cfg.Registry.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Registry.Path).Msg("加载用户注册表失败")
	}
	log.Info().Int("users", len(registry.Users())).Msg("用户注册表加载成功")

	// nil *MySQL 不能直接当接口传入
	var outboxWriter delivery.OutboxWriter
	if storageManager.MySQL != nil {
		outboxWriter = storageManager.MySQL
	}
	fan, closeDelivery, err := delivery.Build(cfg, outboxWriter, appLogger.Component("delivery"))
	if err != nil {
		log.Fatal().Err(err).Msg("初始化通知投递失败")
	}

	var signer *linktoken.Signer
	if cfg.Links.Secret != "" {
		signer, err = linktoken.NewSigner(cfg.Links.Secret)
		if err != nil {
			log.Fatal().Err(err).Msg("初始化链接签名失败")
		}
	} else {
		log.Warn().Msg("未配置 links.secret, 通知链接不带令牌")
	}

	opts := []workflow.Option{
		workflow.WithJobs(jobs),
		workflow.WithDeliverer(fan),
		workflow.WithLinks(linktoken.LinkBuilder{BaseURL: cfg.Links.BaseURL, Signer: signer}),
		workflow.WithSettings(workflow.SettingsFromConfig(cfg.Workflow)),
		workflow.WithLogger(appLogger.Component("workflow")),
	}
	if storageManager.Redis != nil {
		opts = append(opts, workflow.WithLocker(storageManager.Redis))
	}
	engine, err := workflow.New(gw, registry, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("初始化工作流引擎失败")
	}

	// outbox 中继需要 MySQL 和 RabbitMQ
	var relay *outbox.MessageRelay
	if cfg.HasChannel("outbox") && storageManager.MySQL != nil && storageManager.RabbitMQ != nil {
		if err := storageManager.RabbitMQ.SetupNotificationTopology(); err != nil {
			log.Fatal().Err(err).Msg("初始化通知交换机失败")
		}
		relay = outbox.NewMessageRelay(storageManager.MySQL.DB(), storageManager.RabbitMQ, cfg.RabbitMQ, appLogger.Component("outbox"))
		relay.Start(ctx)
		log.Info().Msg("消息中继服务已启动")
	}

	go engine.RunSweeper(ctx, config.GetDuration(cfg.Workflow.SweepInterval, 0))

	var admin *http.Server
	if cfg.Metrics.Enabled && cfg.Server.AdminAddress != "" {
		metrics.Register()
		admin = newAdminServer(cfg.Server.AdminAddress)
		go func() {
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("管理端口启动失败")
			}
		}()
		log.Info().Str("address", cfg.Server.AdminAddress).Msg("指标服务已启动")
	}

	h := router.NewServer(cfg.Server.Address)
	wh := handler.NewWorkflowHandler(engine, signer, appLogger.Component("api"))
	router.RegisterRoutes(h, wh, handler.NewAuthMiddleware(registry, cfg.Auth.Enabled))
	if !cfg.Auth.Enabled {
		log.Warn().Msg("API 认证已关闭, 使用 X-User 头识别用户")
	}

	log.Info().Str("address", cfg.Server.Address).Msg("HTTP 服务器启动中")
	go func() {
		if err := h.Run(); err != nil {
			log.Fatal().Err(err).Msg("启动HTTP服务器失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("接收到终止信号，正在优雅退出...")

	cancel()
	if relay != nil {
		relay.Stop()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP 服务器关闭失败")
	}
	if admin != nil {
		_ = admin.Shutdown(shutdownCtx)
	}
	if err := engine.Drain(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("等待通知投递超时")
	}
	if err := closeDelivery(); err != nil {
		log.Warn().Err(err).Msg("关闭投递通道失败")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("关闭链路追踪失败")
	}
	log.Info().Msg("优雅退出完成")
}

// newAdminServer /metrics 与 /healthz
func newAdminServer(address string) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: address, Handler: r, ReadHeaderTimeout: 5 * time.Second}
}

// initLogger 初始化 zerolog 并让 hertz 的日志走同一个 logger
func initLogger(cfg config.LoggerConfig) {
	appLogger.Init(appLogger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		TimeFormat:   cfg.TimeFormat,
		ReportCaller: cfg.ReportCaller,
	})
	glog.SetLogger(hertzadapter.From(appLogger.Logger))
	if cfg.Level == "debug" {
		glog.SetLevel(glog.LevelDebug)
	} else {
		glog.SetLevel(glog.LevelInfo)
	}
}
